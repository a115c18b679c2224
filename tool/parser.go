package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/internal/util"
)

const (
	openTag  = "<tool>"
	closeTag = "</tool>"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// argument aliases accepted per tool, alias -> canonical name.
var aliases = map[Name]map[string]string{
	NameSegmentPhrase:        {"text_prompt": "phrase"},
	NameSelectMasksAndReturn: {"final_answer_masks": "mask_indices"},
}

// Invocation is a successfully parsed tool call together with the JSON it
// was decoded from.
type Invocation struct {
	Call Call
	Raw  string
}

// Parser maps reasoning output onto exactly one Call variant.
// A Parser is safe for concurrent use.
type Parser struct {
	validate *validator.Validate
}

// NewParser creates a Parser.
func NewParser() *Parser {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Parser{validate: v}
}

var defaultParser = NewParser()

// Parse parses text with a shared Parser.
func Parse(text string) (*Invocation, error) { return defaultParser.Parse(text) }

// Parse locates the tool invocation in text and decodes it. The last
// <tool>...</tool> block wins; without a tag a fenced or bare JSON object
// is accepted. Failures are *core.ParseError values.
func (p *Parser) Parse(text string) (*Invocation, error) {
	raw, ok := extract(text)
	if !ok {
		return nil, &core.ParseError{
			Kind:    core.ParseNoToolCall,
			Message: "no tool call found, wrap exactly one call in <tool>{\"name\": ..., \"parameters\": {...}}</tool>",
		}
	}

	raw = repair(raw)
	if !gjson.Valid(raw) {
		return nil, &core.ParseError{
			Kind:    core.ParseNoToolCall,
			Message: "tool call is not valid JSON",
		}
	}

	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return nil, &core.ParseError{
			Kind:    core.ParseNoToolCall,
			Message: "tool call must be a JSON object",
		}
	}

	nameRes := doc.Get("name")
	if nameRes.Type != gjson.String || strings.TrimSpace(nameRes.Str) == "" {
		return nil, &core.ParseError{
			Kind:    core.ParseNoToolCall,
			Message: "tool call has no name",
		}
	}

	name := strings.TrimSpace(nameRes.Str)
	def, ok := Lookup(name)
	if !ok {
		return nil, &core.ParseError{
			Kind:    core.ParseUnknownTool,
			Tool:    name,
			Message: fmt.Sprintf("unknown tool %q, available tools: %s", name, strings.Join(names(), ", ")),
		}
	}

	args, err := arguments(doc)
	if err != nil {
		return nil, &core.ParseError{Kind: core.ParseInvalidArguments, Tool: name, Message: err.Error()}
	}
	applyAliases(def.Name, args)

	if err := util.ValidateParameters(args, def.Parameters); err != nil {
		pe := &core.ParseError{Kind: core.ParseInvalidArguments, Tool: name, Message: err.Error()}
		var fe *util.FieldError
		if errors.As(err, &fe) {
			pe.Field = fe.Field
		}
		return nil, pe
	}

	call, err := p.decode(def.Name, args)
	if err != nil {
		return nil, err
	}

	return &Invocation{Call: call, Raw: raw}, nil
}

func (p *Parser) decode(name Name, args map[string]any) (Call, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, &core.ParseError{Kind: core.ParseInvalidArguments, Tool: string(name), Message: err.Error()}
	}

	var call Call
	switch name {
	case NameSegmentPhrase:
		var c SegmentPhrase
		err = json.Unmarshal(body, &c)
		c.Phrase = strings.TrimSpace(c.Phrase)
		call = c
	case NameExamineEachMask:
		var c ExamineEachMask
		err = json.Unmarshal(body, &c)
		call = c
	case NameSelectMasksAndReturn:
		var c SelectMasksAndReturn
		err = json.Unmarshal(body, &c)
		if c.MaskIndices == nil {
			c.MaskIndices = []int{}
		}
		call = c
	case NameReportNoMask:
		var c ReportNoMask
		err = json.Unmarshal(body, &c)
		call = c
	default:
		return nil, &core.ParseError{Kind: core.ParseUnknownTool, Tool: string(name), Message: "unknown tool"}
	}
	if err != nil {
		return nil, &core.ParseError{Kind: core.ParseInvalidArguments, Tool: string(name), Message: err.Error()}
	}

	if err := p.validate.Struct(call); err != nil {
		pe := &core.ParseError{Kind: core.ParseInvalidArguments, Tool: string(name), Message: err.Error()}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			pe.Field = verrs[0].Field()
			pe.Message = fieldMessage(verrs[0])
		}
		return nil, pe
	}

	return call, nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s must not be empty", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// extract returns the JSON body of the invocation in text.
func extract(text string) (string, bool) {
	if i := strings.LastIndex(text, openTag); i >= 0 {
		body := text[i+len(openTag):]
		if j := strings.Index(body, closeTag); j >= 0 {
			body = body[:j]
		}
		body = strings.TrimSpace(body)
		if m := fenceRe.FindStringSubmatch(body); m != nil {
			body = m[1]
		}
		return body, body != ""
	}

	if m := fenceRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		return strings.TrimSpace(m[len(m)-1][1]), true
	}

	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}") {
		return t, true
	}

	return "", false
}

// repair fixes the surplus closing brace models tend to emit after nested
// parameters.
func repair(raw string) string {
	if gjson.Valid(raw) {
		return raw
	}
	fixed := strings.ReplaceAll(raw, "}}}", "}}")
	if gjson.Valid(fixed) {
		return fixed
	}
	return raw
}

func arguments(doc gjson.Result) (map[string]any, error) {
	params := doc.Get("parameters")
	if !params.Exists() {
		params = doc.Get("arguments")
	}
	if !params.Exists() || params.Type == gjson.Null {
		return map[string]any{}, nil
	}

	// Some providers encode arguments as a JSON string.
	if params.Type == gjson.String && gjson.Valid(params.Str) {
		params = gjson.Parse(params.Str)
	}
	if !params.IsObject() {
		return nil, fmt.Errorf("parameters must be a JSON object")
	}

	args, ok := params.Value().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameters must be a JSON object")
	}

	return args, nil
}

func applyAliases(name Name, args map[string]any) {
	for alias, canonical := range aliases[name] {
		v, ok := args[alias]
		if !ok {
			continue
		}
		if _, exists := args[canonical]; !exists {
			args[canonical] = v
		}
		delete(args, alias)
	}
}

func names() []string {
	out := make([]string, len(definitions))
	for i, d := range definitions {
		out[i] = string(d.Name)
	}
	return out
}
