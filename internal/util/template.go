package util

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"text/template"
)

// PromptTemplate is a system prompt parsed once and rendered per run.
// Text without template actions is returned verbatim.
type PromptTemplate struct {
	raw  string
	tmpl *template.Template
}

var promptFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"quote": strconv.Quote,
	"join":  strings.Join,
	"indices": func(idx []int) string {
		parts := make([]string, len(idx))
		for i, v := range idx {
			parts[i] = strconv.Itoa(v)
		}
		return strings.Join(parts, ", ")
	},
}

// ParsePrompt parses text as a prompt template.
func ParsePrompt(text string) (*PromptTemplate, error) {
	p := &PromptTemplate{raw: text}
	if !strings.Contains(text, "{{") {
		return p, nil
	}

	tmpl, err := template.New("prompt").Option("missingkey=zero").Funcs(promptFuncs).Parse(text)
	if err != nil {
		return nil, err
	}
	p.tmpl = tmpl

	return p, nil
}

// Render executes the template against data.
func (p *PromptTemplate) Render(data map[string]any) (string, error) {
	if p.tmpl == nil {
		return p.raw, nil
	}

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
