package agent

import (
	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/internal/util"
)

// Instruction produces the system prompt of a run. It is either a template
// rendered against the prompt data (query, tools, max_rounds) or a function
// that builds the prompt from the run itself.
type Instruction struct {
	tmpl     *util.PromptTemplate
	parseErr error
	build    func(*core.RunContext) (string, error)
}

// NewInstructionFromText parses text as a prompt template. Parse errors are
// reported by Resolve.
func NewInstructionFromText(text string) Instruction {
	tmpl, err := util.ParsePrompt(text)
	return Instruction{tmpl: tmpl, parseErr: err}
}

// NewInstructionFromFunc builds the prompt with fn on every run.
func NewInstructionFromFunc(fn func(*core.RunContext) (string, error)) Instruction {
	return Instruction{build: fn}
}

// IsZero reports whether the instruction was never set.
func (i Instruction) IsZero() bool {
	return i.tmpl == nil && i.parseErr == nil && i.build == nil
}

// Resolve returns the system prompt for rc.
func (i Instruction) Resolve(rc *core.RunContext, data map[string]any) (string, error) {
	switch {
	case i.build != nil:
		return i.build(rc)
	case i.parseErr != nil:
		return "", i.parseErr
	case i.tmpl == nil:
		return "", nil
	}
	return i.tmpl.Render(data)
}
