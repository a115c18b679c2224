package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/tool"
)

// correction phrases a recoverable failure as a tool-result message the
// model can act on.
func correction(err error) string {
	var (
		pe  *core.ParseError
		oor *core.IndexOutOfRangeError
		st  *core.ServiceTimeoutError
		su  *core.ServiceUnavailableError
	)

	switch {
	case errors.As(err, &pe):
		return fmt.Sprintf(
			"Your last reply could not be used: %s. Reply with exactly one tool call in the form "+
				`<tool>{"name": "<tool name>", "parameters": {...}}</tool> using one of: %s.`,
			pe.Message, toolNames())
	case errors.As(err, &oor):
		if oor.Count == 0 {
			return fmt.Sprintf("Mask index %d does not exist: no masks were produced yet. Call segment_phrase first.", oor.Index)
		}
		return fmt.Sprintf("Mask index %d does not exist. Valid mask indices are 0 to %d.", oor.Index, oor.Count-1)
	case errors.As(err, &st):
		return fmt.Sprintf("The %s service timed out. Try again or use a different phrase.", st.Service)
	case errors.As(err, &su):
		return fmt.Sprintf("The %s service failed: %v. Try again or use a different phrase.", su.Service, su.Err)
	default:
		return fmt.Sprintf("The tool call failed: %v.", err)
	}
}

func isReasoningFailure(err error) bool {
	var (
		st *core.ServiceTimeoutError
		su *core.ServiceUnavailableError
	)
	if errors.As(err, &st) {
		return st.Service == "reasoning"
	}
	if errors.As(err, &su) {
		return su.Service == "reasoning"
	}
	return false
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, core.ErrParse):
		return "parse"
	case errors.Is(err, core.ErrValidation):
		return "validation"
	case errors.Is(err, core.ErrServiceTimeout):
		return "timeout"
	case errors.Is(err, core.ErrServiceUnavailable):
		return "unavailable"
	}
	return "other"
}

func toolNames() string {
	defs := tool.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = string(d.Name)
	}
	return strings.Join(names, ", ")
}
