package agent

import (
	"fmt"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/tool"
)

// DefaultSystemPrompt is the template of the default system instruction.
const DefaultSystemPrompt = `You are a helpful visual-concept grounding assistant. You ground the concept the user refers to by calling tools and finish with a final mask selection.

Available tools:
{{range .tools}}- {{.Name}}: {{.Description}}
  parameters: {{json .Parameters}}
{{end}}
End every reply with exactly one tool call in this form:
<tool>{"name": "<tool name>", "parameters": {...}}</tool>

Guidelines:
- Start with segment_phrase using a short, simple noun phrase for the target.
- Masks are numbered with run-wide indices starting at 0. Earlier masks keep their indices.
- Segmenting the same phrase twice reuses the earlier masks; try a different phrase instead.
- Use examine_each_mask to record whether a mask matches the query before selecting.
- Call select_masks_and_return with the indices of every mask that matches, or report_no_mask if none does.
- You have at most {{.max_rounds}} rounds.`

// DefaultInstruction returns the default system instruction.
func DefaultInstruction() Instruction { return NewInstructionFromText(DefaultSystemPrompt) }

func promptData(q core.Query, maxRounds int) map[string]any {
	return map[string]any{
		"query":      q.Phrase,
		"tools":      tool.Definitions(),
		"max_rounds": maxRounds,
	}
}

func initialUserText(q core.Query) string {
	return fmt.Sprintf("The above image is the raw input image. The initial user input query is: '%s'.", q.Phrase)
}
