// Package tool implements the closed tool vocabulary of the segmentation
// agent: the four tool-call variants, their schemas for prompt rendering,
// the parser that maps reasoning text onto exactly one variant and the
// dispatcher that executes a variant against a run.
package tool

import (
	"github.com/hupe1980/segmesh/internal/util"
)

// Name identifies one of the four tools.
type Name string

const (
	NameSegmentPhrase        Name = "segment_phrase"
	NameExamineEachMask      Name = "examine_each_mask"
	NameSelectMasksAndReturn Name = "select_masks_and_return"
	NameReportNoMask         Name = "report_no_mask"
)

// Terminal reports whether a call to the tool ends the run.
func (n Name) Terminal() bool {
	return n == NameSelectMasksAndReturn || n == NameReportNoMask
}

// Call is a parsed tool invocation. The set of implementations is closed:
// SegmentPhrase, ExamineEachMask, SelectMasksAndReturn and ReportNoMask.
type Call interface {
	Name() Name
	isCall()
}

// SegmentPhrase requests masks for a simple noun phrase.
type SegmentPhrase struct {
	Phrase string `json:"phrase" description:"Simple noun phrase to segment, e.g. 'red car'" validate:"required"`
}

// ExamineEachMask records a pass/fail judgment on one produced mask.
type ExamineEachMask struct {
	MaskIndex int    `json:"mask_index" description:"Run-scoped index of a previously produced mask" minimum:"0" validate:"min=0"`
	Verdict   bool   `json:"verdict" description:"true if the mask matches the query"`
	Rationale string `json:"rationale" description:"Short justification for the verdict"`
}

// SelectMasksAndReturn finalizes the chosen masks in the given order.
type SelectMasksAndReturn struct {
	MaskIndices []int `json:"mask_indices" description:"Indices of the masks forming the answer, may be empty" minimum:"0" validate:"dive,min=0"`
}

// ReportNoMask finalizes the run without a matching target.
type ReportNoMask struct {
	Rationale string `json:"rationale" description:"Why no mask matches the query"`
}

func (SegmentPhrase) Name() Name        { return NameSegmentPhrase }
func (ExamineEachMask) Name() Name      { return NameExamineEachMask }
func (SelectMasksAndReturn) Name() Name { return NameSelectMasksAndReturn }
func (ReportNoMask) Name() Name         { return NameReportNoMask }

func (SegmentPhrase) isCall()        {}
func (ExamineEachMask) isCall()      {}
func (SelectMasksAndReturn) isCall() {}
func (ReportNoMask) isCall()         {}

// Definition describes a tool to the Reasoning Service.
type Definition struct {
	Name        Name           `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

var definitions = []Definition{
	{
		Name:        NameSegmentPhrase,
		Description: "Segment all instances of a simple noun phrase in the image. Returns the number of masks and their indices.",
		Parameters:  util.CreateSchema(SegmentPhrase{}),
	},
	{
		Name:        NameExamineEachMask,
		Description: "Record whether one previously produced mask matches the user query.",
		Parameters:  util.CreateSchema(ExamineEachMask{}),
	},
	{
		Name:        NameSelectMasksAndReturn,
		Description: "Return the selected masks as the final answer. This ends the task.",
		Parameters:  util.CreateSchema(SelectMasksAndReturn{}),
	},
	{
		Name:        NameReportNoMask,
		Description: "Report that nothing in the image matches the query. This ends the task.",
		Parameters:  util.CreateSchema(ReportNoMask{}),
	},
}

// Definitions returns the four tool definitions in a stable order.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Lookup returns the definition of a tool by name.
func Lookup(name string) (Definition, bool) {
	for _, d := range definitions {
		if string(d.Name) == name {
			return d, true
		}
	}
	return Definition{}, false
}
