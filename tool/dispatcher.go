package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/logging"
	"github.com/hupe1980/segmesh/overlap"
	"github.com/hupe1980/segmesh/segmenter"
)

// Options configures a Dispatcher.
type Options struct {
	// Resolver removes overlapping candidates; defaults to overlap.New().
	Resolver *overlap.Resolver
	// Image holds the encoded input image handed to the Segmentation Service.
	Image []byte
}

// Result is the outcome of one dispatched call.
type Result struct {
	Tool Name
	// Content is the tool-result message folded back into the conversation.
	Content core.Content
	// Masks are the masks the call produced, reused, examined or selected.
	Masks core.MaskSet
	// Phrase and Cached are set for segment_phrase.
	Phrase string
	Cached bool
	// Terminal calls carry the run outcome in Status and Message.
	Terminal bool
	Status   core.RunStatus
	Message  string
}

// Dispatcher executes parsed calls against one AgentRun. It owns the run's
// phrase cache, so each run gets its own Dispatcher.
type Dispatcher struct {
	segmenter segmenter.Segmenter
	opts      Options
	// normalized phrase -> run mask indices of the first successful call
	cache map[string][]int
}

// NewDispatcher creates a Dispatcher for a single run.
func NewDispatcher(seg segmenter.Segmenter, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Resolver == nil {
		opts.Resolver = overlap.New()
	}
	return &Dispatcher{
		segmenter: seg,
		opts:      opts,
		cache:     map[string][]int{},
	}
}

// Dispatch executes call within round rd of the run in rc. Recoverable
// failures are returned as typed errors from the core package and leave the
// run unchanged. The dispatcher never finishes the run itself; terminal
// results report the status to apply.
func (d *Dispatcher) Dispatch(rc *core.RunContext, rd *core.Round, call Call) (*Result, error) {
	start := time.Now()

	var (
		res *Result
		err error
	)
	switch c := call.(type) {
	case SegmentPhrase:
		res, err = d.segment(rc, rd, c)
	case ExamineEachMask:
		res, err = d.examine(rc, rd, c)
	case SelectMasksAndReturn:
		res, err = d.selectMasks(rc, c)
	case ReportNoMask:
		res, err = d.reportNoMask(c)
	default:
		err = &core.ParseError{Kind: core.ParseUnknownTool, Message: fmt.Sprintf("unsupported call %T", call)}
	}

	logging.ToolDispatch(rc.Logger, toolName(call), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (d *Dispatcher) segment(rc *core.RunContext, rd *core.Round, c SegmentPhrase) (*Result, error) {
	phrase := strings.TrimSpace(c.Phrase)
	key := segmenter.NormalizePhrase(phrase)

	if indices, ok := d.cache[key]; ok {
		masks, err := masksAt(rc.Run, indices)
		if err != nil {
			return nil, err
		}
		d.record(rc, rd, phrase, true, masks)
		logging.Segmentation(rc.Logger, phrase, len(masks), true, 0, nil)

		return &Result{
			Tool:    NameSegmentPhrase,
			Content: core.NewTextContent(core.RoleTool, cachedSummary(phrase, masks)),
			Masks:   masks,
			Phrase:  phrase,
			Cached:  true,
		}, nil
	}

	candidates, err := d.segmenter.Segment(rc.Context, segmenter.Request{
		Image:  rc.Run.Query.Image,
		Data:   d.opts.Image,
		Phrase: phrase,
	})
	if err != nil {
		return nil, serviceError(err)
	}

	for i := range candidates {
		candidates[i].Phrase = phrase
		candidates[i].Round = rd.Index
	}

	masks := rc.Run.AddMasks(d.opts.Resolver.Resolve(candidates))
	d.cache[key] = masks.Indices()
	d.record(rc, rd, phrase, false, masks)

	return &Result{
		Tool:    NameSegmentPhrase,
		Content: core.NewTextContent(core.RoleTool, segmentSummary(phrase, rc.Run.Query.Phrase, masks)),
		Masks:   masks,
		Phrase:  phrase,
	}, nil
}

func (d *Dispatcher) record(rc *core.RunContext, rd *core.Round, phrase string, cached bool, masks core.MaskSet) {
	rc.Run.Update(rd, func(r *core.Round) {
		r.Segmentations = append(r.Segmentations, core.SegmentationCall{
			Phrase:      phrase,
			Cached:      cached,
			MaskIndices: masks.Indices(),
		})
	})
}

func (d *Dispatcher) examine(rc *core.RunContext, rd *core.Round, c ExamineEachMask) (*Result, error) {
	v := core.Verdict{Accepted: c.Verdict, Rationale: c.Rationale, Round: rd.Index}
	if err := rc.Run.SetVerdict(c.MaskIndex, v); err != nil {
		return nil, err
	}

	m, err := rc.Run.Mask(c.MaskIndex)
	if err != nil {
		return nil, err
	}

	outcome := "rejected"
	if c.Verdict {
		outcome = "accepted"
	}

	return &Result{
		Tool: NameExamineEachMask,
		Content: core.NewTextContent(core.RoleTool, fmt.Sprintf(
			"Mask %d (%q, score %.2f) recorded as %s. Original query: '%s'",
			m.Index, m.Phrase, m.Score, outcome, rc.Run.Query.Phrase)),
		Masks: core.MaskSet{m},
	}, nil
}

func (d *Dispatcher) selectMasks(rc *core.RunContext, c SelectMasksAndReturn) (*Result, error) {
	seen := make(map[int]struct{}, len(c.MaskIndices))
	indices := make([]int, 0, len(c.MaskIndices))
	for _, i := range c.MaskIndices {
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		indices = append(indices, i)
	}

	final, err := masksAt(rc.Run, indices)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Tool:     NameSelectMasksAndReturn,
		Masks:    final,
		Terminal: true,
	}
	if len(final) == 0 {
		res.Status = core.RunNoMasks
		res.Message = "No masks were selected"
	} else {
		res.Status = core.RunSuccess
		res.Message = fmt.Sprintf("Selected %d mask(s)", len(final))
	}
	res.Content = core.NewTextContent(core.RoleTool, fmt.Sprintf("%s: %s", res.Message, formatInts(final.Indices())))

	return res, nil
}

func (d *Dispatcher) reportNoMask(c ReportNoMask) (*Result, error) {
	msg := "No objects match the query"
	if r := strings.TrimSpace(c.Rationale); r != "" {
		msg = r
	}

	return &Result{
		Tool:     NameReportNoMask,
		Content:  core.NewTextContent(core.RoleTool, msg),
		Terminal: true,
		Status:   core.RunNoMasks,
		Message:  msg,
	}, nil
}

func masksAt(run *core.AgentRun, indices []int) (core.MaskSet, error) {
	out := make(core.MaskSet, 0, len(indices))
	for _, i := range indices {
		m, err := run.Mask(i)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// serviceError classifies a segmentation failure. Typed service errors and
// context errors pass through unchanged.
func serviceError(err error) error {
	if errors.Is(err, core.ErrServiceTimeout) || errors.Is(err, core.ErrServiceUnavailable) ||
		errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.ServiceTimeoutError{Service: "segmentation"}
	}
	return &core.ServiceUnavailableError{Service: "segmentation", Err: err}
}

func segmentSummary(phrase, query string, masks core.MaskSet) string {
	if len(masks) == 0 {
		return fmt.Sprintf("The segment_phrase tool generated 0 masks for '%s'. Try a different phrase.", phrase)
	}
	return fmt.Sprintf(
		"The segment_phrase tool generated %d masks for '%s' with indices %s and scores %s. Analyze them carefully. Original query: '%s'",
		len(masks), phrase, formatInts(masks.Indices()), formatScores(masks.Scores()), query)
}

func cachedSummary(phrase string, masks core.MaskSet) string {
	return fmt.Sprintf(
		"'%s' was already segmented in this run. Reusing %d masks with indices %s; try a different phrase if they do not fit.",
		phrase, len(masks), formatInts(masks.Indices()))
}

func formatInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%d", x)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatScores(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%.2f", x)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func toolName(call Call) string {
	if call == nil {
		return ""
	}
	return string(call.Name())
}
