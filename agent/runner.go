package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/logging"
	"github.com/hupe1980/segmesh/model"
	"github.com/hupe1980/segmesh/tool"
	"github.com/hupe1980/segmesh/visual"
)

// runner holds the private state of one run.
type runner struct {
	*Agent

	rc           *core.RunContext
	limiter      *core.RoundLimiter
	dispatcher   *tool.Dispatcher
	conversation []core.Content
	image        []byte
}

func newRunner(a *Agent, rc *core.RunContext, maxRounds int) *runner {
	return &runner{
		Agent:   a,
		rc:      rc,
		limiter: core.NewRoundLimiter(maxRounds, a.opts.MaxRetries),
	}
}

func (r *runner) run() error {
	if err := r.prepare(); err != nil {
		return r.fail(nil, err)
	}

	for {
		if err := r.rc.Err(); err != nil {
			return r.cancel(err)
		}

		if err := r.limiter.NextRound(); err != nil {
			return r.exhausted(err)
		}

		rd, err := r.rc.Run.StartRound()
		if err != nil {
			return err
		}

		r.opts.Metrics.RoundStarted()
		r.rc.Emit(core.EventRoundStart, core.RoundStartData{Round: rd.Index})

		res, err := r.round(rd)
		if err != nil {
			r.failRound(rd, err)
			if r.rc.Err() != nil {
				return r.cancel(err)
			}
			return r.fail(rd, err)
		}

		r.advance(rd, core.RoundComplete)

		if res.Terminal {
			return r.complete(rd, res)
		}
	}
}

// prepare loads the input image and seeds the conversation.
func (r *runner) prepare() error {
	q := r.rc.Run.Query

	system, err := r.opts.Instruction.Resolve(r.rc, promptData(q, r.limiter.MaxRounds()))
	if err != nil {
		return fmt.Errorf("resolve instruction: %w", err)
	}

	user := core.Content{Role: core.RoleUser}
	if r.rc.Images != nil {
		data, err := r.rc.LoadImage()
		if err != nil {
			return fmt.Errorf("load image %q: %w", q.Image.Key, err)
		}
		sent, mime, err := visual.Downscale(data, r.opts.MaxImageWidth)
		if err != nil {
			return fmt.Errorf("prepare image: %w", err)
		}
		r.image = data
		user.Parts = append(user.Parts, core.ImagePart{Ref: q.Image, Data: sent, MimeType: mime})
	}
	user.Parts = append(user.Parts, core.TextPart{Text: initialUserText(q)})

	r.conversation = []core.Content{core.NewTextContent(core.RoleSystem, system), user}
	r.dispatcher = tool.NewDispatcher(r.segmenter, func(o *tool.Options) {
		o.Resolver = r.opts.Resolver
		o.Image = r.image
	})

	return nil
}

// round runs attempts until one succeeds, fails unrecoverably or the retry
// budget is spent. Retries never open a new round.
func (r *runner) round(rd *core.Round) (*tool.Result, error) {
	ctx, span := r.opts.Tracer.Start(r.rc.Context, "agent.round", trace.WithAttributes(
		attribute.Int("round", rd.Index),
	))
	defer span.End()

	rc := r.rc.WithContext(ctx)
	rc.Logger = logging.ForRound(rc.Logger, rd.Index)
	r.advance(rd, core.RoundReasoning)

	for attempt := 0; ; attempt++ {
		res, err := r.attempt(rc, rd, attempt)
		if err == nil {
			span.SetAttributes(attribute.String("tool", string(res.Tool)), attribute.Int("retries", attempt))
			return res, nil
		}

		span.RecordError(err)

		if rc.Err() != nil || !core.IsRecoverable(err) {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		if !r.limiter.Retry() {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("round %d failed after %d retries: %w", rd.Index, attempt, err)
		}

		r.opts.Metrics.Retry(errorClass(err))
		rc.Run.Update(rd, func(x *core.Round) {
			x.Retries++
			x.Error = err.Error()
		})
		rc.Logger.Warn("round attempt failed, retrying", "attempt", attempt, "error", err)

		r.correct(rd, err)
	}
}

func (r *runner) attempt(rc *core.RunContext, rd *core.Round, attempt int) (*tool.Result, error) {
	text, err := r.reason(rc, rd, attempt)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) != "" {
		r.append(rd, core.NewTextContent(core.RoleAssistant, text))
	}

	inv, perr := r.parser.Parse(text)

	done := core.ReasoningCompleteData{Round: rd.Index, Attempt: attempt, Text: text}
	if perr == nil {
		done.Tool = string(inv.Call.Name())
	}
	rc.Emit(core.EventReasoningComplete, done)

	if perr != nil {
		var pe *core.ParseError
		if errors.As(perr, &pe) {
			r.opts.Metrics.ParseFailed(string(pe.Kind))
		}
		return nil, perr
	}

	rc.Run.Update(rd, func(x *core.Round) {
		x.ToolName = string(inv.Call.Name())
		x.RawToolCall = inv.Raw
	})

	return r.dispatch(rc, rd, inv.Call)
}

// reason asks the Reasoning Service for the next reply and streams its
// chunks as reasoning_chunk events.
func (r *runner) reason(rc *core.RunContext, rd *core.Round, attempt int) (string, error) {
	ctx := rc.Context
	if r.opts.ReasoningTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.ReasoningTimeout)
		defer cancel()
	}

	req := r.request()
	info := r.model.Info()

	ctx, span := r.opts.Tracer.Start(ctx, "agent.reasoning", trace.WithAttributes(
		attribute.String("provider", info.Provider),
		attribute.String("model", info.Name),
		attribute.Int("message_count", len(req.Contents)),
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	rc.Emit(core.EventReasoningStart, core.ReasoningStartData{Round: rd.Index, Attempt: attempt})

	var acc strings.Builder
	start := time.Now()

	text, err := model.Collect(ctx, r.model, req, func(delta string) {
		acc.WriteString(delta)
		rc.Emit(core.EventReasoningChunk, core.ReasoningChunkData{
			Round:   rd.Index,
			Attempt: attempt,
			Delta:   delta,
			Text:    acc.String(),
		})
	})

	r.opts.Metrics.ReasoningCall(time.Since(start), err)
	logging.ReasoningCall(rc.Logger, info.Name, len(text), time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", r.reasoningError(rc, err)
	}

	span.SetAttributes(attribute.Int("response_chars", len(text)))

	return text, nil
}

func (r *runner) request() model.Request {
	cfg := r.rc.Run.Query.Reasoning

	req := model.Request{
		Contents:    append([]core.Content(nil), r.conversation...),
		Stream:      r.opts.Stream,
		Model:       r.opts.Model,
		MaxTokens:   r.opts.MaxTokens,
		Temperature: r.opts.Temperature,
	}
	if cfg.Model != "" {
		req.Model = cfg.Model
	}
	if cfg.MaxTokens > 0 {
		req.MaxTokens = cfg.MaxTokens
	}
	if cfg.Temperature > 0 {
		t := cfg.Temperature
		req.Temperature = &t
	}

	return req
}

func (r *runner) reasoningError(rc *core.RunContext, err error) error {
	switch {
	case rc.Err() != nil:
		return rc.Err()
	case errors.Is(err, core.ErrServiceTimeout), errors.Is(err, core.ErrServiceUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &core.ServiceTimeoutError{Service: "reasoning", Timeout: r.opts.ReasoningTimeout}
	default:
		return &core.ServiceUnavailableError{Service: "reasoning", Err: err}
	}
}

func (r *runner) dispatch(rc *core.RunContext, rd *core.Round, call tool.Call) (*tool.Result, error) {
	ctx, span := r.opts.Tracer.Start(rc.Context, "agent.tool", trace.WithAttributes(
		attribute.String("tool", string(call.Name())),
	))
	defer span.End()

	rc = rc.WithContext(ctx)

	seg, isSegment := call.(tool.SegmentPhrase)
	if isSegment {
		r.advance(rd, core.RoundSegmenting)
		rc.Emit(core.EventSegmentationStart, core.SegmentationStartData{
			Round:  rd.Index,
			Phrase: strings.TrimSpace(seg.Phrase),
		})
	}

	start := time.Now()
	res, err := r.dispatcher.Dispatch(rc, rd, call)

	r.opts.Metrics.ToolCall(string(call.Name()), err)
	if isSegment {
		cached, masks := false, 0
		if res != nil {
			cached, masks = res.Cached, len(res.Masks)
		}
		r.opts.Metrics.SegmentationCall(time.Since(start), cached, masks, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	content := res.Content

	switch res.Tool {
	case tool.NameSegmentPhrase:
		refs := r.writeRound(rc, rd, res)
		content = r.withOverlay(content, res.Masks)
		rc.Emit(core.EventSegmentationComplete, core.SegmentationCompleteData{
			Round:       rd.Index,
			Phrase:      res.Phrase,
			Cached:      res.Cached,
			MaskIndices: res.Masks.Indices(),
			Scores:      res.Masks.Scores(),
			Artifacts:   refs,
		})
	case tool.NameExamineEachMask:
		content = r.withOverlay(content, res.Masks)
	}

	r.append(rd, content)

	return res, nil
}

func (r *runner) writeRound(rc *core.RunContext, rd *core.Round, res *tool.Result) map[string]string {
	if r.opts.Artifacts == nil || rc.Artifacts == nil {
		return nil
	}

	refs, err := r.opts.Artifacts.WriteRound(rc, rd.Index, res.Phrase, res.Masks, r.image)
	if err != nil {
		rc.Logger.Warn("round artifacts not written", "round", rd.Index, "error", err)
		return nil
	}

	rc.Run.Update(rd, func(x *core.Round) {
		if n := len(x.Segmentations); n > 0 {
			x.Segmentations[n-1].Artifacts = refs
		}
	})

	return refs
}

// withOverlay attaches a rendering of masks over the input image.
func (r *runner) withOverlay(c core.Content, masks core.MaskSet) core.Content {
	if !r.opts.Overlays || len(r.image) == 0 || len(masks) == 0 {
		return c
	}

	overlay, err := r.opts.Renderer.RenderPNG(r.image, masks)
	if err != nil {
		r.rc.Logger.Warn("overlay not rendered", "error", err)
		return c
	}

	data, mime, err := visual.Downscale(overlay, r.opts.MaxImageWidth)
	if err != nil {
		r.rc.Logger.Warn("overlay not resized", "error", err)
		return c
	}

	parts := make([]core.Part, 0, len(c.Parts)+1)
	parts = append(parts, c.Parts...)
	parts = append(parts, core.ImagePart{Data: data, MimeType: mime})

	return core.Content{Role: c.Role, Parts: parts}
}

// correct folds a recoverable failure back into the conversation. Reasoning
// Service failures leave nothing to correct, so the attempt is just repeated.
func (r *runner) correct(rd *core.Round, err error) {
	if isReasoningFailure(err) {
		return
	}
	r.append(rd, core.NewTextContent(core.RoleTool, correction(err)))
}

func (r *runner) append(rd *core.Round, c core.Content) {
	r.conversation = append(r.conversation, c)
	r.rc.Run.Update(rd, func(x *core.Round) {
		x.Messages = append(x.Messages, c)
	})
}

func (r *runner) advance(rd *core.Round, to core.RoundStatus) {
	if err := r.rc.Run.Advance(rd, to); err != nil {
		r.rc.Logger.Debug("round transition skipped", "round", rd.Index, "error", err)
	}
}

func (r *runner) failRound(rd *core.Round, err error) {
	r.rc.Run.Update(rd, func(x *core.Round) { x.Error = err.Error() })
	r.advance(rd, core.RoundFailed)
}

// complete finishes the run after a terminal tool.
func (r *runner) complete(rd *core.Round, res *tool.Result) error {
	var final core.MaskSet
	if res.Status == core.RunSuccess {
		final = res.Masks
		if r.opts.Artifacts != nil && r.rc.Artifacts != nil {
			if _, err := r.opts.Artifacts.WriteFinal(r.rc, final, r.image); err != nil {
				r.rc.Logger.Warn("final artifacts not written", "error", err)
			}
		}
	}

	if err := r.rc.Run.Finish(res.Status, final, res.Message, nil); err != nil {
		return err
	}

	r.rc.Emit(core.EventAgentComplete, core.AgentCompleteData{
		Status:    res.Status,
		Rounds:    rd.Index,
		Final:     final,
		Message:   res.Message,
		Artifacts: r.rc.Run.Snapshot().Artifacts,
	})

	return nil
}

// exhausted ends a run that used its whole round budget.
func (r *runner) exhausted(err error) error {
	msg := fmt.Sprintf("Agent stopped after %d rounds", r.limiter.Rounds())
	return r.incomplete(msg, err)
}

// cancel ends a run cancelled from outside.
func (r *runner) cancel(err error) error {
	msg := fmt.Sprintf("Run cancelled after %d rounds", r.limiter.Rounds())
	return r.incomplete(msg, err)
}

func (r *runner) incomplete(msg string, err error) error {
	if ferr := r.rc.Run.Finish(core.RunIncomplete, nil, msg, err); ferr != nil {
		return ferr
	}

	r.rc.Logger.Info("agent run incomplete", "reason", err)
	r.rc.Emit(core.EventAgentComplete, core.AgentCompleteData{
		Status:    core.RunIncomplete,
		Rounds:    r.limiter.Rounds(),
		Message:   msg,
		Artifacts: r.rc.Run.Snapshot().Artifacts,
	})

	return nil
}

// fail ends the run with RunError and emits the error event.
func (r *runner) fail(rd *core.Round, err error) error {
	if ferr := r.rc.Run.Finish(core.RunError, nil, err.Error(), err); ferr != nil {
		return ferr
	}

	data := core.ErrorData{Status: core.RunError, Message: err.Error()}
	if rd != nil {
		data.Round = rd.Index
	}

	r.rc.Logger.Error("agent run failed", "round", data.Round, "error", err)
	r.rc.Emit(core.EventError, data)

	return err
}
