package agent

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/segmesh/artifact"
	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/logging"
	"github.com/hupe1980/segmesh/metrics"
	"github.com/hupe1980/segmesh/model"
	"github.com/hupe1980/segmesh/overlap"
	"github.com/hupe1980/segmesh/segmenter"
	"github.com/hupe1980/segmesh/tool"
	"github.com/hupe1980/segmesh/visual"
)

const tracerName = "github.com/hupe1980/segmesh/agent"

// Options configures an Agent.
//
// Use functional options with New to override defaults.
type Options struct {
	// MaxRounds is the round budget; a query may lower or raise it.
	MaxRounds int
	// MaxRetries is the corrective retry budget of each round.
	MaxRetries int
	// ReasoningTimeout bounds a single Reasoning Service call; 0 disables it.
	ReasoningTimeout time.Duration
	// MaxImageWidth is the width images are shrunk to before they are sent
	// to the Reasoning Service; 0 keeps the original size.
	MaxImageWidth int
	// Stream requests incremental reasoning output.
	Stream bool
	// Overlays attaches a rendered overlay to segment and examine results.
	Overlays bool

	// Reasoning defaults; a query's ReasoningConfig wins when set.
	Model       string
	MaxTokens   int64
	Temperature *float64

	Instruction Instruction
	Resolver    *overlap.Resolver
	Renderer    *visual.Renderer
	// Artifacts writes per-round and final artifacts; nil disables them.
	Artifacts *artifact.Writer
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	// Logger replaces the run context's logger for runs of this agent.
	Logger logging.Logger
}

// Agent drives runs against a Reasoning Service and a Segmentation Service.
// Both collaborators must be safe for concurrent use when an Agent serves
// concurrent runs.
type Agent struct {
	model     model.Model
	segmenter segmenter.Segmenter
	parser    *tool.Parser
	opts      Options
}

// New creates an Agent with sensible defaults:
//   - 100 rounds, 2 corrective retries per round
//   - streaming reasoning output, overlays on tool results
//   - images shrunk to 1024 pixels wide
//   - overlap threshold 0.9
func New(m model.Model, seg segmenter.Segmenter, optFns ...func(o *Options)) *Agent {
	opts := Options{
		MaxRounds:     100,
		MaxRetries:    2,
		MaxImageWidth: 1024,
		Stream:        true,
		Overlays:      true,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxRounds < 1 {
		opts.MaxRounds = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Instruction.IsZero() {
		opts.Instruction = DefaultInstruction()
	}
	if opts.Resolver == nil {
		opts.Resolver = overlap.New()
	}
	if opts.Renderer == nil {
		opts.Renderer = visual.New()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &Agent{
		model:     m,
		segmenter: seg,
		parser:    tool.NewParser(),
		opts:      opts,
	}
}

// Options returns a copy of the effective options.
func (a *Agent) Options() Options { return a.opts }

// MaxRounds returns the round budget applied to q.
func (a *Agent) MaxRounds(q core.Query) int {
	if q.Reasoning.MaxRounds > 0 {
		return q.Reasoning.MaxRounds
	}
	return a.opts.MaxRounds
}

// Run executes the run owned by rc until it reaches a terminal status and
// emits exactly one terminal event (agent_complete or error). The returned
// error is non-nil only when the run ended in RunError; budget exhaustion
// and cancellation end the run as RunIncomplete with a nil error.
func (a *Agent) Run(rc *core.RunContext) error {
	start := time.Now()
	q := rc.Run.Query

	ctx, span := a.opts.Tracer.Start(rc.Context, "agent.run", trace.WithAttributes(
		attribute.String("run.id", rc.RunID()),
		attribute.String("query.phrase", q.Phrase),
		attribute.String("model.provider", a.model.Info().Provider),
	))
	defer span.End()

	rc = rc.WithContext(ctx)
	if a.opts.Logger != nil {
		rc.Logger = logging.ForRun(a.opts.Logger, rc.RunID())
	}
	maxRounds := a.MaxRounds(q)

	rc.Logger.Info("agent run started", "phrase", q.Phrase, "max_rounds", maxRounds)
	rc.Emit(core.EventAgentStart, core.AgentStartData{
		Image:     q.Image,
		Phrase:    q.Phrase,
		MaxRounds: maxRounds,
	})

	r := newRunner(a, rc, maxRounds)
	err := r.run()

	status := rc.Run.CurrentStatus()
	span.SetAttributes(
		attribute.String("run.status", string(status)),
		attribute.Int("run.rounds", r.limiter.Rounds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	rc.Logger.Info("agent run finished",
		"status", string(status),
		"rounds", r.limiter.Rounds(),
		"duration", time.Since(start),
	)

	return err
}
