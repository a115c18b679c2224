package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/segmesh/artifact"
	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/logging"
	"github.com/hupe1980/segmesh/metrics"
	"github.com/hupe1980/segmesh/runstore"
	"github.com/hupe1980/segmesh/stream"
)

var (
	// ErrTooManyRuns is returned by Invoke when the concurrency limit is reached.
	ErrTooManyRuns = errors.New("too many concurrent runs")
	// ErrRunNotFound is returned for ids that name neither an active nor a stored run.
	ErrRunNotFound = errors.New("run not found")
)

// Config defines tuning parameters for the Engine's operational behavior.
//
// Example:
//
//	cfg := Config{
//	    MaxConcurrentRuns: 50,
//	    EventBufferSize:   256,
//	    RunTimeout:        10 * time.Minute,
//	}
type Config struct {
	// MaxConcurrentRuns limits the number of runs executing simultaneously.
	// Invoke fails with ErrTooManyRuns beyond it. Zero means unlimited.
	MaxConcurrentRuns int

	// EventBufferSize sets the outbound channel capacity of each run's
	// emitter. Events beyond it are queued, never dropped.
	EventBufferSize int

	// RunTimeout bounds the wall time of a single run. A run hitting it is
	// cancelled between rounds and ends incomplete. Zero disables it.
	RunTimeout time.Duration

	// DrainTimeout is how long undelivered events of a finished run wait
	// for a consumer before they are discarded.
	DrainTimeout time.Duration
}

// DefaultConfig provides production-ready default configuration values:
//   - MaxConcurrentRuns: 10
//   - EventBufferSize: 64
//   - DrainTimeout: 1 minute
var DefaultConfig = Config{
	MaxConcurrentRuns: 10,
	EventBufferSize:   64,
	DrainTimeout:      time.Minute,
}

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	eng := engine.New(ag, func(o *engine.Options) {
//	    o.Config.MaxConcurrentRuns = 4
//	    o.ArtifactStore = fsStore
//	    o.Logger = logger
//	})
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// RunStore keeps runs addressable after they finish.
	// Defaults to an in-memory store.
	RunStore core.RunStore

	// ArtifactStore receives per-round and final artifacts.
	// Defaults to an in-memory store.
	ArtifactStore core.ArtifactStore

	// ImageLoader resolves query images. Defaults to the ArtifactStore when
	// it can load images.
	ImageLoader core.ImageLoader

	// Callbacks are run lifecycle hooks. Defaults to an empty manager.
	Callbacks *CallbackManager

	// Metrics records run level instrumentation; nil disables it.
	Metrics *metrics.Metrics

	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger
}

// Engine manages the lifecycle of agent runs.
//
// Core Responsibilities:
//   - Admission: bounded concurrent runs with immediate rejection
//   - Execution: one goroutine and one cancellable context per run
//   - Event delivery: a non-blocking emitter per run
//   - Registry: active runs by id, finished runs in the RunStore
//
// All methods are safe for concurrent use.
type Engine struct {
	agent core.Agent

	runStore      core.RunStore
	artifactStore core.ArtifactStore
	images        core.ImageLoader
	callbacks     *CallbackManager
	metrics       *metrics.Metrics
	logger        logging.Logger

	config Config

	active map[string]*activeRun
	mu     sync.RWMutex
	wg     sync.WaitGroup
}

type activeRun struct {
	ctx     context.Context
	run     *core.AgentRun
	emitter *stream.Emitter
	cancel  context.CancelFunc
	started time.Time
}

var _ core.Engine = (*Engine)(nil)

// New creates an Engine executing runs with a. All services have in-memory
// defaults so the engine is usable without further setup.
func New(a core.Agent, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.RunStore == nil {
		opts.RunStore = runstore.NewInMemoryStore()
	}
	if opts.ArtifactStore == nil {
		opts.ArtifactStore = artifact.NewInMemoryStore()
	}
	if opts.ImageLoader == nil {
		if loader, ok := opts.ArtifactStore.(core.ImageLoader); ok {
			opts.ImageLoader = loader
		}
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Engine{
		agent:         a,
		runStore:      opts.RunStore,
		artifactStore: opts.ArtifactStore,
		images:        opts.ImageLoader,
		callbacks:     opts.Callbacks,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		config:        opts.Config,
		active:        make(map[string]*activeRun),
	}
}

// RegisterCallback adds a run lifecycle hook.
func (e *Engine) RegisterCallback(cb Callback) {
	e.callbacks.RegisterCallback(cb)
}

// ArtifactStore returns the store runs write their artifacts to.
func (e *Engine) ArtifactStore() core.ArtifactStore { return e.artifactStore }

// Invoke starts an asynchronous run for q.
//
// Returns:
//   - runID: identifier for Stop and Run
//   - events: the run's ordered events, closed after the terminal event
//   - errors: terminal error channel (buffered size 1, closed after the run)
//   - err: immediate error; ErrTooManyRuns when the limit is reached
//
// The run's context derives from ctx: cancelling ctx cancels the run
// between rounds and ends it incomplete.
func (e *Engine) Invoke(ctx context.Context, q core.Query) (string, <-chan core.Event, <-chan error, error) {
	if strings.TrimSpace(q.Phrase) == "" {
		return "", nil, nil, &core.ValidationError{Field: "phrase", Value: q.Phrase, Message: "must not be empty"}
	}
	if strings.TrimSpace(q.Image.Key) == "" {
		return "", nil, nil, &core.ValidationError{Field: "image", Value: q.Image.Key, Message: "must not be empty"}
	}

	run := core.NewAgentRun(core.NewID(), q)

	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeRun, &CallbackContext{Run: run.Snapshot()}); err != nil {
		return "", nil, nil, fmt.Errorf("run rejected: %w", err)
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if e.config.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.config.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	ar := &activeRun{
		ctx: runCtx,
		run: run,
		emitter: stream.NewEmitter(run.ID, func(o *stream.Options) {
			o.Buffer = e.config.EventBufferSize
			o.Logger = e.logger
		}),
		cancel:  cancel,
		started: time.Now(),
	}

	if err := e.admit(ar); err != nil {
		cancel()
		ar.emitter.Discard()
		return "", nil, nil, err
	}

	if err := e.runStore.Put(run); err != nil {
		e.logger.Warn("run store put failed", "run_id", run.ID, "error", err)
	}
	e.metrics.RunStarted()
	e.logger.Info("run admitted", "run_id", run.ID, "phrase", q.Phrase, "image", q.Image.Key)

	errorsCh := make(chan error, 1)
	rc := core.NewRunContext(runCtx, run, ar.emitter, e.artifactStore, e.images, logging.ForRun(e.logger, run.ID))

	go func() {
		defer e.wg.Done()
		defer close(errorsCh)

		err := e.execute(rc)
		e.finish(ar, err)

		if err != nil {
			errorsCh <- fmt.Errorf("run %s failed: %w", run.ID, err)
		}
	}()

	return run.ID, ar.emitter.Events(), errorsCh, nil
}

// InvokeSync executes a run to completion, returning the finished run and
// every event it emitted. The returned error is the run's terminal error.
//
// All events are buffered in memory; prefer Invoke for progressive delivery.
func (e *Engine) InvokeSync(ctx context.Context, q core.Query) (*core.AgentRun, []core.Event, error) {
	runID, eventsCh, errorsCh, err := e.Invoke(ctx, q)
	if err != nil {
		return nil, nil, err
	}

	var events []core.Event
	for ev := range eventsCh {
		events = append(events, ev)
	}
	runErr := <-errorsCh

	run, err := e.Run(runID)
	if err != nil {
		return nil, events, err
	}

	return run, events, runErr
}

// Stop requests cancellation of an active run. The run ends incomplete at
// the next round boundary.
func (e *Engine) Stop(runID string) error {
	e.mu.RLock()
	ar, ok := e.active[runID]
	e.mu.RUnlock()

	if !ok {
		if _, err := e.runStore.Get(runID); err == nil {
			return fmt.Errorf("run %s: %w", runID, core.ErrRunFinished)
		}
		return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}

	e.logger.Info("run stop requested", "run_id", runID)
	ar.cancel()

	return nil
}

// Run returns a snapshot of an active or stored run.
func (e *Engine) Run(runID string) (*core.AgentRun, error) {
	e.mu.RLock()
	ar, ok := e.active[runID]
	e.mu.RUnlock()

	if ok {
		return ar.run.Snapshot(), nil
	}

	run, err := e.runStore.Get(runID)
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return nil, err
	}

	return run, nil
}

// Active returns the number of runs currently executing.
func (e *Engine) Active() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}

// Shutdown cancels every active run and waits until they finished or ctx
// is done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.RLock()
	for _, ar := range e.active {
		ar.cancel()
	}
	e.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) admit(ar *activeRun) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit := e.config.MaxConcurrentRuns; limit > 0 && len(e.active) >= limit {
		e.logger.Warn("run rejected", "reason", "concurrency limit", "limit", limit)
		return ErrTooManyRuns
	}

	e.active[ar.run.ID] = ar
	e.wg.Add(1)

	return nil
}

func (e *Engine) release(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, runID)
}

// execute runs the agent and converts a panic into a run error.
func (e *Engine) execute(rc *core.RunContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panic: %v", r)
			logging.ErrorStack(rc.Logger, err, "agent panic")
		}
	}()

	return e.agent.Run(rc)
}

// finish guarantees a terminal status and event, moves the run from the
// active registry to the run store and fires the lifecycle callbacks.
func (e *Engine) finish(ar *activeRun, err error) {
	defer ar.cancel()

	run := ar.run
	if !run.CurrentStatus().Terminal() {
		msg := "run ended without a terminal status"
		if err != nil {
			msg = err.Error()
		}
		if finishErr := run.Finish(core.RunError, nil, msg, err); finishErr == nil {
			_ = ar.emitter.Emit(core.NewEvent(run.ID, core.EventError, core.ErrorData{
				Status:  core.RunError,
				Message: msg,
			}))
		}
	}
	ar.emitter.Close()

	if putErr := e.runStore.Put(run); putErr != nil {
		e.logger.Warn("run store put failed", "run_id", run.ID, "error", putErr)
	}
	e.release(run.ID)

	snap := run.Snapshot()
	e.metrics.RunFinished(string(snap.Status), len(snap.Rounds), time.Since(ar.started))
	e.logger.Info("run finished",
		"run_id", run.ID,
		"status", string(snap.Status),
		"rounds", len(snap.Rounds),
		"duration", time.Since(ar.started),
	)

	cbCtx := context.WithoutCancel(ar.ctx)
	if cbErr := e.callbacks.ExecuteCallbacks(cbCtx, CallbackAfterRun, &CallbackContext{Run: snap, Err: err}); cbErr != nil {
		e.logger.Warn("after_run callback failed", "run_id", run.ID, "error", cbErr)
	}
	if snap.Status == core.RunError {
		if cbErr := e.callbacks.ExecuteCallbacks(cbCtx, CallbackOnError, &CallbackContext{Run: snap, Err: err}); cbErr != nil {
			e.logger.Warn("on_error callback failed", "run_id", run.ID, "error", cbErr)
		}
	}

	go e.drain(ar.emitter)
}

// drain discards events nobody consumed within the drain timeout so the
// emitter's pump goroutine can exit.
func (e *Engine) drain(em *stream.Emitter) {
	timeout := e.config.DrainTimeout
	if timeout <= 0 {
		timeout = DefaultConfig.DrainTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-em.Done():
	case <-timer.C:
		em.Discard()
	}
}
