package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/segmesh/logging"
)

// EventSink receives run events. Implementations must not block the caller.
type EventSink interface {
	Emit(ev Event) error
}

// RunContext is the execution scope of a single run. Everything reachable
// from it is private to that run.
type RunContext struct {
	Context   context.Context
	Run       *AgentRun
	Events    EventSink
	Artifacts ArtifactStore
	Images    ImageLoader
	Logger    logging.Logger
}

// NewRunContext constructs a RunContext. A nil logger is replaced by a
// NoOpLogger.
func NewRunContext(
	ctx context.Context,
	run *AgentRun,
	events EventSink,
	artifacts ArtifactStore,
	images ImageLoader,
	logger logging.Logger,
) *RunContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &RunContext{
		Context:   ctx,
		Run:       run,
		Events:    events,
		Artifacts: artifacts,
		Images:    images,
		Logger:    logger,
	}
}

// WithContext returns a shallow copy of rc bound to ctx. The copy shares
// the run, sinks and logger.
func (rc *RunContext) WithContext(ctx context.Context) *RunContext {
	cp := *rc
	cp.Context = ctx
	return &cp
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// RunID returns the id of the run.
func (rc *RunContext) RunID() string { return rc.Run.ID }

// Emit publishes an event of the given type. A missing sink drops the event.
func (rc *RunContext) Emit(typ EventType, data any) {
	if rc.Events == nil {
		return
	}
	if err := rc.Events.Emit(NewEvent(rc.Run.ID, typ, data)); err != nil {
		rc.Logger.Warn("event dropped", "run_id", rc.Run.ID, "type", string(typ), "error", err)
	}
}

// SaveArtifact stores bytes under name and records the returned reference on
// the run.
func (rc *RunContext) SaveArtifact(name string, data []byte) (string, error) {
	if rc.Artifacts == nil {
		return "", fmt.Errorf("artifact store not configured")
	}
	key, err := rc.Artifacts.Save(rc.Context, rc.Run.ID, name, data)
	if err != nil {
		return "", err
	}
	rc.Run.SetArtifact(name, key)
	return key, nil
}

// LoadImage resolves the run's input image.
func (rc *RunContext) LoadImage() ([]byte, error) {
	if rc.Images == nil {
		return nil, fmt.Errorf("image loader not configured")
	}
	return rc.Images.LoadImage(rc.Context, rc.Run.Query.Image)
}
