// Package segmesh provides a high-level façade over the agent engine for
// referring-expression segmentation. Most applications interact with this
// package by:
//  1. Building an agent from a Reasoning Service model and a Segmentation
//     Service client (agent.New)
//  2. Creating a Segmesh via New(), optionally overriding the default
//     in-memory stores
//  3. Invoking runs asynchronously (Invoke) or synchronously (InvokeSync)
//
// The façade delegates run management to engine.Engine. All defaults are
// safe for local development and testing; deployments typically supply
// durable artifact stores and a structured logger.
package segmesh

import (
	"context"

	"github.com/hupe1980/segmesh/artifact"
	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/engine"
	"github.com/hupe1980/segmesh/logging"
	"github.com/hupe1980/segmesh/runstore"
)

// Options configures the Segmesh instance.
type Options struct {
	// Engine configuration (concurrency, buffers, timeouts)
	EngineConfig engine.Config

	// Stores (default to in-memory implementations if not provided)
	RunStore      core.RunStore
	ArtifactStore core.ArtifactStore
	// ImageLoader resolves query images. Defaults to the ArtifactStore.
	ImageLoader core.ImageLoader

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Segmesh is the high-level façade aggregating the engine and its stores.
type Segmesh struct {
	opts   Options
	engine *engine.Engine
}

// New creates a Segmesh running a. Any unset store is initialized with an
// in-memory implementation.
func New(a core.Agent, optFns ...func(o *Options)) *Segmesh {
	opts := Options{
		EngineConfig:  engine.DefaultConfig,
		RunStore:      runstore.NewInMemoryStore(),
		ArtifactStore: artifact.NewInMemoryStore(),
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	eng := engine.New(a, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.RunStore = opts.RunStore
		o.ArtifactStore = opts.ArtifactStore
		o.ImageLoader = opts.ImageLoader
		o.Logger = opts.Logger
	})

	return &Segmesh{opts: opts, engine: eng}
}

// Engine returns the underlying engine.
func (s *Segmesh) Engine() *engine.Engine { return s.engine }

// ArtifactStore returns the store receiving uploads and run artifacts.
func (s *Segmesh) ArtifactStore() core.ArtifactStore { return s.opts.ArtifactStore }

// Upload stores an input image and returns the reference to query it with.
func (s *Segmesh) Upload(ctx context.Context, name string, data []byte) (core.ImageRef, error) {
	key, err := s.opts.ArtifactStore.Save(ctx, artifact.UploadScope, name, data)
	if err != nil {
		return core.ImageRef{}, err
	}
	return core.ImageRef{Key: key}, nil
}

// Invoke starts an asynchronous run returning its id plus event and error
// channels. The event channel closes after the terminal event.
func (s *Segmesh) Invoke(ctx context.Context, q core.Query) (string, <-chan core.Event, <-chan error, error) {
	return s.engine.Invoke(ctx, q)
}

// InvokeSync runs q to completion and returns the finished run with every
// event it emitted.
func (s *Segmesh) InvokeSync(ctx context.Context, q core.Query) (*core.AgentRun, []core.Event, error) {
	return s.engine.InvokeSync(ctx, q)
}

// Stop cancels an active run between rounds.
func (s *Segmesh) Stop(runID string) error { return s.engine.Stop(runID) }

// Run returns an active or finished run.
func (s *Segmesh) Run(runID string) (*core.AgentRun, error) { return s.engine.Run(runID) }

// Shutdown cancels all active runs and waits for them to finish.
func (s *Segmesh) Shutdown(ctx context.Context) error { return s.engine.Shutdown(ctx) }
