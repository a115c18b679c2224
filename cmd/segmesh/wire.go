package main

import (
	"context"
	"fmt"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"github.com/hupe1980/segmesh/agent"
	"github.com/hupe1980/segmesh/artifact"
	"github.com/hupe1980/segmesh/config"
	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/engine"
	"github.com/hupe1980/segmesh/logging"
	"github.com/hupe1980/segmesh/metrics"
	"github.com/hupe1980/segmesh/model"
	"github.com/hupe1980/segmesh/model/anthropic"
	"github.com/hupe1980/segmesh/model/openai"
	"github.com/hupe1980/segmesh/overlap"
	"github.com/hupe1980/segmesh/runstore"
	"github.com/hupe1980/segmesh/segmenter"
	"github.com/hupe1980/segmesh/visual"
)

// app holds the components built from a configuration.
type app struct {
	cfg       *config.Config
	logger    *logging.SegmeshLogger
	registry  *prometheus.Registry
	uploads   core.ArtifactStore
	outputs   core.ArtifactStore
	segmenter segmenter.Segmenter
	resolver  *overlap.Resolver
	engine    *engine.Engine
	closers   []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newLogger(cfg config.LoggingConfig) *logging.SegmeshLogger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:       logging.ParseLevel(cfg.Level),
		Format:      cfg.Format,
		Output:      os.Stderr,
		Component:   "segmesh",
		CustomAttrs: map[string]interface{}{},
	})
}

func buildApp(cfg *config.Config, fsys afero.Fs) (*app, error) {
	logger := newLogger(cfg.Logging)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	uploads, outputs, err := buildStores(cfg.Storage, fsys)
	if err != nil {
		return nil, err
	}

	reasoning, err := buildModel(cfg.Reasoning)
	if err != nil {
		return nil, err
	}

	seg := segmenter.NewHTTP(cfg.Segmentation.Endpoint, func(o *segmenter.HTTPOptions) {
		o.Timeout = cfg.Segmentation.Timeout
		o.MaxRetries = cfg.Segmentation.Retries
		o.RatePerSecond = cfg.Segmentation.RatePerSecond
		o.Burst = cfg.Segmentation.Burst
		o.Logger = logger.WithComponent("segmenter")
	})

	resolver := overlap.New(func(o *overlap.Options) {
		o.Threshold = cfg.Agent.OverlapThreshold
		o.Logger = logger.WithComponent("overlap")
	})

	renderer := visual.New()
	temperature := cfg.Reasoning.Temperature

	ag := agent.New(reasoning, seg, func(o *agent.Options) {
		o.MaxRounds = cfg.Agent.MaxRounds
		o.MaxRetries = cfg.Agent.MaxRetriesPerRound
		o.ReasoningTimeout = cfg.Reasoning.Timeout
		o.MaxImageWidth = cfg.Reasoning.MaxImageWidth
		o.Stream = cfg.Agent.Stream
		o.Overlays = cfg.Agent.Overlays
		o.Model = cfg.Reasoning.Model
		o.MaxTokens = cfg.Reasoning.MaxTokens
		o.Temperature = &temperature
		o.Resolver = resolver
		o.Renderer = renderer
		o.Artifacts = artifact.NewWriter(renderer)
		o.Metrics = m
		o.Logger = logger.WithComponent("agent")
	})

	a := &app{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		uploads:   uploads,
		outputs:   outputs,
		segmenter: seg,
		resolver:  resolver,
	}

	var runs core.RunStore
	if cfg.Engine.RunTTL > 0 {
		cache, err := runstore.NewCache(func(o *runstore.CacheOptions) {
			o.Capacity = cfg.Engine.RunCacheSize
			o.TTL = cfg.Engine.RunTTL
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cache.Close)
		runs = cache
	} else {
		runs = runstore.NewInMemoryStore()
	}

	a.engine = engine.New(ag, func(o *engine.Options) {
		o.Config.MaxConcurrentRuns = cfg.Engine.MaxConcurrentRuns
		o.Config.RunTimeout = cfg.Engine.RunTimeout
		o.RunStore = runs
		o.ArtifactStore = outputs
		if loader, ok := uploads.(core.ImageLoader); ok {
			o.ImageLoader = loader
		}
		o.Metrics = m
		o.Logger = logger.WithComponent("engine")
	})
	runLogger := logger.WithComponent("engine")
	a.engine.RegisterCallback(engine.NewFunctionCallback(engine.CallbackAfterRun, func(_ context.Context, cc *engine.CallbackContext) error {
		run := cc.Run
		runLogger.WithRun(run.ID).LogRun(string(run.Status), len(run.Rounds), run.FinishedAt.Sub(run.StartedAt), cc.Err)
		return nil
	}))
	a.engine.RegisterCallback(engine.NewLoggingCallback(engine.CallbackOnError, runLogger))

	return a, nil
}

// buildStores returns the upload store and the run artifact store.
func buildStores(cfg config.StorageConfig, fsys afero.Fs) (core.ArtifactStore, core.ArtifactStore, error) {
	switch cfg.Driver {
	case "memory":
		store := artifact.NewInMemoryStore()
		return store, store, nil
	case "fs":
		uploads, err := artifact.NewFSStore(fsys, cfg.UploadDir, func(o *artifact.FSOptions) {
			o.AllowAbsolutePaths = cfg.AllowAbsolutePaths
		})
		if err != nil {
			return nil, nil, err
		}
		outputs, err := artifact.NewFSStore(fsys, cfg.OutputDir)
		if err != nil {
			return nil, nil, err
		}
		return uploads, outputs, nil
	case "s3":
		store, err := artifact.NewS3Store(artifact.S3Options{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			Secure:    cfg.S3.Secure,
			Prefix:    cfg.S3.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func buildModel(cfg config.ReasoningConfig) (model.Model, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			o.Model = cfg.Model
			o.BaseURL = cfg.BaseURL
			o.APIKey = cfg.APIKey
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(cfg.Model)
			o.BaseURL = cfg.BaseURL
			o.APIKey = cfg.APIKey
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
		}), nil
	}
	return nil, fmt.Errorf("unknown reasoning provider %q", cfg.Provider)
}
