// Package server exposes segmesh over HTTP with gin.
//
// Routes:
//
//	GET    /api/health         - liveness plus configured collaborators
//	POST   /api/upload         - multipart image upload
//	POST   /api/segment        - direct Segmentation Service call
//	POST   /api/agent/run      - synchronous agent run
//	POST   /api/agent/stream   - agent run as Server-Sent Events
//	GET    /api/runs/:id       - active or finished run
//	DELETE /api/runs/:id       - cancel an active run
//	GET    /api/outputs/*key   - run artifact
//	GET    /api/config         - effective configuration without secrets
//	GET    /metrics            - Prometheus metrics
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/hupe1980/segmesh/config"
	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/engine"
	"github.com/hupe1980/segmesh/logging"
	"github.com/hupe1980/segmesh/overlap"
	"github.com/hupe1980/segmesh/segmenter"
)

// Options configures a Server.
type Options struct {
	// Config is reported by /api/config and /api/health. Defaults to config.Default().
	Config *config.Config
	// Uploads stores uploaded images. Defaults to the engine's artifact store.
	Uploads core.ArtifactStore
	// Images resolves image references for /api/segment. Defaults to Uploads
	// when it can load images.
	Images core.ImageLoader
	// Segmenter serves /api/segment; nil disables the route.
	Segmenter segmenter.Segmenter
	// Resolver deduplicates /api/segment results. Defaults to overlap.New().
	Resolver *overlap.Resolver
	// Gatherer serves /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
	// Tracing adds the OpenTelemetry gin middleware.
	Tracing bool
	Logger  logging.Logger
}

// Server is the HTTP facade over an Engine.
type Server struct {
	engine *engine.Engine
	opts   Options
	router *gin.Engine
}

// New creates a Server and registers its routes.
func New(eng *engine.Engine, optFns ...func(o *Options)) *Server {
	opts := Options{
		Heartbeat: 15 * time.Second,
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Uploads == nil {
		opts.Uploads = eng.ArtifactStore()
	}
	if opts.Images == nil {
		if loader, ok := opts.Uploads.(core.ImageLoader); ok {
			opts.Images = loader
		}
	}
	if opts.Resolver == nil {
		opts.Resolver = overlap.New(func(o *overlap.Options) {
			o.Threshold = opts.Config.Agent.OverlapThreshold
		})
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	s := &Server{engine: eng, opts: opts}
	s.router = s.routes()

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// HTTPServer returns an http.Server for addr serving Handler. WriteTimeout
// stays zero so event streams are not cut off.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if s.opts.Tracing {
		router.Use(otelgin.Middleware("segmesh"))
	}
	router.Use(s.requestLogger())
	router.MaxMultipartMemory = s.opts.Config.Server.MaxUploadBytes

	api := router.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/config", s.handleConfig)
	api.POST("/upload", s.handleUpload)
	if s.opts.Segmenter != nil {
		api.POST("/segment", s.handleSegment)
	}
	api.POST("/agent/run", s.handleAgentRun)
	api.POST("/agent/stream", s.handleAgentStream)
	api.GET("/runs/:id", s.handleGetRun)
	api.DELETE("/runs/:id", s.handleStopRun)
	api.GET("/outputs/*key", s.handleOutput)

	if s.opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.opts.Logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
