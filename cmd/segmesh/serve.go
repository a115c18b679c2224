package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/segmesh/server"
)

const shutdownTimeout = 30 * time.Second

type serveOptions struct {
	Addr string
}

func newServeCmd(global *globalOptions, fsys afero.Fs) *cobra.Command {
	options := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig(fsys)
			if err != nil {
				return err
			}

			a, err := buildApp(cfg, fsys)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()

			shutdownTracing, err := setupTracing(ctx, cfg.Tracing, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(sctx); err != nil {
					a.logger.Warn("tracer shutdown failed", "error", err)
				}
			}()

			if cfg.Logging.Level == "debug" {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			srv := server.New(a.engine, func(o *server.Options) {
				o.Config = cfg
				o.Uploads = a.uploads
				o.Segmenter = a.segmenter
				o.Resolver = a.resolver
				o.Gatherer = a.registry
				o.Tracing = cfg.Tracing.Enabled()
				o.Logger = a.logger.WithComponent("server")
			})

			addr := options.Addr
			if addr == "" {
				addr = cfg.Server.Addr()
			}
			httpServer := srv.HTTPServer(addr)

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				a.logger.Info("starting segmesh server",
					"address", addr,
					"reasoning_provider", cfg.Reasoning.Provider,
					"reasoning_model", cfg.Reasoning.Model,
					"segmentation_endpoint", cfg.Segmentation.Endpoint,
					"storage", cfg.Storage.Driver,
				)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				a.logger.Info("shutting down segmesh server")

				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				err := httpServer.Shutdown(sctx)
				if serr := a.engine.Shutdown(sctx); serr != nil {
					err = errors.Join(err, serr)
				}
				return err
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&options.Addr, "addr", "", "listen address (overrides server.host and server.port)")

	return cmd
}
