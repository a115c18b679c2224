package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/hupe1980/segmesh/artifact"
	"github.com/hupe1980/segmesh/core"
)

type runOptions struct {
	Image     string
	Query     string
	MaxRounds int
	JSON      bool
}

func newRunCmd(global *globalOptions, fsys afero.Fs) *cobra.Command {
	options := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent once and stream its events",
		Example: `  segmesh run --image ./street.png --query "the cat on the left"
  segmesh run --image ./street.png --query "all cars" --max-rounds 10 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if options.MaxRounds < 0 {
				return errors.New("--max-rounds must not be negative")
			}

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

			data, err := afero.ReadFile(fsys, options.Image)
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			key, err := a.uploads.Save(ctx, artifact.UploadScope, filepath.Base(options.Image), data)
			if err != nil {
				return fmt.Errorf("store image: %w", err)
			}

			_, events, errs, err := a.engine.Invoke(ctx, core.Query{
				Image:     core.ImageRef{Key: key},
				Phrase:    options.Query,
				Reasoning: core.ReasoningConfig{MaxRounds: options.MaxRounds},
			})
			if err != nil {
				return err
			}

			r := newEventRenderer(cmd.OutOrStdout(), options.JSON)
			for ev := range events {
				if err := r.Render(ev); err != nil {
					return err
				}
			}

			return <-errs
		},
	}

	cmd.Flags().StringVarP(&options.Image, "image", "i", "", "path to the input image")
	cmd.Flags().StringVarP(&options.Query, "query", "q", "", "referring expression to segment")
	cmd.Flags().IntVar(&options.MaxRounds, "max-rounds", 0, "round budget (0 uses agent.max_rounds)")
	cmd.Flags().BoolVar(&options.JSON, "json", false, "print events as JSON lines")
	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}
