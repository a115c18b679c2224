package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/hupe1980/segmesh/config"
)

var (
	// Version is the version of the binary.
	Version = "dev"
)

type globalOptions struct {
	ConfigPath string
	LogLevel   string
}

// loadConfig reads the configuration file and applies command line
// overrides.
func (o *globalOptions) loadConfig(fsys afero.Fs) (*config.Config, error) {
	cfg, err := config.LoadFs(fsys, o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(afero.NewOsFs())
}

func newRootCmd(fsys afero.Fs) *cobra.Command {
	options := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "segmesh",
		Short:         "Segmentation agent over a reasoning model and SAM3",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&options.ConfigPath, "config", "c", "", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&options.LogLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(options, fsys))
	cmd.AddCommand(newRunCmd(options, fsys))
	cmd.AddCommand(newConfigCmd(options, fsys))

	return cmd
}
