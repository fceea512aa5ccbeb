package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hed1ad/txguard/pkg/config"
	"github.com/hed1ad/txguard/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalFlags struct {
	configPath string
	logLevel   string
	pretty     bool
	seed       int64
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "txguard",
		Short:         "Streaming transaction anomaly detection on a synthetic payment feed",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "config file (.json, .yaml); TXGUARD_* env vars override it")
	pf.StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.BoolVar(&g.pretty, "pretty", false, "human readable logs")
	pf.Int64Var(&g.seed, "seed", 0, "override the random seed")

	root.AddCommand(newRunCmd(g), newServeCmd(g), newVersionCmd())
	return root
}

func (g *globalFlags) logger(cmd *cobra.Command) zerolog.Logger {
	return logger.New(logger.Config{
		Level:  g.logLevel,
		Pretty: g.pretty,
		Out:    cmd.ErrOrStderr(),
	})
}

// loadConfig resolves defaults, file, environment and flags, in that order.
func (g *globalFlags) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = g.seed
	}
	return cfg, cfg.Validate()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "txguard", version)
		},
	}
}
