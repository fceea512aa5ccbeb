package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hed1ad/txguard/pkg/engine"
	"github.com/hed1ad/txguard/pkg/server"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	sc := server.DefaultConfig()
	var autostart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine over HTTP with start/stop streaming",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := g.logger(cmd)

			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			eng, err := engine.New(cfg, engine.WithLogger(log))
			if err != nil {
				return err
			}
			defer eng.Close()

			sc.Version = version
			srv := server.New(sc, eng, log)
			if autostart {
				if err := srv.Stream().Start(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&sc.Addr, "addr", sc.Addr, "listen address")
	fl.DurationVar(&sc.StreamEvery, "stream-every", sc.StreamEvery, "tick cadence while streaming (>= 1s)")
	fl.BoolVar(&autostart, "stream", false, "start streaming immediately")
	return cmd
}
