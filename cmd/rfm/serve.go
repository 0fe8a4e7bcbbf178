package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opensource-finance/rfm/internal/api"
	"github.com/opensource-finance/rfm/internal/job"
	"github.com/opensource-finance/rfm/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored reports over HTTP and execute runs requested on the bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort > 0 {
			cfg.Server.Port = servePort
		}

		env, err := openEnv(cfg, envOptions{repository: true, cache: true, bus: true})
		if err != nil {
			return err
		}
		defer env.Close()

		j, err := job.New(cfg, env.jobDeps())
		if err != nil {
			return err
		}

		var w *worker.Worker
		if env.bus != nil {
			w = worker.New(env.bus, j)
			if err := w.Start(); err != nil {
				return eris.Wrap(err, "start worker")
			}
			defer w.Stop() //nolint:errcheck
		}

		srv := api.NewServer(cfg.Server, api.Deps{
			Repository: env.store(),
			Cache:      env.cache,
			Bus:        env.bus,
			Engine:     j.Pipeline().Engine(),
			Runner:     j,
		}, Version)

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		zap.L().Info("rfm is ready",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("version", Version),
			zap.Bool("worker", w != nil),
		)

		select {
		case err := <-errCh:
			if err != nil {
				return eris.Wrap(err, "server failed")
			}
		case <-ctx.Done():
		}
		zap.L().Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("server forced to shutdown", zap.Error(err))
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
