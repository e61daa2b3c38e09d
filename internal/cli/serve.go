package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/formflow/formflow/internal/app"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the FormFlow HTTP server together with the event worker and
the digest scheduler.

The server provides:
  - Public form endpoints (variation, logic, slots, submit, waitlist)
  - The nonce-protected admin ajax endpoint
  - Health and readiness checks

Example:
  formflow serve --config formflow.yaml --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *options, port int) error {
	if err := opts.setup(cmd); err != nil {
		return err
	}
	if port > 0 {
		opts.cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return opts.withContainer(cmd, func(c *app.Container) error {
		logger := c.Logger
		logger.Info("starting formflow",
			"version", opts.info.Version,
			"commit", opts.info.Commit,
			"build_date", opts.info.BuildDate,
		)

		if err := c.StartBackground(ctx); err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			if err := c.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		logger.Info("formflow is ready",
			"host", c.Config.Server.Host,
			"port", c.Config.Server.Port,
		)

		select {
		case <-ctx.Done():
			logger.Info("shutting down...")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.Server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", "error", err)
		}

		logger.Info("formflow shutdown complete")
		return nil
	})
}
