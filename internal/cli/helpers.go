package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/formflow/formflow/internal/app"
	"github.com/formflow/formflow/internal/config"
	"github.com/formflow/formflow/internal/domain"
	"github.com/formflow/formflow/internal/repository"
)

type options struct {
	configPath string
	envFile    string
	info       BuildInfo

	cfg    *domain.Config
	logger *slog.Logger
}

// setup loads configuration and installs the process logger once.
func (o *options) setup(cmd *cobra.Command) error {
	if o.cfg != nil {
		return nil
	}
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = newLogger(cfg.Logging, cmd.ErrOrStderr())
	slog.SetDefault(o.logger)
	return nil
}

func newLogger(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Level != "" {
		// Validated by config.Load.
		_ = level.UnmarshalText([]byte(cfg.Level))
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// withContainer builds the component graph, executes fn, and closes it.
func (o *options) withContainer(cmd *cobra.Command, fn func(*app.Container) error) error {
	if err := o.setup(cmd); err != nil {
		return err
	}
	c, err := app.New(o.cfg, o.logger, o.info.Version)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(c)
}

// withRepository opens only the store.
func (o *options) withRepository(cmd *cobra.Command, fn func(*repository.SQLRepository) error) error {
	if err := o.setup(cmd); err != nil {
		return err
	}
	repo, err := repository.New(o.cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}
	defer repo.Close()

	return fn(repo)
}

func lookupInstance(ctx context.Context, c *app.Container, id string) (*domain.Instance, error) {
	repo, err := app.Resolve[domain.Repository](c.Registry, app.NameRepository)
	if err != nil {
		return nil, err
	}
	inst, err := repo.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("instance '%s' not found", id)
		}
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return inst, nil
}
