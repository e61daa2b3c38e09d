// Package app builds the FormFlow component graph from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/formflow/formflow/internal/abtest"
	"github.com/formflow/formflow/internal/api"
	"github.com/formflow/formflow/internal/bus"
	"github.com/formflow/formflow/internal/cache"
	"github.com/formflow/formflow/internal/capacity"
	"github.com/formflow/formflow/internal/domain"
	"github.com/formflow/formflow/internal/fraud"
	"github.com/formflow/formflow/internal/httpclient"
	"github.com/formflow/formflow/internal/notify"
	"github.com/formflow/formflow/internal/repository"
	"github.com/formflow/formflow/internal/rules"
	"github.com/formflow/formflow/internal/session"
	"github.com/formflow/formflow/internal/velocity"
	"github.com/formflow/formflow/internal/worker"
)

// Component names in the registry.
const (
	NameRepository = "repository"
	NameCache      = "cache"
	NameBus        = "eventbus"
	NameEngine     = "rules"
	NameAssigner   = "abtest"
	NameAnalyzer   = "fraud"
	NameFilter     = "capacity"
	NameWaitlist   = "waitlist"
	NameDispatcher = "notify"
	NameScheduler  = "digest"
	NameWorker     = "worker"
	NameServer     = "api"
)

// maxRuleWorkers bounds concurrent custom rule evaluation per submission.
const maxRuleWorkers = 16

// Container owns every long-lived component. It is built once per process
// and handed to the commands that need it.
type Container struct {
	Config *domain.Config
	Logger *slog.Logger

	Repo       *repository.SQLRepository
	Cache      domain.Cache
	Bus        domain.EventBus
	Engine     *rules.Engine
	Sessions   *session.Store
	Assigner   *abtest.Assigner
	Velocity   *velocity.Service
	Analyzer   *fraud.Analyzer
	Filter     *capacity.Filter
	Waitlist   *capacity.Waitlist
	Dispatcher *notify.Dispatcher
	Scheduler  *notify.Scheduler
	Worker     *worker.Worker
	Server     *api.Server

	Registry *Registry
	version  string
	closers  []func() error
}

// New opens the stores and wires the services. Close releases what New opened.
func New(cfg *domain.Config, logger *slog.Logger, version string) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{Config: cfg, Logger: logger, Registry: NewRegistry(), version: version}

	if err := c.initSentry(); err != nil {
		return nil, err
	}
	if err := c.openStores(); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.wireServices(); err != nil {
		c.Close()
		return nil, err
	}
	c.register()
	return c, nil
}

func (c *Container) openStores() error {
	repo, err := repository.New(c.Config.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	c.Repo = repo
	c.closers = append(c.closers, repo.Close)
	c.Logger.Info("repository initialized", "driver", c.Config.Repository.Driver)

	ch, err := cache.New(c.Config.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	c.Cache = ch
	c.closers = append(c.closers, ch.Close)
	c.Logger.Info("cache initialized", "type", c.Config.Cache.Type)

	b, err := bus.New(c.Config.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	c.Bus = b
	c.closers = append(c.closers, b.Close)
	c.Logger.Info("event bus initialized", "type", c.Config.EventBus.Type)
	return nil
}

func (c *Container) wireServices() error {
	engine, err := rules.NewEngine(maxRuleWorkers)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	c.Engine = engine
	c.closers = append(c.closers, engine.Close)

	c.Dispatcher = notify.NewDispatcher(
		httpclient.NewDefaultClient(time.Duration(c.Config.HTTP.TimeoutSeconds)*time.Second),
		c.emailSender(),
		c.Repo,
		c.Logger,
	)

	c.Sessions = session.NewStore(c.Config.Session.TTL)
	c.Assigner = abtest.NewAssigner(c.Sessions, c.Repo, c.Logger)
	c.Velocity = velocity.NewService(c.Repo)
	c.Analyzer = fraud.NewAnalyzer(c.Repo, c.Velocity, engine, c.Cache, c.Bus, c.Logger)
	c.Filter = capacity.NewFilter(c.Repo, c.Logger)
	c.Waitlist = capacity.NewWaitlist(c.Repo, c.Dispatcher, c.Bus, c.Logger)
	c.Scheduler = notify.NewScheduler(c.Dispatcher, c.Repo, c.Logger)
	c.Worker = worker.NewWorker(c.Bus, c.Repo, c.Dispatcher, c.Waitlist, c.Logger)

	if c.Config.Security.AdminToken == "" {
		c.Logger.Warn("security.admintoken is empty, admin endpoints are locked")
	}

	c.Server = api.NewServer(c.Config, api.Services{
		Repo:      c.Repo,
		Cache:     c.Cache,
		Bus:       c.Bus,
		Engine:    engine,
		Assigner:  c.Assigner,
		Analyzer:  c.Analyzer,
		Filter:    c.Filter,
		Waitlist:  c.Waitlist,
		Notifier:  c.Dispatcher,
		Scheduler: c.Scheduler,
	}, c.version)
	return nil
}

// emailSender prefers the Resend API, then an SMTP relay. It returns a nil
// interface when neither is configured.
func (c *Container) emailSender() notify.EmailSender {
	if s := notify.NewResendSender(c.Config.Resend); s != nil {
		c.Logger.Info("email via resend", "from", c.Config.Resend.From)
		return s
	}
	if s := notify.NewSMTPSender(c.Config.SMTP); s != nil {
		c.Logger.Info("email via smtp", "host", c.Config.SMTP.Host)
		return s
	}
	c.Logger.Warn("no email provider configured, email notifications disabled")
	return nil
}

func (c *Container) register() {
	for name, comp := range map[string]any{
		NameRepository: c.Repo,
		NameCache:      c.Cache,
		NameBus:        c.Bus,
		NameEngine:     c.Engine,
		NameAssigner:   c.Assigner,
		NameAnalyzer:   c.Analyzer,
		NameFilter:     c.Filter,
		NameWaitlist:   c.Waitlist,
		NameDispatcher: c.Dispatcher,
		NameScheduler:  c.Scheduler,
		NameWorker:     c.Worker,
		NameServer:     c.Server,
	} {
		c.Registry.Register(name, comp)
	}
}

// StartBackground starts the event worker and the digest scheduler.
func (c *Container) StartBackground(ctx context.Context) error {
	if err := c.Worker.Start(worker.Config{}); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	if err := c.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start digest scheduler: %w", err)
	}
	return nil
}

// Close stops background work and releases stores in reverse open order.
func (c *Container) Close() error {
	var errs []error
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Worker != nil {
		if err := c.Worker.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
