package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/formflow/formflow/internal/domain"
)

// DigestStore is what the digest scheduler reads.
type DigestStore interface {
	GetInstance(ctx context.Context, instanceID string) (*domain.Instance, error)
	ListInstances(ctx context.Context) ([]*domain.Instance, error)
	SummarizeSubmissions(ctx context.Context, instanceID string, from, to time.Time) (*domain.DigestSummary, error)
}

// NextSendTime returns the first send time strictly after now.
// Daily digests go out every day at Hour; weekly ones on Weekday at Hour.
func NextSendTime(cfg *domain.DigestConfig, now time.Time) time.Time {
	hour := 0
	weekly := false
	weekday := time.Monday
	if cfg != nil {
		hour = cfg.Hour
		weekly = cfg.Frequency == "weekly"
		weekday = time.Weekday(cfg.Weekday)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !weekly {
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}

	next = next.AddDate(0, 0, (int(weekday)-int(now.Weekday())+7)%7)
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// DigestPeriod returns the reporting window ending at now.
func DigestPeriod(cfg *domain.DigestConfig, now time.Time) (time.Time, time.Time) {
	if cfg != nil && cfg.Frequency == "weekly" {
		return now.AddDate(0, 0, -7), now
	}
	return now.Add(-24 * time.Hour), now
}

// FormatDigest renders the digest subject and body.
func FormatDigest(inst *domain.Instance, s *domain.DigestSummary) (string, string) {
	subject := fmt.Sprintf("[%s] Enrollment digest %s to %s",
		inst.Name, s.From.Format(domain.DateLayout), s.To.Format(domain.DateLayout))

	var b strings.Builder
	fmt.Fprintf(&b, "Enrollment activity for %s\n", inst.Name)
	fmt.Fprintf(&b, "Period: %s to %s\n\n", s.From.Format(time.RFC1123), s.To.Format(time.RFC1123))
	fmt.Fprintf(&b, "Total submissions: %d\n", s.Total())
	fmt.Fprintf(&b, "  Completed:   %d\n", s.Completed)
	fmt.Fprintf(&b, "  In progress: %d\n", s.InProgress)
	fmt.Fprintf(&b, "  Cancelled:   %d\n", s.Cancelled)
	fmt.Fprintf(&b, "  Flagged:     %d\n", s.Flagged)
	fmt.Fprintf(&b, "  Blocked:     %d\n", s.Blocked)
	fmt.Fprintf(&b, "Fraud alerts: %d\n", s.FraudAlerts)
	if s.Total() > 0 {
		fmt.Fprintf(&b, "\nCompletion rate: %.1f%%\n", float64(s.Completed)/float64(s.Total())*100)
	}
	return subject, b.String()
}

// SendDigest emails a summary to the instance's digest recipients.
func (d *Dispatcher) SendDigest(ctx context.Context, inst *domain.Instance, s *domain.DigestSummary) error {
	cfg := inst.Settings.Digest
	if !cfg.IsEnabled() || len(cfg.Recipients) == 0 {
		return d.notConfigured(inst.ID, ProviderSMTP, "email_digest recipients")
	}
	subject, body := FormatDigest(inst, s)
	return d.SendEmail(ctx, inst.ID, "digest", Email{To: cfg.Recipients, Subject: subject, Body: body})
}

// Scheduler sends each instance's digest on its cadence. Every instance has
// at most one armed one-shot timer, re-armed after each send.
type Scheduler struct {
	dispatcher *Dispatcher
	store      DigestStore
	logger     *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	timers  map[string]*time.Timer
	next    map[string]time.Time
	armed   map[string]*domain.Instance
	stopped bool

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// NewScheduler creates a digest scheduler.
func NewScheduler(dispatcher *Dispatcher, store DigestStore, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		dispatcher: dispatcher,
		store:      store,
		logger:     logger,
		ctx:        context.Background(),
		timers:     make(map[string]*time.Timer),
		next:       make(map[string]time.Time),
		armed:      make(map[string]*domain.Instance),
		now:        time.Now,
		afterFunc:  time.AfterFunc,
	}
}

// Start arms a timer for every instance with a digest configured.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	instances, err := s.store.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}
	for _, inst := range instances {
		s.Schedule(inst)
	}
	return nil
}

// Schedule (re)arms the instance's timer, or disarms it when the digest is off.
func (s *Scheduler) Schedule(inst *domain.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[inst.ID]; ok {
		t.Stop()
		delete(s.timers, inst.ID)
		delete(s.next, inst.ID)
		delete(s.armed, inst.ID)
	}

	cfg := inst.Settings.Digest
	if s.stopped || !cfg.IsEnabled() || len(cfg.Recipients) == 0 {
		return
	}

	now := s.now()
	at := NextSendTime(cfg, now)
	id := inst.ID
	s.timers[id] = s.afterFunc(at.Sub(now), func() { s.fire(id) })
	s.next[id] = at
	s.armed[id] = inst

	s.logger.Debug("digest scheduled", "instance_id", id, "at", at)
}

// Next returns when the instance's digest will next go out.
func (s *Scheduler) Next(instanceID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.next[instanceID]
	return at, ok
}

// RunNow builds and sends the digest for the period ending now.
func (s *Scheduler) RunNow(ctx context.Context, inst *domain.Instance) (*domain.DigestSummary, error) {
	from, to := DigestPeriod(inst.Settings.Digest, s.now())
	summary, err := s.store.SummarizeSubmissions(ctx, inst.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize submissions: %w", err)
	}
	if err := s.dispatcher.SendDigest(ctx, inst, summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Scheduler) fire(instanceID string) {
	s.mu.Lock()
	ctx := s.ctx
	last := s.armed[instanceID]
	delete(s.timers, instanceID)
	delete(s.next, instanceID)
	delete(s.armed, instanceID)
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	// A failed lookup falls back to the settings the timer was armed with.
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		s.logger.Error("digest instance lookup failed, using last known settings",
			"instance_id", instanceID,
			"error", err,
		)
		if last == nil {
			return
		}
		inst = last
	}

	if _, err := s.RunNow(ctx, inst); err != nil {
		s.logger.Error("digest send failed", "instance_id", instanceID, "error", err)
	}
	s.Schedule(inst)
}

// Stop disarms every timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.next = make(map[string]time.Time)
	s.armed = make(map[string]*domain.Instance)
}
