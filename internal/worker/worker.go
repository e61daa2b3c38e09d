// Package worker runs notification side effects off the request path.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/formflow/formflow/internal/domain"
)

// Store loads the records an event refers to.
type Store interface {
	GetInstance(ctx context.Context, instanceID string) (*domain.Instance, error)
	GetSubmission(ctx context.Context, instanceID string, submissionID string) (*domain.Submission, error)
}

// Notifier sends the submission and alert notifications.
type Notifier interface {
	NotifySubmission(ctx context.Context, inst *domain.Instance, sub *domain.Submission) error
	NotifyTeam(ctx context.Context, inst *domain.Instance, sub *domain.Submission) error
	SendFraudAlert(ctx context.Context, inst *domain.Instance, a *domain.FraudAnalysis) error
}

// WaitlistNotifier tells the next waiting visitor about a freed slot.
type WaitlistNotifier interface {
	NotifyNext(ctx context.Context, inst *domain.Instance, date, timeSlot string) (*domain.WaitlistEntry, error)
}

// Worker consumes side-effect events from the EventBus.
type Worker struct {
	bus      domain.EventBus
	store    Store
	notifier Notifier
	waitlist WaitlistNotifier
	logger   *slog.Logger

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// InstanceIDs limits processing to these instances; empty means all.
	InstanceIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, store Store, notifier Notifier, waitlist WaitlistNotifier, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		store:    store,
		notifier: notifier,
		waitlist: waitlist,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (w *Worker) handlers() map[string]domain.MessageHandler {
	return map[string]domain.MessageHandler{
		domain.TopicSubmissionCompleted: w.handleSubmission,
		domain.TopicFraudAlert:          w.handleFraudAlert,
		domain.TopicSlotFreed:           w.handleSlotFreed,
	}
}

// Start subscribes to every side-effect topic.
func (w *Worker) Start(cfg Config) error {
	scopes := cfg.InstanceIDs
	if len(scopes) == 0 {
		scopes = []string{domain.GlobalScope}
	}

	for _, scope := range scopes {
		for topic, handler := range w.handlers() {
			sub, err := w.bus.Subscribe(w.ctx, scope, topic, handler)
			if err != nil {
				w.logger.Error("failed to subscribe",
					"scope", scope,
					"topic", topic,
					"error", err,
				)
				continue
			}
			w.subscriptions = append(w.subscriptions, sub)
		}
	}

	if len(w.subscriptions) == 0 {
		return fmt.Errorf("worker has no subscriptions")
	}

	w.logger.Info("workers started",
		"scope_count", len(scopes),
		"subscription_count", len(w.subscriptions),
	)
	return nil
}

func (w *Worker) handleSubmission(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var evt domain.SubmissionEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		w.logger.Error("failed to parse submission event", "message_id", msg.ID, "error", err)
		return err
	}
	evt.InstanceID = instanceOf(evt.InstanceID, msg)

	inst, err := w.store.GetInstance(ctx, evt.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to load instance %s: %w", evt.InstanceID, err)
	}
	sub, err := w.store.GetSubmission(ctx, evt.InstanceID, evt.SubmissionID)
	if err != nil {
		return fmt.Errorf("failed to load submission %s: %w", evt.SubmissionID, err)
	}

	// Each dispatcher logs its own failures; one failing does not stop the other.
	smsErr := w.notifier.NotifySubmission(ctx, inst, sub)
	teamErr := w.notifier.NotifyTeam(ctx, inst, sub)

	w.logger.Info("submission notifications processed",
		"instance_id", inst.ID,
		"submission_id", sub.ID,
		"sms_ok", smsErr == nil,
		"team_ok", teamErr == nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) handleFraudAlert(ctx context.Context, msg *domain.Message) error {
	var evt domain.FraudAlertEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		w.logger.Error("failed to parse fraud alert", "message_id", msg.ID, "error", err)
		return err
	}
	if evt.Analysis == nil {
		return fmt.Errorf("fraud alert %s has no analysis", msg.ID)
	}
	evt.InstanceID = instanceOf(evt.InstanceID, msg)

	inst, err := w.store.GetInstance(ctx, evt.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to load instance %s: %w", evt.InstanceID, err)
	}
	return w.notifier.SendFraudAlert(ctx, inst, evt.Analysis)
}

func (w *Worker) handleSlotFreed(ctx context.Context, msg *domain.Message) error {
	var evt domain.SlotFreedEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		w.logger.Error("failed to parse slot freed event", "message_id", msg.ID, "error", err)
		return err
	}
	evt.InstanceID = instanceOf(evt.InstanceID, msg)

	inst, err := w.store.GetInstance(ctx, evt.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to load instance %s: %w", evt.InstanceID, err)
	}

	entry, err := w.waitlist.NotifyNext(ctx, inst, evt.Date, evt.Time)
	if err != nil {
		return err
	}
	if entry == nil {
		w.logger.Debug("slot freed with empty waitlist", "instance_id", inst.ID, "date", evt.Date, "time", evt.Time)
	}
	return nil
}

// instanceOf falls back to the message scope when the payload omits the instance.
func instanceOf(id string, msg *domain.Message) string {
	if id != "" {
		return id
	}
	return msg.Scope
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
