// Package fraud scores submissions against a battery of independent checks.
package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/iter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/formflow/formflow/internal/cache"
	"github.com/formflow/formflow/internal/domain"
	"github.com/formflow/formflow/internal/rules"
	"github.com/formflow/formflow/internal/velocity"
)

var tracer = otel.Tracer("formflow-fraud")

// Admin alert throttle.
const (
	AlertLimit  = 10
	AlertWindow = time.Hour
)

// Store is the persistence the analyzer writes to.
type Store interface {
	SaveFraudLog(ctx context.Context, a *domain.FraudAnalysis) error
	BlockFingerprint(ctx context.Context, instanceID string, fingerprint string, reason string) error
	IsFingerprintBlocked(ctx context.Context, instanceID string, fingerprint string) (bool, error)
}

// Analyzer runs the battery and records its decision.
type Analyzer struct {
	store    Store
	velocity *velocity.Service
	rules    *rules.Engine
	cache    domain.Cache
	bus      domain.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

// NewAnalyzer creates a fraud analyzer. cache, bus and engine may be nil.
func NewAnalyzer(store Store, vel *velocity.Service, engine *rules.Engine, c domain.Cache, b domain.EventBus, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		store:    store,
		velocity: vel,
		rules:    engine,
		cache:    c,
		bus:      b,
		logger:   logger,
		now:      time.Now,
	}
}

// Analyze scores a submission. A disabled feature yields an allow decision
// that is not persisted.
func (a *Analyzer) Analyze(ctx context.Context, inst *domain.Instance, sub *domain.Submission, fctx domain.FraudContext) (*domain.FraudAnalysis, error) {
	ctx, span := tracer.Start(ctx, "fraud.Analyze")
	defer span.End()
	span.SetAttributes(attribute.String("instance.id", inst.ID))

	cfg := inst.Settings.Fraud
	if !cfg.IsEnabled() {
		return &domain.FraudAnalysis{
			InstanceID:   inst.ID,
			SubmissionID: sub.ID,
			Passed:       true,
			Action:       domain.FraudAllow,
			Threshold:    cfg.EffectiveThreshold(),
			CreatedAt:    a.now().UTC(),
		}, nil
	}

	ev := newEvidence(inst, sub, fctx)

	enabled := make([]domain.FraudCheck, 0, len(Battery))
	for _, c := range Battery {
		if cfg.CheckEnabled(c) {
			enabled = append(enabled, c)
		}
	}

	checks := iter.Map(enabled, func(c *domain.FraudCheck) domain.CheckResult {
		res, err := a.runCheck(ctx, *c, ev)
		if err != nil {
			a.logger.Error("fraud check failed", "instance_id", inst.ID, "check", *c, "error", err)
		}
		return res
	})

	if cfg.CheckEnabled(domain.CheckCustomRules) {
		checks = append(checks, a.customChecks(ctx, ev)...)
	}

	for i := range checks {
		checks[i].Weight = weightFor(cfg, checks[i])
		if checks[i].Flagged {
			checks[i].Score = checks[i].Weight * checks[i].Severity
		}
	}

	threshold := cfg.EffectiveThreshold()
	score := Score(checks)
	passed := score < threshold
	action := domain.FraudAllow
	if !passed {
		action = cfg.HighRiskAction()
	}

	analysis := &domain.FraudAnalysis{
		ID:           uuid.New().String(),
		InstanceID:   inst.ID,
		SubmissionID: sub.ID,
		RiskScore:    score,
		Threshold:    threshold,
		Passed:       passed,
		Action:       action,
		Checks:       checks,
		IP:           ev.ctx.IP,
		MaskedEmail:  MaskEmail(ev.email),
		MaskedAcct:   MaskAccount(ev.account),
		CreatedAt:    a.now().UTC(),
	}

	span.SetAttributes(
		attribute.Float64("fraud.risk_score", score),
		attribute.String("fraud.action", string(action)),
	)

	if err := a.store.SaveFraudLog(ctx, analysis); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist fraud log")
		a.logger.Error("failed to save fraud log", "instance_id", inst.ID, "error", err)
	}

	if !passed {
		a.onHighRisk(ctx, cfg, analysis, ev)
	}

	return analysis, nil
}

// Score sums the contributions of flagged checks, clamped to [0, 100].
func Score(checks []domain.CheckResult) float64 {
	total := 0.0
	for _, c := range checks {
		if c.Flagged {
			total += math.Max(0, c.Weight*c.Severity)
		}
	}
	return math.Min(100, math.Max(0, total))
}

func weightFor(cfg *domain.FraudConfig, c domain.CheckResult) float64 {
	if c.Check == domain.CheckCustomRules {
		return c.Weight
	}
	if cfg != nil {
		if w, ok := cfg.Weights[c.Check]; ok {
			return math.Max(0, w)
		}
	}
	return DefaultWeights[c.Check]
}

// customChecks evaluates instance CEL rules; each rule yields one result.
func (a *Analyzer) customChecks(ctx context.Context, ev *evidence) []domain.CheckResult {
	if a.rules == nil || ev.cfg == nil || len(ev.cfg.CustomRules) == 0 {
		return nil
	}

	snap, err := a.velocity.IPSnapshot(ctx, ev.instanceID, ev.ctx.IP)
	if err != nil {
		a.logger.Error("failed to load IP history for custom rules", "instance_id", ev.instanceID, "error", err)
	}

	input := &rules.Input{
		Email:               ev.email,
		IP:                  ev.ctx.IP,
		UserAgent:           ev.ctx.UserAgent,
		Fingerprint:         ev.ctx.Fingerprint,
		AccountNumber:       ev.account,
		HoneypotFilled:      ev.ctx.Honeypot != "",
		MouseMoved:          ev.ctx.MouseMoved == nil || *ev.ctx.MouseMoved,
		SubmissionsLastHour: snap.LastHour,
		SubmissionsLastDay:  snap.LastDay,
		Form:                ev.sub.FormData,
		Headers:             ev.ctx.Headers,
	}
	if ev.ctx.ElapsedSeconds != nil {
		input.ElapsedSeconds = *ev.ctx.ElapsedSeconds
	}

	var out []domain.CheckResult
	for _, r := range a.rules.EvaluateAll(ctx, ev.cfg.CustomRules, input) {
		res := domain.CheckResult{
			Check:   domain.CheckCustomRules,
			Weight:  math.Max(0, r.Rule.Weight),
			Details: map[string]any{"rule_id": r.Rule.ID},
		}
		if r.Err != nil {
			a.logger.Warn("custom fraud rule failed", "instance_id", ev.instanceID, "rule_id", r.Rule.ID, "error", r.Err)
			res.Reason = "rule evaluation failed"
		} else if r.Score >= 1 {
			res.Flagged = true
			res.Severity = math.Min(2, r.Score)
			res.Reason = r.Rule.Name
			if res.Reason == "" {
				res.Reason = fmt.Sprintf("custom rule %s matched", r.Rule.ID)
			}
		}
		out = append(out, res)
	}
	return out
}

func (a *Analyzer) onHighRisk(ctx context.Context, cfg *domain.FraudConfig, analysis *domain.FraudAnalysis, ev *evidence) {
	triggered := make([]string, 0, len(analysis.Checks))
	for _, c := range analysis.Triggered() {
		triggered = append(triggered, string(c.Check))
	}
	a.logger.Warn("submission failed fraud screening",
		"instance_id", analysis.InstanceID,
		"risk_score", analysis.RiskScore,
		"threshold", analysis.Threshold,
		"action", analysis.Action,
		"triggered", triggered,
	)

	if analysis.Action == domain.FraudBlock {
		a.block(ctx, analysis, ev)
	}

	if cfg.NotifyAdmin {
		a.raiseAlert(ctx, analysis)
	}
}

func (a *Analyzer) block(ctx context.Context, analysis *domain.FraudAnalysis, ev *evidence) {
	reason := fmt.Sprintf("risk score %.0f", analysis.RiskScore)
	if fp := ev.ctx.Fingerprint; fp != "" {
		if err := a.store.BlockFingerprint(ctx, analysis.InstanceID, fp, reason); err != nil {
			a.logger.Error("failed to block fingerprint", "instance_id", analysis.InstanceID, "error", err)
		}
	}
	if a.cache != nil && analysis.IP != "" {
		if err := cache.BlockIP(ctx, a.cache, analysis.InstanceID, analysis.IP, reason); err != nil {
			a.logger.Error("failed to block IP", "instance_id", analysis.InstanceID, "error", err)
		}
	}
}

func (a *Analyzer) raiseAlert(ctx context.Context, analysis *domain.FraudAnalysis) {
	if a.bus == nil {
		return
	}
	if a.cache != nil {
		ok, err := cache.AllowAlert(ctx, a.cache, analysis.InstanceID, AlertLimit, AlertWindow)
		if err != nil {
			a.logger.Error("failed to check alert throttle", "instance_id", analysis.InstanceID, "error", err)
		}
		if !ok {
			a.logger.Debug("fraud alert throttled", "instance_id", analysis.InstanceID)
			return
		}
	}

	payload, err := json.Marshal(domain.FraudAlertEvent{InstanceID: analysis.InstanceID, Analysis: analysis})
	if err != nil {
		a.logger.Error("failed to encode fraud alert", "error", err)
		return
	}
	if err := a.bus.Publish(ctx, analysis.InstanceID, domain.TopicFraudAlert, payload); err != nil {
		a.logger.Error("failed to publish fraud alert", "instance_id", analysis.InstanceID, "error", err)
	}
}

// IsBlocked reports whether an IP is on the instance's ephemeral block list.
func (a *Analyzer) IsBlocked(ctx context.Context, instanceID, ip string) bool {
	if a.cache == nil {
		return false
	}
	blocked, err := cache.IsIPBlocked(ctx, a.cache, instanceID, ip)
	if err != nil {
		a.logger.Error("failed to check IP block list", "instance_id", instanceID, "error", err)
		return false
	}
	return blocked
}
