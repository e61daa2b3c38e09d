package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/formflow/formflow/internal/abtest"
	"github.com/formflow/formflow/internal/capacity"
	"github.com/formflow/formflow/internal/domain"
	"github.com/formflow/formflow/internal/fraud"
	"github.com/formflow/formflow/internal/logic"
	"github.com/formflow/formflow/internal/notify"
	"github.com/formflow/formflow/internal/repository"
	"github.com/formflow/formflow/internal/rules"
)

// Services are the components the handlers drive.
type Services struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Engine    *rules.Engine
	Assigner  *abtest.Assigner
	Analyzer  *fraud.Analyzer
	Filter    *capacity.Filter
	Waitlist  *capacity.Waitlist
	Notifier  *notify.Dispatcher
	Scheduler *notify.Scheduler
	Nonces    *NonceIssuer
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Services
	version string
	now     func() time.Time
	actions map[string]actionFunc
}

// NewHandler creates a new API handler.
func NewHandler(svc Services, version string) *Handler {
	h := &Handler{
		Services: svc,
		version:  version,
		now:      time.Now,
	}
	h.actions = h.adminActions()
	return h
}

// envelope is the response shape of every form and admin endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// SubmitRequest is the request body for POST /forms/{id}/submit.
type SubmitRequest struct {
	FormData       domain.FieldValues `json:"form_data"`
	AccountNumber  string             `json:"account_number,omitempty"`
	Email          string             `json:"email,omitempty"`
	ScheduleDate   string             `json:"schedule_date,omitempty"`
	ScheduleTime   string             `json:"schedule_time,omitempty"`
	Fingerprint    string             `json:"fingerprint,omitempty"`
	ElapsedSeconds *float64           `json:"elapsed_seconds,omitempty"`
	Honeypot       string             `json:"honeypot,omitempty"`
	MouseMoved     *bool              `json:"mouse_moved,omitempty"`
}

// SubmitResponse is the data returned by a submission.
type SubmitResponse struct {
	SubmissionID string                  `json:"submission_id"`
	Status       domain.SubmissionStatus `json:"status"`
	RiskScore    float64                 `json:"risk_score"`
	TraceID      string                  `json:"trace_id"`
}

// headersForFraud are the request headers exposed to the fraud battery.
var headersForFraud = []string{
	"X-Forwarded-For", "X-Real-IP", "Via", "Forwarded", "X-Proxy-ID",
	"X-Originating-IP", "Client-IP", "True-Client-IP",
	"Accept-Language", "Referer",
}

// Health reports the state of every backing store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	healthy := true

	ping := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}
	if h.Repo != nil {
		ping("repository", h.Repo.Ping)
	}
	if h.Cache != nil {
		ping("cache", h.Cache.Ping)
	}
	if h.Bus != nil {
		ping("eventbus", h.Bus.Ping)
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready handles GET /ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// GetVariation assigns or returns the visitor's variation.
// Instances without A/B testing get no variation.
func (h *Handler) GetVariation(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.activeInstance(w, r)
	if !ok {
		return
	}

	cfg := inst.Settings.ABTesting
	if !cfg.IsEnabled() || len(inst.Variations) == 0 {
		writeSuccess(w, map[string]any{"variation": nil})
		return
	}

	visitor := abtest.Visitor{
		SessionID: GetSessionID(r.Context()),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
	if c, err := r.Cookie(abtest.CookieName(inst.ID)); err == nil {
		visitor.Cookie = c.Value
	}

	v, assigned, err := h.Assigner.GetVariation(r.Context(), inst, visitor)
	if err != nil {
		h.fail(w, "variation assignment failed", inst.ID, err)
		return
	}
	if cfg.UsesCookie() {
		http.SetCookie(w, abtest.Cookie(inst.ID, v.ID, h.now()))
	}

	writeSuccess(w, map[string]any{
		"variation": v,
		"assigned":  assigned,
	})
}

// EvaluateLogic returns each field's render state for the current values.
func (h *Handler) EvaluateLogic(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.activeInstance(w, r)
	if !ok {
		return
	}

	var req struct {
		Values domain.FieldValues `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	writeSuccess(w, map[string]any{
		"fields":  logic.Apply(inst.Schema, req.Values),
		"missing": logic.MissingRequired(inst.Schema, req.Values),
	})
}

// GetSlots returns the bookable days and time slots.
func (h *Handler) GetSlots(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.activeInstance(w, r)
	if !ok {
		return
	}

	slots, err := h.Filter.AvailableSlots(r.Context(), inst)
	if err != nil {
		h.fail(w, "failed to load slots", inst.ID, err)
		return
	}
	if slots == nil {
		slots = []domain.DaySlots{}
	}

	capCfg := inst.Settings.Capacity
	writeSuccess(w, map[string]any{
		"slots":            slots,
		"waitlist_enabled": capCfg.IsEnabled() && capCfg.WaitlistEnabled,
	})
}

// Submit runs a completed form through validation, capacity and fraud
// screening and stores it.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, ok := h.activeInstance(w, r)
	if !ok {
		return
	}

	ip := clientIP(r)
	if h.Analyzer != nil && h.Analyzer.IsBlocked(ctx, inst.ID, ip) {
		slog.Warn("submission from blocked ip rejected", "instance_id", inst.ID, "ip", ip)
		writeFailure(w, http.StatusForbidden, "this submission could not be accepted")
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if missing := logic.MissingRequired(inst.Schema, req.FormData); len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, envelope{
			Success: false,
			Message: "required fields are missing",
			Data:    map[string]any{"missing": missing},
		})
		return
	}

	if req.ScheduleDate != "" {
		available, err := h.Filter.IsSlotAvailable(ctx, inst, req.ScheduleDate, req.ScheduleTime)
		if err != nil {
			h.fail(w, "capacity check failed", inst.ID, err)
			return
		}
		if !available {
			writeFailure(w, http.StatusConflict, "the selected appointment is not available")
			return
		}
	}

	sessionID := GetSessionID(ctx)
	now := h.now().UTC()
	sub := &domain.Submission{
		ID:            uuid.New().String(),
		InstanceID:    inst.ID,
		SessionID:     sessionID,
		Status:        domain.StatusCompleted,
		FormData:      logic.Narrow(inst.Schema, req.FormData),
		AccountNumber: req.AccountNumber,
		Email:         req.Email,
		IP:            ip,
		UserAgent:     r.UserAgent(),
		Fingerprint:   req.Fingerprint,
		ScheduleDate:  req.ScheduleDate,
		ScheduleTime:  req.ScheduleTime,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if h.Assigner != nil {
		if id, ok := h.Assigner.Assigned(inst.ID, sessionID); ok {
			sub.VariationID = id
		}
	}

	if h.Analyzer != nil {
		analysis, err := h.Analyzer.Analyze(ctx, inst, sub, h.fraudContext(r, &req, ip))
		if err != nil {
			h.fail(w, "fraud analysis failed", inst.ID, err)
			return
		}
		sub.RiskScore = analysis.RiskScore
		switch analysis.Action {
		case domain.FraudBlock:
			sub.Status = domain.StatusBlocked
		case domain.FraudFlag:
			sub.Status = domain.StatusFlagged
		}
	}

	if err := h.Repo.SaveSubmission(ctx, sub); err != nil {
		h.fail(w, "failed to save submission", inst.ID, err)
		return
	}

	if sub.Status == domain.StatusBlocked {
		writeFailure(w, http.StatusForbidden, "this submission could not be accepted")
		return
	}

	if sub.Status == domain.StatusCompleted {
		h.publishCompleted(ctx, sub)
		h.recordConversion(ctx, inst, sessionID)
	}

	slog.Info("submission received",
		"instance_id", inst.ID,
		"submission_id", sub.ID,
		"status", sub.Status,
		"risk_score", sub.RiskScore,
	)

	writeSuccess(w, SubmitResponse{
		SubmissionID: sub.ID,
		Status:       sub.Status,
		RiskScore:    sub.RiskScore,
		TraceID:      GetTraceID(ctx),
	})
}

// JoinWaitlist records the visitor against a full date.
func (h *Handler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.activeInstance(w, r)
	if !ok {
		return
	}

	var entry domain.WaitlistEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	saved, err := h.Waitlist.Join(r.Context(), inst, entry)
	if err != nil {
		h.fail(w, "failed to join waitlist", inst.ID, err)
		return
	}
	writeSuccess(w, saved)
}

// RecordConversion logs a goal for the visitor's assigned variation.
func (h *Handler) RecordConversion(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.activeInstance(w, r)
	if !ok {
		return
	}

	var req struct {
		Goal string `json:"goal"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeFailure(w, http.StatusBadRequest, "invalid JSON request body")
			return
		}
	}

	recorded, err := h.Assigner.RecordConversion(r.Context(), inst, GetSessionID(r.Context()), req.Goal)
	if err != nil {
		h.fail(w, "failed to record conversion", inst.ID, err)
		return
	}
	writeSuccess(w, map[string]bool{"recorded": recorded})
}

func (h *Handler) fraudContext(r *http.Request, req *SubmitRequest, ip string) domain.FraudContext {
	headers := make(map[string]string)
	for _, name := range headersForFraud {
		if v := r.Header.Get(name); v != "" {
			headers[name] = v
		}
	}
	return domain.FraudContext{
		IP:             ip,
		UserAgent:      r.UserAgent(),
		Headers:        headers,
		Fingerprint:    req.Fingerprint,
		ElapsedSeconds: req.ElapsedSeconds,
		Honeypot:       req.Honeypot,
		MouseMoved:     req.MouseMoved,
	}
}

// publishCompleted hands notifications to the worker. Failures never fail
// the submission.
func (h *Handler) publishCompleted(ctx context.Context, sub *domain.Submission) {
	if h.Bus == nil {
		return
	}
	payload, err := json.Marshal(domain.SubmissionEvent{InstanceID: sub.InstanceID, SubmissionID: sub.ID})
	if err != nil {
		return
	}
	if err := h.Bus.Publish(ctx, sub.InstanceID, domain.TopicSubmissionCompleted, payload); err != nil {
		slog.Error("failed to publish submission event",
			"instance_id", sub.InstanceID,
			"submission_id", sub.ID,
			"error", err,
		)
	}
}

func (h *Handler) recordConversion(ctx context.Context, inst *domain.Instance, sessionID string) {
	if h.Assigner == nil || !inst.Settings.ABTesting.IsEnabled() {
		return
	}
	_, err := h.Assigner.RecordConversion(ctx, inst, sessionID, domain.GoalSubmission)
	if err != nil && !errors.Is(err, abtest.ErrNotAssigned) {
		slog.Error("failed to record conversion", "instance_id", inst.ID, "error", err)
	}
}

// activeInstance loads the instance named in the path. Inactive instances
// are reported as missing.
func (h *Handler) activeInstance(w http.ResponseWriter, r *http.Request) (*domain.Instance, bool) {
	id := chi.URLParam(r, "id")
	inst, err := h.Repo.GetInstance(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrInvalidInput) || (err == nil && !inst.Active) {
		writeFailure(w, http.StatusNotFound, "form not found")
		return nil, false
	}
	if err != nil {
		h.fail(w, "failed to load form", id, err)
		return nil, false
	}
	return inst, true
}

// fail logs err and writes it with the status its kind maps to.
func (h *Handler) fail(w http.ResponseWriter, msg, instanceID string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(msg, "instance_id", instanceID, "error", err)
		sentry.CaptureException(fmt.Errorf("%s: %w", msg, err))
		writeFailure(w, status, msg)
		return
	}
	writeFailure(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidSettings),
		errors.Is(err, logic.ErrInvalidSchema),
		errors.Is(err, abtest.ErrNoVariations),
		errors.Is(err, abtest.ErrInvalidVariations),
		errors.Is(err, abtest.ErrNotAssigned),
		errors.Is(err, capacity.ErrWaitlistDisabled),
		errors.Is(err, notify.ErrNotConfigured):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidNonce), errors.Is(err, ErrNonceAction):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}
