package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/formflow/formflow/internal/abtest"
	"github.com/formflow/formflow/internal/domain"
	"github.com/formflow/formflow/internal/logic"
	"github.com/formflow/formflow/internal/repository"
)

// Admin action names.
const (
	ActionSaveInstance     = "isf_save_instance"
	ActionGetInstance      = "isf_get_instance"
	ActionDeleteField      = "isf_delete_field"
	ActionGetABResults     = "isf_get_ab_results"
	ActionTestAPI          = "isf_test_api"
	ActionCheckAPIHealth   = "isf_check_api_health"
	ActionGetAPIUsage      = "isf_get_api_usage"
	ActionCancelSubmission = "isf_cancel_submission"
	ActionGetFraudLogs     = "isf_get_fraud_logs"
	ActionBlockFingerprint = "isf_block_fingerprint"
	ActionSendDigest       = "isf_send_digest"
)

const (
	defaultFraudLogLimit = 50
	maxFraudLogLimit     = 500
	defaultUsageDays     = 30
	healthWindow         = 24 * time.Hour
)

// AjaxRequest is the body of POST /admin/ajax. Only the fields an action
// reads need to be set.
type AjaxRequest struct {
	Action       string           `json:"action"`
	InstanceID   string           `json:"instance_id,omitempty"`
	Instance     *domain.Instance `json:"instance,omitempty"`
	Field        string           `json:"field,omitempty"`
	Goal         string           `json:"goal,omitempty"`
	Provider     string           `json:"provider,omitempty"`
	Target       string           `json:"target,omitempty"`
	SubmissionID string           `json:"submission_id,omitempty"`
	Fingerprint  string           `json:"fingerprint,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Limit        int              `json:"limit,omitempty"`
	Days         int              `json:"days,omitempty"`
}

type actionFunc func(ctx context.Context, req *AjaxRequest) (any, error)

var adminValidator = validator.New()

func (h *Handler) adminActions() map[string]actionFunc {
	return map[string]actionFunc{
		ActionSaveInstance:     h.saveInstance,
		ActionGetInstance:      h.getInstance,
		ActionDeleteField:      h.deleteField,
		ActionGetABResults:     h.getABResults,
		ActionTestAPI:          h.testAPI,
		ActionCheckAPIHealth:   h.checkAPIHealth,
		ActionGetAPIUsage:      h.getAPIUsage,
		ActionCancelSubmission: h.cancelSubmission,
		ActionGetFraudLogs:     h.getFraudLogs,
		ActionBlockFingerprint: h.blockFingerprint,
		ActionSendDigest:       h.sendDigest,
	}
}

// IssueNonce handles GET /admin/nonce?action=...
func (h *Handler) IssueNonce(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	if _, ok := h.actions[action]; !ok {
		writeFailure(w, http.StatusBadRequest, "unknown action")
		return
	}

	nonce, expires, err := h.Nonces.Issue(action)
	if err != nil {
		h.fail(w, "failed to issue nonce", "", err)
		return
	}
	writeSuccess(w, map[string]any{
		"nonce":      nonce,
		"action":     action,
		"expires_at": expires.UTC(),
	})
}

// Ajax dispatches an admin action after checking its nonce.
func (h *Handler) Ajax(w http.ResponseWriter, r *http.Request) {
	var req AjaxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	fn, ok := h.actions[req.Action]
	if !ok {
		writeFailure(w, http.StatusBadRequest, "unknown action")
		return
	}

	if err := h.Nonces.Verify(r.Header.Get(NonceHeader), req.Action); err != nil {
		slog.Warn("admin nonce rejected", "action", req.Action, "error", err)
		writeFailure(w, http.StatusForbidden, "security check failed, reload the page and try again")
		return
	}

	data, err := fn(r.Context(), &req)
	if err != nil {
		h.fail(w, req.Action+" failed", req.InstanceID, err)
		return
	}

	slog.Info("admin action", "action", req.Action, "instance_id", req.InstanceID)
	writeSuccess(w, data)
}

func (h *Handler) loadInstance(ctx context.Context, id string) (*domain.Instance, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: instance_id is required", repository.ErrInvalidInput)
	}
	return h.Repo.GetInstance(ctx, id)
}

func (h *Handler) saveInstance(ctx context.Context, req *AjaxRequest) (any, error) {
	inst := req.Instance
	if inst == nil {
		return nil, fmt.Errorf("%w: instance is required", repository.ErrInvalidInput)
	}
	if err := adminValidator.Struct(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
	}
	if err := logic.ValidateSchema(inst.Schema); err != nil {
		return nil, err
	}
	if err := abtest.ValidateVariations(inst.Variations); err != nil {
		return nil, err
	}
	if inst.Settings.Fraud != nil && h.Engine != nil {
		if err := h.Engine.ValidateAll(inst.Settings.Fraud.CustomRules); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
		}
	}

	if inst.ID == "" {
		inst.ID = uuid.New().String()
	} else if existing, err := h.Repo.GetInstance(ctx, inst.ID); err == nil {
		inst.CreatedAt = existing.CreatedAt
	}

	if err := h.Repo.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}
	if h.Scheduler != nil {
		h.Scheduler.Schedule(inst)
	}
	return inst, nil
}

func (h *Handler) getInstance(ctx context.Context, req *AjaxRequest) (any, error) {
	return h.loadInstance(ctx, req.InstanceID)
}

func (h *Handler) deleteField(ctx context.Context, req *AjaxRequest) (any, error) {
	inst, err := h.loadInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if req.Field == "" {
		return nil, fmt.Errorf("%w: field is required", repository.ErrInvalidInput)
	}

	inst.Schema = logic.DeleteField(inst.Schema, req.Field)
	if err := h.Repo.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}
	return inst.Schema, nil
}

func (h *Handler) getABResults(ctx context.Context, req *AjaxRequest) (any, error) {
	inst, err := h.loadInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	goal := req.Goal
	if goal == "" {
		goal = domain.GoalSubmission
	}
	return h.Assigner.GetResults(ctx, inst, goal)
}

func (h *Handler) testAPI(ctx context.Context, req *AjaxRequest) (any, error) {
	inst, err := h.loadInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if err := h.Notifier.TestProvider(ctx, inst, req.Provider, req.Target); err != nil {
		return nil, err
	}
	return map[string]string{"provider": req.Provider, "result": "sent"}, nil
}

func (h *Handler) checkAPIHealth(ctx context.Context, req *AjaxRequest) (any, error) {
	inst, err := h.loadInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	return h.Notifier.Health(ctx, inst, h.now().Add(-healthWindow))
}

func (h *Handler) getAPIUsage(ctx context.Context, req *AjaxRequest) (any, error) {
	if _, err := h.loadInstance(ctx, req.InstanceID); err != nil {
		return nil, err
	}
	days := req.Days
	if days <= 0 {
		days = defaultUsageDays
	}
	usage, err := h.Repo.ProviderUsage(ctx, req.InstanceID, h.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	if usage == nil {
		usage = []domain.ProviderUsage{}
	}
	return usage, nil
}

// cancelSubmission frees the submission's slot for the waitlist.
func (h *Handler) cancelSubmission(ctx context.Context, req *AjaxRequest) (any, error) {
	inst, err := h.loadInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	sub, err := h.Repo.GetSubmission(ctx, inst.ID, req.SubmissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.StatusCancelled {
		return sub, nil
	}

	if err := h.Repo.UpdateSubmissionStatus(ctx, inst.ID, sub.ID, domain.StatusCancelled); err != nil {
		return nil, fmt.Errorf("failed to cancel submission: %w", err)
	}
	heldSlot := lo.Contains(domain.CapacityStatuses, sub.Status)
	sub.Status = domain.StatusCancelled

	// Flagged and blocked submissions never held a slot.
	if heldSlot && h.Waitlist != nil {
		if err := h.Waitlist.Release(ctx, inst, sub); err != nil {
			slog.Error("failed to release slot", "instance_id", inst.ID, "submission_id", sub.ID, "error", err)
		}
	}
	return sub, nil
}

func (h *Handler) getFraudLogs(ctx context.Context, req *AjaxRequest) (any, error) {
	if _, err := h.loadInstance(ctx, req.InstanceID); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultFraudLogLimit
	}
	limit = min(limit, maxFraudLogLimit)

	logs, err := h.Repo.ListFraudLogs(ctx, req.InstanceID, limit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []*domain.FraudAnalysis{}
	}
	return logs, nil
}

func (h *Handler) blockFingerprint(ctx context.Context, req *AjaxRequest) (any, error) {
	if _, err := h.loadInstance(ctx, req.InstanceID); err != nil {
		return nil, err
	}
	if req.Fingerprint == "" {
		return nil, fmt.Errorf("%w: fingerprint is required", repository.ErrInvalidInput)
	}
	reason := req.Reason
	if reason == "" {
		reason = "blocked by admin"
	}
	if err := h.Repo.BlockFingerprint(ctx, req.InstanceID, req.Fingerprint, reason); err != nil {
		return nil, err
	}
	return map[string]string{"fingerprint": req.Fingerprint, "reason": reason}, nil
}

func (h *Handler) sendDigest(ctx context.Context, req *AjaxRequest) (any, error) {
	inst, err := h.loadInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	return h.Scheduler.RunNow(ctx, inst)
}
