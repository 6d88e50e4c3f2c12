package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ngn-platform/score-integrity/internal/dispute"
	"github.com/ngn-platform/score-integrity/internal/model"
	"github.com/ngn-platform/score-integrity/internal/store"
	"github.com/ngn-platform/score-integrity/internal/verify"
)

// ScoreVerifier is the verification service surface the API uses.
type ScoreVerifier interface {
	VerifyScore(ctx context.Context, historyID string) (*model.VerificationResult, error)
	RunBulkVerification(ctx context.Context, periodStart, periodEnd time.Time, limit int) (*verify.BulkResult, error)
}

// DisputeService is the dispute manager surface the API uses.
type DisputeService interface {
	Create(ctx context.Context, req dispute.CreateRequest) (*model.Dispute, error)
	List(ctx context.Context, filter store.DisputeFilter) ([]model.Dispute, error)
}

// Audit endpoint actions.
const (
	actionVerifyScore  = "verify_score"
	actionVerifyPeriod = "verify_period"
	actionGetHistory   = "get_history"
	actionGetMetrics   = "get_integrity_metrics"
	actionFileDispute  = "file_dispute"
	actionGetDisputes  = "get_disputes"
)

// auditRequest is the action-dispatch body of POST /audit/verify-score.
type auditRequest struct {
	Action        string `json:"action"`
	EntityType    string `json:"entity_type,omitempty"`
	EntityID      string `json:"entity_id,omitempty"`
	HistoryID     string `json:"history_id,omitempty"`
	PeriodStart   string `json:"period_start,omitempty"`
	PeriodEnd     string `json:"period_end,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	DisputeType   string `json:"dispute_type,omitempty"`
	Description   string `json:"description,omitempty"`
	AllegedImpact string `json:"alleged_impact,omitempty"`
	Status        string `json:"status,omitempty"`
}

// parsePeriod accepts either a month key (2006-01) or RFC 3339.
func parsePeriod(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, eris.Errorf("invalid period %q, want YYYY-MM or RFC 3339", s)
	}
	return t.UTC(), nil
}

// periodWindow resolves the request's window, defaulting to the last
// 30 days when unset.
func (req *auditRequest) periodWindow() (time.Time, time.Time, error) {
	now := time.Now().UTC()
	start, end := now.AddDate(0, 0, -30), now
	if req.PeriodStart != "" {
		t, err := parsePeriod(req.PeriodStart)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = t
		end = t.AddDate(0, 1, 0)
	}
	if req.PeriodEnd != "" {
		t, err := parsePeriod(req.PeriodEnd)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = t
	}
	return start, end, nil
}

// AuditAction handles POST /audit/verify-score: an authed dispatch
// over the audit operations.
func (h *Handlers) AuditAction(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req auditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch req.Action {
	case actionVerifyScore:
		h.handleVerifyScore(w, r, principal, &req)
	case actionVerifyPeriod:
		h.handleVerifyPeriod(w, r, principal, &req)
	case actionGetHistory:
		h.handleGetHistory(w, r, principal, &req)
	case actionGetMetrics:
		h.handleGetMetrics(w, r, principal, &req)
	case actionFileDispute:
		h.handleFileDispute(w, r, principal, &req)
	case actionGetDisputes:
		h.handleGetDisputes(w, r, principal, &req)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

// requireEntityAccess enforces that the principal may act on the
// entity: admins always, managers for their own entities.
func (h *Handlers) requireEntityAccess(w http.ResponseWriter, r *http.Request, principal *Principal, entityType model.EntityType, entityID string) bool {
	if principal.Admin {
		return true
	}
	manages, err := h.store.ActorManagesEntity(r.Context(), principal.ActorID, entityType, entityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ownership check failed")
		return false
	}
	if !manages {
		writeError(w, http.StatusForbidden, "caller does not manage this entity")
		return false
	}
	return true
}

func (h *Handlers) handleVerifyScore(w http.ResponseWriter, r *http.Request, principal *Principal, req *auditRequest) {
	if req.HistoryID == "" {
		writeError(w, http.StatusBadRequest, "history_id is required")
		return
	}

	entry, err := h.store.GetScoreHistory(r.Context(), req.HistoryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history lookup failed")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "no history entry with this id")
		return
	}
	if !h.requireEntityAccess(w, r, principal, entry.EntityType, entry.EntityID) {
		return
	}

	result, err := h.verify.VerifyScore(r.Context(), req.HistoryID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) handleVerifyPeriod(w http.ResponseWriter, r *http.Request, principal *Principal, req *auditRequest) {
	if !principal.Admin {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}
	start, end, err := req.periodWindow()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 500
	}

	result, err := h.verify.RunBulkVerification(r.Context(), start, end, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "bulk verification failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) handleGetHistory(w http.ResponseWriter, r *http.Request, principal *Principal, req *auditRequest) {
	entityType := model.EntityType(req.EntityType)
	if !entityType.Valid() || req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entity_type and entity_id are required")
		return
	}
	if !h.requireEntityAccess(w, r, principal, entityType, req.EntityID) {
		return
	}

	entries, err := h.store.ListHistoryByEntity(r.Context(), entityType, req.EntityID, req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history lookup failed")
		return
	}
	if entries == nil {
		entries = []model.ScoreHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *Handlers) handleGetMetrics(w http.ResponseWriter, r *http.Request, principal *Principal, req *auditRequest) {
	if !principal.Admin {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}
	start, end, err := req.periodWindow()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	stats, err := h.store.VerificationStats(ctx, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats lookup failed")
		return
	}
	issues, err := h.store.CountLineageIssues(ctx, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lineage lookup failed")
		return
	}
	disputes, err := h.store.CountDisputes(ctx, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dispute lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"period_start":   start,
		"period_end":     end,
		"total_verified": stats.TotalVerified,
		"passed":         stats.Passed,
		"failed":         stats.Failed,
		"unverifiable":   stats.Unverifiable,
		"pass_rate":      stats.PassRate(),
		"lineage_issues": issues,
		"disputes":       disputes,
	})
}

func (h *Handlers) handleFileDispute(w http.ResponseWriter, r *http.Request, principal *Principal, req *auditRequest) {
	created, err := h.disputes.Create(r.Context(), dispute.CreateRequest{
		ActorID:       principal.ActorID,
		EntityType:    model.EntityType(req.EntityType),
		EntityID:      req.EntityID,
		HistoryID:     req.HistoryID,
		Type:          model.DisputeType(req.DisputeType),
		Description:   req.Description,
		AllegedImpact: req.AllegedImpact,
	})
	if err != nil {
		switch {
		case eris.Is(err, dispute.ErrNotPermitted):
			writeError(w, http.StatusForbidden, "caller does not manage this entity")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) handleGetDisputes(w http.ResponseWriter, r *http.Request, principal *Principal, req *auditRequest) {
	filter := store.DisputeFilter{
		Status: model.DisputeStatus(req.Status),
		Limit:  req.Limit,
	}
	if !principal.Admin {
		// Non-admins only see disputes for entities they manage.
		entityType := model.EntityType(req.EntityType)
		if !entityType.Valid() || req.EntityID == "" {
			writeError(w, http.StatusBadRequest, "entity_type and entity_id are required")
			return
		}
		if !h.requireEntityAccess(w, r, principal, entityType, req.EntityID) {
			return
		}
		filter.EntityType = entityType
		filter.EntityID = req.EntityID
	} else if req.EntityType != "" {
		filter.EntityType = model.EntityType(req.EntityType)
		filter.EntityID = req.EntityID
	}

	disputes, err := h.disputes.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "dispute lookup failed")
		return
	}
	if disputes == nil {
		disputes = []model.Dispute{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"disputes": disputes})
}
