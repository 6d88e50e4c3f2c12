package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ngn-platform/score-integrity/internal/model"
	"github.com/ngn-platform/score-integrity/internal/receipt"
	"github.com/ngn-platform/score-integrity/internal/store"
)

// Store is the slice of the store the HTTP handlers need.
type Store interface {
	GetScoreHistory(ctx context.Context, id string) (*model.ScoreHistoryEntry, error)
	ListHistoryByEntity(ctx context.Context, entityType model.EntityType, entityID string, limit int) ([]model.ScoreHistoryEntry, error)
	GetReceipt(ctx context.Context, receiptID string) (*model.FairnessReceipt, error)
	ListReceiptsByEntity(ctx context.Context, entityType model.EntityType, entityID string) ([]model.FairnessReceipt, error)
	ActorManagesEntity(ctx context.Context, actorID string, entityType model.EntityType, entityID string) (bool, error)
	VerificationStats(ctx context.Context, start, end time.Time) (*store.VerificationStats, error)
	CountLineageIssues(ctx context.Context, start, end time.Time) (map[model.LineageStatus]int, error)
	CountDisputes(ctx context.Context, start, end time.Time) (int, error)
	Ping(ctx context.Context) error
}

// Handlers carries the services behind the HTTP surface.
type Handlers struct {
	store    Store
	verifier ReceiptChecker
	verify   ScoreVerifier
	disputes DisputeService
}

// ReceiptChecker re-checks receipt signatures.
type ReceiptChecker interface {
	Check(ctx context.Context, receiptID, caller string) (*receipt.CheckOutcome, error)
}

func NewHandlers(store Store, verifier ReceiptChecker, verify ScoreVerifier, disputes DisputeService) *Handlers {
	return &Handlers{
		store:    store,
		verifier: verifier,
		verify:   verify,
		disputes: disputes,
	}
}

// Health reports liveness and store reachability.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// verifyResponse is the public verification result envelope.
type verifyResponse struct {
	ReceiptID         string `json:"receipt_id"`
	Valid             bool   `json:"valid"`
	SignatureStatus   string `json:"signature_status"`
	TamperingDetected bool   `json:"tampering_detected"`
	Message           string `json:"message"`
}

// VerifyReceipt handles GET /verify?receipt_id=. Public: anyone
// holding a receipt ID can check it.
func (h *Handlers) VerifyReceipt(w http.ResponseWriter, r *http.Request) {
	receiptID := r.URL.Query().Get("receipt_id")
	if receiptID == "" {
		writeError(w, http.StatusBadRequest, "receipt_id is required")
		return
	}

	out, err := h.verifier.Check(r.Context(), receiptID, callerKey(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	switch out.Outcome {
	case model.ReceiptCheckNotFound:
		writeJSON(w, http.StatusNotFound, verifyResponse{
			ReceiptID:       receiptID,
			SignatureStatus: "not_found",
			Message:         "no receipt with this id",
		})
	case model.ReceiptCheckTampered:
		writeJSON(w, http.StatusOK, verifyResponse{
			ReceiptID:         receiptID,
			SignatureStatus:   "invalid",
			TamperingDetected: true,
			Message:           "signature does not match payload; receipt has been altered",
		})
	default:
		writeJSON(w, http.StatusOK, verifyResponse{
			ReceiptID:       receiptID,
			Valid:           true,
			SignatureStatus: "valid",
			Message:         "receipt is authentic",
		})
	}
}

// publicReceiptView is the reduced projection served without auth.
// Factor names only; weights and values stay private.
type publicReceiptView struct {
	ReceiptID         string    `json:"receipt_id"`
	EntityType        string    `json:"entity_type"`
	EntityID          string    `json:"entity_id"`
	Rank              int       `json:"rank"`
	Score             float64   `json:"score"`
	Factors           []string  `json:"factors"`
	Period            string    `json:"period"`
	Signature         string    `json:"signature"`
	IssuedAt          time.Time `json:"issued_at"`
	VerificationCount int       `json:"verification_count"`
}

// PublicReceipt handles GET /receipts/public/{receiptID}. Only
// receipts issued with public visibility are served here; a private
// receipt ID is indistinguishable from a missing one.
func (h *Handlers) PublicReceipt(w http.ResponseWriter, r *http.Request) {
	receiptID := chi.URLParam(r, "receiptID")
	rec, err := h.store.GetReceipt(r.Context(), receiptID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "receipt lookup failed")
		return
	}
	if rec == nil || rec.Visibility != model.ReceiptPublic {
		writeError(w, http.StatusNotFound, "no receipt with this id")
		return
	}

	names := make([]string, 0, len(rec.Factors))
	for name := range rec.Factors {
		names = append(names, name)
	}
	sort.Strings(names)

	writeJSON(w, http.StatusOK, publicReceiptView{
		ReceiptID:         rec.ReceiptID,
		EntityType:        string(rec.EntityType),
		EntityID:          rec.EntityID,
		Rank:              rec.Rank,
		Score:             rec.Score,
		Factors:           names,
		Period:            rec.Period,
		Signature:         rec.Signature,
		IssuedAt:          rec.IssuedAt,
		VerificationCount: rec.VerificationCount,
	})
}

// PrivateReceipts handles GET /receipts/private?entity_type=&entity_id=.
// Full factor breakdowns; the caller must manage the entity or be an
// admin.
func (h *Handlers) PrivateReceipts(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	entityType := model.EntityType(r.URL.Query().Get("entity_type"))
	entityID := r.URL.Query().Get("entity_id")
	if !entityType.Valid() || entityID == "" {
		writeError(w, http.StatusBadRequest, "entity_type and entity_id are required")
		return
	}

	if !principal.Admin {
		manages, err := h.store.ActorManagesEntity(r.Context(), principal.ActorID, entityType, entityID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "ownership check failed")
			return
		}
		if !manages {
			writeError(w, http.StatusForbidden, "caller does not manage this entity")
			return
		}
	}

	receipts, err := h.store.ListReceiptsByEntity(r.Context(), entityType, entityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "receipt lookup failed")
		return
	}
	if receipts == nil {
		receipts = []model.FairnessReceipt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}
