// Package dispute implements the review lifecycle for contested
// scores: open -> reviewing -> resolved/rejected.
package dispute

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ngn-platform/score-integrity/internal/metrics"
	"github.com/ngn-platform/score-integrity/internal/model"
	"github.com/ngn-platform/score-integrity/internal/store"
)

// ErrNotPermitted is returned when the acting principal does not
// manage the entity a dispute targets.
var ErrNotPermitted = eris.New("dispute: actor does not manage this entity")

// ErrInvalidTransition is returned when a dispute cannot move from its
// current status to the requested one.
var ErrInvalidTransition = eris.New("dispute: invalid status transition")

// ErrNotFound is returned when the dispute does not exist.
var ErrNotFound = eris.New("dispute: not found")

// DisputeStore is the slice of the store the manager needs.
type DisputeStore interface {
	GetScoreHistory(ctx context.Context, id string) (*model.ScoreHistoryEntry, error)
	ActorManagesEntity(ctx context.Context, actorID string, entityType model.EntityType, entityID string) (bool, error)
	CreateDispute(ctx context.Context, d *model.Dispute) error
	GetDispute(ctx context.Context, id string) (*model.Dispute, error)
	ListDisputes(ctx context.Context, filter store.DisputeFilter) ([]model.Dispute, error)
	TransitionDispute(ctx context.Context, id string, from []model.DisputeStatus, to model.DisputeStatus, notes, actor string, at time.Time) (bool, error)
	AppendScoreHistory(ctx context.Context, entry *model.ScoreHistoryEntry, lineage []model.LineageRecord) error
	AppendCorrection(ctx context.Context, c *model.ScoreCorrection) error
}

// Manager owns dispute creation and lifecycle transitions.
type Manager struct {
	store DisputeStore
	log   *zap.Logger
}

func NewManager(store DisputeStore) *Manager {
	return &Manager{store: store, log: zap.L().Named("dispute")}
}

// CreateRequest carries the fields a manager submits to open a dispute.
type CreateRequest struct {
	ActorID       string
	EntityType    model.EntityType
	EntityID      string
	HistoryID     string
	Type          model.DisputeType
	Description   string
	AllegedImpact string
}

func (r *CreateRequest) validate() error {
	if !r.EntityType.Valid() {
		return eris.Errorf("dispute: invalid entity type %q", r.EntityType)
	}
	if !r.Type.Valid() {
		return eris.Errorf("dispute: invalid dispute type %q", r.Type)
	}
	if strings.TrimSpace(r.Description) == "" {
		return eris.New("dispute: description is required")
	}
	if r.HistoryID == "" {
		return eris.New("dispute: history_id is required")
	}
	return nil
}

// Create opens a dispute against one score history entry. The actor
// must manage the target entity, and the entry must belong to it;
// both checks fail closed.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*model.Dispute, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	manages, err := m.store.ActorManagesEntity(ctx, req.ActorID, req.EntityType, req.EntityID)
	if err != nil {
		return nil, eris.Wrap(err, "dispute: ownership check")
	}
	if !manages {
		return nil, ErrNotPermitted
	}

	entry, err := m.store.GetScoreHistory(ctx, req.HistoryID)
	if err != nil {
		return nil, eris.Wrap(err, "dispute: load history entry")
	}
	if entry == nil {
		return nil, eris.Errorf("dispute: history entry not found: %s", req.HistoryID)
	}
	if entry.EntityID != req.EntityID || entry.EntityType != req.EntityType {
		return nil, ErrNotPermitted
	}

	d := &model.Dispute{
		ID:            uuid.New().String(),
		EntityID:      req.EntityID,
		EntityType:    req.EntityType,
		HistoryID:     req.HistoryID,
		Type:          req.Type,
		Description:   req.Description,
		AllegedImpact: req.AllegedImpact,
		Status:        model.DisputeOpen,
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.store.CreateDispute(ctx, d); err != nil {
		return nil, eris.Wrap(err, "dispute: create")
	}

	m.log.Info("dispute opened",
		zap.String("dispute_id", d.ID),
		zap.String("entity_id", d.EntityID),
		zap.String("history_id", d.HistoryID),
		zap.String("type", string(d.Type)),
	)
	metrics.DisputeTransitionsTotal.WithLabelValues(string(model.DisputeOpen)).Inc()
	return d, nil
}

// Review moves an open dispute into reviewing.
func (m *Manager) Review(ctx context.Context, disputeID, actorID string) (*model.Dispute, error) {
	return m.transition(ctx, disputeID, actorID,
		[]model.DisputeStatus{model.DisputeOpen}, model.DisputeReviewing, "")
}

// Resolve closes a dispute as upheld. Resolution notes are required so
// the ledger explains what was done about it.
func (m *Manager) Resolve(ctx context.Context, disputeID, actorID, notes string) (*model.Dispute, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, eris.New("dispute: resolution notes are required")
	}
	return m.transition(ctx, disputeID, actorID,
		[]model.DisputeStatus{model.DisputeOpen, model.DisputeReviewing}, model.DisputeResolved, notes)
}

// ResolveWithCorrection resolves a dispute and appends a corrected
// score for the disputed entry. The original entry stays untouched; a
// ScoreCorrection link ties the two together. The corrected value is
// recorded as a fresh ledger entry so it is verifiable like any other.
func (m *Manager) ResolveWithCorrection(ctx context.Context, disputeID, actorID, notes string, correctedScore float64) (*model.Dispute, error) {
	d, err := m.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}

	original, err := m.store.GetScoreHistory(ctx, d.HistoryID)
	if err != nil {
		return nil, eris.Wrapf(err, "dispute: load disputed entry %s", d.HistoryID)
	}
	if original == nil {
		return nil, eris.Errorf("dispute: disputed history entry %s no longer exists", d.HistoryID)
	}

	resolved, err := m.Resolve(ctx, disputeID, actorID, notes)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	corrected := *original
	corrected.ID = uuid.NewString()
	corrected.ScoreValue = correctedScore
	corrected.CalculatedAt = now
	if err := m.store.AppendScoreHistory(ctx, &corrected, nil); err != nil {
		return nil, eris.Wrap(err, "dispute: append corrected entry")
	}

	if err := m.store.AppendCorrection(ctx, &model.ScoreCorrection{
		ID:          uuid.NewString(),
		OriginalID:  original.ID,
		CorrectedID: corrected.ID,
		Reason:      notes,
		CreatedAt:   now,
	}); err != nil {
		return nil, eris.Wrap(err, "dispute: append correction link")
	}

	m.log.Info("score corrected",
		zap.String("dispute_id", disputeID),
		zap.String("original_id", original.ID),
		zap.String("corrected_id", corrected.ID),
		zap.Float64("score", correctedScore),
	)
	return resolved, nil
}

// Reject closes a dispute as unfounded.
func (m *Manager) Reject(ctx context.Context, disputeID, actorID, notes string) (*model.Dispute, error) {
	return m.transition(ctx, disputeID, actorID,
		[]model.DisputeStatus{model.DisputeOpen, model.DisputeReviewing}, model.DisputeRejected, notes)
}

func (m *Manager) transition(ctx context.Context, disputeID, actorID string, from []model.DisputeStatus, to model.DisputeStatus, notes string) (*model.Dispute, error) {
	current, err := m.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, eris.Wrapf(err, "dispute: load %s", disputeID)
	}
	if current == nil {
		return nil, ErrNotFound
	}
	if !current.Status.CanTransitionTo(to) {
		return nil, eris.Wrapf(ErrInvalidTransition, "from %s to %s", current.Status, to)
	}

	ok, err := m.store.TransitionDispute(ctx, disputeID, from, to, notes, actorID, time.Now().UTC())
	if err != nil {
		return nil, eris.Wrapf(err, "dispute: transition %s", disputeID)
	}
	if !ok {
		// The conditional update lost a race with a concurrent
		// transition; it stays the authority.
		return nil, eris.Wrapf(ErrInvalidTransition, "from %s to %s", current.Status, to)
	}

	m.log.Info("dispute transitioned",
		zap.String("dispute_id", disputeID),
		zap.String("to", string(to)),
		zap.String("actor", actorID),
	)
	metrics.DisputeTransitionsTotal.WithLabelValues(string(to)).Inc()
	return m.store.GetDispute(ctx, disputeID)
}

// Get loads one dispute.
func (m *Manager) Get(ctx context.Context, disputeID string) (*model.Dispute, error) {
	return m.store.GetDispute(ctx, disputeID)
}

// List returns disputes matching the filter.
func (m *Manager) List(ctx context.Context, filter store.DisputeFilter) ([]model.Dispute, error) {
	return m.store.ListDisputes(ctx, filter)
}
