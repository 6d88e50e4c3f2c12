package receipt

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ngn-platform/score-integrity/internal/formula"
	"github.com/ngn-platform/score-integrity/internal/model"
)

// IssuerStore is the slice of the store the issuer needs.
type IssuerStore interface {
	LatestHistoryForPeriod(ctx context.Context, entityType model.EntityType, entityID string, periodStart time.Time) (*model.ScoreHistoryEntry, error)
	InsertReceipt(ctx context.Context, r *model.FairnessReceipt) error
	ListReceiptsByEntity(ctx context.Context, entityType model.EntityType, entityID string) ([]model.FairnessReceipt, error)
}

// Issuer mints signed fairness receipts from verified score history.
type Issuer struct {
	store    IssuerStore
	formulas *formula.Registry
	secret   []byte
	log      *zap.Logger
}

func NewIssuer(store IssuerStore, formulas *formula.Registry, signingSecret string) (*Issuer, error) {
	if signingSecret == "" {
		return nil, eris.New("receipt: signing secret is required")
	}
	return &Issuer{
		store:    store,
		formulas: formulas,
		secret:   []byte(signingSecret),
		log:      zap.L().Named("receipt"),
	}, nil
}

// sign computes the hex HMAC-SHA256 of a canonical payload.
func (i *Issuer) sign(payload []byte) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue mints a receipt for an entity's score in the period containing
// periodStart. The factor breakdown is reconstructed from the entry's
// inputs snapshot through the same formula version that produced the
// score, so the receipt always agrees with the ledger.
func (i *Issuer) Issue(ctx context.Context, entityType model.EntityType, entityID string, periodStart time.Time, visibility model.ReceiptVisibility) (*model.FairnessReceipt, error) {
	if !entityType.Valid() {
		return nil, eris.Errorf("receipt: invalid entity type %q", entityType)
	}
	if !visibility.Valid() {
		return nil, eris.Errorf("receipt: invalid visibility %q", visibility)
	}

	entry, err := i.store.LatestHistoryForPeriod(ctx, entityType, entityID, periodStart)
	if err != nil {
		return nil, eris.Wrap(err, "receipt: load history")
	}
	if entry == nil {
		return nil, eris.Errorf("receipt: no score for %s %s in period %s",
			entityType, entityID, periodStart.UTC().Format("2006-01"))
	}
	if entry.InputsSnapshot == nil {
		return nil, eris.Errorf("receipt: history entry %s has no inputs snapshot", entry.ID)
	}

	factors, err := i.formulas.Factors(formula.InputsFromSnapshot(entry.InputsSnapshot), entry.FormulaVersion)
	if err != nil {
		return nil, eris.Wrapf(err, "receipt: factors for %s", entry.ID)
	}

	r := &model.FairnessReceipt{
		ReceiptID:  uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		Rank:       entry.Rank,
		Score:      entry.ScoreValue,
		Factors:    factors,
		Period:     entry.Period(),
		Visibility: visibility,
		IssuedAt:   time.Now().UTC(),
	}

	payload, err := CanonicalPayload(r)
	if err != nil {
		return nil, err
	}
	r.CanonicalPayload = payload
	r.Signature = i.sign(payload)

	if err := i.store.InsertReceipt(ctx, r); err != nil {
		return nil, eris.Wrap(err, "receipt: persist")
	}

	i.log.Info("receipt issued",
		zap.String("receipt_id", r.ReceiptID),
		zap.String("entity_id", r.EntityID),
		zap.String("period", r.Period),
		zap.String("visibility", string(r.Visibility)),
	)
	return r, nil
}

// ListForEntity returns all receipts issued for an entity, newest
// first.
func (i *Issuer) ListForEntity(ctx context.Context, entityType model.EntityType, entityID string) ([]model.FairnessReceipt, error) {
	return i.store.ListReceiptsByEntity(ctx, entityType, entityID)
}
