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

	"github.com/ngn-platform/score-integrity/internal/metrics"
	"github.com/ngn-platform/score-integrity/internal/model"
)

// VerifierStore is the slice of the store the verifier needs.
type VerifierStore interface {
	GetReceipt(ctx context.Context, receiptID string) (*model.FairnessReceipt, error)
	IncrementReceiptVerifications(ctx context.Context, receiptID string) error
	AppendReceiptAudit(ctx context.Context, e *model.ReceiptAuditEntry) error
}

// CheckOutcome is the result of one receipt verification call.
type CheckOutcome struct {
	Outcome string                 `json:"outcome"`
	Receipt *model.FairnessReceipt `json:"receipt,omitempty"`
}

// Verifier re-checks receipt signatures. Every call is written to the
// receipt audit log, valid or not, so probing is visible.
type Verifier struct {
	store  VerifierStore
	secret []byte
	log    *zap.Logger
}

func NewVerifier(store VerifierStore, signingSecret string) (*Verifier, error) {
	if signingSecret == "" {
		return nil, eris.New("receipt: signing secret is required")
	}
	return &Verifier{
		store:  store,
		secret: []byte(signingSecret),
		log:    zap.L().Named("receipt.verifier"),
	}, nil
}

// Check recomputes the HMAC over the stored canonical payload and
// compares it to the stored signature in constant time. The audit log
// entry is written before returning; the verification counter only
// moves on a valid outcome.
func (v *Verifier) Check(ctx context.Context, receiptID, caller string) (*CheckOutcome, error) {
	r, err := v.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, eris.Wrapf(err, "receipt: load %s", receiptID)
	}

	outcome := model.ReceiptCheckNotFound
	if r != nil {
		mac := hmac.New(sha256.New, v.secret)
		mac.Write(r.CanonicalPayload)
		expected, err := hex.DecodeString(r.Signature)
		if err != nil {
			// A signature that is not even hex is tampering.
			expected = nil
		}
		if hmac.Equal(mac.Sum(nil), expected) {
			outcome = model.ReceiptCheckValid
		} else {
			outcome = model.ReceiptCheckTampered
		}
	}

	if err := v.store.AppendReceiptAudit(ctx, &model.ReceiptAuditEntry{
		ID:        uuid.New().String(),
		ReceiptID: receiptID,
		Outcome:   outcome,
		Caller:    caller,
		CheckedAt: time.Now().UTC(),
	}); err != nil {
		return nil, eris.Wrapf(err, "receipt: audit %s", receiptID)
	}
	metrics.ReceiptChecksTotal.WithLabelValues(outcome).Inc()

	result := &CheckOutcome{Outcome: outcome}
	switch outcome {
	case model.ReceiptCheckValid:
		if err := v.store.IncrementReceiptVerifications(ctx, receiptID); err != nil {
			return nil, eris.Wrapf(err, "receipt: bump verifications %s", receiptID)
		}
		result.Receipt = r
	case model.ReceiptCheckTampered:
		v.log.Warn("receipt signature mismatch",
			zap.String("receipt_id", receiptID),
			zap.String("caller", caller),
		)
		result.Receipt = r
	}
	return result, nil
}
