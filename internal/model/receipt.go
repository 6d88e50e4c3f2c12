package model

import "time"

// ReceiptVisibility controls how much of the factor breakdown a
// receipt exposes. Public receipts are a strictly-reduced projection of
// the private payload, canonicalized and signed separately.
type ReceiptVisibility string

const (
	ReceiptPublic  ReceiptVisibility = "public"
	ReceiptPrivate ReceiptVisibility = "private"
)

// Valid reports whether the visibility is one of the known values.
func (v ReceiptVisibility) Valid() bool {
	return v == ReceiptPublic || v == ReceiptPrivate
}

// Factor is one weighted component of a score as it appears on a
// private receipt.
type Factor struct {
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`
}

// FairnessReceipt is a signed, portable statement of an entity's rank,
// score, and factor breakdown for a period. Immutable once signed;
// VerificationCount is the only mutable field.
type FairnessReceipt struct {
	ReceiptID         string            `json:"receipt_id"`
	EntityType        EntityType        `json:"entity_type"`
	EntityID          string            `json:"entity_id"`
	Rank              int               `json:"rank"`
	Score             float64           `json:"score"`
	Factors           map[string]Factor `json:"factors"`
	Period            string            `json:"period"`
	Visibility        ReceiptVisibility `json:"visibility"`
	CanonicalPayload  []byte            `json:"-"`
	Signature         string            `json:"signature"`
	IssuedAt          time.Time         `json:"issued_at"`
	VerificationCount int               `json:"verification_count"`
}

// ReceiptAuditEntry records one verification attempt against a
// receipt, successful or not.
type ReceiptAuditEntry struct {
	ID        string    `json:"id"`
	ReceiptID string    `json:"receipt_id"`
	Outcome   string    `json:"outcome"`
	Caller    string    `json:"caller,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Receipt audit outcomes.
const (
	ReceiptCheckValid    = "valid"
	ReceiptCheckTampered = "tampered"
	ReceiptCheckNotFound = "not_found"
)

// EntityManager is an ownership/management edge: the actor may act on
// the entity's behalf (file disputes, read private receipts).
type EntityManager struct {
	EntityID   string     `json:"entity_id"`
	EntityType EntityType `json:"entity_type"`
	ActorID    string     `json:"actor_id"`
	Role       string     `json:"role"`
}
