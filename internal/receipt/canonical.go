// Package receipt issues and verifies HMAC-signed fairness receipts.
// A receipt is a portable statement of an entity's rank, score, and
// factor breakdown for one period; anyone holding the signing secret
// can re-check it byte for byte.
package receipt

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/rotisserie/eris"

	"github.com/ngn-platform/score-integrity/internal/model"
)

// privatePayload is the signed content of a private receipt: the full
// factor breakdown with weights and values.
type privatePayload struct {
	ReceiptID  string                  `json:"receipt_id"`
	EntityType string                  `json:"entity_type"`
	EntityID   string                  `json:"entity_id"`
	Rank       int                     `json:"rank"`
	Score      float64                 `json:"score"`
	Factors    map[string]model.Factor `json:"factors"`
	Period     string                  `json:"period"`
	Visibility string                  `json:"visibility"`
	IssuedAt   string                  `json:"issued_at"`
}

// publicPayload is the signed content of a public receipt. Factor
// weights and values are withheld; only the factor names appear, so a
// public receipt proves which signals were considered without leaking
// the breakdown.
type publicPayload struct {
	ReceiptID  string   `json:"receipt_id"`
	EntityType string   `json:"entity_type"`
	EntityID   string   `json:"entity_id"`
	Rank       int      `json:"rank"`
	Score      float64  `json:"score"`
	Factors    []string `json:"factors"`
	Period     string   `json:"period"`
	Visibility string   `json:"visibility"`
	IssuedAt   string   `json:"issued_at"`
}

// CanonicalPayload renders the receipt's signed content in RFC 8785
// canonical JSON. The projection depends on visibility: a public
// receipt is signed over the reduced payload, never a stripped-down
// private one, so the signature of one projection says nothing about
// the other.
func CanonicalPayload(r *model.FairnessReceipt) ([]byte, error) {
	var payload any
	switch r.Visibility {
	case model.ReceiptPrivate:
		payload = privatePayload{
			ReceiptID:  r.ReceiptID,
			EntityType: string(r.EntityType),
			EntityID:   r.EntityID,
			Rank:       r.Rank,
			Score:      r.Score,
			Factors:    r.Factors,
			Period:     r.Period,
			Visibility: string(r.Visibility),
			IssuedAt:   r.IssuedAt.UTC().Format(time.RFC3339),
		}
	case model.ReceiptPublic:
		names := make([]string, 0, len(r.Factors))
		for name := range r.Factors {
			names = append(names, name)
		}
		sort.Strings(names)
		payload = publicPayload{
			ReceiptID:  r.ReceiptID,
			EntityType: string(r.EntityType),
			EntityID:   r.EntityID,
			Rank:       r.Rank,
			Score:      r.Score,
			Factors:    names,
			Period:     r.Period,
			Visibility: string(r.Visibility),
			IssuedAt:   r.IssuedAt.UTC().Format(time.RFC3339),
		}
	default:
		return nil, eris.Errorf("receipt: invalid visibility %q", r.Visibility)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "receipt: marshal payload")
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, eris.Wrap(err, "receipt: canonicalize payload")
	}
	return canonical, nil
}
