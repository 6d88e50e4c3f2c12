package model

import "time"

// VerificationStatus is the outcome of independently recomputing a
// historical score. "failed" means the score was recomputed and did not
// match within tolerance; "unverifiable" means the inputs could not be
// reconstructed at all. The two are never conflated.
type VerificationStatus string

const (
	VerificationPassed       VerificationStatus = "passed"
	VerificationFailed       VerificationStatus = "failed"
	VerificationUnverifiable VerificationStatus = "unverifiable"
)

// Valid reports whether the status is one of the known values.
func (s VerificationStatus) Valid() bool {
	return s == VerificationPassed || s == VerificationFailed || s == VerificationUnverifiable
}

// VerificationTypeRecalculation is the only verification type the
// engine currently produces. At most one result exists per
// (history_id, verification_type).
const VerificationTypeRecalculation = "recalculation"

// VerificationResult records one independent recomputation of a stored
// score.
type VerificationResult struct {
	ID                string             `json:"id"`
	HistoryID         string             `json:"history_id"`
	VerificationType  string             `json:"verification_type"`
	RecomputedValue   float64            `json:"recomputed_value"`
	PercentDifference float64            `json:"percent_difference"`
	Status            VerificationStatus `json:"status"`
	VerifiedAt        time.Time          `json:"verified_at"`
}
