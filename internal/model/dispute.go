package model

import "time"

// DisputeStatus is the lifecycle state of an entity-filed challenge.
// resolved and rejected are terminal.
type DisputeStatus string

const (
	DisputeOpen      DisputeStatus = "open"
	DisputeReviewing DisputeStatus = "reviewing"
	DisputeResolved  DisputeStatus = "resolved"
	DisputeRejected  DisputeStatus = "rejected"
)

// Valid reports whether the status is one of the known values.
func (s DisputeStatus) Valid() bool {
	switch s {
	case DisputeOpen, DisputeReviewing, DisputeResolved, DisputeRejected:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transitions.
func (s DisputeStatus) Terminal() bool {
	return s == DisputeResolved || s == DisputeRejected
}

// CanTransitionTo reports whether the state machine allows moving from
// s to next. Legal transitions: open→reviewing, open→rejected (fast
// reject), reviewing→resolved, reviewing→rejected, open→resolved.
func (s DisputeStatus) CanTransitionTo(next DisputeStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case DisputeOpen:
		return next == DisputeReviewing || next == DisputeResolved || next == DisputeRejected
	case DisputeReviewing:
		return next == DisputeResolved || next == DisputeRejected
	}
	return false
}

// DisputeType categorizes what the filer alleges is wrong.
type DisputeType string

const (
	DisputeScoreError    DisputeType = "score_error"
	DisputeMissingData   DisputeType = "missing_data"
	DisputeDataTampering DisputeType = "data_tampering"
	DisputeRankError     DisputeType = "rank_error"
)

// Valid reports whether the dispute type is one of the known values.
func (t DisputeType) Valid() bool {
	switch t {
	case DisputeScoreError, DisputeMissingData, DisputeDataTampering, DisputeRankError:
		return true
	}
	return false
}

// Dispute is an entity-filed challenge against a specific history
// entry. Transitions happen only through the dispute manager.
type Dispute struct {
	ID              string        `json:"id"`
	EntityID        string        `json:"entity_id"`
	EntityType      EntityType    `json:"entity_type"`
	HistoryID       string        `json:"history_id"`
	Type            DisputeType   `json:"type"`
	Description     string        `json:"description"`
	AllegedImpact   string        `json:"alleged_impact"`
	Status          DisputeStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy      string        `json:"resolved_by,omitempty"`
	ResolutionNotes string        `json:"resolution_notes,omitempty"`
}
