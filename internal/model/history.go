// Package model defines the typed records persisted by the score
// integrity engine. Rows are mapped to these types at the store
// boundary; business logic never sees raw database maps.
package model

import "time"

// EntityType identifies the kind of chart entity a score belongs to.
type EntityType string

const (
	EntityArtist EntityType = "artist"
	EntityLabel  EntityType = "label"
)

// Valid reports whether the entity type is one of the known values.
func (t EntityType) Valid() bool {
	return t == EntityArtist || t == EntityLabel
}

// ScoreHistoryEntry is one append-only ledger row: the score computed
// for an entity over a scoring period. Entries are never mutated; a
// correction appends a new entry plus a ScoreCorrection link.
type ScoreHistoryEntry struct {
	ID             string          `json:"id"`
	EntityID       string          `json:"entity_id"`
	EntityType     EntityType      `json:"entity_type"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	ScoreValue     float64         `json:"score_value"`
	Rank           int             `json:"rank"`
	FormulaVersion string          `json:"formula_version"`
	LineageRef     string          `json:"lineage_ref"`
	InputsSnapshot *InputsSnapshot `json:"inputs_snapshot,omitempty"`
	CalculatedAt   time.Time       `json:"calculated_at"`
}

// Period returns the entry's scoring period key (YYYY-MM, UTC).
func (e *ScoreHistoryEntry) Period() string {
	return e.PeriodStart.UTC().Format("2006-01")
}

// InputsSnapshot freezes the aggregated formula inputs at computation
// time so a score stays verifiable even after source rows are purged.
type InputsSnapshot struct {
	RadioSpins     float64 `json:"radio_spins"`
	SocialMentions float64 `json:"social_mentions"`
	VideoViews     float64 `json:"video_views"`
	Releases       float64 `json:"releases"`
}

// ScoreCorrection links a superseded history entry to the entry that
// corrects it. The original row is left untouched.
type ScoreCorrection struct {
	ID          string    `json:"id"`
	OriginalID  string    `json:"original_id"`
	CorrectedID string    `json:"corrected_id"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}
