package model

import "time"

// SignalType identifies a scoring input signal.
type SignalType string

const (
	SignalRadioSpins     SignalType = "radio_spins"
	SignalSocialMentions SignalType = "social_mentions"
	SignalVideoViews     SignalType = "video_views"
	SignalReleases       SignalType = "releases"
)

// Valid reports whether the signal type is one of the known values.
func (t SignalType) Valid() bool {
	switch t {
	case SignalRadioSpins, SignalSocialMentions, SignalVideoViews, SignalReleases:
		return true
	}
	return false
}

// SignalRow is a typed view of a source data row consumed by the
// formula: one observation of one signal for one entity. The scoring
// pipeline owns the underlying tables; the engine only ever reads them
// to capture and re-check lineage.
type SignalRow struct {
	ID          string     `json:"id"`
	EntityID    string     `json:"entity_id"`
	SignalType  SignalType `json:"signal_type"`
	Value       float64    `json:"value"`
	ObservedAt  time.Time  `json:"observed_at"`
	SourceTable string     `json:"source_table"`
}

// LineageRecord binds a history entry to one source row it was derived
// from, with a content fingerprint of the row's scoring-relevant fields
// taken at computation time.
type LineageRecord struct {
	HistoryID          string    `json:"history_id"`
	SourceTable        string    `json:"source_table"`
	SourceRowID        string    `json:"source_row_id"`
	ContentFingerprint string    `json:"content_fingerprint"`
	CapturedAt         time.Time `json:"captured_at"`
}

// LineageStatus is the outcome of re-checking one lineage record
// against the current state of its source row.
type LineageStatus string

const (
	LineageIntact   LineageStatus = "intact"
	LineageModified LineageStatus = "modified"
	LineageDeleted  LineageStatus = "deleted"
)

// Valid reports whether the lineage status is one of the known values.
func (s LineageStatus) Valid() bool {
	return s == LineageIntact || s == LineageModified || s == LineageDeleted
}

// LineageIssue records a non-intact lineage check result. Intact rows
// are never persisted as issues.
type LineageIssue struct {
	HistoryID    string        `json:"history_id"`
	SourceRowRef string        `json:"source_row_ref"`
	Status       LineageStatus `json:"status"`
	DetectedAt   time.Time     `json:"detected_at"`
}
