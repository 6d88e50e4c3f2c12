// Package store persists the score integrity ledger. Two backends
// implement Store: Postgres (pgx) for production and SQLite for
// single-node and test use.
package store

import (
	"context"
	"time"

	"github.com/ngn-platform/score-integrity/internal/model"
)

// DisputeFilter specifies criteria for listing disputes.
type DisputeFilter struct {
	EntityType   model.EntityType    `json:"entity_type,omitempty"`
	EntityID     string              `json:"entity_id,omitempty"`
	Status       model.DisputeStatus `json:"status,omitempty"`
	CreatedAfter time.Time           `json:"created_after,omitempty"`
	Limit        int                 `json:"limit,omitempty"`
}

// VerificationStats aggregates verification results over a window.
type VerificationStats struct {
	TotalVerified    int `json:"total_verified"`
	Passed           int `json:"passed"`
	Failed           int `json:"failed"`
	Unverifiable     int `json:"unverifiable"`
	DistinctEntities int `json:"distinct_entities"`
}

// PassRate returns passed / total_verified, or 1 when nothing was
// verified.
func (s *VerificationStats) PassRate() float64 {
	if s.TotalVerified == 0 {
		return 1
	}
	return float64(s.Passed) / float64(s.TotalVerified)
}

// Store defines the persistence interface for the score integrity
// engine. Lookup methods return (nil, nil) when the row does not
// exist; an error always means the lookup itself failed.
type Store interface {
	// Score history (append-only)
	AppendScoreHistory(ctx context.Context, entry *model.ScoreHistoryEntry, lineage []model.LineageRecord) error
	GetScoreHistory(ctx context.Context, id string) (*model.ScoreHistoryEntry, error)
	ListHistoryByEntity(ctx context.Context, entityType model.EntityType, entityID string, limit int) ([]model.ScoreHistoryEntry, error)
	ListUnverifiedHistory(ctx context.Context, periodStart, periodEnd time.Time, limit int) ([]model.ScoreHistoryEntry, error)
	ListRecentHistory(ctx context.Context, since time.Time, limit, offset int) ([]model.ScoreHistoryEntry, error)
	LatestHistoryForPeriod(ctx context.Context, entityType model.EntityType, entityID string, periodStart time.Time) (*model.ScoreHistoryEntry, error)
	AppendCorrection(ctx context.Context, c *model.ScoreCorrection) error

	// Lineage
	ListLineage(ctx context.Context, historyID string) ([]model.LineageRecord, error)
	FetchSignalRow(ctx context.Context, sourceTable, rowID string) (*model.SignalRow, error)
	InsertLineageIssues(ctx context.Context, issues []model.LineageIssue) error
	CountLineageIssues(ctx context.Context, start, end time.Time) (map[model.LineageStatus]int, error)

	// Verification results
	InsertVerificationResult(ctx context.Context, res *model.VerificationResult) error
	GetVerificationResult(ctx context.Context, historyID, verificationType string) (*model.VerificationResult, error)
	VerificationStats(ctx context.Context, start, end time.Time) (*VerificationStats, error)

	// Disputes
	CreateDispute(ctx context.Context, d *model.Dispute) error
	GetDispute(ctx context.Context, id string) (*model.Dispute, error)
	ListDisputes(ctx context.Context, filter DisputeFilter) ([]model.Dispute, error)
	TransitionDispute(ctx context.Context, id string, from []model.DisputeStatus, to model.DisputeStatus, notes, actor string, at time.Time) (bool, error)
	CountDisputes(ctx context.Context, start, end time.Time) (int, error)

	// Audit reports
	UpsertAuditReport(ctx context.Context, r *model.AuditReport) error
	GetAuditReport(ctx context.Context, reportType model.ReportType, periodStart time.Time) (*model.AuditReport, error)

	// Receipts
	InsertReceipt(ctx context.Context, r *model.FairnessReceipt) error
	GetReceipt(ctx context.Context, receiptID string) (*model.FairnessReceipt, error)
	ListReceiptsByEntity(ctx context.Context, entityType model.EntityType, entityID string) ([]model.FairnessReceipt, error)
	IncrementReceiptVerifications(ctx context.Context, receiptID string) error
	AppendReceiptAudit(ctx context.Context, e *model.ReceiptAuditEntry) error

	// Permissions
	ActorManagesEntity(ctx context.Context, actorID string, entityType model.EntityType, entityID string) (bool, error)

	// Retention
	DeleteVerificationResultsBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteLineageRecordsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// signalTables is the allowlist of source tables the engine may read
// for lineage checks, mapped to the signal each one carries. Lookups
// against any other table name are rejected before touching the
// database.
var signalTables = map[string]model.SignalType{
	"radio_spins":     model.SignalRadioSpins,
	"social_mentions": model.SignalSocialMentions,
	"video_views":     model.SignalVideoViews,
	"releases":        model.SignalReleases,
}

// SignalTableFor returns the signal type carried by a source table and
// whether the table is a known signal source.
func SignalTableFor(table string) (model.SignalType, bool) {
	t, ok := signalTables[table]
	return t, ok
}
