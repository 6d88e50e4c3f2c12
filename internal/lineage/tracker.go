package lineage

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ngn-platform/score-integrity/internal/metrics"
	"github.com/ngn-platform/score-integrity/internal/model"
	"github.com/ngn-platform/score-integrity/internal/resilience"
)

// SignalReader is the slice of the store the tracker needs.
type SignalReader interface {
	ListLineage(ctx context.Context, historyID string) ([]model.LineageRecord, error)
	FetchSignalRow(ctx context.Context, sourceTable, rowID string) (*model.SignalRow, error)
	InsertLineageIssues(ctx context.Context, issues []model.LineageIssue) error
}

// Tracker builds lineage records at score time and re-checks them
// afterwards against the live source tables.
type Tracker struct {
	store SignalReader
	log   *zap.Logger
}

func NewTracker(store SignalReader) *Tracker {
	return &Tracker{store: store, log: zap.L().Named("lineage")}
}

// BuildRecords fingerprints every source row that fed a score. Called
// inside the same transaction window as the history append so the
// fingerprints reflect the rows exactly as the formula saw them.
func (t *Tracker) BuildRecords(historyID string, rows []model.SignalRow, at time.Time) []model.LineageRecord {
	records := make([]model.LineageRecord, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		records = append(records, model.LineageRecord{
			HistoryID:          historyID,
			SourceTable:        row.SourceTable,
			SourceRowID:        row.ID,
			ContentFingerprint: Fingerprint(row),
			CapturedAt:         at.UTC(),
		})
	}
	return records
}

// CheckResult summarizes one lineage re-check of a history entry.
// Skipped counts rows whose source read failed even after the retry;
// they are neither intact nor tampered, and a later run re-checks them.
type CheckResult struct {
	HistoryID string
	Checked   int
	Skipped   int
	Issues    []model.LineageIssue
}

// Tampered reports whether any checked row was modified or deleted.
func (r *CheckResult) Tampered() bool {
	return len(r.Issues) > 0
}

// Verify re-fetches every source row behind a history entry and
// compares its current fingerprint to the one captured at score time.
// Missing rows are recorded as deleted, mismatches as modified; intact
// rows produce no issue. Issues are persisted before returning.
//
// A transient read failure is retried once; if the retry also fails the
// row is skipped with a logged warning rather than misreported as
// tampering, and the remaining rows are still checked so issues they
// produce are persisted.
func (t *Tracker) Verify(ctx context.Context, historyID string) (*CheckResult, error) {
	records, err := t.store.ListLineage(ctx, historyID)
	if err != nil {
		return nil, eris.Wrapf(err, "lineage: list records for %s", historyID)
	}

	result := &CheckResult{HistoryID: historyID}
	now := time.Now().UTC()
	skipLog := resilience.RetryLogger("lineage", "fetch source row")

	for _, rec := range records {
		rec := rec
		row, err := resilience.RetryOnce(ctx, func(ctx context.Context) (*model.SignalRow, error) {
			return t.store.FetchSignalRow(ctx, rec.SourceTable, rec.SourceRowID)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrapf(err, "lineage: fetch %s", RowRef(rec.SourceTable, rec.SourceRowID))
			}
			skipLog(RowRef(rec.SourceTable, rec.SourceRowID), err)
			result.Skipped++
			continue
		}
		result.Checked++

		status := model.LineageIntact
		switch {
		case row == nil:
			status = model.LineageDeleted
		case Fingerprint(row) != rec.ContentFingerprint:
			status = model.LineageModified
		}
		if status == model.LineageIntact {
			continue
		}

		t.log.Warn("lineage check failed",
			zap.String("history_id", historyID),
			zap.String("source_row", RowRef(rec.SourceTable, rec.SourceRowID)),
			zap.String("status", string(status)),
		)
		result.Issues = append(result.Issues, model.LineageIssue{
			HistoryID:    historyID,
			SourceRowRef: RowRef(rec.SourceTable, rec.SourceRowID),
			Status:       status,
			DetectedAt:   now,
		})
	}

	if len(result.Issues) > 0 {
		if err := t.store.InsertLineageIssues(ctx, result.Issues); err != nil {
			return nil, eris.Wrapf(err, "lineage: persist issues for %s", historyID)
		}
		for _, issue := range result.Issues {
			metrics.LineageIssuesTotal.WithLabelValues(string(issue.Status)).Inc()
		}
	}
	return result, nil
}
