package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ngn-platform/score-integrity/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for
// single-node deployments and integration tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS score_history (
	id              TEXT PRIMARY KEY,
	entity_id       TEXT NOT NULL,
	entity_type     TEXT NOT NULL,
	period_start    DATETIME NOT NULL,
	period_end      DATETIME NOT NULL,
	score_value     REAL NOT NULL,
	rank            INTEGER NOT NULL DEFAULT 0,
	formula_version TEXT NOT NULL,
	lineage_ref     TEXT NOT NULL DEFAULT '',
	inputs_snapshot TEXT,
	calculated_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_score_history_entity ON score_history(entity_type, entity_id, period_start DESC);
CREATE INDEX IF NOT EXISTS idx_score_history_calculated ON score_history(calculated_at);

CREATE TABLE IF NOT EXISTS score_corrections (
	id           TEXT PRIMARY KEY,
	original_id  TEXT NOT NULL REFERENCES score_history(id),
	corrected_id TEXT NOT NULL REFERENCES score_history(id),
	reason       TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS lineage_records (
	history_id          TEXT NOT NULL REFERENCES score_history(id),
	source_table        TEXT NOT NULL,
	source_row_id       TEXT NOT NULL,
	content_fingerprint TEXT NOT NULL,
	captured_at         DATETIME NOT NULL,
	PRIMARY KEY (history_id, source_table, source_row_id)
);

CREATE TABLE IF NOT EXISTS lineage_issues (
	id             TEXT PRIMARY KEY,
	history_id     TEXT NOT NULL REFERENCES score_history(id),
	source_row_ref TEXT NOT NULL,
	status         TEXT NOT NULL,
	detected_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS verification_results (
	id                 TEXT PRIMARY KEY,
	history_id         TEXT NOT NULL REFERENCES score_history(id),
	verification_type  TEXT NOT NULL,
	recomputed_value   REAL NOT NULL,
	percent_difference REAL NOT NULL,
	status             TEXT NOT NULL,
	verified_at        DATETIME NOT NULL,
	UNIQUE (history_id, verification_type)
);

CREATE TABLE IF NOT EXISTS disputes (
	id               TEXT PRIMARY KEY,
	entity_id        TEXT NOT NULL,
	entity_type      TEXT NOT NULL,
	history_id       TEXT NOT NULL REFERENCES score_history(id),
	type             TEXT NOT NULL,
	description      TEXT NOT NULL,
	alleged_impact   TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'open',
	created_at       DATETIME NOT NULL,
	resolved_at      DATETIME,
	resolved_by      TEXT NOT NULL DEFAULT '',
	resolution_notes TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_reports (
	id                  TEXT PRIMARY KEY,
	report_type         TEXT NOT NULL,
	period_start        DATETIME NOT NULL,
	period_end          DATETIME NOT NULL,
	artists_audited     INTEGER NOT NULL,
	scores_verified     INTEGER NOT NULL,
	discrepancies_found INTEGER NOT NULL,
	pass_rate           REAL NOT NULL,
	findings            TEXT NOT NULL,
	generated_at        DATETIME NOT NULL,
	UNIQUE (report_type, period_start)
);

CREATE TABLE IF NOT EXISTS fairness_receipts (
	receipt_id         TEXT PRIMARY KEY,
	entity_type        TEXT NOT NULL,
	entity_id          TEXT NOT NULL,
	rank               INTEGER NOT NULL,
	score              REAL NOT NULL,
	factors            TEXT NOT NULL,
	period             TEXT NOT NULL,
	visibility         TEXT NOT NULL,
	canonical_payload  BLOB NOT NULL,
	signature          TEXT NOT NULL,
	issued_at          DATETIME NOT NULL,
	verification_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS receipt_audit_log (
	id         TEXT PRIMARY KEY,
	receipt_id TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	caller     TEXT NOT NULL DEFAULT '',
	checked_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_managers (
	entity_id   TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	role        TEXT NOT NULL DEFAULT 'manager',
	PRIMARY KEY (entity_id, entity_type, actor_id)
);

CREATE TABLE IF NOT EXISTS radio_spins (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	value       REAL NOT NULL,
	observed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS social_mentions (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	value       REAL NOT NULL,
	observed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS video_views (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	value       REAL NOT NULL,
	observed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS releases (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	value       REAL NOT NULL,
	observed_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendScoreHistory(ctx context.Context, entry *model.ScoreHistoryEntry, lineage []model.LineageRecord) error {
	var snapshotJSON any
	if entry.InputsSnapshot != nil {
		data, err := json.Marshal(entry.InputsSnapshot)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal inputs snapshot")
		}
		snapshotJSON = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append history")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO score_history
		 (id, entity_id, entity_type, period_start, period_end, score_value, rank, formula_version, lineage_ref, inputs_snapshot, calculated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.EntityID, string(entry.EntityType),
		entry.PeriodStart, entry.PeriodEnd, entry.ScoreValue, entry.Rank,
		entry.FormulaVersion, entry.LineageRef, snapshotJSON, entry.CalculatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert history %s", entry.ID)
	}

	for _, lr := range lineage {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO lineage_records (history_id, source_table, source_row_id, content_fingerprint, captured_at)
			 VALUES (?, ?, ?, ?, ?)`,
			lr.HistoryID, lr.SourceTable, lr.SourceRowID, lr.ContentFingerprint, lr.CapturedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert lineage for history %s row %s", lr.HistoryID, lr.SourceRowID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit append history")
}

const sqliteHistoryColumns = `id, entity_id, entity_type, period_start, period_end, score_value, rank, formula_version, lineage_ref, inputs_snapshot, calculated_at`

func (s *SQLiteStore) GetScoreHistory(ctx context.Context, id string) (*model.ScoreHistoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteHistoryColumns+` FROM score_history WHERE id = ?`, id)
	entry, err := scanSQLiteHistory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get history %s", id)
	}
	return entry, nil
}

func (s *SQLiteStore) ListHistoryByEntity(ctx context.Context, entityType model.EntityType, entityID string, limit int) ([]model.ScoreHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteHistoryColumns+` FROM score_history
		 WHERE entity_type = ? AND entity_id = ?
		 ORDER BY period_start DESC LIMIT ?`,
		string(entityType), entityID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list history by entity")
	}
	return collectSQLiteHistory(rows, "sqlite: list history by entity")
}

func (s *SQLiteStore) ListUnverifiedHistory(ctx context.Context, periodStart, periodEnd time.Time, limit int) ([]model.ScoreHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT h.id, h.entity_id, h.entity_type, h.period_start, h.period_end, h.score_value, h.rank,
		        h.formula_version, h.lineage_ref, h.inputs_snapshot, h.calculated_at
		 FROM score_history h
		 LEFT JOIN verification_results v
		   ON v.history_id = h.id AND v.verification_type = ?
		 WHERE v.id IS NULL AND h.period_start >= ? AND h.period_end <= ?
		 ORDER BY h.calculated_at ASC LIMIT ?`,
		model.VerificationTypeRecalculation, periodStart, periodEnd, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unverified history")
	}
	return collectSQLiteHistory(rows, "sqlite: list unverified history")
}

func (s *SQLiteStore) ListRecentHistory(ctx context.Context, since time.Time, limit, offset int) ([]model.ScoreHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteHistoryColumns+` FROM score_history
		 WHERE calculated_at >= ?
		 ORDER BY calculated_at ASC LIMIT ? OFFSET ?`,
		since, limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recent history")
	}
	return collectSQLiteHistory(rows, "sqlite: list recent history")
}

func (s *SQLiteStore) LatestHistoryForPeriod(ctx context.Context, entityType model.EntityType, entityID string, periodStart time.Time) (*model.ScoreHistoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT h.id, h.entity_id, h.entity_type, h.period_start, h.period_end, h.score_value, h.rank,
		        h.formula_version, h.lineage_ref, h.inputs_snapshot, h.calculated_at
		 FROM score_history h
		 LEFT JOIN verification_results v
		   ON v.history_id = h.id AND v.verification_type = ? AND v.status = 'passed'
		 WHERE h.entity_type = ? AND h.entity_id = ? AND h.period_start = ?
		 ORDER BY CASE WHEN v.id IS NULL THEN 1 ELSE 0 END, h.calculated_at DESC
		 LIMIT 1`,
		model.VerificationTypeRecalculation, string(entityType), entityID, periodStart,
	)
	entry, err := scanSQLiteHistory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest history for period")
	}
	return entry, nil
}

func (s *SQLiteStore) AppendCorrection(ctx context.Context, c *model.ScoreCorrection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO score_corrections (id, original_id, corrected_id, reason, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.OriginalID, c.CorrectedID, c.Reason, c.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append correction")
}

func (s *SQLiteStore) ListLineage(ctx context.Context, historyID string) ([]model.LineageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT history_id, source_table, source_row_id, content_fingerprint, captured_at
		 FROM lineage_records WHERE history_id = ?
		 ORDER BY source_table, source_row_id`,
		historyID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list lineage %s", historyID)
	}
	defer rows.Close()

	var records []model.LineageRecord
	for rows.Next() {
		var lr model.LineageRecord
		if err := rows.Scan(&lr.HistoryID, &lr.SourceTable, &lr.SourceRowID, &lr.ContentFingerprint, &lr.CapturedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lineage record")
		}
		records = append(records, lr)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list lineage iterate")
}

func (s *SQLiteStore) FetchSignalRow(ctx context.Context, sourceTable, rowID string) (*model.SignalRow, error) {
	signalType, ok := SignalTableFor(sourceTable)
	if !ok {
		return nil, eris.Errorf("sqlite: unknown source table %q", sourceTable)
	}

	var sr model.SignalRow
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, entity_id, value, observed_at FROM %q WHERE id = ?`, sourceTable),
		rowID,
	).Scan(&sr.ID, &sr.EntityID, &sr.Value, &sr.ObservedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: fetch signal row %s.%s", sourceTable, rowID)
	}
	sr.SignalType = signalType
	sr.SourceTable = sourceTable
	return &sr, nil
}

func (s *SQLiteStore) InsertSignalRow(ctx context.Context, row model.SignalRow) error {
	if _, ok := SignalTableFor(row.SourceTable); !ok {
		return eris.Errorf("sqlite: unknown source table %q", row.SourceTable)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %q (id, entity_id, value, observed_at) VALUES (?, ?, ?, ?)`, row.SourceTable),
		row.ID, row.EntityID, row.Value, row.ObservedAt,
	)
	return eris.Wrapf(err, "sqlite: insert signal row %s.%s", row.SourceTable, row.ID)
}

func (s *SQLiteStore) UpdateSignalRowValue(ctx context.Context, sourceTable, rowID string, value float64) error {
	if _, ok := SignalTableFor(sourceTable); !ok {
		return eris.Errorf("sqlite: unknown source table %q", sourceTable)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %q SET value = ? WHERE id = ?`, sourceTable),
		value, rowID,
	)
	return eris.Wrapf(err, "sqlite: update signal row %s.%s", sourceTable, rowID)
}

func (s *SQLiteStore) DeleteSignalRow(ctx context.Context, sourceTable, rowID string) error {
	if _, ok := SignalTableFor(sourceTable); !ok {
		return eris.Errorf("sqlite: unknown source table %q", sourceTable)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, sourceTable),
		rowID,
	)
	return eris.Wrapf(err, "sqlite: delete signal row %s.%s", sourceTable, rowID)
}

func (s *SQLiteStore) InsertLineageIssues(ctx context.Context, issues []model.LineageIssue) error {
	for _, issue := range issues {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO lineage_issues (id, history_id, source_row_ref, status, detected_at)
			 VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), issue.HistoryID, issue.SourceRowRef, string(issue.Status), issue.DetectedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert lineage issue for history %s", issue.HistoryID)
		}
	}
	return nil
}

func (s *SQLiteStore) CountLineageIssues(ctx context.Context, start, end time.Time) (map[model.LineageStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM lineage_issues
		 WHERE detected_at >= ? AND detected_at < ?
		 GROUP BY status`,
		start, end,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count lineage issues")
	}
	defer rows.Close()

	counts := make(map[model.LineageStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lineage issue count")
		}
		counts[model.LineageStatus(status)] = count
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count lineage issues iterate")
}

func (s *SQLiteStore) InsertVerificationResult(ctx context.Context, res *model.VerificationResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verification_results
		 (id, history_id, verification_type, recomputed_value, percent_difference, status, verified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (history_id, verification_type) DO NOTHING`,
		res.ID, res.HistoryID, res.VerificationType,
		res.RecomputedValue, res.PercentDifference, string(res.Status), res.VerifiedAt,
	)
	return eris.Wrapf(err, "sqlite: insert verification result %s", res.HistoryID)
}

func (s *SQLiteStore) GetVerificationResult(ctx context.Context, historyID, verificationType string) (*model.VerificationResult, error) {
	var vr model.VerificationResult
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, history_id, verification_type, recomputed_value, percent_difference, status, verified_at
		 FROM verification_results
		 WHERE history_id = ? AND verification_type = ?`,
		historyID, verificationType,
	).Scan(&vr.ID, &vr.HistoryID, &vr.VerificationType, &vr.RecomputedValue, &vr.PercentDifference, &status, &vr.VerifiedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get verification result %s", historyID)
	}
	vr.Status = model.VerificationStatus(status)
	return &vr, nil
}

func (s *SQLiteStore) VerificationStats(ctx context.Context, start, end time.Time) (*VerificationStats, error) {
	var stats VerificationStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN v.status = 'passed' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN v.status = 'failed' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN v.status = 'unverifiable' THEN 1 ELSE 0 END), 0),
		        COUNT(DISTINCT h.entity_id)
		 FROM verification_results v
		 JOIN score_history h ON h.id = v.history_id
		 WHERE v.verified_at >= ? AND v.verified_at < ?`,
		start, end,
	).Scan(&stats.TotalVerified, &stats.Passed, &stats.Failed, &stats.Unverifiable, &stats.DistinctEntities)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: verification stats")
	}
	return &stats, nil
}

const sqliteDisputeColumns = `id, entity_id, entity_type, history_id, type, description, alleged_impact, status, created_at, resolved_at, resolved_by, resolution_notes`

func (s *SQLiteStore) CreateDispute(ctx context.Context, d *model.Dispute) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO disputes (`+sqliteDisputeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.EntityID, string(d.EntityType), d.HistoryID, string(d.Type),
		d.Description, d.AllegedImpact, string(d.Status), d.CreatedAt,
		d.ResolvedAt, d.ResolvedBy, d.ResolutionNotes,
	)
	return eris.Wrapf(err, "sqlite: create dispute %s", d.ID)
}

func (s *SQLiteStore) GetDispute(ctx context.Context, id string) (*model.Dispute, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDisputeColumns+` FROM disputes WHERE id = ?`, id)
	d, err := scanSQLiteDispute(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get dispute %s", id)
	}
	return d, nil
}

func (s *SQLiteStore) ListDisputes(ctx context.Context, filter DisputeFilter) ([]model.Dispute, error) {
	query := `SELECT ` + sqliteDisputeColumns + ` FROM disputes WHERE 1=1`
	var args []any

	if filter.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, string(filter.EntityType))
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list disputes")
	}
	defer rows.Close()

	var disputes []model.Dispute
	for rows.Next() {
		d, err := scanSQLiteDispute(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dispute")
		}
		disputes = append(disputes, *d)
	}
	return disputes, eris.Wrap(rows.Err(), "sqlite: list disputes iterate")
}

func (s *SQLiteStore) TransitionDispute(ctx context.Context, id string, from []model.DisputeStatus, to model.DisputeStatus, notes, actor string, at time.Time) (bool, error) {
	placeholders := make([]string, len(from))
	args := []any{string(to), notes, notes}
	if to.Terminal() {
		args = append(args, at, actor, actor)
	} else {
		args = append(args, nil, "", "")
	}
	args = append(args, id)
	for i, f := range from {
		placeholders[i] = "?"
		args = append(args, string(f))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE disputes
		 SET status = ?,
		     resolution_notes = CASE WHEN ? <> '' THEN ? ELSE resolution_notes END,
		     resolved_at = COALESCE(?, resolved_at),
		     resolved_by = CASE WHEN ? <> '' THEN ? ELSE resolved_by END
		 WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition dispute %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: transition rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) CountDisputes(ctx context.Context, start, end time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM disputes WHERE created_at >= ? AND created_at < ?`,
		start, end,
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count disputes")
}

func (s *SQLiteStore) UpsertAuditReport(ctx context.Context, r *model.AuditReport) error {
	findingsJSON, err := json.Marshal(r.Findings)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal findings")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_reports
		 (id, report_type, period_start, period_end, artists_audited, scores_verified, discrepancies_found, pass_rate, findings, generated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (report_type, period_start) DO UPDATE SET
		   period_end = excluded.period_end,
		   artists_audited = excluded.artists_audited,
		   scores_verified = excluded.scores_verified,
		   discrepancies_found = excluded.discrepancies_found,
		   pass_rate = excluded.pass_rate,
		   findings = excluded.findings,
		   generated_at = excluded.generated_at`,
		r.ID, string(r.ReportType), r.PeriodStart, r.PeriodEnd,
		r.ArtistsAudited, r.ScoresVerified, r.DiscrepanciesFound,
		r.PassRate, string(findingsJSON), r.GeneratedAt,
	)
	return eris.Wrap(err, "sqlite: upsert audit report")
}

func (s *SQLiteStore) GetAuditReport(ctx context.Context, reportType model.ReportType, periodStart time.Time) (*model.AuditReport, error) {
	var r model.AuditReport
	var rtype, findingsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, report_type, period_start, period_end, artists_audited, scores_verified, discrepancies_found, pass_rate, findings, generated_at
		 FROM audit_reports WHERE report_type = ? AND period_start = ?`,
		string(reportType), periodStart,
	).Scan(&r.ID, &rtype, &r.PeriodStart, &r.PeriodEnd, &r.ArtistsAudited, &r.ScoresVerified, &r.DiscrepanciesFound, &r.PassRate, &findingsJSON, &r.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get audit report")
	}
	r.ReportType = model.ReportType(rtype)
	if err := json.Unmarshal([]byte(findingsJSON), &r.Findings); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal findings")
	}
	return &r, nil
}

const sqliteReceiptColumns = `receipt_id, entity_type, entity_id, rank, score, factors, period, visibility, canonical_payload, signature, issued_at, verification_count`

func (s *SQLiteStore) InsertReceipt(ctx context.Context, r *model.FairnessReceipt) error {
	factorsJSON, err := json.Marshal(r.Factors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal factors")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fairness_receipts (`+sqliteReceiptColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ReceiptID, string(r.EntityType), r.EntityID, r.Rank, r.Score,
		string(factorsJSON), r.Period, string(r.Visibility), r.CanonicalPayload,
		r.Signature, r.IssuedAt, r.VerificationCount,
	)
	return eris.Wrapf(err, "sqlite: insert receipt %s", r.ReceiptID)
}

func (s *SQLiteStore) GetReceipt(ctx context.Context, receiptID string) (*model.FairnessReceipt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteReceiptColumns+` FROM fairness_receipts WHERE receipt_id = ?`, receiptID)
	r, err := scanSQLiteReceipt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get receipt %s", receiptID)
	}
	return r, nil
}

func (s *SQLiteStore) ListReceiptsByEntity(ctx context.Context, entityType model.EntityType, entityID string) ([]model.FairnessReceipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteReceiptColumns+` FROM fairness_receipts
		 WHERE entity_type = ? AND entity_id = ?
		 ORDER BY issued_at DESC`,
		string(entityType), entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list receipts")
	}
	defer rows.Close()

	var receipts []model.FairnessReceipt
	for rows.Next() {
		r, err := scanSQLiteReceipt(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan receipt")
		}
		receipts = append(receipts, *r)
	}
	return receipts, eris.Wrap(rows.Err(), "sqlite: list receipts iterate")
}

func (s *SQLiteStore) IncrementReceiptVerifications(ctx context.Context, receiptID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE fairness_receipts SET verification_count = verification_count + 1 WHERE receipt_id = ?`,
		receiptID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment receipt verifications %s", receiptID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("receipt not found: %s", receiptID)
	}
	return nil
}

func (s *SQLiteStore) AppendReceiptAudit(ctx context.Context, e *model.ReceiptAuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receipt_audit_log (id, receipt_id, outcome, caller, checked_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.ReceiptID, e.Outcome, e.Caller, e.CheckedAt,
	)
	return eris.Wrap(err, "sqlite: append receipt audit")
}

func (s *SQLiteStore) ActorManagesEntity(ctx context.Context, actorID string, entityType model.EntityType, entityID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entity_managers
		 WHERE actor_id = ? AND entity_type = ? AND entity_id = ?`,
		actorID, string(entityType), entityID,
	).Scan(&count)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: actor manages entity")
	}
	return count > 0, nil
}

// SetEntityManager records an ownership/management edge. Used by
// admin tooling and tests; production edges come from the platform's
// account system.
func (s *SQLiteStore) SetEntityManager(ctx context.Context, m model.EntityManager) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_managers (entity_id, entity_type, actor_id, role)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (entity_id, entity_type, actor_id) DO UPDATE SET role = excluded.role`,
		m.EntityID, string(m.EntityType), m.ActorID, m.Role,
	)
	return eris.Wrap(err, "sqlite: set entity manager")
}

func (s *SQLiteStore) DeleteVerificationResultsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_results WHERE verified_at < ?`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete old verification results")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) DeleteLineageRecordsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM lineage_records WHERE captured_at < ?`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete old lineage records")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// scan helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteHistory(row scannable) (*model.ScoreHistoryEntry, error) {
	var e model.ScoreHistoryEntry
	var entityType string
	var snapshotJSON sql.NullString

	err := row.Scan(&e.ID, &e.EntityID, &entityType, &e.PeriodStart, &e.PeriodEnd,
		&e.ScoreValue, &e.Rank, &e.FormulaVersion, &e.LineageRef, &snapshotJSON, &e.CalculatedAt)
	if err != nil {
		return nil, err
	}
	e.EntityType = model.EntityType(entityType)
	if snapshotJSON.Valid && snapshotJSON.String != "" {
		e.InputsSnapshot = &model.InputsSnapshot{}
		if err := json.Unmarshal([]byte(snapshotJSON.String), e.InputsSnapshot); err != nil {
			return nil, eris.Wrap(err, "unmarshal inputs snapshot")
		}
	}
	return &e, nil
}

func collectSQLiteHistory(rows *sql.Rows, opName string) ([]model.ScoreHistoryEntry, error) {
	defer rows.Close()
	var entries []model.ScoreHistoryEntry
	for rows.Next() {
		e, err := scanSQLiteHistory(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: scan", opName)
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrapf(rows.Err(), "%s: iterate", opName)
}

func scanSQLiteDispute(row scannable) (*model.Dispute, error) {
	var d model.Dispute
	var entityType, dtype, status string
	var resolvedAt sql.NullTime
	err := row.Scan(&d.ID, &d.EntityID, &entityType, &d.HistoryID, &dtype,
		&d.Description, &d.AllegedImpact, &status, &d.CreatedAt,
		&resolvedAt, &d.ResolvedBy, &d.ResolutionNotes)
	if err != nil {
		return nil, err
	}
	d.EntityType = model.EntityType(entityType)
	d.Type = model.DisputeType(dtype)
	d.Status = model.DisputeStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return &d, nil
}

func scanSQLiteReceipt(row scannable) (*model.FairnessReceipt, error) {
	var r model.FairnessReceipt
	var entityType, visibility, factorsJSON string
	err := row.Scan(&r.ReceiptID, &entityType, &r.EntityID, &r.Rank, &r.Score,
		&factorsJSON, &r.Period, &visibility, &r.CanonicalPayload,
		&r.Signature, &r.IssuedAt, &r.VerificationCount)
	if err != nil {
		return nil, err
	}
	r.EntityType = model.EntityType(entityType)
	r.Visibility = model.ReceiptVisibility(visibility)
	if factorsJSON != "" {
		if err := json.Unmarshal([]byte(factorsJSON), &r.Factors); err != nil {
			return nil, eris.Wrap(err, "unmarshal factors")
		}
	}
	return &r, nil
}
