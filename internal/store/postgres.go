package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ngn-platform/score-integrity/internal/db"
	"github.com/ngn-platform/score-integrity/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS score_history (
	id              TEXT PRIMARY KEY,
	entity_id       TEXT NOT NULL,
	entity_type     TEXT NOT NULL,
	period_start    TIMESTAMPTZ NOT NULL,
	period_end      TIMESTAMPTZ NOT NULL,
	score_value     DOUBLE PRECISION NOT NULL,
	rank            INTEGER NOT NULL DEFAULT 0,
	formula_version TEXT NOT NULL,
	lineage_ref     TEXT NOT NULL DEFAULT '',
	inputs_snapshot JSONB,
	calculated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_score_history_entity ON score_history(entity_type, entity_id, period_start DESC);
CREATE INDEX IF NOT EXISTS idx_score_history_calculated ON score_history(calculated_at);

CREATE TABLE IF NOT EXISTS score_corrections (
	id           TEXT PRIMARY KEY,
	original_id  TEXT NOT NULL REFERENCES score_history(id),
	corrected_id TEXT NOT NULL REFERENCES score_history(id),
	reason       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lineage_records (
	history_id          TEXT NOT NULL REFERENCES score_history(id),
	source_table        TEXT NOT NULL,
	source_row_id       TEXT NOT NULL,
	content_fingerprint TEXT NOT NULL,
	captured_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (history_id, source_table, source_row_id)
);

CREATE INDEX IF NOT EXISTS idx_lineage_records_captured ON lineage_records(captured_at);

CREATE TABLE IF NOT EXISTS lineage_issues (
	id             TEXT PRIMARY KEY,
	history_id     TEXT NOT NULL REFERENCES score_history(id),
	source_row_ref TEXT NOT NULL,
	status         TEXT NOT NULL,
	detected_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lineage_issues_detected ON lineage_issues(detected_at);

CREATE TABLE IF NOT EXISTS verification_results (
	id                 TEXT PRIMARY KEY,
	history_id         TEXT NOT NULL REFERENCES score_history(id),
	verification_type  TEXT NOT NULL,
	recomputed_value   DOUBLE PRECISION NOT NULL,
	percent_difference DOUBLE PRECISION NOT NULL,
	status             TEXT NOT NULL,
	verified_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (history_id, verification_type)
);

CREATE INDEX IF NOT EXISTS idx_verification_results_verified ON verification_results(verified_at);

CREATE TABLE IF NOT EXISTS disputes (
	id               TEXT PRIMARY KEY,
	entity_id        TEXT NOT NULL,
	entity_type      TEXT NOT NULL,
	history_id       TEXT NOT NULL REFERENCES score_history(id),
	type             TEXT NOT NULL,
	description      TEXT NOT NULL,
	alleged_impact   TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'open',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at      TIMESTAMPTZ,
	resolved_by      TEXT NOT NULL DEFAULT '',
	resolution_notes TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_disputes_entity ON disputes(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_disputes_status ON disputes(status);

CREATE TABLE IF NOT EXISTS audit_reports (
	id                  TEXT PRIMARY KEY,
	report_type         TEXT NOT NULL,
	period_start        TIMESTAMPTZ NOT NULL,
	period_end          TIMESTAMPTZ NOT NULL,
	artists_audited     INTEGER NOT NULL,
	scores_verified     INTEGER NOT NULL,
	discrepancies_found INTEGER NOT NULL,
	pass_rate           DOUBLE PRECISION NOT NULL,
	findings            JSONB NOT NULL,
	generated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (report_type, period_start)
);

CREATE TABLE IF NOT EXISTS fairness_receipts (
	receipt_id         TEXT PRIMARY KEY,
	entity_type        TEXT NOT NULL,
	entity_id          TEXT NOT NULL,
	rank               INTEGER NOT NULL,
	score              DOUBLE PRECISION NOT NULL,
	factors            JSONB NOT NULL,
	period             TEXT NOT NULL,
	visibility         TEXT NOT NULL,
	canonical_payload  BYTEA NOT NULL,
	signature          TEXT NOT NULL,
	issued_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	verification_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_fairness_receipts_entity ON fairness_receipts(entity_type, entity_id, issued_at DESC);

CREATE TABLE IF NOT EXISTS receipt_audit_log (
	id         TEXT PRIMARY KEY,
	receipt_id TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	caller     TEXT NOT NULL DEFAULT '',
	checked_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_receipt_audit_log_receipt ON receipt_audit_log(receipt_id);

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
	value       DOUBLE PRECISION NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS social_mentions (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	value       DOUBLE PRECISION NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS video_views (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	value       DOUBLE PRECISION NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS releases (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	value       DOUBLE PRECISION NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const historyColumns = `id, entity_id, entity_type, period_start, period_end, score_value, rank, formula_version, lineage_ref, inputs_snapshot, calculated_at`

// AppendScoreHistory writes a history entry and its lineage records in
// one transaction so lineage is never missing for a written score.
func (s *PostgresStore) AppendScoreHistory(ctx context.Context, entry *model.ScoreHistoryEntry, lineage []model.LineageRecord) error {
	var snapshotJSON []byte
	if entry.InputsSnapshot != nil {
		var err error
		snapshotJSON, err = json.Marshal(entry.InputsSnapshot)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal inputs snapshot")
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin append history")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO score_history (`+historyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.EntityID, string(entry.EntityType),
		entry.PeriodStart, entry.PeriodEnd, entry.ScoreValue, entry.Rank,
		entry.FormulaVersion, entry.LineageRef, snapshotJSON, entry.CalculatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert history %s", entry.ID)
	}

	for _, lr := range lineage {
		_, err = tx.Exec(ctx,
			`INSERT INTO lineage_records (history_id, source_table, source_row_id, content_fingerprint, captured_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			lr.HistoryID, lr.SourceTable, lr.SourceRowID, lr.ContentFingerprint, lr.CapturedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert lineage for history %s row %s", lr.HistoryID, lr.SourceRowID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit append history")
}

func (s *PostgresStore) GetScoreHistory(ctx context.Context, id string) (*model.ScoreHistoryEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+historyColumns+` FROM score_history WHERE id = $1`, id)
	entry, err := scanHistory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get history %s", id)
	}
	return entry, nil
}

func (s *PostgresStore) ListHistoryByEntity(ctx context.Context, entityType model.EntityType, entityID string, limit int) ([]model.ScoreHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+historyColumns+` FROM score_history
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY period_start DESC LIMIT $3`,
		string(entityType), entityID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list history by entity")
	}
	return collectHistory(rows, "postgres: list history by entity")
}

// ListUnverifiedHistory selects entries in the window without a prior
// recalculation result. The left-join exclusion is what makes repeated
// bulk verification runs idempotent.
func (s *PostgresStore) ListUnverifiedHistory(ctx context.Context, periodStart, periodEnd time.Time, limit int) ([]model.ScoreHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT h.id, h.entity_id, h.entity_type, h.period_start, h.period_end, h.score_value, h.rank,
		        h.formula_version, h.lineage_ref, h.inputs_snapshot, h.calculated_at
		 FROM score_history h
		 LEFT JOIN verification_results v
		   ON v.history_id = h.id AND v.verification_type = $1
		 WHERE v.id IS NULL AND h.period_start >= $2 AND h.period_end <= $3
		 ORDER BY h.calculated_at ASC LIMIT $4`,
		model.VerificationTypeRecalculation, periodStart, periodEnd, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unverified history")
	}
	return collectHistory(rows, "postgres: list unverified history")
}

func (s *PostgresStore) ListRecentHistory(ctx context.Context, since time.Time, limit, offset int) ([]model.ScoreHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+historyColumns+` FROM score_history
		 WHERE calculated_at >= $1
		 ORDER BY calculated_at ASC LIMIT $2 OFFSET $3`,
		since, limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recent history")
	}
	return collectHistory(rows, "postgres: list recent history")
}

// LatestHistoryForPeriod prefers an entry with a passed verification,
// falling back to the most recently computed one.
func (s *PostgresStore) LatestHistoryForPeriod(ctx context.Context, entityType model.EntityType, entityID string, periodStart time.Time) (*model.ScoreHistoryEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT h.id, h.entity_id, h.entity_type, h.period_start, h.period_end, h.score_value, h.rank,
		        h.formula_version, h.lineage_ref, h.inputs_snapshot, h.calculated_at
		 FROM score_history h
		 LEFT JOIN verification_results v
		   ON v.history_id = h.id AND v.verification_type = $1 AND v.status = 'passed'
		 WHERE h.entity_type = $2 AND h.entity_id = $3 AND h.period_start = $4
		 ORDER BY CASE WHEN v.id IS NULL THEN 1 ELSE 0 END, h.calculated_at DESC
		 LIMIT 1`,
		model.VerificationTypeRecalculation, string(entityType), entityID, periodStart,
	)
	entry, err := scanHistory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest history for period")
	}
	return entry, nil
}

func (s *PostgresStore) AppendCorrection(ctx context.Context, c *model.ScoreCorrection) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO score_corrections (id, original_id, corrected_id, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.OriginalID, c.CorrectedID, c.Reason, c.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append correction")
}

func (s *PostgresStore) ListLineage(ctx context.Context, historyID string) ([]model.LineageRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT history_id, source_table, source_row_id, content_fingerprint, captured_at
		 FROM lineage_records WHERE history_id = $1
		 ORDER BY source_table, source_row_id`,
		historyID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list lineage %s", historyID)
	}
	defer rows.Close()

	var records []model.LineageRecord
	for rows.Next() {
		var lr model.LineageRecord
		if err := rows.Scan(&lr.HistoryID, &lr.SourceTable, &lr.SourceRowID, &lr.ContentFingerprint, &lr.CapturedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lineage record")
		}
		records = append(records, lr)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list lineage iterate")
}

func (s *PostgresStore) FetchSignalRow(ctx context.Context, sourceTable, rowID string) (*model.SignalRow, error) {
	signalType, ok := SignalTableFor(sourceTable)
	if !ok {
		return nil, eris.Errorf("postgres: unknown source table %q", sourceTable)
	}

	query := fmt.Sprintf(
		`SELECT id, entity_id, value, observed_at FROM %s WHERE id = $1`,
		pgx.Identifier{sourceTable}.Sanitize(),
	)

	var sr model.SignalRow
	err := s.pool.QueryRow(ctx, query, rowID).Scan(&sr.ID, &sr.EntityID, &sr.Value, &sr.ObservedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: fetch signal row %s.%s", sourceTable, rowID)
	}
	sr.SignalType = signalType
	sr.SourceTable = sourceTable
	return &sr, nil
}

func (s *PostgresStore) InsertLineageIssues(ctx context.Context, issues []model.LineageIssue) error {
	for _, issue := range issues {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO lineage_issues (id, history_id, source_row_ref, status, detected_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), issue.HistoryID, issue.SourceRowRef, string(issue.Status), issue.DetectedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert lineage issue for history %s", issue.HistoryID)
		}
	}
	return nil
}

func (s *PostgresStore) CountLineageIssues(ctx context.Context, start, end time.Time) (map[model.LineageStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM lineage_issues
		 WHERE detected_at >= $1 AND detected_at < $2
		 GROUP BY status`,
		start, end,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count lineage issues")
	}
	defer rows.Close()

	counts := make(map[model.LineageStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lineage issue count")
		}
		counts[model.LineageStatus(status)] = count
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count lineage issues iterate")
}

// InsertVerificationResult writes a result, keeping at most one per
// (history_id, verification_type). A conflicting insert is a no-op so
// concurrent runs against the same entry are harmless.
func (s *PostgresStore) InsertVerificationResult(ctx context.Context, res *model.VerificationResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO verification_results
		 (id, history_id, verification_type, recomputed_value, percent_difference, status, verified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (history_id, verification_type) DO NOTHING`,
		res.ID, res.HistoryID, res.VerificationType,
		res.RecomputedValue, res.PercentDifference, string(res.Status), res.VerifiedAt,
	)
	return eris.Wrapf(err, "postgres: insert verification result %s", res.HistoryID)
}

func (s *PostgresStore) GetVerificationResult(ctx context.Context, historyID, verificationType string) (*model.VerificationResult, error) {
	var vr model.VerificationResult
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, history_id, verification_type, recomputed_value, percent_difference, status, verified_at
		 FROM verification_results
		 WHERE history_id = $1 AND verification_type = $2`,
		historyID, verificationType,
	).Scan(&vr.ID, &vr.HistoryID, &vr.VerificationType, &vr.RecomputedValue, &vr.PercentDifference, &status, &vr.VerifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get verification result %s", historyID)
	}
	vr.Status = model.VerificationStatus(status)
	return &vr, nil
}

func (s *PostgresStore) VerificationStats(ctx context.Context, start, end time.Time) (*VerificationStats, error) {
	var stats VerificationStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE v.status = 'passed'),
		        COUNT(*) FILTER (WHERE v.status = 'failed'),
		        COUNT(*) FILTER (WHERE v.status = 'unverifiable'),
		        COUNT(DISTINCT h.entity_id)
		 FROM verification_results v
		 JOIN score_history h ON h.id = v.history_id
		 WHERE v.verified_at >= $1 AND v.verified_at < $2`,
		start, end,
	).Scan(&stats.TotalVerified, &stats.Passed, &stats.Failed, &stats.Unverifiable, &stats.DistinctEntities)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: verification stats")
	}
	return &stats, nil
}

const disputeColumns = `id, entity_id, entity_type, history_id, type, description, alleged_impact, status, created_at, resolved_at, resolved_by, resolution_notes`

func (s *PostgresStore) CreateDispute(ctx context.Context, d *model.Dispute) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO disputes (`+disputeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.EntityID, string(d.EntityType), d.HistoryID, string(d.Type),
		d.Description, d.AllegedImpact, string(d.Status), d.CreatedAt,
		d.ResolvedAt, d.ResolvedBy, d.ResolutionNotes,
	)
	return eris.Wrapf(err, "postgres: create dispute %s", d.ID)
}

func (s *PostgresStore) GetDispute(ctx context.Context, id string) (*model.Dispute, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	d, err := scanDispute(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get dispute %s", id)
	}
	return d, nil
}

func (s *PostgresStore) ListDisputes(ctx context.Context, filter DisputeFilter) ([]model.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE true`
	args := []any{}
	argIdx := 1

	if filter.EntityType != "" {
		query += fmt.Sprintf(` AND entity_type = $%d`, argIdx)
		args = append(args, string(filter.EntityType))
		argIdx++
	}
	if filter.EntityID != "" {
		query += fmt.Sprintf(` AND entity_id = $%d`, argIdx)
		args = append(args, filter.EntityID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list disputes")
	}
	defer rows.Close()

	var disputes []model.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan dispute")
		}
		disputes = append(disputes, *d)
	}
	return disputes, eris.Wrap(rows.Err(), "postgres: list disputes iterate")
}

// TransitionDispute moves a dispute to a new status only if its
// current status is in from. The predicate in the UPDATE is the
// optimistic guard against concurrent admin actions; returns false if
// no row matched.
func (s *PostgresStore) TransitionDispute(ctx context.Context, id string, from []model.DisputeStatus, to model.DisputeStatus, notes, actor string, at time.Time) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}

	var resolvedAt *time.Time
	resolvedBy := ""
	if to.Terminal() {
		resolvedAt = &at
		resolvedBy = actor
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE disputes
		 SET status = $1,
		     resolution_notes = CASE WHEN $2 <> '' THEN $2 ELSE resolution_notes END,
		     resolved_at = COALESCE($3, resolved_at),
		     resolved_by = CASE WHEN $4 <> '' THEN $4 ELSE resolved_by END
		 WHERE id = $5 AND status = ANY($6)`,
		string(to), notes, resolvedAt, resolvedBy, id, fromStrs,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition dispute %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CountDisputes(ctx context.Context, start, end time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM disputes WHERE created_at >= $1 AND created_at < $2`,
		start, end,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count disputes")
}

// UpsertAuditReport replaces any prior snapshot for the same
// (report_type, period_start) key, making generation idempotent.
func (s *PostgresStore) UpsertAuditReport(ctx context.Context, r *model.AuditReport) error {
	findingsJSON, err := json.Marshal(r.Findings)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal findings")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_reports
		 (id, report_type, period_start, period_end, artists_audited, scores_verified, discrepancies_found, pass_rate, findings, generated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (report_type, period_start) DO UPDATE SET
		   period_end = $4, artists_audited = $5, scores_verified = $6,
		   discrepancies_found = $7, pass_rate = $8, findings = $9, generated_at = $10`,
		r.ID, string(r.ReportType), r.PeriodStart, r.PeriodEnd,
		r.ArtistsAudited, r.ScoresVerified, r.DiscrepanciesFound,
		r.PassRate, findingsJSON, r.GeneratedAt,
	)
	return eris.Wrap(err, "postgres: upsert audit report")
}

func (s *PostgresStore) GetAuditReport(ctx context.Context, reportType model.ReportType, periodStart time.Time) (*model.AuditReport, error) {
	var r model.AuditReport
	var rtype string
	var findingsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, report_type, period_start, period_end, artists_audited, scores_verified, discrepancies_found, pass_rate, findings, generated_at
		 FROM audit_reports WHERE report_type = $1 AND period_start = $2`,
		string(reportType), periodStart,
	).Scan(&r.ID, &rtype, &r.PeriodStart, &r.PeriodEnd, &r.ArtistsAudited, &r.ScoresVerified, &r.DiscrepanciesFound, &r.PassRate, &findingsJSON, &r.GeneratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get audit report")
	}
	r.ReportType = model.ReportType(rtype)
	if err := json.Unmarshal(findingsJSON, &r.Findings); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal findings")
	}
	return &r, nil
}

const receiptColumns = `receipt_id, entity_type, entity_id, rank, score, factors, period, visibility, canonical_payload, signature, issued_at, verification_count`

func (s *PostgresStore) InsertReceipt(ctx context.Context, r *model.FairnessReceipt) error {
	factorsJSON, err := json.Marshal(r.Factors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal factors")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO fairness_receipts (`+receiptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ReceiptID, string(r.EntityType), r.EntityID, r.Rank, r.Score,
		factorsJSON, r.Period, string(r.Visibility), r.CanonicalPayload,
		r.Signature, r.IssuedAt, r.VerificationCount,
	)
	return eris.Wrapf(err, "postgres: insert receipt %s", r.ReceiptID)
}

func (s *PostgresStore) GetReceipt(ctx context.Context, receiptID string) (*model.FairnessReceipt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM fairness_receipts WHERE receipt_id = $1`, receiptID)
	r, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get receipt %s", receiptID)
	}
	return r, nil
}

func (s *PostgresStore) ListReceiptsByEntity(ctx context.Context, entityType model.EntityType, entityID string) ([]model.FairnessReceipt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+receiptColumns+` FROM fairness_receipts
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY issued_at DESC`,
		string(entityType), entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list receipts")
	}
	defer rows.Close()

	var receipts []model.FairnessReceipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan receipt")
		}
		receipts = append(receipts, *r)
	}
	return receipts, eris.Wrap(rows.Err(), "postgres: list receipts iterate")
}

// IncrementReceiptVerifications bumps verification_count atomically in
// SQL, never read-modify-write.
func (s *PostgresStore) IncrementReceiptVerifications(ctx context.Context, receiptID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fairness_receipts SET verification_count = verification_count + 1 WHERE receipt_id = $1`,
		receiptID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment receipt verifications %s", receiptID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("receipt not found: %s", receiptID)
	}
	return nil
}

func (s *PostgresStore) AppendReceiptAudit(ctx context.Context, e *model.ReceiptAuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO receipt_audit_log (id, receipt_id, outcome, caller, checked_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.ReceiptID, e.Outcome, e.Caller, e.CheckedAt,
	)
	return eris.Wrap(err, "postgres: append receipt audit")
}

func (s *PostgresStore) ActorManagesEntity(ctx context.Context, actorID string, entityType model.EntityType, entityID string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM entity_managers
		 WHERE actor_id = $1 AND entity_type = $2 AND entity_id = $3`,
		actorID, string(entityType), entityID,
	).Scan(&count)
	if err != nil {
		return false, eris.Wrap(err, "postgres: actor manages entity")
	}
	return count > 0, nil
}

func (s *PostgresStore) DeleteVerificationResultsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM verification_results WHERE verified_at < $1`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete old verification results")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteLineageRecordsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM lineage_records WHERE captured_at < $1`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete old lineage records")
	}
	return int(tag.RowsAffected()), nil
}

// scan helpers

type pgxScannable interface {
	Scan(dest ...any) error
}

func scanHistory(row pgxScannable) (*model.ScoreHistoryEntry, error) {
	var e model.ScoreHistoryEntry
	var entityType string
	var snapshotJSON []byte

	err := row.Scan(&e.ID, &e.EntityID, &entityType, &e.PeriodStart, &e.PeriodEnd,
		&e.ScoreValue, &e.Rank, &e.FormulaVersion, &e.LineageRef, &snapshotJSON, &e.CalculatedAt)
	if err != nil {
		return nil, err
	}
	e.EntityType = model.EntityType(entityType)
	if len(snapshotJSON) > 0 {
		e.InputsSnapshot = &model.InputsSnapshot{}
		if err := json.Unmarshal(snapshotJSON, e.InputsSnapshot); err != nil {
			return nil, eris.Wrap(err, "unmarshal inputs snapshot")
		}
	}
	return &e, nil
}

func collectHistory(rows pgx.Rows, opName string) ([]model.ScoreHistoryEntry, error) {
	defer rows.Close()
	var entries []model.ScoreHistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: scan", opName)
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrapf(rows.Err(), "%s: iterate", opName)
}

func scanDispute(row pgxScannable) (*model.Dispute, error) {
	var d model.Dispute
	var entityType, dtype, status string
	err := row.Scan(&d.ID, &d.EntityID, &entityType, &d.HistoryID, &dtype,
		&d.Description, &d.AllegedImpact, &status, &d.CreatedAt,
		&d.ResolvedAt, &d.ResolvedBy, &d.ResolutionNotes)
	if err != nil {
		return nil, err
	}
	d.EntityType = model.EntityType(entityType)
	d.Type = model.DisputeType(dtype)
	d.Status = model.DisputeStatus(status)
	return &d, nil
}

func scanReceipt(row pgxScannable) (*model.FairnessReceipt, error) {
	var r model.FairnessReceipt
	var entityType, visibility string
	var factorsJSON []byte
	err := row.Scan(&r.ReceiptID, &entityType, &r.EntityID, &r.Rank, &r.Score,
		&factorsJSON, &r.Period, &visibility, &r.CanonicalPayload,
		&r.Signature, &r.IssuedAt, &r.VerificationCount)
	if err != nil {
		return nil, err
	}
	r.EntityType = model.EntityType(entityType)
	r.Visibility = model.ReceiptVisibility(visibility)
	if len(factorsJSON) > 0 {
		if err := json.Unmarshal(factorsJSON, &r.Factors); err != nil {
			return nil, eris.Wrap(err, "unmarshal factors")
		}
	}
	return &r, nil
}
