package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngn-platform/score-integrity/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "integrity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedHistory(t *testing.T, s *SQLiteStore, entityID string, periodStart time.Time, score float64) *model.ScoreHistoryEntry {
	t.Helper()
	entry := &model.ScoreHistoryEntry{
		ID:             uuid.New().String(),
		EntityID:       entityID,
		EntityType:     model.EntityArtist,
		PeriodStart:    periodStart,
		PeriodEnd:      periodStart.AddDate(0, 1, 0),
		ScoreValue:     score,
		Rank:           1,
		FormulaVersion: "v1",
		InputsSnapshot: &model.InputsSnapshot{RadioSpins: 100, SocialMentions: 50, VideoViews: 2000, Releases: 1},
		CalculatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.AppendScoreHistory(context.Background(), entry, nil))
	return entry
}

func TestSQLiteHistoryRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	entry := seedHistory(t, s, "artist-1", periodStart, 68.4)

	got, err := s.GetScoreHistory(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.EntityID, got.EntityID)
	assert.Equal(t, model.EntityArtist, got.EntityType)
	assert.Equal(t, 68.4, got.ScoreValue)
	require.NotNil(t, got.InputsSnapshot)
	assert.Equal(t, 2000.0, got.InputsSnapshot.VideoViews)

	missing, err := s.GetScoreHistory(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteAppendHistoryWithLineage(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entry := &model.ScoreHistoryEntry{
		ID:             uuid.New().String(),
		EntityID:       "artist-2",
		EntityType:     model.EntityArtist,
		PeriodStart:    now,
		PeriodEnd:      now.AddDate(0, 1, 0),
		ScoreValue:     40,
		FormulaVersion: "v1",
		CalculatedAt:   now,
	}
	lineage := []model.LineageRecord{
		{HistoryID: entry.ID, SourceTable: "radio_spins", SourceRowID: "r-1", ContentFingerprint: "fp1", CapturedAt: now},
		{HistoryID: entry.ID, SourceTable: "social_mentions", SourceRowID: "r-2", ContentFingerprint: "fp2", CapturedAt: now},
	}
	require.NoError(t, s.AppendScoreHistory(ctx, entry, lineage))

	records, err := s.ListLineage(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "radio_spins", records[0].SourceTable)
	assert.Equal(t, "fp1", records[0].ContentFingerprint)
}

func TestSQLiteListUnverifiedHistoryIdempotence(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	first := seedHistory(t, s, "artist-1", periodStart, 50)
	second := seedHistory(t, s, "artist-2", periodStart, 60)

	unverified, err := s.ListUnverifiedHistory(ctx, periodStart, periodStart.AddDate(0, 1, 0), 10)
	require.NoError(t, err)
	require.Len(t, unverified, 2)

	require.NoError(t, s.InsertVerificationResult(ctx, &model.VerificationResult{
		ID:               uuid.New().String(),
		HistoryID:        first.ID,
		VerificationType: model.VerificationTypeRecalculation,
		RecomputedValue:  50,
		Status:           model.VerificationPassed,
		VerifiedAt:       time.Now().UTC(),
	}))

	unverified, err = s.ListUnverifiedHistory(ctx, periodStart, periodStart.AddDate(0, 1, 0), 10)
	require.NoError(t, err)
	require.Len(t, unverified, 1)
	assert.Equal(t, second.ID, unverified[0].ID)
}

func TestSQLiteInsertVerificationResultConflictIsNoop(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	entry := seedHistory(t, s, "artist-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 50)

	res := &model.VerificationResult{
		ID:               uuid.New().String(),
		HistoryID:        entry.ID,
		VerificationType: model.VerificationTypeRecalculation,
		RecomputedValue:  50,
		Status:           model.VerificationPassed,
		VerifiedAt:       time.Now().UTC(),
	}
	require.NoError(t, s.InsertVerificationResult(ctx, res))

	// Second attempt with a different outcome must not replace the first.
	dup := *res
	dup.ID = uuid.New().String()
	dup.Status = model.VerificationFailed
	require.NoError(t, s.InsertVerificationResult(ctx, &dup))

	got, err := s.GetVerificationResult(ctx, entry.ID, model.VerificationTypeRecalculation)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, res.ID, got.ID)
	assert.Equal(t, model.VerificationPassed, got.Status)
}

func TestSQLiteDisputeLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	entry := seedHistory(t, s, "artist-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 50)
	now := time.Now().UTC()

	d := &model.Dispute{
		ID:          uuid.New().String(),
		EntityID:    "artist-1",
		EntityType:  model.EntityArtist,
		HistoryID:   entry.ID,
		Type:        model.DisputeScoreError,
		Description: "score looks wrong for march",
		Status:      model.DisputeOpen,
		CreatedAt:   now,
	}
	require.NoError(t, s.CreateDispute(ctx, d))

	ok, err := s.TransitionDispute(ctx, d.ID,
		[]model.DisputeStatus{model.DisputeOpen}, model.DisputeReviewing, "", "admin-1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionDispute(ctx, d.ID,
		[]model.DisputeStatus{model.DisputeOpen, model.DisputeReviewing},
		model.DisputeResolved, "recalculated, corrected", "admin-1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetDispute(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.DisputeResolved, got.Status)
	assert.Equal(t, "admin-1", got.ResolvedBy)
	assert.Equal(t, "recalculated, corrected", got.ResolutionNotes)
	require.NotNil(t, got.ResolvedAt)

	// Terminal disputes cannot move again.
	ok, err = s.TransitionDispute(ctx, d.ID,
		[]model.DisputeStatus{model.DisputeOpen, model.DisputeReviewing},
		model.DisputeRejected, "", "admin-1", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteListDisputesFilters(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	entry := seedHistory(t, s, "artist-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 50)
	now := time.Now().UTC()

	for i, status := range []model.DisputeStatus{model.DisputeOpen, model.DisputeOpen, model.DisputeRejected} {
		require.NoError(t, s.CreateDispute(ctx, &model.Dispute{
			ID:          uuid.New().String(),
			EntityID:    "artist-1",
			EntityType:  model.EntityArtist,
			HistoryID:   entry.ID,
			Type:        model.DisputeMissingData,
			Description: "missing spins",
			Status:      status,
			CreatedAt:   now.Add(time.Duration(i) * time.Minute),
		}))
	}

	open, err := s.ListDisputes(ctx, DisputeFilter{Status: model.DisputeOpen})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	all, err := s.ListDisputes(ctx, DisputeFilter{EntityType: model.EntityArtist, EntityID: "artist-1"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	count, err := s.CountDisputes(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSQLiteReceiptRoundTripAndIncrement(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	r := &model.FairnessReceipt{
		ReceiptID:  uuid.New().String(),
		EntityType: model.EntityArtist,
		EntityID:   "artist-1",
		Rank:       3,
		Score:      81.7,
		Factors: map[string]model.Factor{
			"radio_spins": {Weight: 35, Value: 120},
		},
		Period:           "2026-03",
		Visibility:       model.ReceiptPublic,
		CanonicalPayload: []byte(`{"entity_id":"artist-1"}`),
		Signature:        "deadbeef",
		IssuedAt:         now,
	}
	require.NoError(t, s.InsertReceipt(ctx, r))

	got, err := s.GetReceipt(ctx, r.ReceiptID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, r.Signature, got.Signature)
	assert.Equal(t, r.CanonicalPayload, got.CanonicalPayload)
	assert.Equal(t, 35.0, got.Factors["radio_spins"].Weight)
	assert.Equal(t, 0, got.VerificationCount)

	require.NoError(t, s.IncrementReceiptVerifications(ctx, r.ReceiptID))
	require.NoError(t, s.IncrementReceiptVerifications(ctx, r.ReceiptID))

	got, err = s.GetReceipt(ctx, r.ReceiptID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.VerificationCount)

	err = s.IncrementReceiptVerifications(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "receipt not found")

	byEntity, err := s.ListReceiptsByEntity(ctx, model.EntityArtist, "artist-1")
	require.NoError(t, err)
	assert.Len(t, byEntity, 1)
}

func TestSQLiteSignalRowsAndFingerprints(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.InsertSignalRow(ctx, model.SignalRow{
		ID: "r-1", EntityID: "artist-1", Value: 42, ObservedAt: now, SourceTable: "radio_spins",
	}))

	got, err := s.FetchSignalRow(ctx, "radio_spins", "r-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.SignalRadioSpins, got.SignalType)
	assert.Equal(t, 42.0, got.Value)

	missing, err := s.FetchSignalRow(ctx, "radio_spins", "gone")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.FetchSignalRow(ctx, "disputes", "r-1")
	require.Error(t, err)
}

func TestSQLiteEntityManagers(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := s.ActorManagesEntity(ctx, "mgr-1", model.EntityArtist, "artist-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetEntityManager(ctx, model.EntityManager{
		EntityID: "artist-1", EntityType: model.EntityArtist, ActorID: "mgr-1", Role: "manager",
	}))

	ok, err = s.ActorManagesEntity(ctx, "mgr-1", model.EntityArtist, "artist-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteAuditReportUpsert(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	report := &model.AuditReport{
		ID:             uuid.New().String(),
		ReportType:     model.ReportDaily,
		PeriodStart:    start,
		PeriodEnd:      start.AddDate(0, 0, 1),
		ArtistsAudited: 10,
		ScoresVerified: 10,
		PassRate:       0.9,
		Findings:       []model.Finding{{Code: "low_pass_rate", Severity: model.SeverityWarning, Message: "pass rate 90%"}},
		GeneratedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.UpsertAuditReport(ctx, report))

	update := *report
	update.ID = uuid.New().String()
	update.PassRate = 0.95
	require.NoError(t, s.UpsertAuditReport(ctx, &update))

	got, err := s.GetAuditReport(ctx, model.ReportDaily, start)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.95, got.PassRate)
	require.Len(t, got.Findings, 1)
	assert.Equal(t, "low_pass_rate", got.Findings[0].Code)
}

func TestSQLiteRetentionDeletes(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	old := time.Now().UTC().AddDate(0, 0, -120)
	entry := seedHistory(t, s, "artist-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 50)

	require.NoError(t, s.InsertVerificationResult(ctx, &model.VerificationResult{
		ID:               uuid.New().String(),
		HistoryID:        entry.ID,
		VerificationType: model.VerificationTypeRecalculation,
		Status:           model.VerificationPassed,
		VerifiedAt:       old,
	}))

	deleted, err := s.DeleteVerificationResultsBefore(ctx, time.Now().UTC().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}
