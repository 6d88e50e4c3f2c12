package lineage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngn-platform/score-integrity/internal/metrics"
	"github.com/ngn-platform/score-integrity/internal/model"
)

var errTransientConn = errors.New("conn closed")

type fakeSignalReader struct {
	records []model.LineageRecord
	rows    map[string]*model.SignalRow
	issues  []model.LineageIssue

	fetchErr     error
	fetchErrFor  map[string]error
	fetchErrOnce bool
	fetchCalls   int
}

func (f *fakeSignalReader) ListLineage(_ context.Context, _ string) ([]model.LineageRecord, error) {
	return f.records, nil
}

func (f *fakeSignalReader) FetchSignalRow(_ context.Context, sourceTable, rowID string) (*model.SignalRow, error) {
	f.fetchCalls++
	if err, ok := f.fetchErrFor[RowRef(sourceTable, rowID)]; ok {
		return nil, err
	}
	if f.fetchErr != nil {
		err := f.fetchErr
		if f.fetchErrOnce {
			f.fetchErr = nil
		}
		return nil, err
	}
	return f.rows[RowRef(sourceTable, rowID)], nil
}

func (f *fakeSignalReader) InsertLineageIssues(_ context.Context, issues []model.LineageIssue) error {
	f.issues = append(f.issues, issues...)
	return nil
}

func testRow(value float64) *model.SignalRow {
	return &model.SignalRow{
		ID:          "row-1",
		EntityID:    "artist-1",
		SignalType:  model.SignalRadioSpins,
		Value:       value,
		ObservedAt:  time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC),
		SourceTable: "radio_spins",
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint(testRow(42))
	b := Fingerprint(testRow(42))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// Any scoring-relevant field change must move the fingerprint.
	changed := testRow(42)
	changed.Value = 42.0001
	assert.NotEqual(t, a, Fingerprint(changed))

	shifted := testRow(42)
	shifted.ObservedAt = shifted.ObservedAt.Add(time.Nanosecond)
	assert.NotEqual(t, a, Fingerprint(shifted))
}

func TestFingerprintTimezoneInsensitive(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	local := testRow(42)
	local.ObservedAt = local.ObservedAt.In(est)
	assert.Equal(t, Fingerprint(testRow(42)), Fingerprint(local))
}

func TestBuildRecords(t *testing.T) {
	tr := NewTracker(&fakeSignalReader{})
	now := time.Now()
	rows := []model.SignalRow{*testRow(42), {
		ID: "row-2", EntityID: "artist-1", SignalType: model.SignalVideoViews,
		Value: 9000, ObservedAt: now, SourceTable: "video_views",
	}}

	records := tr.BuildRecords("hist-1", rows, now)
	require.Len(t, records, 2)
	assert.Equal(t, "hist-1", records[0].HistoryID)
	assert.Equal(t, "radio_spins", records[0].SourceTable)
	assert.Equal(t, Fingerprint(&rows[0]), records[0].ContentFingerprint)
	assert.Equal(t, now.UTC(), records[0].CapturedAt)
}

func TestVerifyIntact(t *testing.T) {
	row := testRow(42)
	reader := &fakeSignalReader{
		records: []model.LineageRecord{{
			HistoryID: "hist-1", SourceTable: "radio_spins", SourceRowID: "row-1",
			ContentFingerprint: Fingerprint(row),
		}},
		rows: map[string]*model.SignalRow{RowRef("radio_spins", "row-1"): row},
	}

	result, err := NewTracker(reader).Verify(context.Background(), "hist-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.False(t, result.Tampered())
	assert.Empty(t, reader.issues)
}

func TestVerifyDetectsModifiedAndDeleted(t *testing.T) {
	original := testRow(42)
	tampered := testRow(99)
	reader := &fakeSignalReader{
		records: []model.LineageRecord{
			{HistoryID: "hist-1", SourceTable: "radio_spins", SourceRowID: "row-1",
				ContentFingerprint: Fingerprint(original)},
			{HistoryID: "hist-1", SourceTable: "video_views", SourceRowID: "row-2",
				ContentFingerprint: "whatever"},
		},
		rows: map[string]*model.SignalRow{
			RowRef("radio_spins", "row-1"): tampered,
			// row-2 absent: deleted
		},
	}

	result, err := NewTracker(reader).Verify(context.Background(), "hist-1")
	require.NoError(t, err)
	assert.True(t, result.Tampered())
	require.Len(t, result.Issues, 2)
	assert.Equal(t, model.LineageModified, result.Issues[0].Status)
	assert.Equal(t, "radio_spins/row-1", result.Issues[0].SourceRowRef)
	assert.Equal(t, model.LineageDeleted, result.Issues[1].Status)

	// Issues must be persisted, intact rows never.
	assert.Len(t, reader.issues, 2)
}

func TestVerifyRetriesTransientFetch(t *testing.T) {
	row := testRow(42)
	reader := &fakeSignalReader{
		records: []model.LineageRecord{{
			HistoryID: "hist-1", SourceTable: "radio_spins", SourceRowID: "row-1",
			ContentFingerprint: Fingerprint(row),
		}},
		rows:         map[string]*model.SignalRow{RowRef("radio_spins", "row-1"): row},
		fetchErr:     errTransientConn,
		fetchErrOnce: true,
	}

	result, err := NewTracker(reader).Verify(context.Background(), "hist-1")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.fetchCalls)
	assert.False(t, result.Tampered())
}

func TestVerifySkipsPersistentFetchError(t *testing.T) {
	reader := &fakeSignalReader{
		records: []model.LineageRecord{{
			HistoryID: "hist-1", SourceTable: "radio_spins", SourceRowID: "row-1",
			ContentFingerprint: "fp",
		}},
		fetchErr: errTransientConn,
	}

	result, err := NewTracker(reader).Verify(context.Background(), "hist-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Checked)
	// A row that cannot be read is never reported as tampering.
	assert.False(t, result.Tampered())
	assert.Empty(t, reader.issues)
}

func TestVerifyUnreadableRowDoesNotMaskOtherIssues(t *testing.T) {
	original := testRow(42)
	tampered := testRow(99)
	reader := &fakeSignalReader{
		records: []model.LineageRecord{
			{HistoryID: "hist-1", SourceTable: "radio_spins", SourceRowID: "row-1",
				ContentFingerprint: Fingerprint(original)},
			{HistoryID: "hist-1", SourceTable: "radio_spins", SourceRowID: "row-2",
				ContentFingerprint: "fp"},
			{HistoryID: "hist-1", SourceTable: "video_views", SourceRowID: "row-3",
				ContentFingerprint: "fp"},
		},
		rows: map[string]*model.SignalRow{
			RowRef("radio_spins", "row-1"): tampered,
			// row-3 absent: deleted
		},
		fetchErrFor: map[string]error{
			RowRef("radio_spins", "row-2"): errors.New("connection reset by peer"),
		},
	}

	result, err := NewTracker(reader).Verify(context.Background(), "hist-1")
	require.NoError(t, err)

	// The unreadable row is skipped; tampering on the other rows is
	// still detected and persisted.
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 2, result.Checked)
	require.Len(t, result.Issues, 2)
	assert.Equal(t, model.LineageModified, result.Issues[0].Status)
	assert.Equal(t, "radio_spins/row-1", result.Issues[0].SourceRowRef)
	assert.Equal(t, model.LineageDeleted, result.Issues[1].Status)
	assert.Equal(t, "video_views/row-3", result.Issues[1].SourceRowRef)
	assert.Len(t, reader.issues, 2)
}

func TestVerifyIncrementsIssueCounter(t *testing.T) {
	reader := &fakeSignalReader{
		records: []model.LineageRecord{
			{HistoryID: "hist-1", SourceTable: "radio_spins", SourceRowID: "row-1",
				ContentFingerprint: Fingerprint(testRow(42))},
			{HistoryID: "hist-1", SourceTable: "video_views", SourceRowID: "row-3",
				ContentFingerprint: "fp"},
		},
		rows: map[string]*model.SignalRow{
			RowRef("radio_spins", "row-1"): testRow(99),
		},
	}

	modified := metrics.LineageIssuesTotal.WithLabelValues(string(model.LineageModified))
	deleted := metrics.LineageIssuesTotal.WithLabelValues(string(model.LineageDeleted))
	modifiedBefore := testutil.ToFloat64(modified)
	deletedBefore := testutil.ToFloat64(deleted)

	_, err := NewTracker(reader).Verify(context.Background(), "hist-1")
	require.NoError(t, err)

	assert.Equal(t, modifiedBefore+1, testutil.ToFloat64(modified))
	assert.Equal(t, deletedBefore+1, testutil.ToFloat64(deleted))
}

func TestVerifyAbortsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader := &fakeSignalReader{
		records: []model.LineageRecord{{
			HistoryID: "hist-1", SourceTable: "radio_spins", SourceRowID: "row-1",
			ContentFingerprint: "fp",
		}},
		fetchErr: context.Canceled,
	}

	_, err := NewTracker(reader).Verify(ctx, "hist-1")
	require.Error(t, err)
	assert.Empty(t, reader.issues)
}
