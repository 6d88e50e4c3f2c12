package receipt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngn-platform/score-integrity/internal/formula"
	"github.com/ngn-platform/score-integrity/internal/model"
)

type fakeReceiptStore struct {
	history  map[string]*model.ScoreHistoryEntry
	receipts map[string]*model.FairnessReceipt
	audit    []model.ReceiptAuditEntry
}

func newFakeReceiptStore() *fakeReceiptStore {
	return &fakeReceiptStore{
		history:  map[string]*model.ScoreHistoryEntry{},
		receipts: map[string]*model.FairnessReceipt{},
	}
}

func (f *fakeReceiptStore) LatestHistoryForPeriod(_ context.Context, entityType model.EntityType, entityID string, periodStart time.Time) (*model.ScoreHistoryEntry, error) {
	return f.history[string(entityType)+"/"+entityID+"/"+periodStart.UTC().Format("2006-01")], nil
}

func (f *fakeReceiptStore) InsertReceipt(_ context.Context, r *model.FairnessReceipt) error {
	cp := *r
	f.receipts[r.ReceiptID] = &cp
	return nil
}

func (f *fakeReceiptStore) ListReceiptsByEntity(_ context.Context, entityType model.EntityType, entityID string) ([]model.FairnessReceipt, error) {
	var out []model.FairnessReceipt
	for _, r := range f.receipts {
		if r.EntityType == entityType && r.EntityID == entityID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeReceiptStore) GetReceipt(_ context.Context, receiptID string) (*model.FairnessReceipt, error) {
	return f.receipts[receiptID], nil
}

func (f *fakeReceiptStore) IncrementReceiptVerifications(_ context.Context, receiptID string) error {
	f.receipts[receiptID].VerificationCount++
	return nil
}

func (f *fakeReceiptStore) AppendReceiptAudit(_ context.Context, e *model.ReceiptAuditEntry) error {
	f.audit = append(f.audit, *e)
	return nil
}

const testSecret = "test-signing-secret"

func seedHistoryEntry(f *fakeReceiptStore) *model.ScoreHistoryEntry {
	periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	entry := &model.ScoreHistoryEntry{
		ID:             "hist-1",
		EntityID:       "artist-1",
		EntityType:     model.EntityArtist,
		PeriodStart:    periodStart,
		PeriodEnd:      periodStart.AddDate(0, 1, 0),
		ScoreValue:     82.4,
		Rank:           3,
		FormulaVersion: "v1",
		InputsSnapshot: &model.InputsSnapshot{RadioSpins: 120, SocialMentions: 45, VideoViews: 9000, Releases: 2},
		CalculatedAt:   time.Now().UTC(),
	}
	f.history["artist/artist-1/2026-03"] = entry
	return entry
}

func newTestIssuer(t *testing.T, f *fakeReceiptStore) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(f, formula.NewRegistry(), testSecret)
	require.NoError(t, err)
	return issuer
}

func newTestVerifier(t *testing.T, f *fakeReceiptStore) *Verifier {
	t.Helper()
	verifier, err := NewVerifier(f, testSecret)
	require.NoError(t, err)
	return verifier
}

func TestIssuePrivateReceipt(t *testing.T) {
	f := newFakeReceiptStore()
	seedHistoryEntry(f)
	issuer := newTestIssuer(t, f)

	r, err := issuer.Issue(context.Background(), model.EntityArtist, "artist-1",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), model.ReceiptPrivate)
	require.NoError(t, err)

	assert.Equal(t, "2026-03", r.Period)
	assert.Equal(t, 3, r.Rank)
	assert.NotEmpty(t, r.Signature)
	assert.NotEmpty(t, r.CanonicalPayload)
	require.Contains(t, r.Factors, "radio_spins")
	assert.Equal(t, 35.0, r.Factors["radio_spins"].Weight)
	assert.Equal(t, 120.0, r.Factors["radio_spins"].Value)

	// Private payload carries the full breakdown.
	var payload map[string]any
	require.NoError(t, json.Unmarshal(r.CanonicalPayload, &payload))
	factors, ok := payload["factors"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, factors, "video_views")
}

func TestIssuePublicReceiptWithholdsBreakdown(t *testing.T) {
	f := newFakeReceiptStore()
	seedHistoryEntry(f)
	issuer := newTestIssuer(t, f)

	r, err := issuer.Issue(context.Background(), model.EntityArtist, "artist-1",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), model.ReceiptPublic)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(r.CanonicalPayload, &payload))
	names, ok := payload["factors"].([]any)
	require.True(t, ok, "public payload factors must be a name list")
	assert.Len(t, names, 4)
	assert.NotContains(t, string(r.CanonicalPayload), "weight")
}

func TestIssueRequiresScoreAndSnapshot(t *testing.T) {
	f := newFakeReceiptStore()
	issuer := newTestIssuer(t, f)
	ctx := context.Background()
	period := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := issuer.Issue(ctx, model.EntityArtist, "nobody", period, model.ReceiptPublic)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no score")

	entry := seedHistoryEntry(f)
	entry.InputsSnapshot = nil
	_, err = issuer.Issue(ctx, model.EntityArtist, "artist-1", period, model.ReceiptPublic)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no inputs snapshot")
}

func TestCanonicalPayloadDeterministic(t *testing.T) {
	f := newFakeReceiptStore()
	seedHistoryEntry(f)
	issuer := newTestIssuer(t, f)

	r, err := issuer.Issue(context.Background(), model.EntityArtist, "artist-1",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), model.ReceiptPrivate)
	require.NoError(t, err)

	again, err := CanonicalPayload(r)
	require.NoError(t, err)
	assert.Equal(t, r.CanonicalPayload, again)
}

func TestVerifyRoundTrip(t *testing.T) {
	f := newFakeReceiptStore()
	seedHistoryEntry(f)
	issuer := newTestIssuer(t, f)
	verifier := newTestVerifier(t, f)
	ctx := context.Background()

	r, err := issuer.Issue(ctx, model.EntityArtist, "artist-1",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), model.ReceiptPublic)
	require.NoError(t, err)

	out, err := verifier.Check(ctx, r.ReceiptID, "caller-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReceiptCheckValid, out.Outcome)
	require.NotNil(t, out.Receipt)
	assert.Equal(t, 1, f.receipts[r.ReceiptID].VerificationCount)

	out, err = verifier.Check(ctx, r.ReceiptID, "caller-2")
	require.NoError(t, err)
	assert.Equal(t, model.ReceiptCheckValid, out.Outcome)
	assert.Equal(t, 2, f.receipts[r.ReceiptID].VerificationCount)

	require.Len(t, f.audit, 2)
	assert.Equal(t, "caller-1", f.audit[0].Caller)
}

func TestVerifyDetectsTamperedPayload(t *testing.T) {
	f := newFakeReceiptStore()
	seedHistoryEntry(f)
	issuer := newTestIssuer(t, f)
	verifier := newTestVerifier(t, f)
	ctx := context.Background()

	r, err := issuer.Issue(ctx, model.EntityArtist, "artist-1",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), model.ReceiptPrivate)
	require.NoError(t, err)

	// Inflate the score inside the stored payload.
	stored := f.receipts[r.ReceiptID]
	tampered := []byte(string(stored.CanonicalPayload))
	tampered[len(tampered)/2] ^= 0x01
	stored.CanonicalPayload = tampered

	out, err := verifier.Check(ctx, r.ReceiptID, "attacker")
	require.NoError(t, err)
	assert.Equal(t, model.ReceiptCheckTampered, out.Outcome)
	assert.Equal(t, 0, stored.VerificationCount)

	require.Len(t, f.audit, 1)
	assert.Equal(t, model.ReceiptCheckTampered, f.audit[0].Outcome)
}

func TestVerifyDetectsTamperedSignature(t *testing.T) {
	f := newFakeReceiptStore()
	seedHistoryEntry(f)
	issuer := newTestIssuer(t, f)
	verifier := newTestVerifier(t, f)
	ctx := context.Background()

	r, err := issuer.Issue(ctx, model.EntityArtist, "artist-1",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), model.ReceiptPrivate)
	require.NoError(t, err)

	f.receipts[r.ReceiptID].Signature = "not-even-hex"
	out, err := verifier.Check(ctx, r.ReceiptID, "")
	require.NoError(t, err)
	assert.Equal(t, model.ReceiptCheckTampered, out.Outcome)
}

func TestVerifyMissingReceipt(t *testing.T) {
	f := newFakeReceiptStore()
	verifier := newTestVerifier(t, f)

	out, err := verifier.Check(context.Background(), "missing", "caller")
	require.NoError(t, err)
	assert.Equal(t, model.ReceiptCheckNotFound, out.Outcome)
	assert.Nil(t, out.Receipt)

	// Probes for nonexistent receipts still land in the audit log.
	require.Len(t, f.audit, 1)
	assert.Equal(t, model.ReceiptCheckNotFound, f.audit[0].Outcome)
}

func TestWrongSecretReadsAsTampered(t *testing.T) {
	f := newFakeReceiptStore()
	seedHistoryEntry(f)
	issuer := newTestIssuer(t, f)
	ctx := context.Background()

	r, err := issuer.Issue(ctx, model.EntityArtist, "artist-1",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), model.ReceiptPublic)
	require.NoError(t, err)

	other, err := NewVerifier(f, "different-secret")
	require.NoError(t, err)
	out, err := other.Check(ctx, r.ReceiptID, "")
	require.NoError(t, err)
	assert.Equal(t, model.ReceiptCheckTampered, out.Outcome)
}
