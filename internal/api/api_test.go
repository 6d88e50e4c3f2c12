package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngn-platform/score-integrity/internal/config"
	"github.com/ngn-platform/score-integrity/internal/dispute"
	"github.com/ngn-platform/score-integrity/internal/model"
	"github.com/ngn-platform/score-integrity/internal/receipt"
	"github.com/ngn-platform/score-integrity/internal/store"
	"github.com/ngn-platform/score-integrity/internal/verify"
)

type fakeAPIStore struct {
	history  map[string]*model.ScoreHistoryEntry
	receipts map[string]*model.FairnessReceipt
	managers map[string]bool
	stats    store.VerificationStats
	disputes int
}

func newFakeAPIStore() *fakeAPIStore {
	return &fakeAPIStore{
		history:  map[string]*model.ScoreHistoryEntry{},
		receipts: map[string]*model.FairnessReceipt{},
		managers: map[string]bool{},
	}
}

func (f *fakeAPIStore) GetScoreHistory(_ context.Context, id string) (*model.ScoreHistoryEntry, error) {
	return f.history[id], nil
}

func (f *fakeAPIStore) ListHistoryByEntity(_ context.Context, entityType model.EntityType, entityID string, _ int) ([]model.ScoreHistoryEntry, error) {
	var out []model.ScoreHistoryEntry
	for _, e := range f.history {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeAPIStore) GetReceipt(_ context.Context, receiptID string) (*model.FairnessReceipt, error) {
	return f.receipts[receiptID], nil
}

func (f *fakeAPIStore) ListReceiptsByEntity(_ context.Context, entityType model.EntityType, entityID string) ([]model.FairnessReceipt, error) {
	var out []model.FairnessReceipt
	for _, r := range f.receipts {
		if r.EntityType == entityType && r.EntityID == entityID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeAPIStore) ActorManagesEntity(_ context.Context, actorID string, entityType model.EntityType, entityID string) (bool, error) {
	return f.managers[actorID+"/"+string(entityType)+"/"+entityID], nil
}

func (f *fakeAPIStore) VerificationStats(_ context.Context, _, _ time.Time) (*store.VerificationStats, error) {
	s := f.stats
	return &s, nil
}

func (f *fakeAPIStore) CountLineageIssues(_ context.Context, _, _ time.Time) (map[model.LineageStatus]int, error) {
	return map[model.LineageStatus]int{}, nil
}

func (f *fakeAPIStore) CountDisputes(_ context.Context, _, _ time.Time) (int, error) {
	return f.disputes, nil
}

func (f *fakeAPIStore) Ping(_ context.Context) error { return nil }

type fakeChecker struct {
	outcomes map[string]string
}

func (f *fakeChecker) Check(_ context.Context, receiptID, _ string) (*receipt.CheckOutcome, error) {
	outcome, ok := f.outcomes[receiptID]
	if !ok {
		outcome = model.ReceiptCheckNotFound
	}
	return &receipt.CheckOutcome{Outcome: outcome}, nil
}

type fakeVerifier struct {
	result *model.VerificationResult
	bulk   *verify.BulkResult
}

func (f *fakeVerifier) VerifyScore(_ context.Context, _ string) (*model.VerificationResult, error) {
	return f.result, nil
}

func (f *fakeVerifier) RunBulkVerification(_ context.Context, _, _ time.Time, _ int) (*verify.BulkResult, error) {
	return f.bulk, nil
}

type fakeDisputes struct {
	created *dispute.CreateRequest
	fail    error
	list    []model.Dispute
}

func (f *fakeDisputes) Create(_ context.Context, req dispute.CreateRequest) (*model.Dispute, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.created = &req
	return &model.Dispute{ID: "disp-1", Status: model.DisputeOpen, EntityID: req.EntityID}, nil
}

func (f *fakeDisputes) List(_ context.Context, _ store.DisputeFilter) ([]model.Dispute, error) {
	return f.list, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Receipt.RateLimitPerMin = 6000
	cfg.Receipt.RateLimitBurst = 100
	cfg.Server.APITokens = []config.TokenConfig{
		{Token: "admin-token", ActorID: "admin-1", Admin: true},
		{Token: "mgr-token", ActorID: "mgr-1"},
	}
	return cfg
}

type fixture struct {
	store    *fakeAPIStore
	checker  *fakeChecker
	verifier *fakeVerifier
	disputes *fakeDisputes
	router   http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		store:    newFakeAPIStore(),
		checker:  &fakeChecker{outcomes: map[string]string{}},
		verifier: &fakeVerifier{},
		disputes: &fakeDisputes{},
	}
	h := NewHandlers(f.store, f.checker, f.verifier, f.disputes)
	f.router = NewRouter(h, testConfig())
	return f
}

func do(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture()
	rec := do(t, f.router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyReceiptOutcomes(t *testing.T) {
	f := newFixture()
	f.checker.outcomes["r-valid"] = model.ReceiptCheckValid
	f.checker.outcomes["r-bad"] = model.ReceiptCheckTampered

	rec := do(t, f.router, http.MethodGet, "/verify?receipt_id=r-valid", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	out := decode[verifyResponse](t, rec)
	assert.True(t, out.Valid)
	assert.False(t, out.TamperingDetected)

	rec = do(t, f.router, http.MethodGet, "/verify?receipt_id=r-bad", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	out = decode[verifyResponse](t, rec)
	assert.False(t, out.Valid)
	assert.True(t, out.TamperingDetected)

	rec = do(t, f.router, http.MethodGet, "/verify?receipt_id=ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, f.router, http.MethodGet, "/verify", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyRateLimited(t *testing.T) {
	f := newFixture()
	cfg := testConfig()
	cfg.Receipt.RateLimitPerMin = 1
	cfg.Receipt.RateLimitBurst = 1
	h := NewHandlers(f.store, f.checker, f.verifier, f.disputes)
	router := NewRouter(h, cfg)

	rec := do(t, router, http.MethodGet, "/verify?receipt_id=x", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/verify?receipt_id=x", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestPublicReceipt(t *testing.T) {
	f := newFixture()
	f.store.receipts["r-pub"] = &model.FairnessReceipt{
		ReceiptID:  "r-pub",
		EntityType: model.EntityArtist,
		EntityID:   "artist-1",
		Rank:       2,
		Score:      77.0,
		Factors:    map[string]model.Factor{"radio_spins": {Weight: 35, Value: 100}},
		Period:     "2026-03",
		Visibility: model.ReceiptPublic,
		Signature:  "sig",
	}
	f.store.receipts["r-priv"] = &model.FairnessReceipt{
		ReceiptID:  "r-priv",
		Visibility: model.ReceiptPrivate,
	}

	rec := do(t, f.router, http.MethodGet, "/receipts/public/r-pub", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	view := decode[publicReceiptView](t, rec)
	assert.Equal(t, []string{"radio_spins"}, view.Factors)
	// The reduced projection never carries weights or values.
	assert.NotContains(t, rec.Body.String(), "weight")

	// Private receipts are invisible on the public path.
	rec = do(t, f.router, http.MethodGet, "/receipts/public/r-priv", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, f.router, http.MethodGet, "/receipts/public/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrivateReceiptsAuth(t *testing.T) {
	f := newFixture()
	f.store.managers["mgr-1/artist/artist-1"] = true
	f.store.receipts["r-1"] = &model.FairnessReceipt{
		ReceiptID: "r-1", EntityType: model.EntityArtist, EntityID: "artist-1",
		Visibility: model.ReceiptPrivate,
	}
	path := "/receipts/private?entity_type=artist&entity_id=artist-1"

	rec := do(t, f.router, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, f.router, http.MethodGet, path, "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, f.router, http.MethodGet, path, "mgr-token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A manager cannot read another entity's receipts; an admin can.
	other := "/receipts/private?entity_type=artist&entity_id=artist-2"
	rec = do(t, f.router, http.MethodGet, other, "mgr-token", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, f.router, http.MethodGet, other, "admin-token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuditVerifyScoreOwnership(t *testing.T) {
	f := newFixture()
	f.store.history["hist-1"] = &model.ScoreHistoryEntry{
		ID: "hist-1", EntityID: "artist-1", EntityType: model.EntityArtist,
	}
	f.store.managers["mgr-1/artist/artist-1"] = true
	f.verifier.result = &model.VerificationResult{
		HistoryID: "hist-1", Status: model.VerificationPassed,
	}

	body := map[string]string{"action": "verify_score", "history_id": "hist-1"}
	rec := do(t, f.router, http.MethodPost, "/audit/verify-score", "mgr-token", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	result := decode[model.VerificationResult](t, rec)
	assert.Equal(t, model.VerificationPassed, result.Status)

	// Another manager's entry is off limits.
	f.store.history["hist-2"] = &model.ScoreHistoryEntry{
		ID: "hist-2", EntityID: "artist-2", EntityType: model.EntityArtist,
	}
	body["history_id"] = "hist-2"
	rec = do(t, f.router, http.MethodPost, "/audit/verify-score", "mgr-token", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, f.router, http.MethodPost, "/audit/verify-score", "admin-token", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	body["history_id"] = "ghost"
	rec = do(t, f.router, http.MethodPost, "/audit/verify-score", "admin-token", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditVerifyPeriodAdminOnly(t *testing.T) {
	f := newFixture()
	f.verifier.bulk = &verify.BulkResult{TotalVerified: 10, Passed: 10}

	body := map[string]any{"action": "verify_period", "period_start": "2026-03"}
	rec := do(t, f.router, http.MethodPost, "/audit/verify-score", "mgr-token", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, f.router, http.MethodPost, "/audit/verify-score", "admin-token", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	result := decode[verify.BulkResult](t, rec)
	assert.Equal(t, 10, result.TotalVerified)

	body["period_start"] = "not-a-period"
	rec = do(t, f.router, http.MethodPost, "/audit/verify-score", "admin-token", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditGetMetricsAdminOnly(t *testing.T) {
	f := newFixture()
	f.store.stats = store.VerificationStats{TotalVerified: 50, Passed: 48, Failed: 2}
	f.store.disputes = 3

	body := map[string]string{"action": "get_integrity_metrics"}
	rec := do(t, f.router, http.MethodPost, "/audit/verify-score", "mgr-token", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, f.router, http.MethodPost, "/audit/verify-score", "admin-token", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	out := decode[map[string]any](t, rec)
	assert.Equal(t, float64(50), out["total_verified"])
	assert.Equal(t, float64(3), out["disputes"])
}

func TestAuditFileDispute(t *testing.T) {
	f := newFixture()

	body := map[string]string{
		"action":       "file_dispute",
		"entity_type":  "artist",
		"entity_id":    "artist-1",
		"history_id":   "hist-1",
		"dispute_type": "score_error",
		"description":  "score looks off",
	}
	rec := do(t, f.router, http.MethodPost, "/audit/verify-score", "mgr-token", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, f.disputes.created)
	// The acting principal, not the request body, names the filer.
	assert.Equal(t, "mgr-1", f.disputes.created.ActorID)

	f.disputes.fail = dispute.ErrNotPermitted
	rec = do(t, f.router, http.MethodPost, "/audit/verify-score", "mgr-token", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuditGetDisputesScoping(t *testing.T) {
	f := newFixture()
	f.store.managers["mgr-1/artist/artist-1"] = true
	f.disputes.list = []model.Dispute{{ID: "disp-1", Status: model.DisputeOpen}}

	// Non-admin must scope to a managed entity.
	body := map[string]string{"action": "get_disputes"}
	rec := do(t, f.router, http.MethodPost, "/audit/verify-score", "mgr-token", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body["entity_type"] = "artist"
	body["entity_id"] = "artist-1"
	rec = do(t, f.router, http.MethodPost, "/audit/verify-score", "mgr-token", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Admin may query unscoped.
	rec = do(t, f.router, http.MethodPost, "/audit/verify-score", "admin-token", map[string]string{"action": "get_disputes"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuditUnknownAction(t *testing.T) {
	f := newFixture()
	rec := do(t, f.router, http.MethodPost, "/audit/verify-score", "admin-token", map[string]string{"action": "explode"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
