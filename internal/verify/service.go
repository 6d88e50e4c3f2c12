// Package verify independently recomputes stored scores from their
// lineage and records pass/fail results.
package verify

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ngn-platform/score-integrity/internal/formula"
	"github.com/ngn-platform/score-integrity/internal/metrics"
	"github.com/ngn-platform/score-integrity/internal/model"
	"github.com/ngn-platform/score-integrity/internal/resilience"
)

// Epsilon floors the denominator of the percent difference so a stored
// score of zero cannot divide by zero.
const Epsilon = 1e-9

// DefaultPassThresholdPct is the maximum percent difference treated as
// a pass when no threshold is configured.
const DefaultPassThresholdPct = 0.5

// HistoryReader is the slice of the store the verifier needs.
type HistoryReader interface {
	GetScoreHistory(ctx context.Context, id string) (*model.ScoreHistoryEntry, error)
	ListUnverifiedHistory(ctx context.Context, periodStart, periodEnd time.Time, limit int) ([]model.ScoreHistoryEntry, error)
	ListLineage(ctx context.Context, historyID string) ([]model.LineageRecord, error)
	FetchSignalRow(ctx context.Context, sourceTable, rowID string) (*model.SignalRow, error)
	InsertVerificationResult(ctx context.Context, res *model.VerificationResult) error
	GetVerificationResult(ctx context.Context, historyID, verificationType string) (*model.VerificationResult, error)
}

// Service recomputes scores through the versioned formula registry and
// compares them to the stored values.
type Service struct {
	store        HistoryReader
	formulas     *formula.Registry
	thresholdPct float64
	concurrency  int
	log          *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPassThresholdPct overrides the pass threshold, in percent.
func WithPassThresholdPct(pct float64) Option {
	return func(s *Service) {
		if pct > 0 {
			s.thresholdPct = pct
		}
	}
}

// WithConcurrency bounds the number of parallel verifications in a
// bulk run.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func NewService(store HistoryReader, formulas *formula.Registry, opts ...Option) *Service {
	s := &Service{
		store:        store,
		formulas:     formulas,
		thresholdPct: DefaultPassThresholdPct,
		concurrency:  8,
		log:          zap.L().Named("verify"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyScore re-derives the score for one history entry and persists
// the result. Inputs are rebuilt from the live source rows named by the
// entry's lineage; if any of those rows is gone, the entry's inputs
// snapshot is used instead, and if there is no snapshot either the
// entry is recorded as unverifiable.
//
// Repeat calls return the already-stored result without recomputing.
func (s *Service) VerifyScore(ctx context.Context, historyID string) (*model.VerificationResult, error) {
	if prior, err := s.store.GetVerificationResult(ctx, historyID, model.VerificationTypeRecalculation); err != nil {
		return nil, err
	} else if prior != nil {
		return prior, nil
	}

	entry, err := s.store.GetScoreHistory(ctx, historyID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, eris.Errorf("verify: history entry not found: %s", historyID)
	}
	return s.verifyEntry(ctx, entry)
}

func (s *Service) verifyEntry(ctx context.Context, entry *model.ScoreHistoryEntry) (*model.VerificationResult, error) {
	inputs, ok, err := s.rebuildInputs(ctx, entry)
	if err != nil {
		return nil, err
	}

	result := &model.VerificationResult{
		ID:               uuid.New().String(),
		HistoryID:        entry.ID,
		VerificationType: model.VerificationTypeRecalculation,
		VerifiedAt:       time.Now().UTC(),
	}

	if !ok {
		result.Status = model.VerificationUnverifiable
	} else {
		recomputed, err := s.formulas.Compute(inputs, entry.FormulaVersion)
		if err != nil {
			return nil, eris.Wrapf(err, "verify: recompute %s", entry.ID)
		}
		result.RecomputedValue = recomputed
		result.PercentDifference = math.Abs(recomputed-entry.ScoreValue) / math.Max(math.Abs(entry.ScoreValue), Epsilon)

		if result.PercentDifference*100 <= s.thresholdPct {
			result.Status = model.VerificationPassed
		} else {
			result.Status = model.VerificationFailed
			s.log.Warn("score verification failed",
				zap.String("history_id", entry.ID),
				zap.String("entity_id", entry.EntityID),
				zap.Float64("stored", entry.ScoreValue),
				zap.Float64("recomputed", recomputed),
				zap.Float64("percent_difference", result.PercentDifference),
			)
		}
	}

	if err := s.store.InsertVerificationResult(ctx, result); err != nil {
		return nil, err
	}
	metrics.VerificationsTotal.WithLabelValues(string(result.Status)).Inc()
	return result, nil
}

// rebuildInputs reconstructs the formula inputs for an entry. Returns
// ok=false when the inputs cannot be reconstructed at all.
func (s *Service) rebuildInputs(ctx context.Context, entry *model.ScoreHistoryEntry) (formula.Inputs, bool, error) {
	records, err := s.store.ListLineage(ctx, entry.ID)
	if err != nil {
		return formula.Inputs{}, false, eris.Wrapf(err, "verify: list lineage %s", entry.ID)
	}

	rows := make([]model.SignalRow, 0, len(records))
	complete := len(records) > 0
	for _, rec := range records {
		rec := rec
		row, err := resilience.RetryOnce(ctx, func(ctx context.Context) (*model.SignalRow, error) {
			return s.store.FetchSignalRow(ctx, rec.SourceTable, rec.SourceRowID)
		})
		if err != nil {
			return formula.Inputs{}, false, eris.Wrapf(err, "verify: fetch %s/%s", rec.SourceTable, rec.SourceRowID)
		}
		if row == nil {
			complete = false
			break
		}
		rows = append(rows, *row)
	}

	if complete {
		return formula.InputsFromRows(rows), true, nil
	}
	if entry.InputsSnapshot != nil {
		return formula.InputsFromSnapshot(entry.InputsSnapshot), true, nil
	}
	return formula.Inputs{}, false, nil
}

// Failure describes one entry whose recomputation disagreed with the
// stored score.
type Failure struct {
	HistoryID         string  `json:"history_id"`
	EntityID          string  `json:"entity_id"`
	StoredValue       float64 `json:"stored_value"`
	RecomputedValue   float64 `json:"recomputed_value"`
	PercentDifference float64 `json:"percent_difference"`
}

// BulkResult summarizes one bulk verification run.
type BulkResult struct {
	TotalVerified int           `json:"total_verified"`
	Passed        int           `json:"passed"`
	Failed        int           `json:"failed"`
	Unverifiable  int           `json:"unverifiable"`
	Errors        int           `json:"errors"`
	Failures      []Failure     `json:"failures,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// PassRate returns passed/total, or 1 for an empty run.
func (r *BulkResult) PassRate() float64 {
	if r.TotalVerified == 0 {
		return 1
	}
	return float64(r.Passed) / float64(r.TotalVerified)
}

// RunBulkVerification verifies every not-yet-verified entry in the
// period window. Entries are processed with bounded parallelism; a
// per-entry error is logged and counted rather than aborting the run,
// so one bad row cannot sink a batch.
func (s *Service) RunBulkVerification(ctx context.Context, periodStart, periodEnd time.Time, limit int) (*BulkResult, error) {
	started := time.Now()
	entries, err := s.store.ListUnverifiedHistory(ctx, periodStart, periodEnd, limit)
	if err != nil {
		return nil, eris.Wrap(err, "verify: list unverified")
	}

	var mu sync.Mutex
	result := &BulkResult{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range entries {
		entry := entries[i]
		g.Go(func() error {
			res, err := s.verifyEntry(gctx, &entry)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				result.Errors++
				s.log.Error("verification errored",
					zap.String("history_id", entry.ID),
					zap.Error(err),
				)
				return nil
			}

			result.TotalVerified++
			switch res.Status {
			case model.VerificationPassed:
				result.Passed++
			case model.VerificationFailed:
				result.Failed++
				result.Failures = append(result.Failures, Failure{
					HistoryID:         entry.ID,
					EntityID:          entry.EntityID,
					StoredValue:       entry.ScoreValue,
					RecomputedValue:   res.RecomputedValue,
					PercentDifference: res.PercentDifference,
				})
			case model.VerificationUnverifiable:
				result.Unverifiable++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "verify: bulk run")
	}

	result.Duration = time.Since(started)
	metrics.BulkRunSeconds.Observe(result.Duration.Seconds())
	s.log.Info("bulk verification finished",
		zap.Int("total", result.TotalVerified),
		zap.Int("passed", result.Passed),
		zap.Int("failed", result.Failed),
		zap.Int("unverifiable", result.Unverifiable),
		zap.Int("errors", result.Errors),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}
