package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ngn-platform/score-integrity/internal/model"
)

// Attestation is the signed-run summary posted to an external
// transparency endpoint after each audit run, so a third party can
// attest the engine actually ran and what it found.
type Attestation struct {
	RunID         string    `json:"run_id"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	TotalVerified int       `json:"total_verified"`
	Passed        int       `json:"passed"`
	Failed        int       `json:"failed"`
	Unverifiable  int       `json:"unverifiable"`
	PassRate      float64   `json:"pass_rate"`
	TamperedRows  int       `json:"tampered_rows"`
	CompletedAt   time.Time `json:"completed_at"`
}

// PostAttestation delivers a run attestation to the configured
// endpoint. Delivery is best-effort: a failure is logged, never
// propagated, because the audit run already succeeded.
func (a *Alerter) PostAttestation(ctx context.Context, att *Attestation) {
	if a.cfg.AttestationURL == "" {
		return
	}
	if err := a.post(ctx, a.cfg.AttestationURL, att); err != nil {
		zap.L().Warn("monitoring: attestation delivery failed",
			zap.String("run_id", att.RunID),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("monitoring: attestation posted",
		zap.String("run_id", att.RunID),
		zap.Float64("pass_rate", att.PassRate),
	)
}

// BuildAttestation assembles an attestation from a snapshot.
func BuildAttestation(runID string, snap *IntegritySnapshot, completedAt time.Time) *Attestation {
	return &Attestation{
		RunID:         runID,
		PeriodStart:   snap.PeriodStart,
		PeriodEnd:     snap.PeriodEnd,
		TotalVerified: snap.TotalVerified,
		Passed:        snap.Passed,
		Failed:        snap.Failed,
		Unverifiable:  snap.Unverifiable,
		PassRate:      snap.PassRate,
		TamperedRows:  snap.LineageIssues[model.LineageModified] + snap.LineageIssues[model.LineageDeleted],
		CompletedAt:   completedAt.UTC(),
	}
}
