package main

import (
	"context"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngn-platform/score-integrity/internal/lineage"
	"github.com/ngn-platform/score-integrity/internal/model"
	"github.com/ngn-platform/score-integrity/internal/monitoring"
	"github.com/ngn-platform/score-integrity/internal/store"
)

var (
	auditDryRun    bool
	auditSkipAlert bool
	auditReport    string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run the batch integrity audit",
	Long:  "Re-verifies unchecked scores, re-checks signal lineage, generates due audit reports, and applies retention. Intended to run nightly.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return runAudit(ctx, env)
	},
}

func init() {
	auditCmd.Flags().BoolVar(&auditDryRun, "dry-run", false, "skip retention deletes")
	auditCmd.Flags().BoolVar(&auditSkipAlert, "no-alerts", false, "evaluate but do not deliver alerts")
	auditCmd.Flags().StringVar(&auditReport, "report", "", "also generate this report regardless of schedule (daily|weekly|quarterly)")
	rootCmd.AddCommand(auditCmd)
}

// runAudit executes the four audit phases in order. A phase failure
// aborts the run: later phases report on the earlier ones, so partial
// data would produce misleading reports.
func runAudit(ctx context.Context, env *env) error {
	log := zap.L().Named("audit")
	runID := uuid.NewString()
	started := time.Now().UTC()
	periodEnd := started
	periodStart := started.AddDate(0, 0, -cfg.Lineage.LookbackDays)

	log.Info("audit run starting",
		zap.String("run_id", runID),
		zap.Time("period_start", periodStart),
		zap.Time("period_end", periodEnd),
	)

	// Phase 1: bulk score re-verification.
	bulk, err := env.Verify.RunBulkVerification(ctx, periodStart, periodEnd, cfg.Verification.BatchLimit)
	if err != nil {
		return err
	}
	log.Info("bulk verification complete",
		zap.Int("verified", bulk.TotalVerified),
		zap.Int("passed", bulk.Passed),
		zap.Int("failed", bulk.Failed),
		zap.Int("unverifiable", bulk.Unverifiable),
		zap.Int("errors", bulk.Errors),
		zap.Duration("duration", bulk.Duration),
	)

	// Phase 2: lineage re-check over the lookback window.
	tampered, err := recheckLineage(ctx, env, log, periodStart)
	if err != nil {
		return err
	}

	// Phase 3: due audit reports plus the run attestation.
	if err := generateDueReports(ctx, env, log, started); err != nil {
		return err
	}

	issues, err := env.Store.CountLineageIssues(ctx, periodStart, periodEnd)
	if err != nil {
		return err
	}
	disputes, err := env.Store.CountDisputes(ctx, periodStart, periodEnd)
	if err != nil {
		return err
	}

	snap := &monitoring.IntegritySnapshot{
		TotalVerified:  bulk.TotalVerified,
		Passed:         bulk.Passed,
		Failed:         bulk.Failed,
		Unverifiable:   bulk.Unverifiable,
		PassRate:       bulk.PassRate(),
		LineageIssues:  issues,
		DisputesOpened: disputes,
		RunDuration:    time.Since(started),
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
	}

	alerter := monitoring.NewAlerter(cfg.Monitoring, monitoring.Thresholds{
		AlertPassRate: cfg.Verification.AlertPassRate,
		DisputeVolume: cfg.Audit.DisputeVolumeAlert,
		LongRun:       time.Duration(cfg.Audit.LongRunThresholdSecs) * time.Second,
	})
	alerts := alerter.Evaluate(snap)
	if len(alerts) > 0 && !auditSkipAlert {
		sent := alerter.SendAlerts(ctx, alerts)
		log.Info("alerts delivered", zap.Int("raised", len(alerts)), zap.Int("sent", sent))
	}
	alerter.PostAttestation(ctx, monitoring.BuildAttestation(runID, snap, time.Now().UTC()))

	// Phase 4: retention.
	if !auditDryRun {
		if err := applyRetention(ctx, env.Store, log, started); err != nil {
			return err
		}
	}

	log.Info("audit run complete",
		zap.String("run_id", runID),
		zap.Float64("pass_rate", bulk.PassRate()),
		zap.Int("tampered_entries", tampered),
		zap.Duration("duration", time.Since(started)),
	)
	return nil
}

// recheckLineage re-verifies the lineage of every history entry in the
// lookback window, paging through the store in chunks. Returns how many
// entries showed tampering.
func recheckLineage(ctx context.Context, env *env, log *zap.Logger, since time.Time) (int, error) {
	chunk := cfg.Lineage.ChunkSize
	if chunk <= 0 {
		chunk = 200
	}

	tampered, skippedEntries, skippedRows := 0, 0, 0
	for offset := 0; ; offset += chunk {
		entries, err := env.Store.ListRecentHistory(ctx, since, chunk, offset)
		if err != nil {
			return tampered, err
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			if ctx.Err() != nil {
				return tampered, ctx.Err()
			}
			result, err := env.Lineage.Verify(ctx, entry.ID)
			if err != nil {
				// The entry was skipped, not misreported as tampering.
				// A later run picks it up again.
				skippedEntries++
				log.Warn("lineage check skipped",
					zap.String("history_id", entry.ID),
					zap.Error(err),
				)
				continue
			}
			skippedRows += result.Skipped
			if result.Tampered() {
				tampered++
				logTamper(log, &entry, result)
			}
		}

		if len(entries) < chunk {
			break
		}
	}

	log.Info("lineage re-check complete",
		zap.Int("tampered_entries", tampered),
		zap.Int("skipped_entries", skippedEntries),
		zap.Int("skipped_rows", skippedRows),
	)
	return tampered, nil
}

func logTamper(log *zap.Logger, entry *model.ScoreHistoryEntry, result *lineage.CheckResult) {
	log.Warn("lineage tampering detected",
		zap.String("history_id", entry.ID),
		zap.String("entity_id", entry.EntityID),
		zap.Int("checked", result.Checked),
		zap.Int("issues", len(result.Issues)),
	)
}

// generateDueReports always produces the daily report, and the weekly
// and quarterly ones on their boundaries. Regeneration is idempotent:
// reports upsert on (type, period_start).
func generateDueReports(ctx context.Context, env *env, log *zap.Logger, now time.Time) error {
	weekStart := time.Weekday(cfg.Audit.WeeklyReportWeekday)

	due := []model.ReportType{model.ReportDaily}
	if now.Weekday() == weekStart {
		due = append(due, model.ReportWeekly)
	}
	if isQuarterStart(now) {
		due = append(due, model.ReportQuarterly)
	}
	if forced := model.ReportType(auditReport); forced != "" {
		if !forced.Valid() {
			return eris.Errorf("unknown report type %q", auditReport)
		}
		if !slices.Contains(due, forced) {
			due = append(due, forced)
		}
	}

	for _, reportType := range due {
		report, err := env.Reports.Generate(ctx, reportType, now, weekStart)
		if err != nil {
			return err
		}
		log.Info("audit report generated",
			zap.String("type", string(reportType)),
			zap.Time("period_start", report.PeriodStart),
			zap.Int("findings", len(report.Findings)),
		)
	}
	return nil
}

func isQuarterStart(t time.Time) bool {
	return t.Day() == 1 && (t.Month()-1)%3 == 0
}

// applyRetention deletes verification results and lineage records past
// their retention windows.
func applyRetention(ctx context.Context, st store.Store, log *zap.Logger, now time.Time) error {
	verCutoff := now.AddDate(0, 0, -cfg.Audit.VerificationRetainDays)
	verDeleted, err := st.DeleteVerificationResultsBefore(ctx, verCutoff)
	if err != nil {
		return err
	}

	linCutoff := now.AddDate(0, 0, -cfg.Audit.LineageRetainDays)
	linDeleted, err := st.DeleteLineageRecordsBefore(ctx, linCutoff)
	if err != nil {
		return err
	}

	log.Info("retention applied",
		zap.Int("verification_deleted", verDeleted),
		zap.Int("lineage_deleted", linDeleted),
	)
	return nil
}
