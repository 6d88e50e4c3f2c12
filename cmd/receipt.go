package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngn-platform/score-integrity/internal/model"
)

var receiptCmd = &cobra.Command{
	Use:   "receipt",
	Short: "Issue and verify fairness receipts",
}

// -- receipt issue --

var (
	receiptEntityType string
	receiptEntityID   string
	receiptPeriod     string
	receiptPrivate    bool
)

var receiptIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a signed fairness receipt for an entity's period score",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("receipt"); err != nil {
			return err
		}

		entityType := model.EntityType(receiptEntityType)
		if !entityType.Valid() {
			return eris.Errorf("invalid entity type %q, want artist or label", receiptEntityType)
		}
		periodStart, err := time.Parse("2006-01", receiptPeriod)
		if err != nil {
			return eris.Wrapf(err, "invalid period %q, want YYYY-MM", receiptPeriod)
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		visibility := model.ReceiptPublic
		if receiptPrivate {
			visibility = model.ReceiptPrivate
		}

		r, err := env.Issuer.Issue(ctx, entityType, receiptEntityID, periodStart, visibility)
		if err != nil {
			return eris.Wrap(err, "issue receipt")
		}

		zap.L().Info("receipt issued",
			zap.String("receipt_id", r.ReceiptID),
			zap.String("entity_id", r.EntityID),
			zap.String("period", r.Period),
			zap.String("visibility", string(r.Visibility)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	},
}

// -- receipt verify --

var receiptVerifyCmd = &cobra.Command{
	Use:   "verify <receipt-id>",
	Short: "Re-check a receipt's signature against the stored payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("receipt"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		outcome, err := env.Checker.Check(ctx, args[0], "cli")
		if err != nil {
			return eris.Wrap(err, "verify receipt")
		}

		fmt.Println(outcome.Outcome)
		if outcome.Outcome != model.ReceiptCheckValid {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	receiptIssueCmd.Flags().StringVar(&receiptEntityType, "entity-type", "artist", "entity type (artist|label)")
	receiptIssueCmd.Flags().StringVar(&receiptEntityID, "entity-id", "", "entity ID (required)")
	receiptIssueCmd.Flags().StringVar(&receiptPeriod, "period", "", "chart period, YYYY-MM (required)")
	receiptIssueCmd.Flags().BoolVar(&receiptPrivate, "private", false, "issue with the full factor breakdown (manager receipts)")
	receiptIssueCmd.MarkFlagRequired("entity-id")
	receiptIssueCmd.MarkFlagRequired("period")

	receiptCmd.AddCommand(receiptIssueCmd)
	receiptCmd.AddCommand(receiptVerifyCmd)
	rootCmd.AddCommand(receiptCmd)
}
