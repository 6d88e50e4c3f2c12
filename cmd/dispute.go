package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngn-platform/score-integrity/internal/model"
	"github.com/ngn-platform/score-integrity/internal/store"
)

var disputeCmd = &cobra.Command{
	Use:   "dispute",
	Short: "Inspect and resolve score disputes",
	Long:  "Operator commands for working the dispute queue. Filing disputes happens through the audit API.",
}

// -- dispute list --

var (
	disputeStatus string
	disputeEntity string
	disputeLimit  int
)

var disputeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List disputes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := store.DisputeFilter{
			Status:   model.DisputeStatus(disputeStatus),
			EntityID: disputeEntity,
			Limit:    disputeLimit,
		}

		disputes, err := st.ListDisputes(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "dispute list")
		}

		if len(disputes) == 0 {
			fmt.Fprintln(os.Stderr, "No disputes found.")
			return nil
		}

		formatDisputeList(os.Stdout, disputes)
		return nil
	},
}

// -- dispute show --

var disputeShowCmd = &cobra.Command{
	Use:   "show <dispute-id>",
	Short: "Show full details of a dispute",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		d, err := st.GetDispute(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "dispute show")
		}
		if d == nil {
			return eris.Errorf("no dispute with ID %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	},
}

// -- dispute review / resolve / reject --

var (
	disputeActor     string
	disputeNotes     string
	disputeScore     float64
	disputeCorrected bool
)

var disputeReviewCmd = &cobra.Command{
	Use:   "review <dispute-id>",
	Short: "Move an open dispute into review",
	Args:  cobra.ExactArgs(1),
	RunE: transitionRunE(func(ctx context.Context, e *env, id string) (*model.Dispute, error) {
		return e.Disputes.Review(ctx, id, disputeActor)
	}),
}

var disputeResolveCmd = &cobra.Command{
	Use:   "resolve <dispute-id>",
	Short: "Resolve a dispute (requires --notes)",
	Long:  "Resolves a dispute. With --corrected-score, also appends a corrected ledger entry linked to the disputed one; the original entry is never modified.",
	Args:  cobra.ExactArgs(1),
	PreRun: func(cmd *cobra.Command, _ []string) {
		disputeCorrected = cmd.Flags().Changed("corrected-score")
	},
	RunE: transitionRunE(func(ctx context.Context, e *env, id string) (*model.Dispute, error) {
		if disputeCorrected {
			return e.Disputes.ResolveWithCorrection(ctx, id, disputeActor, disputeNotes, disputeScore)
		}
		return e.Disputes.Resolve(ctx, id, disputeActor, disputeNotes)
	}),
}

var disputeRejectCmd = &cobra.Command{
	Use:   "reject <dispute-id>",
	Short: "Reject a dispute",
	Args:  cobra.ExactArgs(1),
	RunE: transitionRunE(func(ctx context.Context, e *env, id string) (*model.Dispute, error) {
		return e.Disputes.Reject(ctx, id, disputeActor, disputeNotes)
	}),
}

// transitionRunE wraps a dispute transition in the shared wiring and
// output handling.
func transitionRunE(fn func(context.Context, *env, string) (*model.Dispute, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		d, err := fn(ctx, env, args[0])
		if err != nil {
			return err
		}

		zap.L().Info("dispute transitioned",
			zap.String("dispute_id", d.ID),
			zap.String("status", string(d.Status)),
		)
		return nil
	}
}

func formatDisputeList(out io.Writer, disputes []model.Dispute) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tENTITY\tTYPE\tSTATUS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t------\t-------")

	for _, d := range disputes {
		_, _ = fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%s\n",
			truncateID(d.ID),
			d.EntityType,
			d.EntityID,
			d.Type,
			d.Status,
			d.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	disputeListCmd.Flags().StringVar(&disputeStatus, "status", "", "filter by status (open|reviewing|resolved|rejected)")
	disputeListCmd.Flags().StringVar(&disputeEntity, "entity-id", "", "filter by entity ID")
	disputeListCmd.Flags().IntVar(&disputeLimit, "limit", 50, "max disputes to list")

	for _, c := range []*cobra.Command{disputeReviewCmd, disputeResolveCmd, disputeRejectCmd} {
		c.Flags().StringVar(&disputeActor, "actor", "", "acting operator ID (required)")
		c.Flags().StringVar(&disputeNotes, "notes", "", "resolution notes")
		c.MarkFlagRequired("actor")
	}
	disputeResolveCmd.Flags().Float64Var(&disputeScore, "corrected-score", 0, "append a corrected ledger entry with this score")

	disputeCmd.AddCommand(disputeListCmd)
	disputeCmd.AddCommand(disputeShowCmd)
	disputeCmd.AddCommand(disputeReviewCmd)
	disputeCmd.AddCommand(disputeResolveCmd)
	disputeCmd.AddCommand(disputeRejectCmd)
	rootCmd.AddCommand(disputeCmd)
}
