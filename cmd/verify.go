package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngn-platform/score-integrity/internal/model"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <history-id>",
	Short: "Re-verify one score history entry",
	Long:  "Recomputes the score from its recorded inputs and re-checks the lineage fingerprints of every source row. Prints the verification result as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		historyID := args[0]

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Verify.VerifyScore(ctx, historyID)
		if err != nil {
			return eris.Wrap(err, "verify score")
		}

		lineageResult, err := env.Lineage.Verify(ctx, historyID)
		if err != nil {
			return eris.Wrap(err, "verify lineage")
		}

		out := struct {
			Score   *model.VerificationResult `json:"score"`
			Lineage struct {
				Checked  int                  `json:"checked"`
				Tampered bool                 `json:"tampered"`
				Issues   []model.LineageIssue `json:"issues,omitempty"`
			} `json:"lineage"`
		}{Score: result}
		out.Lineage.Checked = lineageResult.Checked
		out.Lineage.Tampered = lineageResult.Tampered()
		out.Lineage.Issues = lineageResult.Issues

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
