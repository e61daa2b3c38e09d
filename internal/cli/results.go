package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/formflow/formflow/internal/abtest"
	"github.com/formflow/formflow/internal/app"
	"github.com/formflow/formflow/internal/domain"
)

func newResultsCmd(opts *options) *cobra.Command {
	var (
		goal   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "results <instance-id>",
		Short: "Show A/B test results for an instance",
		Long:  `Show assignments, conversions, lift over control and confidence for each variation.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(c *app.Container) error {
				ctx := cmd.Context()
				inst, err := lookupInstance(ctx, c, args[0])
				if err != nil {
					return err
				}

				assigner, err := app.Resolve[*abtest.Assigner](c.Registry, app.NameAssigner)
				if err != nil {
					return err
				}
				res, err := assigner.GetResults(ctx, inst, goal)
				if err != nil {
					return fmt.Errorf("failed to get results: %w", err)
				}

				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(res)
				}
				printResults(cmd, inst, goal, res)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&goal, "goal", domain.GoalSubmission, "conversion goal")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func printResults(cmd *cobra.Command, inst *domain.Instance, goal string, res *domain.ExperimentResults) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "INSTANCE: %s (%s)\n", inst.Name, inst.ID)
	fmt.Fprintf(out, "GOAL: %s\n", goal)
	fmt.Fprintln(out)

	if len(res.Variations) == 0 {
		fmt.Fprintln(out, "No variations configured.")
		return
	}

	fmt.Fprintln(out, "VARIATION         ASSIGNED  CONVERSIONS  RATE     LIFT      CONFIDENCE")
	fmt.Fprintln(out, strings.Repeat("─", 72))

	for _, v := range res.Variations {
		lift, confidence := "control", "-"
		if !v.IsControl {
			lift = fmt.Sprintf("%+.1f%%", v.RelativeImprovement)
			confidence = fmt.Sprintf("%.1f%%", v.Confidence*100)
		}
		indicator := ""
		if v.IsWinner {
			indicator = " ← WINNER"
		}

		fmt.Fprintf(out, "%-16s  %-8d  %-11d  %-7s  %-8s  %s%s\n",
			truncate(v.Name, 16),
			v.Assignments,
			v.Conversions,
			formatPercent(v.ConversionRate),
			lift,
			confidence,
			indicator,
		)
	}
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate)
}
