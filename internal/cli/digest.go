package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/formflow/formflow/internal/app"
	"github.com/formflow/formflow/internal/notify"
)

func newDigestCmd(opts *options) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "digest <instance-id>",
		Short: "Send an instance's email digest now",
		Long: `Summarize submissions for the instance's current digest period and email
the recipients. With --dry-run the digest is printed instead of sent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(c *app.Container) error {
				ctx := cmd.Context()
				inst, err := lookupInstance(ctx, c, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				if dryRun {
					from, to := notify.DigestPeriod(inst.Settings.Digest, time.Now())
					summary, err := c.Repo.SummarizeSubmissions(ctx, inst.ID, from, to)
					if err != nil {
						return fmt.Errorf("failed to summarize submissions: %w", err)
					}
					subject, body := notify.FormatDigest(inst, summary)
					fmt.Fprintf(out, "Subject: %s\n\n%s", subject, body)
					return nil
				}

				sched, err := app.Resolve[*notify.Scheduler](c.Registry, app.NameScheduler)
				if err != nil {
					return err
				}
				summary, err := sched.RunNow(ctx, inst)
				if err != nil {
					return fmt.Errorf("failed to send digest: %w", err)
				}
				fmt.Fprintf(out, "Digest sent for %s: %d submissions, %d fraud alerts\n",
					inst.Name, summary.Total(), summary.FraudAlerts)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the digest instead of sending it")
	return cmd
}
