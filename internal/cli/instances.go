package cli

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/formflow/formflow/internal/domain"
	"github.com/formflow/formflow/internal/repository"
)

func newInstancesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "instances",
		Aliases: []string{"ls"},
		Short:   "List form instances",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRepository(cmd, func(repo *repository.SQLRepository) error {
				instances, err := repo.ListInstances(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list instances: %w", err)
				}

				out := cmd.OutOrStdout()
				if len(instances) == 0 {
					fmt.Fprintln(out, "No instances configured.")
					return nil
				}

				fmt.Fprintln(out, "ID                                    SLUG              ACTIVE  FEATURES")
				fmt.Fprintln(out, strings.Repeat("─", 80))
				for _, inst := range instances {
					fmt.Fprintf(out, "%-36s  %-16s  %-6t  %s\n",
						inst.ID,
						truncate(inst.Slug, 16),
						inst.Active,
						strings.Join(enabledFeatures(inst.Settings), ","),
					)
				}
				return nil
			})
		},
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func enabledFeatures(s domain.Settings) []string {
	return lo.FilterMap(s.All(), func(f domain.FeatureConfig, _ int) (string, bool) {
		return string(f.Feature()), f.IsEnabled()
	})
}
