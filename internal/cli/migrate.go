package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/formflow/formflow/internal/repository"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing database tables",
		Long:  `Create every missing table in the configured database. Safe to run repeatedly.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRepository(cmd, func(repo *repository.SQLRepository) error {
				if err := repo.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("failed to migrate: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date (%s)\n", opts.cfg.Repository.Driver)
				return nil
			})
		},
	}
}
