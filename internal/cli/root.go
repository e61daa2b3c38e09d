// Package cli implements the formflow command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// BuildInfo is stamped into the binary at link time.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// NewRootCmd builds the command tree. Every call returns fresh flag state.
func NewRootCmd(info BuildInfo) *cobra.Command {
	opts := &options{info: info}

	root := &cobra.Command{
		Use:   "formflow",
		Short: "FormFlow - enrollment form engine with A/B tests and fraud screening",
		Long: `FormFlow serves enrollment forms with conditional logic, A/B variations,
fraud scoring, appointment capacity and partner notifications.

Running without a subcommand starts the server (same as 'formflow serve').`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, 0)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", getEnvOrDefault("FORMFLOW_CONFIG", ""), "config file (default: search for formflow.yaml)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file exported before loading config")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newInstancesCmd(opts),
		newResultsCmd(opts),
		newDigestCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// Execute runs the command line against os.Args.
func Execute(info BuildInfo) error {
	return NewRootCmd(info).Execute()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
