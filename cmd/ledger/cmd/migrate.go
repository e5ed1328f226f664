package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"strategy-ledger/internal/app"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres and clickhouse schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.Migrate(cmd.Context(), e.cfg, e.log); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
