package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"strategy-ledger/internal/app"
)

func newStrategiesCmd(e *env) *cobra.Command {
	c := &cobra.Command{
		Use:   "strategies",
		Short: "Import or list strategy metadata",
		Long: `Strategies manages the strategy registry.

Subcommands:
  import  - Upsert strategies from a yaml file
  list    - List registered strategies

Example file:
  strategies:
    - name: nuclear
      display_name: Nuclear Energy
      asset_universe: [SMR, OKLO]
      allocated_capital: "10000"`,
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "import <file>",
			Short: "Upsert strategies from a yaml file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open strategy file: %w", err)
				}
				defer f.Close()

				ctx := cmd.Context()
				a, err := e.build(ctx)
				if err != nil {
					return err
				}
				defer a.Close()

				n, err := app.ImportStrategies(ctx, a.Repo, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d strategies\n", n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List registered strategies",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx := cmd.Context()
				a, err := e.build(ctx)
				if err != nil {
					return err
				}
				defer a.Close()

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "STRATEGY\tDISPLAY NAME\tCAPITAL\tUNIVERSE")
				for _, m := range a.Repo.ListStrategyMetadata(ctx) {
					capital := "-"
					if m.AllocatedCapital != nil {
						capital = m.AllocatedCapital.StringFixed(2)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
						m.StrategyName, m.DisplayOrName(), capital, strings.Join(m.AssetUniverse, ","))
				}
				return w.Flush()
			},
		},
	)
	return c
}
