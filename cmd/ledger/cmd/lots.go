package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

func newLotsCmd(e *env) *cobra.Command {
	var (
		symbol   string
		openOnly bool
		closed   bool
		limit    int
	)
	c := &cobra.Command{
		Use:   "lots <strategy>",
		Short: "List lots of one strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if openOnly && closed {
				return fmt.Errorf("--open and --closed are mutually exclusive")
			}
			ctx := cmd.Context()
			a, err := e.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var list []*domain.StrategyLot
			switch {
			case openOnly:
				list = a.Repo.QueryOpenLots(ctx, args[0], symbol)
			case closed:
				list = a.Repo.QueryClosedLots(ctx, args[0], storage.QueryOptions{Limit: limit})
			default:
				list = a.Repo.QueryAllLots(ctx, args[0])
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LOT\tSYMBOL\tENTRY\tQTY\tPRICE\tREMAINING\tEXITS\tREALIZED")
			for _, l := range list {
				if symbol != "" && l.Symbol != symbol {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					l.LotID, l.Symbol, l.EntryTimestamp.Format(time.RFC3339),
					l.EntryQty, l.EntryPrice.StringFixed(2), l.RemainingQty,
					len(l.ExitRecords), l.RealizedPnL().StringFixed(2))
			}
			return w.Flush()
		},
	}
	c.Flags().StringVar(&symbol, "symbol", "", "only lots of this symbol")
	c.Flags().BoolVar(&openOnly, "open", false, "only open lots")
	c.Flags().BoolVar(&closed, "closed", false, "only closed lots, most recently closed first")
	c.Flags().IntVar(&limit, "limit", 0, "maximum closed lots (0 = all)")
	return c
}
