package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

func newSignalsCmd(e *env) *cobra.Command {
	var (
		correlationID string
		strategy      string
		state         string
		limit         int
		stats         bool
	)
	c := &cobra.Command{
		Use:   "signals",
		Short: "List signals by workflow, strategy or lifecycle state",
		Long: `Signals lists signals selected by exactly one of --correlation-id,
--strategy or --state. With --stats and --strategy it prints lifecycle counts instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			selectors := 0
			for _, s := range []string{correlationID, strategy, state} {
				if s != "" {
					selectors++
				}
			}
			if selectors != 1 {
				return fmt.Errorf("exactly one of --correlation-id, --strategy or --state is required")
			}
			if stats && strategy == "" {
				return fmt.Errorf("--stats requires --strategy")
			}
			var ls domain.LifecycleState
			if state != "" {
				ls = domain.LifecycleState(strings.ToUpper(state))
				if !ls.Valid() {
					return fmt.Errorf("unknown lifecycle state %q", state)
				}
			}

			ctx := cmd.Context()
			a, err := e.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()

			if stats {
				st := a.Analytics.SignalStats(ctx, strategy)
				rate := "n/a"
				if st.ExecutionRate != nil {
					rate = st.ExecutionRate.StringFixed(2) + "%"
				}
				fmt.Fprintf(out, "generated=%d executed=%d ignored=%d superseded=%d execution_rate=%s\n",
					st.Generated, st.Executed, st.Ignored, st.Superseded, rate)
				return nil
			}

			opts := storage.QueryOptions{Limit: limit}
			var list []*domain.SignalRecord
			switch {
			case correlationID != "":
				list = a.Repo.QuerySignalsByCorrelation(ctx, correlationID, opts)
			case strategy != "":
				list = a.Repo.QuerySignalsByStrategy(ctx, strategy, opts)
			default:
				list = a.Repo.QuerySignalsByLifecycleState(ctx, ls, opts)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNAL\tCREATED\tSTRATEGY\tSYMBOL\tACTION\tALLOCATION\tSTATE\tTRADES")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					s.SignalID, s.CreatedAt.Format(time.RFC3339), s.StrategyName, s.Symbol,
					s.Action, s.TargetAllocation, s.LifecycleState, strings.Join(s.ExecutedTradeIDs, ","))
			}
			return w.Flush()
		},
	}
	c.Flags().StringVar(&correlationID, "correlation-id", "", "signals of one workflow run")
	c.Flags().StringVar(&strategy, "strategy", "", "signals of one strategy")
	c.Flags().StringVar(&state, "state", "", "signals in a lifecycle state (GENERATED, EXECUTED, IGNORED, SUPERSEDED)")
	c.Flags().IntVar(&limit, "limit", 0, "maximum signals (0 = all)")
	c.Flags().BoolVar(&stats, "stats", false, "print lifecycle counts for --strategy")
	return c
}
