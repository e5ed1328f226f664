package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSharpeCmd(e *env) *cobra.Command {
	var lookback time.Duration
	c := &cobra.Command{
		Use:   "sharpe <strategy>",
		Short: "Print the annualized Sharpe ratio of one strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, ok, err := a.Analytics.SharpeRatio(ctx, args[0], lookback)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintf(out, "%s: not enough closed lots or trading days\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "strategy:              %s\n", res.StrategyName)
			fmt.Fprintf(out, "window:                %s .. %s\n", res.WindowStart.Format(time.DateOnly), res.WindowEnd.Format(time.DateOnly))
			fmt.Fprintf(out, "closed lots:           %d\n", res.ClosedLots)
			fmt.Fprintf(out, "trading days:          %d\n", res.TradingDays)
			fmt.Fprintf(out, "annualized return:     %.6f\n", res.AnnualizedReturn)
			fmt.Fprintf(out, "annualized volatility: %.6f\n", res.AnnualizedVolatility)
			fmt.Fprintf(out, "risk free rate:        %.6f\n", res.RiskFreeRate)
			fmt.Fprintf(out, "sharpe ratio:          %.4f\n", res.Ratio)
			return nil
		},
	}
	c.Flags().DurationVar(&lookback, "lookback", 0, "lookback window (default from config)")
	return c
}
