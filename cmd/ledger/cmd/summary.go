package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"strategy-ledger/internal/reporting"
)

func newSummaryCmd(e *env) *cobra.Command {
	var format, strategy string
	c := &cobra.Command{
		Use:   "summary",
		Short: "Print a performance report for all strategies",
		Long: `Summary runs one collection without publishing and prints the report.

Formats: markdown (default), csv, json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch format {
			case "markdown", "csv", "json":
			default:
				return fmt.Errorf("unknown format %q (markdown, csv, json)", format)
			}

			ctx := cmd.Context()
			a, err := e.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rep := reporting.NewCollector(reporting.Options{
				Analyzer:    a.Analytics,
				Lookback:    e.cfg.Analytics.SharpeLookback,
				Concurrency: e.cfg.Analytics.Concurrency,
			}, e.log).Run(ctx)
			if strategy != "" {
				rep.Strategies = filterRows(rep.Strategies, strategy)
			}
			return writeReport(cmd.OutOrStdout(), rep, format)
		},
	}
	c.Flags().StringVarP(&format, "format", "f", "markdown", "output format: markdown, csv or json")
	c.Flags().StringVarP(&strategy, "strategy", "s", "", "only report this strategy")
	return c
}

func filterRows(rows []reporting.StrategyRow, name string) []reporting.StrategyRow {
	var out []reporting.StrategyRow
	for _, r := range rows {
		if r.Summary.StrategyName == name {
			out = append(out, r)
		}
	}
	return out
}

func writeReport(w io.Writer, rep *reporting.Report, format string) error {
	switch format {
	case "csv":
		out, err := reporting.RenderCSV(rep)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	default:
		_, err := io.WriteString(w, reporting.RenderMarkdown(rep))
		return err
	}
}
