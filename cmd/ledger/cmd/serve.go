package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"strategy-ledger/internal/app"
)

func newServeCmd(e *env) *cobra.Command {
	var migrate bool
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP endpoint, event feed and metrics collector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if migrate {
				if err := app.Migrate(ctx, e.cfg, e.log); err != nil {
					return err
				}
			}
			a, err := e.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	c.Flags().BoolVar(&migrate, "migrate", false, "apply database schemas before starting")
	return c
}
