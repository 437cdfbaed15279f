package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch configured folders and import statements until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.logger.Printf("watching, tick %s", a.cfg.Scan.Tick)
			err = a.scheduler.Run(ctx, a.cfg.Scan.Tick, a.cfg.Scan.PendingGrace)
			if errors.Is(err, context.Canceled) {
				a.logger.Printf("shutting down")
				return nil
			}
			return err
		},
	}
}
