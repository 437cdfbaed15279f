package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <attempt-id>",
		Short: "Retry a failed import attempt while its file is still on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			prior, err := a.attempts.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if prior == nil {
				return fmt.Errorf("no attempt %q", args[0])
			}
			cfg, err := a.configs.Get(ctx, prior.ConfigID)
			if err != nil {
				return err
			}
			if cfg == nil {
				return fmt.Errorf("configuration %s for attempt no longer exists", prior.ConfigID)
			}

			attempt, err := a.importer.Retry(ctx, *cfg, *prior)
			if err != nil {
				return err
			}
			fmt.Printf("attempt %s: %s, %d transactions, %d reconciled\n",
				attempt.ID, attempt.Status, attempt.TxCount, attempt.MatchedCount)
			return nil
		},
	}
}
