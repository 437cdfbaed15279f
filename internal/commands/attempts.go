package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newAttemptsCommand() *cobra.Command {
	var configName string
	var limit int

	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Show import attempt history for a configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			cfg, err := a.configs.GetByName(ctx, configName)
			if err != nil {
				return err
			}
			if cfg == nil {
				return fmt.Errorf("no configuration named %q", configName)
			}

			attempts, err := a.attempts.ListByConfig(ctx, cfg.ID, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFILE\tSTATUS\tTXNS\tMATCHED\tSTARTED\tERROR")
			for _, at := range attempts {
				errCol := ""
				if at.ErrorKind != nil {
					errCol = *at.ErrorKind
					if at.ErrorDetail != nil {
						errCol = fmt.Sprintf("%s: %s", errCol, truncate(*at.ErrorDetail, 60))
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					at.ID, at.FileName, at.Status, at.TxCount, at.MatchedCount,
					at.StartedAt.Format(time.RFC3339), errCol)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&configName, "config", "", "configuration name (required)")
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to show")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
