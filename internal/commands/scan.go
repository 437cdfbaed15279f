package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newScanCommand() *cobra.Command {
	var configName string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan-and-process cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			if configName != "" {
				cfg, err := a.configs.GetByName(ctx, configName)
				if err != nil {
					return err
				}
				if cfg == nil {
					return fmt.Errorf("no configuration named %q", configName)
				}
				stats, err := a.scheduler.ProcessConfig(ctx, *cfg)
				if err != nil {
					return err
				}
				fmt.Printf("%d files: %d imported, %d failed\n", stats.Files, stats.Succeeded, stats.Failed)
				return nil
			}

			stats := a.scheduler.RunCycle(ctx, true)
			fmt.Printf("%d configurations, %d files: %d imported, %d failed\n",
				stats.Configs, stats.Files, stats.Succeeded, stats.Failed)
			return nil
		},
	}

	cmd.Flags().StringVar(&configName, "config", "", "scan a single configuration by name")
	return cmd
}
