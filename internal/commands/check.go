package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bankfeed/bankfeed/internal/database/repository"
)

func newCheckCommand() *cobra.Command {
	var configName string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify folder access for a configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			cfg, err := a.configs.GetByName(cmd.Context(), configName)
			if err != nil {
				return err
			}
			if cfg == nil {
				return fmt.Errorf("no configuration named %q", configName)
			}
			return checkFolders(*cfg)
		},
	}

	cmd.Flags().StringVar(&configName, "config", "", "configuration name (required)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// checkFolders verifies read access to the watch folder and write access to
// the processed and error folders using a throwaway probe file.
func checkFolders(cfg repository.ImportConfig) error {
	entries, err := os.ReadDir(cfg.WatchDir)
	if err != nil {
		return fmt.Errorf("watch folder: %w", err)
	}
	fmt.Printf("watch folder ok, %d entries\n", len(entries))

	for _, dir := range []string{cfg.ProcessedDir, cfg.ErrorDir} {
		if dir == "" {
			continue
		}
		probe := filepath.Join(dir, ".bankfeed_probe")
		if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
			return fmt.Errorf("write access to %s: %w", dir, err)
		}
		if err := os.Remove(probe); err != nil {
			return fmt.Errorf("cleanup probe in %s: %w", dir, err)
		}
		fmt.Printf("%s writable\n", dir)
	}
	return nil
}
