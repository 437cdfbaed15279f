package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bankfeed/bankfeed/internal/database/repository"
	"github.com/bankfeed/bankfeed/internal/service"
)

func newImportCommand() *cobra.Command {
	var configName string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a single statement file, bypassing the scanner",
		Args:  cobra.ExactArgs(1),
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

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			fp, size, err := service.FingerprintFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			if latest, err := a.attempts.FindLatest(ctx, cfg.ID, fp); err != nil {
				return err
			} else if latest != nil && latest.Status == repository.StatusSuccess {
				return fmt.Errorf("this file content was already imported (attempt %s)", latest.ID)
			}

			cand := service.FileCandidate{
				Path:        path,
				Name:        filepath.Base(path),
				Size:        size,
				Fingerprint: fp,
			}
			attempt, err := a.importer.ProcessFile(ctx, *cfg, cand, nil)
			if err != nil {
				return err
			}
			fmt.Printf("attempt %s: %s, %d transactions, %d reconciled\n",
				attempt.ID, attempt.Status, attempt.TxCount, attempt.MatchedCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&configName, "config", "", "configuration to import under (required)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
