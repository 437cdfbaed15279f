// Package commands wires the bankfeed CLI.
package commands

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bankfeed/bankfeed/internal/camt"
	"github.com/bankfeed/bankfeed/internal/config"
	"github.com/bankfeed/bankfeed/internal/database"
	"github.com/bankfeed/bankfeed/internal/database/repository"
	"github.com/bankfeed/bankfeed/internal/ledger"
	"github.com/bankfeed/bankfeed/internal/service"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bankfeed",
		Short: "Automatic bank statement import and reconciliation",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newScanCommand())
	rootCmd.AddCommand(newImportCommand())
	rootCmd.AddCommand(newAttemptsCommand())
	rootCmd.AddCommand(newRetryCommand())
	rootCmd.AddCommand(newConfigsCommand())
	rootCmd.AddCommand(newCheckCommand())

	return rootCmd
}

// app bundles the wired services behind each command.
type app struct {
	cfg       config.Config
	db        *sql.DB
	configs   *repository.ConfigRepo
	attempts  *repository.AttemptRepo
	ledger    *ledger.SQLiteLedger
	importer  *service.ImportService
	scheduler *service.Scheduler
	logger    *log.Logger
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := database.RunMigrations(cfg.Database.Path, cfg.Database.MigrationsPath); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	logger := log.New(os.Stderr, "bankfeed: ", log.LstdFlags)

	configs := repository.NewConfigRepo(db)
	attempts := repository.NewAttemptRepo(db)
	ldg := ledger.NewSQLiteLedger(db)

	importer := &service.ImportService{
		Attempts:     attempts,
		Ledger:       ldg,
		Parsers:      camt.DefaultRegistry(),
		ParserFormat: cfg.Scan.ParserFormat,
		Reconciler:   &service.Reconciler{Ledger: ldg, Log: logger},
		Log:          logger,
	}
	scheduler := &service.Scheduler{
		Configs:  configs,
		Scanner:  &service.Scanner{Attempts: attempts},
		Importer: importer,
		Log:      logger,
	}

	return &app{
		cfg:       cfg,
		db:        db,
		configs:   configs,
		attempts:  attempts,
		ledger:    ldg,
		importer:  importer,
		scheduler: scheduler,
		logger:    logger,
	}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
}
