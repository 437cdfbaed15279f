package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bankfeed/bankfeed/internal/database/repository"
)

func newConfigsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configs",
		Short: "Manage import configurations",
	}
	cmd.AddCommand(newConfigsListCommand())
	cmd.AddCommand(newConfigsAddCommand())
	return cmd
}

func newConfigsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List import configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			configs, err := a.configs.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tACTIVE\tWATCH\tPATTERN\tMETHOD\tACCOUNT\tINTERVAL\tLAST RUN")
			for _, c := range configs {
				lastRun := "never"
				if c.LastRun != nil {
					lastRun = c.LastRun.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\t%s\t%s\t%s\n",
					c.Name, c.Active, c.WatchDir, c.Pattern, c.Method,
					c.LedgerAccount, c.ScanInterval, lastRun)
			}
			return w.Flush()
		},
	}
}

func newConfigsAddCommand() *cobra.Command {
	var (
		watchDir        string
		processedDir    string
		errorDir        string
		pattern         string
		recursive       bool
		deleteOnSuccess bool
		method          string
		account         string
		interval        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create or update an import configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			if !repository.ValidMethod(repository.MatchMethod(method)) {
				return fmt.Errorf("unknown method %q (none, exact_amount, reference, partner_amount, smart)", method)
			}
			for _, dir := range []string{watchDir, processedDir, errorDir} {
				if dir != "" && !filepath.IsAbs(dir) {
					return fmt.Errorf("path %q must be absolute", dir)
				}
			}

			name := args[0]
			id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("config:"+name)).String()
			if existing, err := a.configs.GetByName(ctx, name); err != nil {
				return err
			} else if existing != nil {
				id = existing.ID
			}

			cfg := repository.ImportConfig{
				ID:              id,
				Name:            name,
				Active:          true,
				WatchDir:        watchDir,
				ProcessedDir:    processedDir,
				ErrorDir:        errorDir,
				Pattern:         pattern,
				Recursive:       recursive,
				DeleteOnSuccess: deleteOnSuccess,
				Method:          repository.MatchMethod(method),
				LedgerAccount:   account,
				ScanInterval:    interval,
			}
			if err := a.configs.Upsert(ctx, cfg); err != nil {
				return err
			}
			fmt.Printf("configuration %s saved\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&watchDir, "watch", "", "absolute path of the folder to watch (required)")
	_ = cmd.MarkFlagRequired("watch")
	cmd.Flags().StringVar(&processedDir, "processed", "", "folder for successfully imported files")
	cmd.Flags().StringVar(&errorDir, "errors", "", "folder for failed files")
	cmd.Flags().StringVar(&pattern, "pattern", "*.xml", "file name pattern (* and ? wildcards)")
	cmd.Flags().BoolVar(&recursive, "recursive", false, "also scan subfolders")
	cmd.Flags().BoolVar(&deleteOnSuccess, "delete", false, "delete files after successful import instead of moving")
	cmd.Flags().StringVar(&method, "method", "smart", "reconciliation method")
	cmd.Flags().StringVar(&account, "account", "", "ledger account for imported statements (required)")
	_ = cmd.MarkFlagRequired("account")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "minimum time between scans")
	return cmd
}
