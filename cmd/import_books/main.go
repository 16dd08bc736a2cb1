package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/NikNeym510/library-app/config"
	"github.com/NikNeym510/library-app/library"

	"github.com/spf13/cobra"
)

func main() {
	if err := newImportCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newImportCmd() *cobra.Command {
	var (
		configPath string
		dbPath     string
		user       string
		fresh      bool
	)
	cmd := &cobra.Command{
		Use:   "import_books <catalog.csv>",
		Short: "Bulk-add books from a title,author CSV file",
		Long: "Bulk-add books from a title,author CSV file. The importing account must be an\n" +
			"admin; its password is read from LIBRARY_PASSWORD.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Database = dbPath
			}
			logger := config.InitLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

			if fresh {
				fmt.Println("Cleaning up existing database files...")
				for _, file := range []string{cfg.Database, cfg.Database + "-shm", cfg.Database + "-wal"} {
					if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
						fmt.Printf("Warning: Could not remove %s: %v\n", file, err)
					}
				}
			}

			manager, err := library.NewLibraryManager(cfg.Database, library.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer manager.Close()

			ctx := cmd.Context()
			if err := manager.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
				return err
			}
			if user == "" {
				user = cfg.Admin.Username
			}
			session, err := manager.Authenticate(ctx, user, os.Getenv("LIBRARY_PASSWORD"))
			if err != nil {
				return err
			}

			f, err := os.Open(filepath.Clean(args[0]))
			if err != nil {
				return err
			}
			defer f.Close()

			fmt.Printf("Importing books from %s...\n", args[0])
			report, err := manager.ImportCatalog(ctx, session.Role, f)
			if err != nil {
				return err
			}

			for _, s := range report.Skipped {
				fmt.Printf("Line %d: SKIPPED - %v\n", s.Line, s.Err)
			}
			fmt.Printf("\nImport complete!\n")
			fmt.Printf("Successfully imported: %d books\n", len(report.Added))
			fmt.Printf("Skipped: %d\n", len(report.Skipped))

			if len(report.Added) > 0 {
				fmt.Println("\nImported books:")
				fmt.Printf("%-5s %-50s %-30s\n", "ID", "Title", "Author")
				fmt.Println(strings.Repeat("-", 87))
				for _, book := range report.Added {
					fmt.Printf("%-5d %-50s %-30s\n", book.ID, truncateString(book.Title, 50), truncateString(book.Author, 30))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database file (overrides config)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "admin account to import as (default: configured admin)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "delete the existing database before importing")
	return cmd
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
