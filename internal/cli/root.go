// Package cli implements the ranker command line tool.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zombar/newsranker/internal/config"
	"github.com/zombar/newsranker/internal/database"
	"github.com/zombar/newsranker/pkg/logging"
)

// app holds state shared by all subcommands
type app struct {
	cfgFile  string
	logLevel string
	dbPath   string

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd builds the ranker command tree
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "ranker",
		Short: "Score technology articles with LLMs and select a diverse top list",
		Long: `ranker scores documents through a chain of LLM providers, stores the
results in SQLite and selects a source-diverse top-K list from the pool.

Example usage:
  ranker migrate                          # Create or upgrade the database
  ranker score -i docs.json --persist     # Score documents and store them
  ranker select --limit 10 --since 24h    # Select from the stored pool
  ranker select -i pool.json              # Select from a file, no database`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./newsranker.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database path override")

	root.AddCommand(
		newScoreCmd(a),
		newSelectCmd(a),
		newMigrateCmd(a),
	)
	return root
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) init(stderr io.Writer) error {
	path := a.cfgFile
	if path == "" {
		path = "newsranker.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// The CLI logs as text to stderr so stdout stays machine readable
	logger, err := logging.New(stderr, cfg.Logging.Level, "text")
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

// openDB opens and migrates the configured database
func (a *app) openDB(cmd *cobra.Command) (*database.DB, error) {
	db, err := database.New(a.cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(cmd.Context()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// output opens path for writing, or returns stdout for "" and "-"
func output(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

// input opens path for reading, or returns stdin for "-"
func input(cmd *cobra.Command, path string) (io.Reader, func() error, error) {
	if path == "-" {
		return cmd.InOrStdin(), func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, f.Close, nil
}
