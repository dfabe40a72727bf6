// Package cmd provides the CLI commands for hybridrag.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/config"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/logging"
	"github.com/Aman-CERP/hybridrag/pkg/version"
)

// Global flags
var (
	debugMode      bool
	configDir      string
	dataDirFlag    string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the hybridrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hybridrag",
		Short: "Persona-aware hybrid retrieval over a product catalog",
		Long: `hybridrag answers natural-language questions over a product catalog
and its knowledge items (FAQs, support notes, internal analytics).

Every query runs semantic, lexical and fuzzy retrieval in parallel and
merges the rankings with Reciprocal Rank Fusion. Knowledge items are only
ever returned to the personas entitled to see them.

Typical flow:
  hybridrag ingest catalog.csv
  hybridrag ingest knowledge.jsonl
  hybridrag search "wireless headphones" --persona customer
  hybridrag serve`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("hybridrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging (also mirrored to stderr)")
	cmd.PersistentFlags().StringVar(&configDir, "config", ".", "Directory containing .hybridrag.yaml")
	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Override storage.data_dir")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads the layered configuration and applies --data-dir.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, hrerrors.New(hrerrors.ErrCodeConfigInvalid, "failed to load configuration", err).
			WithSuggestion("Check .hybridrag.yaml and HYBRIDRAG_* variables, or run 'hybridrag config show'")
	}
	if dataDirFlag != "" {
		cfg.Storage.DataDir = dataDirFlag
	}
	return cfg, nil
}

// startLogging installs the default logger. CLI output owns the terminal,
// so logs go to the log file only unless --debug is set. The MCP stdio
// server never logs to stderr.
func startLogging(cmd *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if cfg, err := config.Load(configDir); err == nil {
		logCfg = cfg.Logging
	}
	logCfg.WriteToStderr = false
	if debugMode {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	if servesStdio(cmd) {
		logCfg.WriteToStderr = false
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.Debug("command_started",
		slog.String("command", cmd.CommandPath()),
		slog.String("version", version.Version))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// servesStdio reports whether cmd is `serve` without --http.
func servesStdio(cmd *cobra.Command) bool {
	if cmd.Name() != "serve" {
		return false
	}
	addr, err := cmd.Flags().GetString("http")
	return err == nil && addr == ""
}
