package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pgrman/internal/config"
	"pgrman/internal/failure"
	"pgrman/internal/logger"
)

var (
	cfg *config.Config
	log logger.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pgrman",
	Short: "Point-in-time restore for PostgreSQL backup catalogs",
	Long: `pgrman restores a PostgreSQL data directory from a catalog of full and
incremental backups plus archived WAL, and prepares recovery up to a chosen
point in time.

Settings are taken from command line flags, then environment variables
(PGDATA, ARCLOG_PATH, BACKUP_PATH, SRVLOG_PATH), then pgrman.yaml in the
backup path.

For help with specific commands, use: pgrman [command] --help`,
	Version:           "",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// setup merges the catalog configuration file under explicitly set flags,
// validates the result and opens the configured log output.
func setup(cmd *cobra.Command, args []string) error {
	// Store which flags were explicitly set by user
	flagsSet := make(map[string]bool)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		flagsSet[f.Name] = true
	})

	if cfg.BackupPath != "" {
		catalogCfg, err := config.LoadCatalogConfig(cfg.BackupPath)
		if err != nil {
			log.Warn("Failed to load catalog config", "error", err)
		} else if catalogCfg != nil {
			config.ApplyCatalogConfig(cfg, catalogCfg, flagsSet)
			log.Debug("Loaded configuration from " + config.ConfigFileName)
		}
	}

	if err := cfg.Validate(); err != nil {
		return failure.Wrap(failure.Args, err, "invalid configuration")
	}

	if cfg.LogFile != "" {
		fileLog, err := logger.FileLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile, logger.FileOptions{
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAgeDays: cfg.LogMaxAgeDays,
		})
		if err != nil {
			return failure.Wrap(failure.Args, err, "can't open log file %q", cfg.LogFile)
		}
		log = fileLog
	} else {
		log = logger.New(cfg.LogLevel, cfg.LogFormat)
	}
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context, config *config.Config, logger logger.Logger) error {
	cfg = config
	log = logger

	// Set version info
	rootCmd.Version = fmt.Sprintf("%s (built: %s, commit: %s)",
		cfg.Version, cfg.BuildTime, cfg.GitCommit)

	// Add persistent flags
	rootCmd.PersistentFlags().StringVarP(&cfg.BackupPath, "backup-path", "B", cfg.BackupPath, "Backup catalog directory (BACKUP_PATH)")
	rootCmd.PersistentFlags().StringVarP(&cfg.ArclogPath, "arclog-path", "A", cfg.ArclogPath, "Archived WAL directory (ARCLOG_PATH)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text|json)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write logs to this file, rotated by size")

	bindRestoreFlags()

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return failure.Wrap(failure.Args, err, "invalid option")
	})

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Register subcommands
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(showCmd)
}
