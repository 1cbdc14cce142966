package cmd

import (
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pgrman/internal/catalog"
	"pgrman/internal/failure"
	"pgrman/internal/metrics"
	"pgrman/internal/pitr"
	"pgrman/internal/restore"
	"pgrman/internal/tui"
)

// restoreCmd represents the restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the data directory from the backup catalog",
	Long: `Restore the data directory from the newest usable full backup and the
incremental backups taken after it, link the archived WAL needed for
recovery and write the recovery configuration.

The PostgreSQL server must be stopped. Everything in PGDATA is replaced.

Examples:
  # Verify that a restore would succeed without writing anything
  pgrman restore -B /backup -D /var/lib/pgsql/data -A /archive -S /srvlog --check --verbose

  # Restore and recover up to a point in time
  pgrman restore --recovery-target-time '2024-03-01 12:00:00'

  # Restore onto timeline 2 without the confirmation prompt
  pgrman restore --recovery-target-timeline 2 --yes
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRestore(cmd)
	},
}

// bindRestoreFlags registers the restore flags with the environment
// derived values as defaults
func bindRestoreFlags() {
	restoreCmd.Flags().StringVarP(&cfg.PgData, "pgdata", "D", cfg.PgData, "Data directory to restore into (PGDATA)")
	restoreCmd.Flags().StringVarP(&cfg.SrvlogPath, "srvlog-path", "S", cfg.SrvlogPath, "Server log directory (SRVLOG_PATH)")
	restoreCmd.Flags().StringVar(&cfg.WALDir, "wal-dir", cfg.WALDir, "Online WAL directory inside PGDATA")
	restoreCmd.Flags().BoolVarP(&cfg.Check, "check", "c", false, "Verify the restore without writing anything")
	restoreCmd.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Report every step and file")
	restoreCmd.Flags().StringVar(&cfg.TargetTime, "recovery-target-time", "", "Stop recovery at this timestamp")
	restoreCmd.Flags().StringVar(&cfg.TargetXID, "recovery-target-xid", "", "Stop recovery at this transaction ID")
	restoreCmd.Flags().StringVar(&cfg.TargetInclusive, "recovery-target-inclusive", "", "Stop just after (true) or before (false) the target")
	restoreCmd.Flags().StringVar(&cfg.TargetTimeline, "recovery-target-timeline", "", "Recover along this timeline (default: current, else latest full backup)")
	restoreCmd.Flags().BoolVarP(&cfg.AssumeYes, "yes", "y", cfg.AssumeYes, "Do not ask for confirmation")
	restoreCmd.Flags().StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Write restore metrics in Prometheus text format")
	restoreCmd.Flags().StringVar(&cfg.ConnString, "pg-conn", cfg.ConnString, "Connection string used to detect a running server")
}

func runRestore(cmd *cobra.Command) error {
	start := time.Now()

	cat, err := catalog.Open(cfg.BackupPath, log)
	if err != nil {
		return err
	}

	tli, err := cfg.Timeline()
	if err != nil {
		return failure.Wrap(failure.Args, err, "invalid recovery target timeline %q", cfg.TargetTimeline)
	}

	opts := &restore.Options{
		PgData:     cfg.PgData,
		ArclogPath: cfg.ArclogPath,
		SrvlogPath: cfg.SrvlogPath,
		WALDir:     cfg.WALDir,
		Check:      cfg.Check,
		Verbose:    cfg.Verbose,
		ConnString: cfg.ConnString,
		Target: pitr.RecoveryTarget{
			Time:      cfg.TargetTime,
			XID:       cfg.TargetXID,
			Inclusive: cfg.TargetInclusive,
			Timeline:  tli,
		},
	}

	engine := restore.New(cat, opts, log, "pgrman "+cfg.Version)
	if !cfg.Check && !cfg.AssumeYes && tui.IsTerminal(os.Stdin) && tui.IsTerminal(os.Stdout) {
		engine.SetConfirm(tui.RestorePrompter(os.Stdin, os.Stdout))
	}

	result, err := engine.Run(cmd.Context())
	recordMetrics(start, opts, result, err)
	if err != nil {
		return err
	}

	if cfg.Verbose {
		stats := result.Stats
		log.Info("Restore summary",
			"backups", stats.BackupsApplied,
			"files", stats.FilesRestored,
			"size", humanize.Bytes(uint64(stats.BytesRestored)),
			"deleted", stats.FilesDeleted,
			"wal_linked", stats.SegmentsLinked,
			"wal_decompressed", stats.SegmentsDecompressed,
			"duration", result.Duration.Round(time.Millisecond).String())
	}
	return nil
}

// recordMetrics writes the metrics textfile when one is configured
func recordMetrics(start time.Time, opts *restore.Options, result *restore.Result, runErr error) {
	if cfg.MetricsFile == "" {
		return
	}

	run := metrics.RestoreRun{
		PgData:    opts.PgData,
		Check:     opts.Check,
		StartTime: start,
		Duration:  time.Since(start),
		ExitCode:  failure.ExitCode(runErr),
		Success:   runErr == nil,
	}
	if result != nil {
		run.BackupsApplied = result.Stats.BackupsApplied
		run.FilesRestored = result.Stats.FilesRestored
		run.BytesRestored = result.Stats.BytesRestored
		run.FilesDeleted = result.Stats.FilesDeleted
		run.SegmentsLinked = result.Stats.SegmentsLinked
		run.SegmentsDecompressed = result.Stats.SegmentsDecompressed
	}

	collector := metrics.NewMetricsCollector(log)
	collector.RecordRestore(run)
	if err := collector.WriteTextfile(cfg.MetricsFile); err != nil {
		log.Warn("Failed to write metrics file", "path", cfg.MetricsFile, "error", err)
	}
}
