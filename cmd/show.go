package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pgrman/internal/catalog"
	"pgrman/internal/failure"
	"pgrman/internal/wal"
)

// showCmd lists the backup catalog
var showCmd = &cobra.Command{
	Use:   "show [timeline]",
	Short: "List backups in the catalog, newest first",
	Long: `List backups in the catalog, newest first.

With the "timeline" argument the listing adds the parent timeline of each
backup, read from the timeline history files.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"timeline"},
	RunE: func(cmd *cobra.Command, args []string) error {
		withTimeline := false
		if len(args) == 1 {
			if args[0] != "timeline" {
				return failure.New(failure.Args, "invalid argument %q", args[0])
			}
			withTimeline = true
		}
		return runShow(cmd.OutOrStdout(), withTimeline)
	},
}

func runShow(out io.Writer, withTimeline bool) error {
	cat, err := catalog.Open(cfg.BackupPath, log)
	if err != nil {
		return err
	}

	backups, err := cat.List()
	if err != nil {
		return err
	}

	var parents map[uint32]string
	if withTimeline {
		dirs := []string{cat.TimelineHistoryPath()}
		if cfg.ArclogPath != "" {
			dirs = append(dirs, cfg.ArclogPath)
		}
		parents = parentTimelines(wal.NewTimelineManager(log, dirs...), backups)
	}

	writeBackupList(out, backups, parents)
	return nil
}

// parentTimelines resolves the parent of every timeline used by a backup.
// Unreadable history is reported as unknown.
func parentTimelines(tm *wal.TimelineManager, backups []*catalog.Backup) map[uint32]string {
	parents := make(map[uint32]string)
	for _, b := range backups {
		if _, ok := parents[b.Timeline]; ok {
			continue
		}
		timelines, err := tm.ReadHistory(b.Timeline)
		switch {
		case err != nil:
			log.Warn("Can't read timeline history", "timeline", b.Timeline, "error", err)
			parents[b.Timeline] = "?"
		case len(timelines) > 1:
			parents[b.Timeline] = strconv.FormatUint(uint64(timelines[1].ID), 10)
		default:
			parents[b.Timeline] = "0"
		}
	}
	return parents
}

// writeBackupList prints the catalog table. A nil parents map omits the
// parent timeline column.
func writeBackupList(out io.Writer, backups []*catalog.Backup, parents map[uint32]string) {
	header := fmt.Sprintf("%-19s  %-11s  %8s  %4s", "StartTime", "Mode", "Size", "TLI")
	if parents != nil {
		header += fmt.Sprintf("  %4s", "Par")
	}
	header += fmt.Sprintf("  %-17s  %s", "StopLSN", "Status")

	fmt.Fprintln(out, strings.Repeat("=", len(header)))
	fmt.Fprintln(out, header)
	fmt.Fprintln(out, strings.Repeat("=", len(header)))

	for _, b := range backups {
		line := fmt.Sprintf("%-19s  %-11s  %8s  %4d", b.ID(), b.Mode, humanize.Bytes(uint64(b.WriteBytes)), b.Timeline)
		if parents != nil {
			line += fmt.Sprintf("  %4s", parents[b.Timeline])
		}
		line += fmt.Sprintf("  %-17s  %s", b.StopLSN, b.Status)
		fmt.Fprintln(out, line)
	}
}
