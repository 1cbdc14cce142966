package restore

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"pgrman/internal/catalog"
	"pgrman/internal/failure"
	"pgrman/internal/logger"
	"pgrman/internal/pgctl"
	"pgrman/internal/progress"
	"pgrman/internal/wal"
)

// Stats counts what a restore run did
type Stats struct {
	BackupsApplied       int
	FilesRestored        int
	BytesRestored        int64
	FilesDeleted         int
	SegmentsLinked       int
	SegmentsDecompressed int
}

// Executor applies backups from the catalog onto the data directory
type Executor struct {
	log        logger.Logger
	cat        *catalog.Catalog
	opts       *Options
	compressor *wal.Compressor
	archiver   *wal.Archiver
	progress   *progress.ETAEstimator
	stats      Stats
}

// NewExecutor creates an executor for opts
func NewExecutor(cat *catalog.Catalog, opts *Options, log logger.Logger) *Executor {
	return &Executor{
		log:        log,
		cat:        cat,
		opts:       opts,
		compressor: wal.NewCompressor(log),
		archiver:   wal.NewArchiver(log),
		progress:   progress.NewETAEstimator("Restoring database", 0),
	}
}

// Stats returns the counters collected so far
func (e *Executor) Stats() Stats {
	return e.stats
}

// TrackBytes resets progress tracking against the total size of a chain
func (e *Executor) TrackBytes(total int64) {
	e.progress = progress.NewETAEstimator("Restoring database", total)
}

// RestoreDatabase applies one chain member. The base also builds the
// directory skeleton; after the last member the data directory is
// reconciled against that member's file list.
func (e *Executor) RestoreDatabase(ctx context.Context, b *catalog.Backup, isBase, isLast bool) error {
	if ctx.Err() != nil {
		return failure.New(failure.Interrupted, "interrupted during restore database")
	}
	if b.BlockSize != wal.BlockSize {
		return failure.New(failure.PgIncompatible, "BLCKSZ(%d) is not compatible(%d expected)", b.BlockSize, wal.BlockSize)
	}
	if b.WALBlockSize != wal.WALBlockSize {
		return failure.New(failure.PgIncompatible, "XLOG_BLCKSZ(%d) is not compatible(%d expected)", b.WALBlockSize, wal.WALBlockSize)
	}

	if e.opts.Verbose && !e.opts.Check {
		e.log.Info("Restoring database from backup", "backup", b.ID())
	}

	if err := e.cat.Validate(b); err != nil {
		if failure.Is(err, failure.Corrupted) && !e.opts.Check {
			b.Status = catalog.StatusCorrupt
			if saveErr := e.cat.SaveStatus(b); saveErr != nil {
				e.log.Warn("Can't mark backup as corrupted", "backup", b.ID(), "error", saveErr)
			}
		}
		return err
	}

	if isBase && !e.opts.Check {
		if err := e.makeDirectories(ctx, b); err != nil {
			return err
		}
	}

	entries, err := catalog.ReadManifest(b.Path(catalog.DatabaseFileList))
	if err != nil {
		return failure.Wrap(failure.System, err, "can't read file list of backup %s", b.ID())
	}
	files := entries[:0:0]
	for _, entry := range entries {
		if entry.Captured() {
			files = append(files, entry)
		}
	}

	for i, entry := range files {
		if ctx.Err() != nil {
			return failure.New(failure.Interrupted, "interrupted during restore database")
		}

		if !entry.IsRegular() {
			if e.opts.Verbose && !e.opts.Check {
				e.log.Info(progressLine(i+1, len(files), entry.Path, "directory, skip"))
			}
			continue
		}

		if !e.opts.Check {
			if err := e.restoreFile(b, entry); err != nil {
				return err
			}
			e.stats.FilesRestored++
			e.stats.BytesRestored += entry.Size
			e.progress.Add(entry.Size)
		}

		if e.opts.Verbose && !e.opts.Check {
			e.log.Info(progressLine(i+1, len(files), entry.Path, "restored "+humanize.Bytes(uint64(entry.Size))))
		}
	}

	if !e.opts.Check {
		if isLast {
			if err := e.reconcile(b); err != nil {
				return err
			}
		}
		if err := pgctl.RemovePidFile(e.opts.PgData); err != nil {
			return err
		}
		e.log.Debug("Backup applied", "backup", b.ID(), "status", e.progress.GetFullStatus())
	}

	e.stats.BackupsApplied++
	return nil
}

func progressLine(i, n int, path, what string) string {
	return fmt.Sprintf("(%d/%d) %s %s", i, n, path, what)
}

// makeDirectories runs the backup's mkdirs.sh inside the data directory
func (e *Executor) makeDirectories(ctx context.Context, b *catalog.Backup) error {
	if err := os.MkdirAll(e.opts.PgData, 0700); err != nil {
		return failure.Wrap(failure.System, err, "can't create directory %q", e.opts.PgData)
	}

	script := b.Path(catalog.MkdirsScript)
	cmd := exec.CommandContext(ctx, "/bin/sh", script)
	cmd.Dir = e.opts.PgData
	output, err := cmd.CombinedOutput()
	if err != nil {
		return failure.Wrap(failure.System, err, "can't execute mkdirs.sh: %s", strings.TrimSpace(string(output)))
	}
	e.log.Debug("Directory skeleton created", "script", script)
	return nil
}

func (e *Executor) restoreFile(b *catalog.Backup, entry catalog.FileEntry) error {
	rel := filepath.FromSlash(entry.Path)
	src := b.Path(catalog.DatabaseDir, rel)
	dst := filepath.Join(e.opts.PgData, rel)

	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return failure.Wrap(failure.System, err, "can't create directory for %q", dst)
	}

	perm := entry.Mode.Perm()
	if perm == 0 {
		perm = 0600
	}

	var err error
	if b.Compressed {
		_, err = e.compressor.DecompressFile(src, dst, perm)
	} else {
		_, err = wal.CopyFile(src, dst, perm)
	}
	if err != nil {
		if failure.KindOf(err) != failure.Unknown {
			return err
		}
		return failure.Wrap(failure.System, err, "can't restore %q", entry.Path)
	}
	return nil
}

// reconcile deletes everything in the data directory that the backup's file
// list does not name, leaf first.
func (e *Executor) reconcile(b *catalog.Backup) error {
	entries, err := catalog.ReadManifest(b.Path(catalog.DatabaseFileList))
	if err != nil {
		return failure.Wrap(failure.System, err, "can't read file list of backup %s", b.ID())
	}
	keep := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		keep[filepath.Join(e.opts.PgData, filepath.FromSlash(entry.Path))] = struct{}{}
	}

	current, err := listTree(e.opts.PgData, e.reconcileExcluded, true)
	if err != nil {
		return failure.Wrap(failure.System, err, "can't list %q", e.opts.PgData)
	}
	sortLeafFirst(current)

	for _, entry := range current {
		if _, ok := keep[entry.Path]; ok {
			continue
		}
		rel, _ := filepath.Rel(e.opts.PgData, entry.Path)
		if e.opts.Verbose {
			e.log.Info("  delete " + rel)
		}
		if err := removeEntry(entry.Path); err != nil {
			if entry.IsDir && isNotEmpty(err) {
				e.log.Debug("Directory kept, not empty", "path", rel)
				continue
			}
			return failure.Wrap(failure.System, err, "can't delete %q", entry.Path)
		}
		e.stats.FilesDeleted++
	}
	return nil
}

// reconcileExcluded names paths that are never part of a backup file list
func (e *Executor) reconcileExcluded(path string) bool {
	switch path {
	case e.opts.ArclogPath, e.opts.SrvlogPath, e.opts.OnlineWALPath():
		return true
	}
	switch filepath.Base(path) {
	case "pg_stat_tmp", "pgsql_tmp":
		return true
	}
	return false
}

// RestoreArchiveLogs links (or inflates) a backup's archived WAL into the
// archive directory. History files are skipped; they come from the
// catalog's timeline_history directory.
func (e *Executor) RestoreArchiveLogs(ctx context.Context, b *catalog.Backup) error {
	if e.opts.Verbose && !e.opts.Check {
		e.log.Info("Restoring WAL from backup", "backup", b.ID())
	}

	entries, err := catalog.ReadManifest(b.Path(catalog.ArclogFileList))
	if err != nil {
		return failure.Wrap(failure.System, err, "can't read WAL list of backup %s", b.ID())
	}

	for i, entry := range entries {
		if ctx.Err() != nil {
			return failure.New(failure.Interrupted, "interrupted during restore WAL")
		}

		verbose := e.opts.Verbose && !e.opts.Check
		switch {
		case !entry.Captured():
			if verbose {
				e.log.Info(progressLine(i+1, len(entries), entry.Path, "skip(not backed up)"))
			}
			continue
		case wal.IsHistoryFile(entry.Path):
			if verbose {
				e.log.Info(progressLine(i+1, len(entries), entry.Path, "skip(timeline history)"))
			}
			continue
		case entry.IsDir():
			continue
		}

		if e.opts.Check {
			continue
		}

		src := b.Path(catalog.ArclogDir, filepath.FromSlash(entry.Path))
		result, err := e.archiver.Materialize(src, e.opts.ArclogPath, b.Compressed)
		if err != nil {
			return err
		}
		what := "linked"
		if result.Linked {
			e.stats.SegmentsLinked++
		} else {
			e.stats.SegmentsDecompressed++
			what = "decompressed"
		}
		if e.opts.Verbose {
			e.log.Info(progressLine(i+1, len(entries), entry.Path, what))
		}
	}
	return nil
}
