package restore

import (
	"errors"
	"io/fs"
	"os"

	"pgrman/internal/failure"
	"pgrman/internal/wal"
)

// Work directory name for saved server logs
const workSrvlogDir = "srvlog"

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func isEmptyDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, err
	}
	return len(entries) == 0, nil
}

// BackupOnlineFiles saves the live WAL and server logs into the catalog work
// directory before the data directory is cleared. A previous save is reused
// unless the server has moved to a new timeline since the backup
// (reRecovery), in which case it is refreshed.
func (e *Executor) BackupOnlineFiles(reRecovery bool) error {
	workWAL := e.cat.WorkPath(e.opts.WALDir)
	workSrvlog := e.cat.WorkPath(workSrvlogDir)

	empty, err := isEmptyDir(workWAL)
	if err != nil {
		return failure.Wrap(failure.System, err, "can't read %q", workWAL)
	}
	if !empty && !reRecovery {
		if e.opts.Verbose {
			e.log.Info("online WALs have been already backed up, use them.")
		}
		return nil
	}

	if e.opts.Verbose {
		e.log.Info("backup online WAL and serverlog start")
	}

	copies := []struct {
		src string
		dst string
	}{
		{e.opts.OnlineWALPath(), workWAL},
		{e.opts.SrvlogPath, workSrvlog},
	}
	for _, c := range copies {
		if err := os.MkdirAll(c.dst, 0700); err != nil {
			return failure.Wrap(failure.System, err, "can't create directory %q", c.dst)
		}
		ok, err := exists(c.src)
		if err != nil {
			return failure.Wrap(failure.System, err, "can't stat %q", c.src)
		}
		if !ok {
			e.log.Debug("Nothing to save", "path", c.src)
			continue
		}
		n, err := wal.CopyDir(c.src, c.dst)
		if err != nil {
			return failure.Wrap(failure.System, err, "can't back up online files from %q", c.src)
		}
		e.log.Debug("Online files saved", "from", c.src, "to", c.dst, "files", n)
	}
	return nil
}

// RestoreOnlineFiles copies the saved live WAL back into the data directory
func (e *Executor) RestoreOnlineFiles() error {
	workWAL := e.cat.WorkPath(e.opts.WALDir)
	ok, err := exists(workWAL)
	if err != nil {
		return failure.Wrap(failure.System, err, "can't stat %q", workWAL)
	}
	if !ok {
		return nil
	}

	if e.opts.Verbose {
		e.log.Info("restoring online WAL")
	}
	n, err := wal.CopyDir(workWAL, e.opts.OnlineWALPath())
	if err != nil {
		return failure.Wrap(failure.System, err, "can't restore online WAL")
	}
	e.log.Debug("Online WAL restored", "files", n)
	return nil
}

// ClearDestination empties the data directory. The archive and server log
// directories survive when they live inside it. Links are removed, never
// followed.
func (e *Executor) ClearDestination() error {
	ok, err := exists(e.opts.PgData)
	if err != nil {
		return failure.Wrap(failure.System, err, "can't stat %q", e.opts.PgData)
	}
	if !ok {
		return nil
	}

	if e.opts.Verbose {
		e.log.Info("clearing restore destination")
	}

	keep := func(path string) bool {
		return path == e.opts.ArclogPath || path == e.opts.SrvlogPath
	}
	entries, err := listTree(e.opts.PgData, keep, false)
	if err != nil {
		return failure.Wrap(failure.System, err, "can't list %q", e.opts.PgData)
	}
	sortLeafFirst(entries)

	for _, entry := range entries {
		if err := removeEntry(entry.Path); err != nil {
			// parents of a kept directory
			if entry.IsDir && isNotEmpty(err) {
				continue
			}
			return failure.Wrap(failure.System, err, "can't remove %q", entry.Path)
		}
	}
	return nil
}

// RestoreTimelineHistory copies the catalog's timeline history files into
// the archive directory, where recovery looks for them.
func (e *Executor) RestoreTimelineHistory() error {
	if err := os.MkdirAll(e.opts.ArclogPath, 0700); err != nil {
		return failure.Wrap(failure.System, err, "can't create directory %q", e.opts.ArclogPath)
	}

	src := e.cat.TimelineHistoryPath()
	ok, err := exists(src)
	if err != nil {
		return failure.Wrap(failure.System, err, "can't stat %q", src)
	}
	if !ok {
		return nil
	}

	n, err := wal.CopyDir(src, e.opts.ArclogPath)
	if err != nil {
		return failure.Wrap(failure.System, err, "can't restore timeline history")
	}
	e.log.Debug("Timeline history restored", "files", n)
	return nil
}
