package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"

	"pgrman/internal/failure"
	"pgrman/internal/logger"
)

// Catalog layout names
const (
	IniFile          = "backup.ini"
	MkdirsScript     = "mkdirs.sh"
	DatabaseDir      = "database"
	ArclogDir        = "arclog"
	SrvlogDir        = "srvlog"
	DatabaseFileList = "file_database.txt"
	ArclogFileList   = "file_arclog.txt"
	SrvlogFileList   = "file_srvlog.txt"

	TimelineHistoryDir = "timeline_history"
	RestoreWorkDir     = "backup"
	LockFile           = "pgrman.lock"
)

var (
	dateDirPattern = regexp.MustCompile(`^\d{8}$`)
	timeDirPattern = regexp.MustCompile(`^\d{6}$`)
)

// Catalog is a backup catalog rooted at the backup path
type Catalog struct {
	root string
	log  logger.Logger
}

// Open returns the catalog at root. The directory must exist.
func Open(root string, log logger.Logger) (*Catalog, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, failure.Wrap(failure.System, err, "can't open backup catalog %q", root)
	}
	if !info.IsDir() {
		return nil, failure.New(failure.System, "backup catalog %q is not a directory", root)
	}
	return &Catalog{root: root, log: log}, nil
}

// Root returns the backup path
func (c *Catalog) Root() string {
	return c.root
}

// TimelineHistoryPath is where backups keep copies of timeline history files
func (c *Catalog) TimelineHistoryPath() string {
	return filepath.Join(c.root, TimelineHistoryDir)
}

// WorkPath returns a path in the restore work directory
func (c *Catalog) WorkPath(elem ...string) string {
	return filepath.Join(append([]string{c.root, RestoreWorkDir}, elem...)...)
}

// Lock is an exclusive catalog lock
type Lock struct {
	fl *flock.Flock
}

// Lock takes the exclusive catalog lock without waiting
func (c *Catalog) Lock() (*Lock, error) {
	fl := flock.New(filepath.Join(c.root, LockFile))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, failure.Wrap(failure.System, err, "can't lock backup catalog")
	}
	if !locked {
		return nil, failure.New(failure.AlreadyRunning, "another pgrman is running, stop restore")
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

// List returns every backup in the catalog, newest first
func (c *Catalog) List() ([]*Backup, error) {
	days, err := os.ReadDir(c.root)
	if err != nil {
		return nil, failure.Wrap(failure.System, err, "can't read backup catalog %q", c.root)
	}

	var backups []*Backup
	for _, day := range days {
		if !day.IsDir() || !dateDirPattern.MatchString(day.Name()) {
			continue
		}
		dayPath := filepath.Join(c.root, day.Name())
		times, err := os.ReadDir(dayPath)
		if err != nil {
			return nil, failure.Wrap(failure.System, err, "can't read directory %q", dayPath)
		}
		for _, tm := range times {
			if !tm.IsDir() || !timeDirPattern.MatchString(tm.Name()) {
				continue
			}
			dir := filepath.Join(dayPath, tm.Name())
			b, err := c.load(dir)
			if err != nil {
				c.log.Warn("Skipping unreadable backup", "dir", dir, "error", err)
				continue
			}
			backups = append(backups, b)
		}
	}

	sort.SliceStable(backups, func(i, j int) bool {
		if !backups[i].StartTime.Equal(backups[j].StartTime) {
			return backups[i].StartTime.After(backups[j].StartTime)
		}
		return backups[i].Dir > backups[j].Dir
	})
	return backups, nil
}

func (c *Catalog) load(dir string) (*Backup, error) {
	f, err := os.Open(filepath.Join(dir, IniFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b, err := ParseBackupIni(f)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", IniFile, err)
	}
	b.Dir = dir
	if b.StartTime.IsZero() {
		b.StartTime = timeFromDir(dir)
	}
	return b, nil
}

// timeFromDir derives the start time from a YYYYMMDD/HHMMSS directory
func timeFromDir(dir string) time.Time {
	stamp := filepath.Base(filepath.Dir(dir)) + filepath.Base(dir)
	t, err := time.ParseInLocation("20060102150405", stamp, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Validate checks every captured file of the backup against its recorded size
func (c *Catalog) Validate(b *Backup) error {
	type part struct {
		list string
		dir  string
	}
	var parts []part
	if b.HasDatabase() {
		parts = append(parts, part{DatabaseFileList, DatabaseDir})
	}
	if b.HasArchiveLog() {
		parts = append(parts, part{ArclogFileList, ArclogDir})
	}
	if b.WithServerLog {
		parts = append(parts, part{SrvlogFileList, SrvlogDir})
	}

	for _, p := range parts {
		entries, err := ReadManifest(b.Path(p.list))
		if err != nil {
			return failure.Wrap(failure.Corrupted, err, "backup %s is corrupted", b.ID())
		}
		for _, e := range entries {
			if !e.IsRegular() || !e.Captured() {
				continue
			}
			path := b.Path(p.dir, filepath.FromSlash(e.Path))
			info, err := os.Stat(path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return failure.New(failure.Corrupted, "backup %s is corrupted: %q is missing", b.ID(), path)
				}
				return failure.Wrap(failure.System, err, "can't stat %q", path)
			}
			if info.Size() != e.Size {
				return failure.New(failure.Corrupted, "backup %s is corrupted: size of %q is %d, expected %d",
					b.ID(), path, info.Size(), e.Size)
			}
		}
	}
	c.log.Debug("Backup validated", "backup", b.ID())
	return nil
}

// SaveStatus replaces the STATUS line of backup.ini atomically. Other
// lines, including keys this tool does not know, are kept.
func (c *Catalog) SaveStatus(b *Backup) error {
	path := b.Path(IniFile)
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		content = ReplaceStatus(content, b.Status)
	case errors.Is(err, fs.ErrNotExist):
		content = b.MarshalIni()
	default:
		return failure.Wrap(failure.System, err, "can't read %q", path)
	}
	if err := renameio.WriteFile(path, content, 0644); err != nil {
		return failure.Wrap(failure.System, err, "can't write %q", path)
	}
	return nil
}
