package restore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"pgrman/internal/failure"
	"pgrman/internal/logger"
)

// Safety runs pre-restore checks that never modify anything
type Safety struct {
	log logger.Logger
}

// NewSafety creates a new safety checker
func NewSafety(log logger.Logger) *Safety {
	return &Safety{log: log}
}

// CheckDiskSpace verifies the filesystem holding dest can take required
// bytes. dest may not exist yet; the nearest existing parent is measured.
// A filesystem that cannot be queried is only warned about.
func (s *Safety) CheckDiskSpace(dest string, required int64) error {
	probe := existingParent(dest)

	available, err := getDiskSpace(probe)
	if err != nil {
		s.log.Warn("Cannot check disk space", "path", probe, "error", err)
		return nil
	}

	if available < required {
		return failure.New(failure.System, "insufficient disk space in %s: need %s, have %s",
			probe, humanize.Bytes(uint64(required)), humanize.Bytes(uint64(available)))
	}

	s.log.Debug("Disk space check passed",
		"required", humanize.Bytes(uint64(required)),
		"available", humanize.Bytes(uint64(available)))
	return nil
}

func existingParent(path string) string {
	for {
		if _, err := os.Stat(path); err == nil || !errors.Is(err, fs.ErrNotExist) {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
