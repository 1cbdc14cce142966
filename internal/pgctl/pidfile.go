// Package pgctl inspects a PostgreSQL data directory without starting the
// server: postmaster liveness, the control file and the server version.
package pgctl

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/process"

	"pgrman/internal/failure"
)

// PidFile is the postmaster lock file name
const PidFile = "postmaster.pid"

// ReadPid returns the postmaster pid recorded in pgdata. ok is false when the
// lock file does not exist. A negative pid (single-user backend) is made
// positive.
func ReadPid(pgdata string) (pid int, ok bool, err error) {
	path := filepath.Join(pgdata, PidFile)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, failure.Wrap(failure.System, err, "can't open pid file %q", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, false, failure.Wrap(failure.System, err, "can't read pid file %q", path)
		}
		return 0, false, failure.New(failure.System, "pid file %q is empty", path)
	}

	pid, err = strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return 0, false, failure.New(failure.System, "invalid data in pid file %q", path)
	}
	if pid < 0 {
		pid = -pid
	}
	return pid, true, nil
}

// IsRunning reports whether a server owns pgdata. A pid that matches this
// process or its parent belongs to a stale lock file left by a crashed
// server whose pid was recycled.
func IsRunning(pgdata string) (bool, error) {
	pid, ok, err := ReadPid(pgdata)
	if err != nil || !ok {
		return false, err
	}
	if pid == 0 || pid == os.Getpid() || pid == os.Getppid() {
		return false, nil
	}

	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return false, failure.Wrap(failure.System, err, "can't check postmaster process %d", pid)
	}
	return exists, nil
}

// RemovePidFile deletes a stale lock file; absence is fine
func RemovePidFile(pgdata string) error {
	path := filepath.Join(pgdata, PidFile)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return failure.Wrap(failure.System, err, "can't remove %q", path)
	}
	return nil
}
