package pgctl

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgrman/internal/failure"
	"pgrman/internal/logger"
)

func writeControl(t *testing.T, pgdata string, version, tli uint32, crcOffset int, table *crc32.Table) {
	t.Helper()
	data := make([]byte, 8192)
	binary.NativeEndian.PutUint64(data[0:], 7096164353410347245)
	binary.NativeEndian.PutUint32(data[controlVersionOffset:], version)
	off := timelineOffset
	if version < prevCheckPointDrop {
		off = timelineOffsetLegacy
	}
	binary.NativeEndian.PutUint32(data[off:], tli)
	// non-zero payload between the timeline and the checksum
	for i := off + 4; i < crcOffset; i++ {
		data[i] = byte(i)
	}
	binary.NativeEndian.PutUint32(data[crcOffset:], crc32.Checksum(data[:crcOffset], table))

	require.NoError(t, os.MkdirAll(filepath.Join(pgdata, "global"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(pgdata, ControlFile), data, 0600))
}

func TestReadControlFile(t *testing.T) {
	tests := []struct {
		name    string
		version uint32
		tli     uint32
		crcOff  int
		table   *crc32.Table
	}{
		{"modern layout crc32c", 1300, 5, 288, castagnoli},
		{"pre-11 layout crc32c", 960, 3, 240, castagnoli},
		{"legacy crc", 942, 2, 232, crc32.IEEETable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pgdata := t.TempDir()
			writeControl(t, pgdata, tt.version, tt.tli, tt.crcOff, tt.table)

			ctrl, err := ReadControlFile(pgdata)
			require.NoError(t, err)
			assert.Equal(t, tt.version, ctrl.Version)
			assert.Equal(t, tt.tli, ctrl.Timeline)
			assert.Equal(t, tt.tli, CurrentTimeline(pgdata, logger.NewNullLogger()))
		})
	}
}

func TestCurrentTimelineWarnings(t *testing.T) {
	log := logger.NewNullLogger()

	assert.Zero(t, CurrentTimeline(t.TempDir(), log), "missing pg_control")

	corrupt := t.TempDir()
	writeControl(t, corrupt, 1300, 5, 288, castagnoli)
	path := filepath.Join(corrupt, ControlFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[100] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0600))
	_, err = ReadControlFile(corrupt)
	var ctrlErr *ControlError
	assert.ErrorAs(t, err, &ctrlErr)
	assert.Zero(t, CurrentTimeline(corrupt, log), "CRC mismatch")

	swapped := t.TempDir()
	writeControl(t, swapped, 1300<<16, 5, 288, castagnoli)
	assert.Zero(t, CurrentTimeline(swapped, log), "byte order mismatch")
}

func TestIsRunning(t *testing.T) {
	writePid := func(t *testing.T, pid int) string {
		dir := t.TempDir()
		content := strconv.Itoa(pid) + "\n/var/lib/postgresql/data\n1700000000\n5432\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, PidFile), []byte(content), 0600))
		return dir
	}

	running, err := IsRunning(t.TempDir())
	require.NoError(t, err)
	assert.False(t, running, "no pid file")

	running, err = IsRunning(writePid(t, os.Getpid()))
	require.NoError(t, err)
	assert.False(t, running, "own pid is a recycled stale lock")

	running, err = IsRunning(writePid(t, os.Getppid()))
	require.NoError(t, err)
	assert.False(t, running, "parent pid is a recycled stale lock")

	running, err = IsRunning(writePid(t, 999999999))
	require.NoError(t, err)
	assert.False(t, running, "dead pid")

	pid, ok, err := ReadPid(writePid(t, -4242))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4242, pid, "single-user backend pid is negated")
}

func TestReadPidInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PidFile), []byte("not a pid\n"), 0600))
	_, _, err := ReadPid(dir)
	assert.Error(t, err)
}

func TestRemovePidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, RemovePidFile(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, PidFile), []byte("1\n"), 0600))
	require.NoError(t, RemovePidFile(dir))
	assert.NoFileExists(t, filepath.Join(dir, PidFile))
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in    string
		major int
		minor int
		err   bool
	}{
		{"9.6\n", 9, 6, false},
		{"12", 12, 0, false},
		{"16.2 (Debian 16.2-1.pgdg120+2)", 16, 2, false},
		{"unknown", 0, 0, true},
	}
	for _, tt := range tests {
		v, err := ParseVersion(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.major, v.Major, tt.in)
		assert.Equal(t, tt.minor, v.Minor, tt.in)
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PG_VERSION"), []byte("15\n"), 0600))
	v, err := DataVersion(dir)
	require.NoError(t, err)
	assert.True(t, v.AtLeast(12))
}

func TestProbeWithoutConnection(t *testing.T) {
	res, err := Probe(context.Background(), "", logger.NewNullLogger())
	require.NoError(t, err)
	assert.False(t, res.Reachable)
	assert.False(t, res.ServesDataDir("/var/lib/postgresql/data"))

	// nothing listens on port 1
	res, err = Probe(context.Background(), "postgres://nobody@127.0.0.1:1/postgres?connect_timeout=1", logger.NewNullLogger())
	require.NoError(t, err)
	assert.False(t, res.Reachable)

	_, err = Probe(context.Background(), "postgres://%zz", logger.NewNullLogger())
	assert.True(t, failure.Is(err, failure.Args), "got %v", err)
}

func TestSanitizeDSN(t *testing.T) {
	assert.Equal(t, "host=db password=*** user=x", sanitizeDSN("host=db password=secret user=x"))
	assert.NotContains(t, sanitizeDSN("postgres://u:secret@db/postgres"), "secret")
}
