package restore

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgrman/internal/catalog"
	"pgrman/internal/catalog/catalogtest"
	"pgrman/internal/failure"
	"pgrman/internal/logger"
	"pgrman/internal/pgctl"
	"pgrman/internal/pitr"
	"pgrman/internal/wal"
)

type fixture struct {
	root   string
	pgdata string
	arclog string
	srvlog string
	cat    *catalog.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()
	f := &fixture{
		root:   filepath.Join(tmp, "catalog"),
		pgdata: filepath.Join(tmp, "pgdata"),
		arclog: filepath.Join(tmp, "arclog"),
		srvlog: filepath.Join(tmp, "srvlog"),
	}
	require.NoError(t, os.MkdirAll(f.root, 0700))
	cat, err := catalog.Open(f.root, logger.NewNullLogger())
	require.NoError(t, err)
	f.cat = cat
	return f
}

func (f *fixture) options() *Options {
	return &Options{
		PgData:     f.pgdata,
		ArclogPath: f.arclog,
		SrvlogPath: f.srvlog,
	}
}

func (f *fixture) engine(opts *Options) *Engine {
	return New(f.cat, opts, logger.NewNullLogger(), "pgrman test")
}

func (f *fixture) write(t *testing.T, path, content string) {
	t.Helper()
	full := filepath.Join(f.pgdata, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0700))
	require.NoError(t, os.WriteFile(full, []byte(content), 0600))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func at(hour int) time.Time {
	return time.Date(2024, 3, 1, hour, 0, 0, 0, time.Local)
}

func seg(n uint32) wal.LSN {
	return wal.NewLSN(0, n*wal.SegmentSize)
}

// fullAndIncremental writes a full backup at 09:00 and an incremental at
// 10:00 that changes base/1 and drops base/2.
func fullAndIncremental(t *testing.T, f *fixture, full catalogtest.Backup) {
	t.Helper()
	full.Start = at(9)
	full.Mode = catalog.ModeFull
	full.Timeline = 1
	full.StartLSN = seg(1)
	full.StopLSN = seg(1) + 0x100
	if full.Database == nil {
		full.Database = []catalogtest.File{
			{Path: "base", Dir: true},
			{Path: "base/1", Content: "old"},
			{Path: "base/2", Content: "dropped later"},
			{Path: "global", Dir: true},
			{Path: "global/pg_control_copy", Content: "global"},
		}
	}
	full.Arclog = []catalogtest.File{
		{Path: "000000010000000000000001", Content: "wal1"},
	}
	full.Mkdirs = []string{"base", "global", "pg_wal"}
	catalogtest.Write(t, f.root, full)

	catalogtest.Write(t, f.root, catalogtest.Backup{
		Start:      at(10),
		Mode:       catalog.ModeIncremental,
		Timeline:   1,
		StartLSN:   seg(2),
		StopLSN:    seg(2) + 0x100,
		Compressed: full.Compressed,
		Database: []catalogtest.File{
			{Path: "base", Dir: true},
			{Path: "base/1", Content: "new"},
			{Path: "global", Dir: true},
			{Path: "global/pg_control_copy", NotCaptured: true},
			{Path: "PG_VERSION", NotCaptured: true},
		},
		Arclog: []catalogtest.File{
			{Path: "000000010000000000000002", Content: "wal2"},
			{Path: "00000002.history", Content: "1\t0/3000000\tno recovery target specified\n"},
		},
	})
}

func TestRunRestoresChain(t *testing.T) {
	f := newFixture(t)
	fullAndIncremental(t, f, catalogtest.Backup{})

	f.write(t, "stale", "left over")
	f.write(t, "pg_wal/000000010000000000000003", "online")

	result, err := f.engine(f.options()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "new", readFile(t, filepath.Join(f.pgdata, "base/1")))
	assert.Equal(t, "global", readFile(t, filepath.Join(f.pgdata, "global/pg_control_copy")))
	assert.NoFileExists(t, filepath.Join(f.pgdata, "base/2"))
	assert.NoFileExists(t, filepath.Join(f.pgdata, "stale"))
	assert.Equal(t, "online", readFile(t, filepath.Join(f.pgdata, "pg_wal/000000010000000000000003")))
	assert.Equal(t, "online", readFile(t, f.cat.WorkPath("pg_wal", "000000010000000000000003")))

	// WAL is taken from the last chain member onwards and linked; history
	// files come from the catalog's timeline_history only
	link, err := os.Readlink(filepath.Join(f.arclog, "000000010000000000000002"))
	require.NoError(t, err)
	assert.Contains(t, link, filepath.Join("20240301", "100000", catalog.ArclogDir))
	assert.NoFileExists(t, filepath.Join(f.arclog, "000000010000000000000001"))
	assert.NoFileExists(t, filepath.Join(f.arclog, "00000002.history"))

	conf := readFile(t, filepath.Join(f.pgdata, pitr.RecoveryConf))
	assert.Contains(t, conf, "restore_command = 'cp "+f.arclog+"/%f %p'")
	assert.Contains(t, conf, "recovery_target_timeline = '1'")
	assert.Equal(t, filepath.Join(f.pgdata, pitr.RecoveryConf), result.ConfigPath)

	assert.Equal(t, uint32(1), result.Plan.TargetTimeline)
	assert.Equal(t, uint32(1), result.Plan.BackupTimeline)
	assert.Len(t, result.Plan.Chain.Incrementals, 1)
	assert.Equal(t, 2, result.Stats.BackupsApplied)
	assert.Equal(t, 1, result.Stats.SegmentsLinked)
	assert.Equal(t, 1, result.Stats.FilesDeleted)
	assert.False(t, result.Check)
}

func TestRunKeepsLogDirectoriesInsideDataDirectory(t *testing.T) {
	f := newFixture(t)
	fullAndIncremental(t, f, catalogtest.Backup{})

	f.arclog = filepath.Join(f.pgdata, "arclog")
	f.srvlog = filepath.Join(f.pgdata, "srvlog")
	f.write(t, "arclog/000000010000000000000009", "archived")
	f.write(t, "srvlog/postgresql.log", "server log")
	f.write(t, "stale", "left over")

	opts := f.options()
	opts.ArclogPath = f.arclog + "/"
	opts.SrvlogPath = f.srvlog + "/"
	_, err := f.engine(opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, f.arclog, opts.ArclogPath)
	assert.Equal(t, "archived", readFile(t, filepath.Join(f.arclog, "000000010000000000000009")))
	assert.Equal(t, "server log", readFile(t, filepath.Join(f.srvlog, "postgresql.log")))
	_, err = os.Readlink(filepath.Join(f.arclog, "000000010000000000000002"))
	assert.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(f.pgdata, "stale"))
	assert.Equal(t, "new", readFile(t, filepath.Join(f.pgdata, "base/1")))
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	fullAndIncremental(t, f, catalogtest.Backup{})
	f.write(t, "pg_wal/000000010000000000000003", "online")

	_, err := f.engine(f.options()).Run(context.Background())
	require.NoError(t, err)
	_, err = f.engine(f.options()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "new", readFile(t, filepath.Join(f.pgdata, "base/1")))
	assert.Equal(t, "online", readFile(t, filepath.Join(f.pgdata, "pg_wal/000000010000000000000003")))
	_, err = os.Readlink(filepath.Join(f.arclog, "000000010000000000000002"))
	assert.NoError(t, err)
}

func TestRunCheckModeWritesNothing(t *testing.T) {
	f := newFixture(t)
	fullAndIncremental(t, f, catalogtest.Backup{Status: catalog.StatusDone})
	f.write(t, "stale", "left over")
	f.write(t, "pg_wal/000000010000000000000003", "online")

	opts := f.options()
	opts.Check = true
	result, err := f.engine(opts).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Check)
	assert.Equal(t, "left over", readFile(t, filepath.Join(f.pgdata, "stale")))
	assert.NoDirExists(t, f.arclog)
	assert.NoDirExists(t, f.cat.WorkPath())
	assert.NoFileExists(t, filepath.Join(f.pgdata, pitr.RecoveryConf))
	assert.Zero(t, result.Stats.FilesRestored)

	// found in the incremental's archive, then the online WAL directory
	require.Len(t, result.Ranges, 2)
	assert.Equal(t, "000000010000000000000002", result.Ranges[0].First)
	assert.Equal(t, "000000010000000000000003", result.Ranges[1].First)
	assert.Equal(t, "000000010000000000000004", result.NextSegment)

	// validation of the DONE backup is not persisted
	backups, err := f.cat.List()
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusDone, backups[1].Status)
}

func TestRunPromotesDoneBackup(t *testing.T) {
	f := newFixture(t)
	fullAndIncremental(t, f, catalogtest.Backup{Status: catalog.StatusDone})

	_, err := f.engine(f.options()).Run(context.Background())
	require.NoError(t, err)

	backups, err := f.cat.List()
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusOK, backups[1].Status)
}

func TestRunCompressedBackup(t *testing.T) {
	if !wal.DecompressionSupported {
		t.Skip("built without zlib support")
	}
	f := newFixture(t)
	fullAndIncremental(t, f, catalogtest.Backup{Compressed: true})

	result, err := f.engine(f.options()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "new", readFile(t, filepath.Join(f.pgdata, "base/1")))
	assert.Equal(t, "wal2", readFile(t, filepath.Join(f.arclog, "000000010000000000000002")))
	assert.Equal(t, 1, result.Stats.SegmentsDecompressed)
	assert.Zero(t, result.Stats.SegmentsLinked)
}

func TestRunWritesSignalFileForModernServer(t *testing.T) {
	f := newFixture(t)
	fullAndIncremental(t, f, catalogtest.Backup{
		Database: []catalogtest.File{
			{Path: "PG_VERSION", Content: "16\n"},
			{Path: "base", Dir: true},
			{Path: "base/1", Content: "old"},
			{Path: "global", Dir: true},
			{Path: "global/pg_control_copy", Content: "global"},
		},
	})

	opts := f.options()
	opts.Target = pitr.RecoveryTarget{XID: "1234"}
	result, err := f.engine(opts).Run(context.Background())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(f.pgdata, pitr.RecoverySignal))
	assert.NoFileExists(t, filepath.Join(f.pgdata, pitr.RecoveryConf))
	conf := readFile(t, result.ConfigPath)
	assert.Contains(t, conf, "recovery_target_xid = '1234'")
}

func TestRunEmptyCatalog(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine(f.options()).Run(context.Background())
	assert.True(t, failure.Is(err, failure.NoBackup), "got %v", err)
}

func TestRunCatalogLocked(t *testing.T) {
	f := newFixture(t)
	fullAndIncremental(t, f, catalogtest.Backup{})

	lock, err := f.cat.Lock()
	require.NoError(t, err)
	defer lock.Release()

	_, err = f.engine(f.options()).Run(context.Background())
	assert.True(t, failure.Is(err, failure.AlreadyRunning), "got %v", err)
}

func TestRunServerRunning(t *testing.T) {
	f := newFixture(t)
	fullAndIncremental(t, f, catalogtest.Backup{})

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()
	f.write(t, pgctl.PidFile, strconv.Itoa(cmd.Process.Pid)+"\n"+f.pgdata+"\n")

	_, err := f.engine(f.options()).Run(context.Background())
	assert.True(t, failure.Is(err, failure.PgRunning), "got %v", err)
	assert.FileExists(t, filepath.Join(f.pgdata, pgctl.PidFile))
}

func TestRunInterrupted(t *testing.T) {
	f := newFixture(t)
	fullAndIncremental(t, f, catalogtest.Backup{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine(f.options()).Run(ctx)
	assert.True(t, failure.Is(err, failure.Interrupted), "got %v", err)
}

func TestRunConfirmation(t *testing.T) {
	f := newFixture(t)
	fullAndIncremental(t, f, catalogtest.Backup{})
	f.write(t, "stale", "left over")

	var seen *Plan
	engine := f.engine(f.options())
	engine.SetConfirm(func(plan *Plan) (bool, error) {
		seen = plan
		return false, nil
	})

	_, err := engine.Run(context.Background())
	assert.True(t, failure.Is(err, failure.Interrupted), "got %v", err)
	assert.Equal(t, "left over", readFile(t, filepath.Join(f.pgdata, "stale")))

	require.NotNil(t, seen)
	assert.Equal(t, "2024-03-01 09:00:00", seen.Chain.Base.ID())
	assert.Len(t, seen.Chain.Incrementals, 1)
	assert.Positive(t, seen.RequiredBytes)
}

func TestRunIncompatibleBlockSize(t *testing.T) {
	f := newFixture(t)
	fullAndIncremental(t, f, catalogtest.Backup{BlockSize: 4096})

	_, err := f.engine(f.options()).Run(context.Background())
	assert.True(t, failure.Is(err, failure.PgIncompatible), "got %v", err)
}

func TestRunCorruptedBackup(t *testing.T) {
	f := newFixture(t)
	fullAndIncremental(t, f, catalogtest.Backup{})

	backups, err := f.cat.List()
	require.NoError(t, err)
	require.NoError(t, os.Remove(backups[1].Path(catalog.DatabaseDir, "base", "2")))

	_, err = f.engine(f.options()).Run(context.Background())
	assert.True(t, failure.Is(err, failure.Corrupted), "got %v", err)

	backups, err = f.cat.List()
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCorrupt, backups[1].Status)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		kind failure.Kind
	}{
		{"missing pgdata", Options{ArclogPath: "/a", SrvlogPath: "/s"}, failure.Args},
		{"relative arclog", Options{PgData: "/d", ArclogPath: "a", SrvlogPath: "/s"}, failure.Args},
		{"missing srvlog", Options{PgData: "/d", ArclogPath: "/a"}, failure.Args},
		{"bad xid", Options{PgData: "/d", ArclogPath: "/a", SrvlogPath: "/s", Target: pitr.RecoveryTarget{XID: "x"}}, failure.Args},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			assert.True(t, failure.Is(err, tt.kind), "got %v", err)
		})
	}

	opts := Options{PgData: "/d", ArclogPath: "/a", SrvlogPath: "/s"}
	require.NoError(t, opts.Validate())
	assert.Equal(t, "/d/pg_wal", opts.OnlineWALPath())

	opts = Options{PgData: "/d/", ArclogPath: "/d/arclog/", SrvlogPath: "/d//srvlog"}
	require.NoError(t, opts.Validate())
	assert.Equal(t, "/d", opts.PgData)
	assert.Equal(t, "/d/arclog", opts.ArclogPath)
	assert.Equal(t, "/d/srvlog", opts.SrvlogPath)
}
