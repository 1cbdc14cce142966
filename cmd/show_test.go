package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pgrman/internal/catalog"
	"pgrman/internal/logger"
	"pgrman/internal/wal"
)

func testBackups() []*catalog.Backup {
	return []*catalog.Backup{
		{
			Mode:       catalog.ModeIncremental,
			Timeline:   2,
			StartTime:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local),
			StopLSN:    wal.NewLSN(0, 0x3000100),
			WriteBytes: 2000,
			Status:     catalog.StatusOK,
		},
		{
			Mode:       catalog.ModeFull,
			Timeline:   1,
			StartTime:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local),
			StopLSN:    wal.NewLSN(0, 0x1000100),
			WriteBytes: 5000000,
			Status:     catalog.StatusCorrupt,
		},
	}
}

func TestWriteBackupList(t *testing.T) {
	var out bytes.Buffer
	writeBackupList(&out, testBackups(), nil)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("Expected 5 lines, got %d:\n%s", len(lines), out.String())
	}
	if strings.Contains(lines[1], "Par") {
		t.Error("Parent column shown without timeline argument")
	}
	for _, want := range []string{"2024-03-01 10:00:00", "INCREMENTAL", "2.0 kB", "0/03000100", "OK"} {
		if !strings.Contains(lines[3], want) {
			t.Errorf("Line %q missing %q", lines[3], want)
		}
	}
	if !strings.Contains(lines[4], "CORRUPT") || !strings.Contains(lines[4], "5.0 MB") {
		t.Errorf("Unexpected full backup line %q", lines[4])
	}
}

func TestParentTimelines(t *testing.T) {
	log = logger.NewNullLogger()

	dir := t.TempDir()
	history := "1\t0/3000000\tno recovery target specified\n"
	if err := os.WriteFile(filepath.Join(dir, wal.HistoryFileName(2)), []byte(history), 0644); err != nil {
		t.Fatal(err)
	}

	parents := parentTimelines(wal.NewTimelineManager(log, dir), testBackups())
	if parents[2] != "1" {
		t.Errorf("parent of timeline 2 = %q, want 1", parents[2])
	}
	if parents[1] != "0" {
		t.Errorf("parent of timeline 1 = %q, want 0", parents[1])
	}

	var out bytes.Buffer
	writeBackupList(&out, testBackups(), parents)
	if !strings.Contains(out.String(), "Par") {
		t.Error("Parent column missing")
	}
}
