// Package catalogtest builds on-disk backup catalogs for tests.
package catalogtest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zlib"

	"pgrman/internal/catalog"
	"pgrman/internal/wal"
)

// File is one manifest entry to create
type File struct {
	Path        string
	Content     string
	Dir         bool
	NotCaptured bool
}

// Backup describes a catalog entry to create
type Backup struct {
	Start      time.Time
	Mode       catalog.BackupMode
	Status     catalog.Status
	Timeline   uint32
	StartLSN   wal.LSN
	StopLSN    wal.LSN
	Compressed bool
	BlockSize  int

	Database []File
	Arclog   []File
	// Mkdirs lists directories the skeleton script creates under the destination
	Mkdirs []string
}

// Write creates the backup under root and returns it as the catalog reads it
func Write(t testing.TB, root string, spec Backup) *catalog.Backup {
	t.Helper()

	dir := filepath.Join(root, spec.Start.Format("20060102"), spec.Start.Format("150405"))
	mustMkdir(t, dir)

	b := &catalog.Backup{
		Dir:          dir,
		Mode:         spec.Mode,
		Compressed:   spec.Compressed,
		Timeline:     spec.Timeline,
		StartLSN:     spec.StartLSN,
		StopLSN:      spec.StopLSN,
		StartTime:    spec.Start,
		EndTime:      spec.Start.Add(time.Minute),
		BlockSize:    wal.BlockSize,
		WALBlockSize: wal.WALBlockSize,
		Status:       spec.Status,
	}
	if spec.BlockSize != 0 {
		b.BlockSize = spec.BlockSize
	}
	if b.Status == "" {
		b.Status = catalog.StatusOK
	}

	if b.HasDatabase() {
		b.WriteBytes += writePart(t, b, catalog.DatabaseDir, catalog.DatabaseFileList, spec.Database)
		writeMkdirs(t, b, spec.Mkdirs)
	}
	if b.HasArchiveLog() {
		b.WriteBytes += writePart(t, b, catalog.ArclogDir, catalog.ArclogFileList, spec.Arclog)
	}

	if err := os.WriteFile(b.Path(catalog.IniFile), b.MarshalIni(), 0644); err != nil {
		t.Fatalf("write %s: %v", catalog.IniFile, err)
	}
	return b
}

func writePart(t testing.TB, b *catalog.Backup, dirName, listName string, files []File) int64 {
	t.Helper()

	var written int64
	base := b.Path(dirName)
	mustMkdir(t, base)

	var list strings.Builder
	for _, f := range files {
		path := filepath.Join(base, filepath.FromSlash(f.Path))
		switch {
		case f.Dir:
			mustMkdir(t, path)
			fmt.Fprintf(&list, "%s d 0 0 0700 2024-01-01 00:00:00\n", f.Path)
		case f.NotCaptured:
			fmt.Fprintf(&list, "%s f %d 0 0600 2024-01-01 00:00:00\n", f.Path, catalog.SizeInvalid)
		default:
			data := []byte(f.Content)
			if b.Compressed {
				data = deflate(t, data)
			}
			mustMkdir(t, filepath.Dir(path))
			if err := os.WriteFile(path, data, 0600); err != nil {
				t.Fatalf("write %s: %v", path, err)
			}
			fmt.Fprintf(&list, "%s f %d 0 0600 2024-01-01 00:00:00\n", f.Path, len(data))
			written += int64(len(data))
		}
	}

	if err := os.WriteFile(b.Path(listName), []byte(list.String()), 0644); err != nil {
		t.Fatalf("write %s: %v", listName, err)
	}
	return written
}

func writeMkdirs(t testing.TB, b *catalog.Backup, dirs []string) {
	t.Helper()

	var script strings.Builder
	script.WriteString("#!/bin/sh\n")
	for _, d := range dirs {
		fmt.Fprintf(&script, "mkdir -m 700 -p %s\n", d)
	}
	if err := os.WriteFile(b.Path(catalog.MkdirsScript), []byte(script.String()), 0755); err != nil {
		t.Fatalf("write %s: %v", catalog.MkdirsScript, err)
	}
}

func deflate(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("compress: %v", err)
	}
	return buf.Bytes()
}

func mustMkdir(t testing.TB, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}
