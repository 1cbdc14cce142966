//go:build !nozlib

package wal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"

	"pgrman/internal/logger"
)

func TestDecompressFile(t *testing.T) {
	dir := t.TempDir()
	payload := bytes.Repeat([]byte("wal page "), 4096)

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	src := filepath.Join(dir, "000000010000000000000001")
	if err := os.WriteFile(src, buf.Bytes(), 0600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	dst := filepath.Join(dir, "restored")
	c := NewCompressor(logger.NewNullLogger())
	n, err := c.DecompressFile(src, dst, 0600)
	if err != nil {
		t.Fatalf("DecompressFile: %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("written = %d, want %d", n, len(payload))
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("restored content differs from original")
	}
}

func TestDecompressFileRejectsPlainData(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plain")
	if err := os.WriteFile(src, []byte("not compressed"), 0600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	c := NewCompressor(logger.NewNullLogger())
	if _, err := c.DecompressFile(src, filepath.Join(dir, "out"), 0600); err == nil {
		t.Error("expected error for non-zlib input")
	}
}
