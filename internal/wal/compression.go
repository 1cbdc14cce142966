//go:build !nozlib

package wal

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"

	"pgrman/internal/logger"
)

// DecompressionSupported reports whether this build can read compressed backups
const DecompressionSupported = true

// Compressor expands zlib-compressed backup payloads
type Compressor struct {
	log logger.Logger
}

// NewCompressor creates a new compressor
func NewCompressor(log logger.Logger) *Compressor {
	return &Compressor{
		log: log,
	}
}

// DecompressFile inflates sourcePath into destPath and returns the bytes written
func (c *Compressor) DecompressFile(sourcePath, destPath string, perm os.FileMode) (int64, error) {
	c.log.Debug("Decompressing file", "source", sourcePath, "dest", destPath)

	srcFile, err := os.Open(sourcePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open compressed file: %w", err)
	}
	defer srcFile.Close()

	zr, err := zlib.NewReader(srcFile)
	if err != nil {
		return 0, fmt.Errorf("failed to create zlib reader (file may be corrupted): %w", err)
	}
	defer zr.Close()

	dstFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dstFile.Close()

	written, err := io.Copy(dstFile, zr)
	if err != nil {
		return 0, fmt.Errorf("decompression failed: %w", err)
	}

	if err := dstFile.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync decompressed file: %w", err)
	}

	c.log.Debug("Decompression complete", "decompressed_size", written)
	return written, nil
}
