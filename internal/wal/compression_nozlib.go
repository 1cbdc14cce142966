//go:build nozlib

package wal

import (
	"os"

	"pgrman/internal/failure"
	"pgrman/internal/logger"
)

// DecompressionSupported reports whether this build can read compressed backups
const DecompressionSupported = false

// Compressor is a stub in builds without zlib support
type Compressor struct {
	log logger.Logger
}

// NewCompressor creates a new compressor
func NewCompressor(log logger.Logger) *Compressor {
	return &Compressor{log: log}
}

// DecompressFile always fails in this build
func (c *Compressor) DecompressFile(sourcePath, destPath string, perm os.FileMode) (int64, error) {
	return 0, failure.New(failure.NotSupported,
		"can't decompress %q (compression not supported in this installation)", sourcePath)
}
