package wal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"pgrman/internal/failure"
	"pgrman/internal/logger"
)

// Archiver places archived WAL from a backup into the live archive directory
type Archiver struct {
	log        logger.Logger
	compressor *Compressor
}

// ArchiveResult describes one materialized WAL file
type ArchiveResult struct {
	Name        string
	ArchivePath string
	Linked      bool  // symlink to the backup copy
	Size        int64 // bytes written when decompressed
}

// NewArchiver creates a new WAL archiver
func NewArchiver(log logger.Logger) *Archiver {
	return &Archiver{
		log:        log,
		compressor: NewCompressor(log),
	}
}

// Materialize makes srcPath available as archiveDir/<base name>. Compressed
// backups are inflated in place; plain ones are symlinked after removing
// whatever occupied the name.
func (a *Archiver) Materialize(srcPath, archiveDir string, compressed bool) (*ArchiveResult, error) {
	name := filepath.Base(srcPath)
	dest := filepath.Join(archiveDir, name)
	result := &ArchiveResult{Name: name, ArchivePath: dest}

	if compressed {
		written, err := a.compressor.DecompressFile(srcPath, dest, 0600)
		if err != nil {
			if failure.KindOf(err) != failure.Unknown {
				return nil, err
			}
			return nil, failure.Wrap(failure.System, err, "can't restore archive WAL %q", name)
		}
		result.Size = written
		return result, nil
	}

	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, failure.Wrap(failure.System, err, "can't remove file %q", dest)
	}
	if err := os.Symlink(srcPath, dest); err != nil {
		return nil, failure.Wrap(failure.System, err, "can't create link to %q", srcPath)
	}
	result.Linked = true

	a.log.Debug("Archive WAL linked", "wal", name, "target", srcPath)
	return result, nil
}

// CopyFile copies src to dst with the given permissions and syncs it
func CopyFile(src, dst string, perm os.FileMode) (int64, error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer dstFile.Close()

	written, err := io.Copy(dstFile, srcFile)
	if err != nil {
		return 0, fmt.Errorf("failed to copy %s: %w", src, err)
	}

	if err := dstFile.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync %s: %w", dst, err)
	}
	return written, nil
}

// CopyDir copies the regular files of src into dst, creating dst. Nested
// directories are recreated; symlinks are copied as links.
func CopyDir(src, dst string) (int, error) {
	copied := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			if _, err := CopyFile(path, target, info.Mode().Perm()); err != nil {
				return err
			}
			copied++
		}
		return nil
	})
	if err != nil {
		return copied, fmt.Errorf("failed to copy directory %s: %w", src, err)
	}
	return copied, nil
}
