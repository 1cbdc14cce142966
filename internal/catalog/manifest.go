package catalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SizeInvalid marks a manifest entry whose content was not captured by the backup
const SizeInvalid int64 = -1

// FileType is the manifest type letter
type FileType byte

const (
	TypeRegular  FileType = 'f'
	TypeDataFile FileType = 'F'
	TypeDir      FileType = 'd'
	TypeSymlink  FileType = 'l'
)

// FileEntry is one line of a backup file list
type FileEntry struct {
	Path    string // relative, slash separated
	Type    FileType
	Size    int64
	CRC     uint32
	Mode    os.FileMode
	ModTime string
}

func (e FileEntry) IsDir() bool {
	return e.Type == TypeDir
}

func (e FileEntry) IsRegular() bool {
	return e.Type == TypeRegular || e.Type == TypeDataFile
}

// Captured reports whether the backup holds content for the entry
func (e FileEntry) Captured() bool {
	return e.Size != SizeInvalid
}

// ReadManifest parses a file list.
// Line format: <path> <type> <write-size> <crc> <octal-mode> [mtime]
func ReadManifest(path string) ([]FileEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file list: %w", err)
	}
	defer file.Close()

	var entries []FileEntry
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		entry, err := parseManifestLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(path), lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file list: %w", err)
	}
	return entries, nil
}

func parseManifestLine(line string) (FileEntry, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return FileEntry{}, fmt.Errorf("expected at least 5 fields, got %d", len(fields))
	}

	if len(fields[1]) != 1 || !strings.Contains("fFdl", fields[1]) {
		return FileEntry{}, fmt.Errorf("invalid file type %q", fields[1])
	}

	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return FileEntry{}, fmt.Errorf("invalid size %q", fields[2])
	}
	crc, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return FileEntry{}, fmt.Errorf("invalid crc %q", fields[3])
	}
	mode, err := strconv.ParseUint(fields[4], 8, 32)
	if err != nil {
		return FileEntry{}, fmt.Errorf("invalid mode %q", fields[4])
	}

	return FileEntry{
		Path:    filepath.ToSlash(filepath.Clean(fields[0])),
		Type:    FileType(fields[1][0]),
		Size:    size,
		CRC:     uint32(crc),
		Mode:    os.FileMode(mode).Perm(),
		ModTime: strings.Join(fields[5:], " "),
	}, nil
}
