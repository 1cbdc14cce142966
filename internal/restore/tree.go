package restore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
)

// treeEntry is one path found under a directory tree
type treeEntry struct {
	Path  string // absolute
	IsDir bool
}

// excludeFunc reports whether a path (and everything under it) is skipped
type excludeFunc func(path string) bool

// listTree returns every entry below root, not including root. With
// followLinks, symlinked directories (tablespaces) are listed through the
// link; otherwise links are reported as plain entries.
func listTree(root string, exclude excludeFunc, followLinks bool) ([]treeEntry, error) {
	var entries []treeEntry
	var walk func(dir string) error
	walk = func(dir string) error {
		children, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, child := range children {
			path := filepath.Join(dir, child.Name())
			if exclude != nil && exclude(path) {
				continue
			}

			isDir := child.IsDir()
			if child.Type()&fs.ModeSymlink != 0 && followLinks {
				info, err := os.Stat(path)
				if err != nil {
					if errors.Is(err, fs.ErrNotExist) {
						// dangling link
						entries = append(entries, treeEntry{Path: path})
						continue
					}
					return err
				}
				isDir = info.IsDir()
			}

			entries = append(entries, treeEntry{Path: path, IsDir: isDir})
			if isDir {
				if err := walk(path); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	return entries, nil
}

// sortLeafFirst orders entries by path descending so children come before
// their parent directory.
func sortLeafFirst(entries []treeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path > entries[j].Path
	})
}

// removeEntry deletes a file, link or empty directory. Absence is fine.
func removeEntry(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func isNotEmpty(err error) bool {
	return errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST)
}
