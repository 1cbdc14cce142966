package pgctl

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// VersionInfo holds PostgreSQL version information
type VersionInfo struct {
	Major int
	Minor int
	Full  string
}

// AtLeast reports whether the version is major or newer
func (v *VersionInfo) AtLeast(major int) bool {
	return v.Major >= major
}

var versionPattern = regexp.MustCompile(`^(\d+)(?:\.(\d+))?`)

// ParseVersion parses PG_VERSION contents or a server_version string.
// Example: "9.6" -> Major: 9, Minor: 6; "16.2 (Debian)" -> Major: 16, Minor: 2
func ParseVersion(s string) (*VersionInfo, error) {
	s = strings.TrimSpace(s)
	matches := versionPattern.FindStringSubmatch(s)
	if matches == nil {
		return nil, fmt.Errorf("could not parse PostgreSQL version from: %q", s)
	}

	major, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid major version: %s", matches[1])
	}
	minor := 0
	if matches[2] != "" {
		if minor, err = strconv.Atoi(matches[2]); err != nil {
			return nil, fmt.Errorf("invalid minor version: %s", matches[2])
		}
	}

	return &VersionInfo{
		Major: major,
		Minor: minor,
		Full:  s,
	}, nil
}

// DataVersion reads PG_VERSION from pgdata
func DataVersion(pgdata string) (*VersionInfo, error) {
	data, err := os.ReadFile(filepath.Join(pgdata, "PG_VERSION"))
	if err != nil {
		return nil, fmt.Errorf("failed to read PG_VERSION: %w", err)
	}
	return ParseVersion(string(data))
}
