package pgctl

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"

	"pgrman/internal/logger"
)

// ControlFile is the path of pg_control relative to the data directory
const ControlFile = "global/pg_control"

const (
	controlVersionOffset = 8

	// checkPointCopy.ThisTimeLineID. Servers before 11 kept prevCheckPoint
	// ahead of the checkpoint copy.
	timelineOffsetLegacy = 56
	timelineOffset       = 48
	prevCheckPointDrop   = 1100

	// CRC field search window; ControlFileData is well under this size
	maxCRCOffset = 512
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ControlData is the part of pg_control restore needs
type ControlData struct {
	Version  uint32
	Timeline uint32
}

// ReadControlFile parses pg_control in pgdata. The CRC field sits at the end
// of ControlFileData whose size varies by server version, so every aligned
// offset inside the window is tried against both the CRC-32C checksum of
// 9.5+ and the legacy CRC-32.
func ReadControlFile(pgdata string) (*ControlData, error) {
	path := filepath.Join(pgdata, ControlFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ControlError{Path: path, Msg: "can't read pg_controldata file", Err: err}
	}
	if len(data) < timelineOffsetLegacy+4 {
		return nil, &ControlError{Path: path, Msg: "pg_controldata file is truncated"}
	}

	if !checksumMatches(data) {
		return nil, &ControlError{Path: path, Msg: "calculated CRC checksum does not match value stored in file; " +
			"either the file is corrupt, or it has a different layout than this program is expecting"}
	}

	version := binary.NativeEndian.Uint32(data[controlVersionOffset:])
	if version%65536 == 0 && version/65536 != 0 {
		return nil, &ControlError{Path: path, Msg: "possible byte ordering mismatch; " +
			"the byte ordering used to store the pg_control file might not match the one used by this program"}
	}

	offset := timelineOffset
	if version < prevCheckPointDrop {
		offset = timelineOffsetLegacy
	}
	return &ControlData{
		Version:  version,
		Timeline: binary.NativeEndian.Uint32(data[offset:]),
	}, nil
}

func checksumMatches(data []byte) bool {
	limit := min(len(data)-4, maxCRCOffset)
	for off := timelineOffsetLegacy + 4; off <= limit; off += 4 {
		stored := binary.NativeEndian.Uint32(data[off:])
		if stored == 0 {
			continue
		}
		if crc32.Checksum(data[:off], castagnoli) == stored || crc32.ChecksumIEEE(data[:off]) == stored {
			return true
		}
	}
	return false
}

// ControlError is a pg_control problem that degrades to "timeline unknown"
type ControlError struct {
	Path string
	Msg  string
	Err  error
}

func (e *ControlError) Error() string {
	if e.Err != nil {
		return e.Msg + " \"" + e.Path + "\": " + e.Err.Error()
	}
	return e.Msg + " \"" + e.Path + "\""
}

func (e *ControlError) Unwrap() error {
	return e.Err
}

// CurrentTimeline returns the timeline of the last checkpoint in pgdata, or 0
// with a warning when pg_control can't be trusted.
func CurrentTimeline(pgdata string, log logger.Logger) uint32 {
	ctrl, err := ReadControlFile(pgdata)
	if err != nil {
		log.Warn("Can't determine current timeline", "error", err)
		return 0
	}
	log.Debug("Current timeline from pg_control", "timeline", ctrl.Timeline, "control_version", ctrl.Version)
	return ctrl.Timeline
}
