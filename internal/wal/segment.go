package wal

import (
	"fmt"
	"strconv"
	"strings"
)

// Compiled page and segment geometry. Backups taken with other sizes cannot be restored.
const (
	BlockSize    = 8192
	WALBlockSize = 8192
	SegmentSize  = 16 * 1024 * 1024
)

// Segments per log id. PostgreSQL 9.3 and later use the whole 4 GB range;
// older servers never write the last segment of a log id.
const (
	SegmentsPerLog       uint32 = 0x100000000 / SegmentSize
	LegacySegmentsPerLog uint32 = 0xFFFFFFFF / SegmentSize
)

// SegmentsPerLogFor returns the layout used by a server version. An unknown
// version (major 0) gets the current layout.
func SegmentsPerLogFor(major, minor int) uint32 {
	if major > 0 && (major < 9 || (major == 9 && minor < 3)) {
		return LegacySegmentsPerLog
	}
	return SegmentsPerLog
}

// LSN is a WAL position: log id in the high 32 bits, byte offset in the low 32 bits
type LSN uint64

// InfiniteLSN is larger than any real WAL position
const InfiniteLSN LSN = 0xFFFFFFFFFFFFFFFF

// NewLSN builds an LSN from its log id and offset halves
func NewLSN(logID, offset uint32) LSN {
	return LSN(uint64(logID)<<32 | uint64(offset))
}

func (l LSN) LogID() uint32  { return uint32(l >> 32) }
func (l LSN) Offset() uint32 { return uint32(l) }

func (l LSN) String() string {
	return fmt.Sprintf("%X/%08X", l.LogID(), l.Offset())
}

// ParseLSN parses the "X/Y" text form
func ParseLSN(s string) (LSN, error) {
	hi, lo, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || hi == "" || lo == "" {
		return 0, fmt.Errorf("invalid LSN %q: expected format X/Y", s)
	}
	logID, err := strconv.ParseUint(hi, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid LSN %q: %w", s, err)
	}
	offset, err := strconv.ParseUint(lo, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid LSN %q: %w", s, err)
	}
	return NewLSN(uint32(logID), uint32(offset)), nil
}

// SegmentPosition identifies one WAL segment within a timeline
type SegmentPosition struct {
	LogID uint32
	Seg   uint32
}

// PositionOf returns the segment holding lsn
func PositionOf(lsn LSN) SegmentPosition {
	return SegmentPosition{LogID: lsn.LogID(), Seg: lsn.Offset() / SegmentSize}
}

// Next advances by one segment in the current layout
func (p SegmentPosition) Next() SegmentPosition {
	return p.NextIn(SegmentsPerLog)
}

// NextIn advances by one segment, moving to the next log id after the last
// of perLog segments.
func (p SegmentPosition) NextIn(perLog uint32) SegmentPosition {
	if p.Seg >= perLog-1 {
		return SegmentPosition{LogID: p.LogID + 1, Seg: 0}
	}
	return SegmentPosition{LogID: p.LogID, Seg: p.Seg + 1}
}

// FileName returns the segment file name for tli at p
func FileName(tli uint32, p SegmentPosition) string {
	return fmt.Sprintf("%08X%08X%08X", tli, p.LogID, p.Seg)
}

// HistoryFileName returns the history file name of a timeline
func HistoryFileName(tli uint32) string {
	return fmt.Sprintf("%08X.history", tli)
}

// IsHistoryFile reports whether name is a timeline history file
func IsHistoryFile(name string) bool {
	return strings.HasSuffix(name, ".history")
}

// LSNFromFileName returns the start LSN of the segment named by the first 24
// characters of name. Anything after those characters is ignored.
func LSNFromFileName(name string) (LSN, error) {
	if len(name) < 24 {
		return 0, fmt.Errorf("invalid WAL file name %q", name)
	}
	parts, err := parseHexWords(name[:24])
	if err != nil {
		return 0, fmt.Errorf("invalid WAL file name %q: %w", name, err)
	}
	offset := uint64(parts[2]) * SegmentSize
	if offset > 0xFFFFFFFF {
		return 0, fmt.Errorf("invalid WAL file name %q: segment %X out of range", name, parts[2])
	}
	return NewLSN(parts[1], uint32(offset)), nil
}

func parseHexWords(s string) ([3]uint32, error) {
	var out [3]uint32
	for i := range out {
		v, err := strconv.ParseUint(s[i*8:(i+1)*8], 16, 32)
		if err != nil {
			return out, err
		}
		out[i] = uint32(v)
	}
	return out, nil
}
