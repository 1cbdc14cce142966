package catalog

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pgrman/internal/wal"
)

// BackupMode is ordered: a larger mode contains everything a smaller one does
type BackupMode int

const (
	ModeInvalid BackupMode = iota
	ModeArchive
	ModeIncremental
	ModeFull
)

func (m BackupMode) String() string {
	switch m {
	case ModeArchive:
		return "ARCHIVE"
	case ModeIncremental:
		return "INCREMENTAL"
	case ModeFull:
		return "FULL"
	default:
		return "INVALID"
	}
}

// ParseBackupMode accepts any case-insensitive prefix of a mode name
func ParseBackupMode(s string) (BackupMode, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return ModeInvalid, fmt.Errorf("empty backup mode")
	}
	switch {
	case strings.HasPrefix("full", v):
		return ModeFull, nil
	case strings.HasPrefix("incremental", v):
		return ModeIncremental, nil
	case strings.HasPrefix("archive", v):
		return ModeArchive, nil
	}
	return ModeInvalid, fmt.Errorf("invalid backup mode: %q", s)
}

// Status of a catalog entry
type Status string

const (
	StatusOK       Status = "OK"
	StatusRunning  Status = "RUNNING"
	StatusError    Status = "ERROR"
	StatusDeleting Status = "DELETING"
	StatusDeleted  Status = "DELETED"
	StatusDone     Status = "DONE"
	StatusCorrupt  Status = "CORRUPT"
)

const timeLayout = "2006-01-02 15:04:05"

// Backup is one catalog entry, read from backup.ini
type Backup struct {
	Dir string

	Mode          BackupMode
	WithServerLog bool
	Compressed    bool

	Timeline  uint32
	StartLSN  wal.LSN
	StopLSN   wal.LSN
	StartTime time.Time
	EndTime   time.Time

	TotalDataBytes  int64
	ReadDataBytes   int64
	ReadArclogBytes int64
	ReadSrvlogBytes int64
	WriteBytes      int64

	BlockSize    int
	WALBlockSize int

	Status Status
}

// ID identifies a backup by its start time
func (b *Backup) ID() string {
	return b.StartTime.Format(timeLayout)
}

// HasDatabase reports whether the backup carries data files
func (b *Backup) HasDatabase() bool {
	return b.Mode >= ModeIncremental
}

// HasArchiveLog reports whether the backup carries archived WAL
func (b *Backup) HasArchiveLog() bool {
	return b.Mode >= ModeArchive
}

// Path returns a path inside the backup directory
func (b *Backup) Path(elem ...string) string {
	return filepath.Join(append([]string{b.Dir}, elem...)...)
}

// ParseBackupIni reads KEY=VALUE metadata. Unknown keys are ignored.
func ParseBackupIni(r io.Reader) (*Backup, error) {
	b := &Backup{
		BlockSize:    wal.BlockSize,
		WALBlockSize: wal.WALBlockSize,
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE", lineNo)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.Trim(strings.TrimSpace(value), "'")

		if err := b.set(key, value); err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", lineNo, key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backup) set(key, value string) error {
	var err error
	switch key {
	case "BACKUP_MODE":
		b.Mode, err = ParseBackupMode(value)
	case "WITH_SERVERLOG":
		b.WithServerLog, err = strconv.ParseBool(value)
	case "COMPRESS_DATA":
		b.Compressed, err = strconv.ParseBool(value)
	case "TIMELINEID":
		var v uint64
		v, err = strconv.ParseUint(value, 10, 32)
		b.Timeline = uint32(v)
	case "START_LSN":
		b.StartLSN, err = wal.ParseLSN(value)
	case "STOP_LSN":
		b.StopLSN, err = wal.ParseLSN(value)
	case "START_TIME":
		b.StartTime, err = time.ParseInLocation(timeLayout, value, time.Local)
	case "END_TIME":
		b.EndTime, err = time.ParseInLocation(timeLayout, value, time.Local)
	case "TOTAL_DATA_BYTES":
		b.TotalDataBytes, err = strconv.ParseInt(value, 10, 64)
	case "READ_DATA_BYTES":
		b.ReadDataBytes, err = strconv.ParseInt(value, 10, 64)
	case "READ_ARCLOG_BYTES":
		b.ReadArclogBytes, err = strconv.ParseInt(value, 10, 64)
	case "READ_SRVLOG_BYTES":
		b.ReadSrvlogBytes, err = strconv.ParseInt(value, 10, 64)
	case "WRITE_BYTES":
		b.WriteBytes, err = strconv.ParseInt(value, 10, 64)
	case "BLOCK_SIZE":
		b.BlockSize, err = strconv.Atoi(value)
	case "XLOG_BLOCK_SIZE":
		b.WALBlockSize, err = strconv.Atoi(value)
	case "STATUS":
		b.Status = Status(strings.ToUpper(value))
	}
	return err
}

// MarshalIni renders the metadata in backup.ini form
func (b *Backup) MarshalIni() []byte {
	var sb strings.Builder
	sb.WriteString("# configuration\n")
	fmt.Fprintf(&sb, "BACKUP_MODE=%s\n", b.Mode)
	fmt.Fprintf(&sb, "WITH_SERVERLOG=%t\n", b.WithServerLog)
	fmt.Fprintf(&sb, "COMPRESS_DATA=%t\n", b.Compressed)
	sb.WriteString("# result\n")
	fmt.Fprintf(&sb, "TIMELINEID=%d\n", b.Timeline)
	fmt.Fprintf(&sb, "START_LSN=%s\n", b.StartLSN)
	fmt.Fprintf(&sb, "STOP_LSN=%s\n", b.StopLSN)
	if !b.StartTime.IsZero() {
		fmt.Fprintf(&sb, "START_TIME='%s'\n", b.StartTime.Format(timeLayout))
	}
	if !b.EndTime.IsZero() {
		fmt.Fprintf(&sb, "END_TIME='%s'\n", b.EndTime.Format(timeLayout))
	}
	fmt.Fprintf(&sb, "TOTAL_DATA_BYTES=%d\n", b.TotalDataBytes)
	fmt.Fprintf(&sb, "READ_DATA_BYTES=%d\n", b.ReadDataBytes)
	fmt.Fprintf(&sb, "READ_ARCLOG_BYTES=%d\n", b.ReadArclogBytes)
	fmt.Fprintf(&sb, "READ_SRVLOG_BYTES=%d\n", b.ReadSrvlogBytes)
	fmt.Fprintf(&sb, "WRITE_BYTES=%d\n", b.WriteBytes)
	fmt.Fprintf(&sb, "BLOCK_SIZE=%d\n", b.BlockSize)
	fmt.Fprintf(&sb, "XLOG_BLOCK_SIZE=%d\n", b.WALBlockSize)
	fmt.Fprintf(&sb, "STATUS=%s\n", b.Status)
	return []byte(sb.String())
}

// ReplaceStatus rewrites the STATUS line of backup.ini content and keeps
// every other line as written. A missing STATUS line is appended.
func ReplaceStatus(ini []byte, status Status) []byte {
	var sb strings.Builder
	replaced := false
	for _, line := range strings.SplitAfter(string(ini), "\n") {
		if line == "" {
			continue
		}
		key, _, ok := strings.Cut(line, "=")
		if ok && strings.EqualFold(strings.TrimSpace(key), "STATUS") {
			if !replaced {
				fmt.Fprintf(&sb, "STATUS=%s\n", status)
				replaced = true
			}
			continue
		}
		sb.WriteString(line)
	}
	if !replaced {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "STATUS=%s\n", status)
	}
	return []byte(sb.String())
}
