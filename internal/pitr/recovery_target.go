package pitr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pgrman/internal/failure"
)

// RecoveryTarget is where WAL replay should stop after the restore
type RecoveryTarget struct {
	Time      string // recovery_target_time, passed through verbatim
	XID       string // recovery_target_xid
	Inclusive string // recovery_target_inclusive ("" = server default)
	Timeline  uint32 // recovery_target_timeline, always written
}

// Setting is one recovery directive
type Setting struct {
	Key   string
	Value string
}

var timeFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05 MST",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// Validate checks the user supplied values before anything is touched
func (rt *RecoveryTarget) Validate() error {
	if rt.Time != "" {
		if err := validateTime(rt.Time); err != nil {
			return failure.Wrap(failure.Args, err, "invalid recovery target time")
		}
	}

	if rt.XID != "" {
		xid, err := strconv.ParseUint(rt.XID, 10, 64)
		if err != nil || xid == 0 {
			return failure.New(failure.Args, "invalid transaction ID '%s': must be a positive integer", rt.XID)
		}
	}

	if rt.Inclusive != "" {
		if _, err := strconv.ParseBool(rt.Inclusive); err != nil {
			return failure.New(failure.Args, "invalid recovery target inclusive '%s': must be true or false", rt.Inclusive)
		}
	}
	return nil
}

func validateTime(value string) error {
	var parseErr error
	for _, format := range timeFormats {
		_, err := time.Parse(format, value)
		if err == nil {
			return nil
		}
		parseErr = err
	}
	return fmt.Errorf("invalid timestamp format '%s': %w (expected format: YYYY-MM-DD HH:MM:SS)", value, parseErr)
}

// Settings returns the directives in file order. restore_command copies
// from the live archive directory.
func (rt *RecoveryTarget) Settings(arclogPath string) []Setting {
	settings := []Setting{{"restore_command", fmt.Sprintf("cp %s/%%f %%p", arclogPath)}}
	if rt.Time != "" {
		settings = append(settings, Setting{"recovery_target_time", rt.Time})
	}
	if rt.XID != "" {
		settings = append(settings, Setting{"recovery_target_xid", rt.XID})
	}
	if rt.Inclusive != "" {
		settings = append(settings, Setting{"recovery_target_inclusive", rt.Inclusive})
	}
	settings = append(settings, Setting{"recovery_target_timeline", strconv.FormatUint(uint64(rt.Timeline), 10)})
	return settings
}

// FormatConfigLine formats a directive as key = 'value'
func FormatConfigLine(key, value string) string {
	return fmt.Sprintf("%s = '%s'", key, strings.ReplaceAll(value, "'", "''"))
}

// Summary returns a one-line summary of the recovery target
func (rt *RecoveryTarget) Summary() string {
	switch {
	case rt.Time != "":
		return fmt.Sprintf("Restore to time %s on timeline %d", rt.Time, rt.Timeline)
	case rt.XID != "":
		return fmt.Sprintf("Restore to transaction ID %s on timeline %d", rt.XID, rt.Timeline)
	default:
		return fmt.Sprintf("Restore to end of WAL on timeline %d", rt.Timeline)
	}
}
