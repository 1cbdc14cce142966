package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pgrman/internal/failure"
	"pgrman/internal/logger"
)

// Timeline is one entry of a timeline's ancestry
type Timeline struct {
	ID  uint32
	End LSN // position where this timeline forked into its child
}

// TimelineManager reads timeline history files
type TimelineManager struct {
	log  logger.Logger
	dirs []string
}

// NewTimelineManager creates a manager searching dirs in order for history files
func NewTimelineManager(log logger.Logger, dirs ...string) *TimelineManager {
	return &TimelineManager{
		log:  log,
		dirs: dirs,
	}
}

// ReadHistory returns the ancestry of target, newest first. The target itself
// comes first with an unbounded end. A missing history file means the target
// has no parents.
func (tm *TimelineManager) ReadHistory(target uint32) ([]Timeline, error) {
	path, err := tm.findHistoryFile(target)
	if err != nil {
		return nil, err
	}

	var ancestors []Timeline
	if path != "" {
		tm.log.Debug("Reading timeline history", "file", path)
		ancestors, err = parseHistoryFile(path)
		if err != nil {
			return nil, err
		}
	}

	if n := len(ancestors); n > 0 && target <= ancestors[n-1].ID {
		return nil, failure.New(failure.Corrupted,
			"timeline IDs must be less than child timeline's ID (target %d, last ancestor %d)",
			target, ancestors[n-1].ID)
	}

	result := make([]Timeline, 0, len(ancestors)+1)
	result = append(result, Timeline{ID: target, End: InfiniteLSN})
	for i := len(ancestors) - 1; i >= 0; i-- {
		result = append(result, ancestors[i])
	}

	for i, tl := range result {
		tm.log.Debug("Timeline branch", "index", i, "timeline", tl.ID, "end", tl.End.String())
	}
	return result, nil
}

func (tm *TimelineManager) findHistoryFile(target uint32) (string, error) {
	name := HistoryFileName(target)
	for _, dir := range tm.dirs {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", failure.Wrap(failure.System, err, "could not open file %q", path)
		}
		return path, nil
	}
	return "", nil
}

// parseHistoryFile parses ancestor lines, oldest first.
// Format: <timeline id> <end position> [anything]
// The end position is a WAL file name or an X/Y LSN.
func parseHistoryFile(path string) ([]Timeline, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, failure.Wrap(failure.System, err, "could not open file %q", path)
	}
	defer file.Close()

	var timelines []Timeline
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		fields := strings.Fields(trimmed)
		id, err := strconv.ParseUint(fields[0], 0, 32)
		if err != nil {
			return nil, failure.New(failure.Corrupted, "syntax error(timeline ID) in history file: %s", line)
		}

		if n := len(timelines); n > 0 && uint32(id) <= timelines[n-1].ID {
			return nil, failure.New(failure.Corrupted, "timeline IDs must be in increasing sequence: %s", line)
		}

		if len(fields) < 2 || strings.HasPrefix(fields[1], "#") {
			return nil, failure.New(failure.Corrupted, "end logfile must follow timeline ID: %s", line)
		}

		end, err := parseEndPosition(fields[1])
		if err != nil {
			return nil, failure.New(failure.Corrupted, "syntax error(endfname) in history file: %s", line)
		}

		timelines = append(timelines, Timeline{ID: uint32(id), End: end})
	}

	if err := scanner.Err(); err != nil {
		return nil, failure.Wrap(failure.System, err, "error reading history file %q", path)
	}
	return timelines, nil
}

func parseEndPosition(token string) (LSN, error) {
	if strings.Contains(token, "/") {
		return ParseLSN(token)
	}
	return LSNFromFileName(token)
}

// Satisfies reports whether a backup taken on tli and stopped at stop lies on
// the ancestry: some entry has the same id and forks after stop.
func Satisfies(timelines []Timeline, tli uint32, stop LSN) bool {
	for _, tl := range timelines {
		if tl.ID == tli && stop < tl.End {
			return true
		}
	}
	return false
}

// FormatTimelines renders an ancestry for verbose output
func FormatTimelines(timelines []Timeline) string {
	if len(timelines) == 0 {
		return "No timelines found"
	}

	var sb strings.Builder
	for i, tl := range timelines {
		marker := "├─"
		if i == 0 {
			marker = "●"
		}
		sb.WriteString(fmt.Sprintf("%s Timeline %d", marker, tl.ID))
		if tl.End == InfiniteLSN {
			sb.WriteString(" [TARGET]")
		} else {
			sb.WriteString(fmt.Sprintf(" (switched at %s)", tl.End))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
