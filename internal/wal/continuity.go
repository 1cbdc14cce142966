package wal

import (
	"os"
	"path/filepath"

	"pgrman/internal/logger"
)

// SegmentRange is a run of consecutive segments found in one directory
type SegmentRange struct {
	Dir   string
	First string
	Last  string
	Count int
}

func (r SegmentRange) String() string {
	switch r.Count {
	case 0:
		return ""
	case 1:
		return r.First
	default:
		return r.First + " - " + r.Last
	}
}

// ContinuityChecker walks WAL source directories in restore order and
// confirms that segments follow each other without a gap.
type ContinuityChecker struct {
	log       logger.Logger
	timelines []Timeline
	next      SegmentPosition
	perLog    uint32
	ranges    []SegmentRange
}

// NewContinuityChecker starts the walk at start. timelines is the resolved
// ancestry, newest first; the checker prunes its own copy.
func NewContinuityChecker(log logger.Logger, timelines []Timeline, start SegmentPosition) *ContinuityChecker {
	return &ContinuityChecker{
		log:       log,
		timelines: append([]Timeline(nil), timelines...),
		next:      start,
		perLog:    SegmentsPerLog,
	}
}

// SetSegmentsPerLog switches the segment layout, see SegmentsPerLogFor
func (c *ContinuityChecker) SetSegmentsPerLog(perLog uint32) {
	c.perLog = perLog
}

// Search consumes consecutive segments present in dir, starting at the
// next needed position. For each position the newest remaining timeline
// with a file wins and every newer timeline is dropped from the list.
func (c *ContinuityChecker) Search(dir string) SegmentRange {
	found := SegmentRange{Dir: dir}

	for {
		name, idx := c.lookup(dir)
		if idx < 0 {
			break
		}

		found.Count++
		if found.Count == 1 {
			found.First = name
			c.log.Debug("Found WAL sequence start", "dir", dir, "segment", name)
		}
		found.Last = name

		c.timelines = c.timelines[idx:]
		c.next = c.next.NextIn(c.perLog)
	}

	if found.Count > 0 {
		c.log.Info("WAL segments found", "dir", dir, "range", found.String())
		c.ranges = append(c.ranges, found)
	} else {
		c.log.Info("No WAL segment found", "dir", dir, "needed", c.NextFile())
	}
	return found
}

func (c *ContinuityChecker) lookup(dir string) (string, int) {
	for i, tl := range c.timelines {
		name := FileName(tl.ID, c.next)
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return name, i
		}
	}
	return "", -1
}

func (c *ContinuityChecker) head() uint32 {
	if len(c.timelines) == 0 {
		return 0
	}
	return c.timelines[0].ID
}

// Timelines returns the ancestry left after pruning
func (c *ContinuityChecker) Timelines() []Timeline {
	return c.timelines
}

// Next returns the first position not yet found
func (c *ContinuityChecker) Next() SegmentPosition {
	return c.next
}

// NextFile names the first segment not yet found, on the newest remaining
// timeline
func (c *ContinuityChecker) NextFile() string {
	return FileName(c.head(), c.next)
}

// Ranges returns every non-empty run found so far, in search order
func (c *ContinuityChecker) Ranges() []SegmentRange {
	return c.ranges
}
