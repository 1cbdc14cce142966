// Package progress estimates restore time from bytes copied so far.
package progress

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// ETAEstimator tracks bytes written against the recorded size of a restore
type ETAEstimator struct {
	startTime  time.Time
	operation  string
	totalBytes int64
	doneBytes  int64
	files      int
}

// NewETAEstimator creates a new ETA estimator
func NewETAEstimator(operation string, totalBytes int64) *ETAEstimator {
	return &ETAEstimator{
		startTime:  time.Now(),
		operation:  operation,
		totalBytes: totalBytes,
	}
}

// Add records one more restored file of n bytes
func (e *ETAEstimator) Add(n int64) {
	e.doneBytes += n
	e.files++
}

// Files returns the number of files recorded
func (e *ETAEstimator) Files() int {
	return e.files
}

// Bytes returns the bytes recorded so far
func (e *ETAEstimator) Bytes() int64 {
	return e.doneBytes
}

// GetElapsed returns elapsed time since start
func (e *ETAEstimator) GetElapsed() time.Duration {
	return time.Since(e.startTime)
}

// GetETA calculates estimated time remaining
func (e *ETAEstimator) GetETA() time.Duration {
	if e.doneBytes == 0 || e.totalBytes == 0 || e.doneBytes >= e.totalBytes {
		return 0
	}
	elapsed := e.GetElapsed()
	rate := float64(e.doneBytes) / elapsed.Seconds()
	return time.Duration(float64(e.totalBytes-e.doneBytes) / rate * float64(time.Second))
}

// GetProgress returns current progress as percentage, capped at 100
func (e *ETAEstimator) GetProgress() float64 {
	if e.totalBytes == 0 {
		return 0
	}
	p := float64(e.doneBytes) / float64(e.totalBytes) * 100
	if p > 100 {
		return 100
	}
	return p
}

// FormatElapsed returns formatted elapsed time (e.g., "25m 30s")
func (e *ETAEstimator) FormatElapsed() string {
	return FormatDuration(e.GetElapsed())
}

// FormatETA returns formatted ETA (e.g., "~40m remaining")
func (e *ETAEstimator) FormatETA() string {
	eta := e.GetETA()
	if eta == 0 {
		return "calculating..."
	}
	return "~" + FormatDuration(eta) + " remaining"
}

// FormatProgress returns e.g. "5.2 MB/13 MB (40%)"
func (e *ETAEstimator) FormatProgress() string {
	return fmt.Sprintf("%s/%s (%.0f%%)",
		humanize.Bytes(uint64(e.doneBytes)), humanize.Bytes(uint64(e.totalBytes)), e.GetProgress())
}

// GetFullStatus returns complete status line with all info
func (e *ETAEstimator) GetFullStatus() string {
	if e.totalBytes == 0 {
		return fmt.Sprintf("%s | Elapsed: %s", e.operation, e.FormatElapsed())
	}
	if e.doneBytes == 0 {
		return fmt.Sprintf("%s | 0/%s | Starting...", e.operation, humanize.Bytes(uint64(e.totalBytes)))
	}
	return fmt.Sprintf("%s | %s | Elapsed: %s | ETA: %s",
		e.operation,
		e.FormatProgress(),
		e.FormatElapsed(),
		e.FormatETA())
}

// FormatDuration formats a duration in human-readable format
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		if minutes > 0 {
			return fmt.Sprintf("%dh %dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	}

	if minutes > 0 {
		if seconds > 5 { // Only show seconds if > 5
			return fmt.Sprintf("%dm %ds", minutes, seconds)
		}
		return fmt.Sprintf("%dm", minutes)
	}

	return fmt.Sprintf("%ds", seconds)
}

// EstimateDuration guesses copy time for sizeBytes at ~100MB per minute,
// plus 20% for directory work and WAL linking.
func EstimateDuration(sizeBytes int64) time.Duration {
	sizeMB := float64(sizeBytes) / (1024 * 1024)
	minutes := sizeMB / 100.0 * 1.2
	return time.Duration(minutes * float64(time.Minute))
}
