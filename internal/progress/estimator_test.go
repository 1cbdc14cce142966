package progress

import (
	"strings"
	"testing"
	"time"
)

func TestNewETAEstimator(t *testing.T) {
	estimator := NewETAEstimator("Restore", 1000)

	if estimator.operation != "Restore" {
		t.Errorf("Expected operation 'Restore', got '%s'", estimator.operation)
	}
	if estimator.totalBytes != 1000 {
		t.Errorf("Expected totalBytes 1000, got %d", estimator.totalBytes)
	}
	if estimator.startTime.IsZero() {
		t.Error("Expected startTime to be set")
	}
}

func TestAdd(t *testing.T) {
	estimator := NewETAEstimator("Test", 1000)

	estimator.Add(300)
	estimator.Add(200)
	if estimator.Bytes() != 500 {
		t.Errorf("Expected 500 bytes, got %d", estimator.Bytes())
	}
	if estimator.Files() != 2 {
		t.Errorf("Expected 2 files, got %d", estimator.Files())
	}
}

func TestGetProgress(t *testing.T) {
	estimator := NewETAEstimator("Test", 1000)

	if progress := estimator.GetProgress(); progress != 0 {
		t.Errorf("Expected 0%%, got %.2f%%", progress)
	}

	estimator.Add(500)
	if progress := estimator.GetProgress(); progress != 50.0 {
		t.Errorf("Expected 50%%, got %.2f%%", progress)
	}

	// decompressed files can exceed the recorded size
	estimator.Add(900)
	if progress := estimator.GetProgress(); progress != 100.0 {
		t.Errorf("Expected 100%%, got %.2f%%", progress)
	}
}

func TestFormatETA(t *testing.T) {
	estimator := NewETAEstimator("Test", 1000)

	if result := estimator.FormatETA(); result != "calculating..." {
		t.Errorf("Expected 'calculating...', got '%s'", result)
	}

	estimator.startTime = time.Now().Add(-10 * time.Second)
	estimator.Add(500)

	if result := estimator.FormatETA(); result != "~10s remaining" {
		t.Errorf("Expected '~10s remaining', got '%s'", result)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "< 1s"},
		{5 * time.Second, "5s"},
		{65 * time.Second, "1m"},
		{3*time.Minute + 10*time.Second, "3m 10s"},
		{90 * time.Minute, "1h 30m"},
		{120 * time.Minute, "2h"},
	}

	for _, tt := range tests {
		result := FormatDuration(tt.duration)
		if result != tt.expected {
			t.Errorf("FormatDuration(%v) = '%s', expected '%s'", tt.duration, result, tt.expected)
		}
	}
}

func TestGetFullStatus(t *testing.T) {
	estimator := NewETAEstimator("Restoring database", 2000000)

	result := estimator.GetFullStatus()
	if result != "Restoring database | 0/2.0 MB | Starting..." {
		t.Errorf("Unexpected result for 0 bytes: '%s'", result)
	}

	estimator.startTime = time.Now().Add(-30 * time.Second)
	estimator.Add(1000000)

	result = estimator.GetFullStatus()
	for _, want := range []string{"1.0 MB/2.0 MB", "50%", "Elapsed:", "ETA:"} {
		if !strings.Contains(result, want) {
			t.Errorf("Result missing %q: '%s'", want, result)
		}
	}
}

func TestGetFullStatusWithZeroTotal(t *testing.T) {
	estimator := NewETAEstimator("Test Operation", 0)

	result := estimator.GetFullStatus()
	if !strings.Contains(result, "Elapsed:") {
		t.Errorf("Unexpected result for 0 total: '%s'", result)
	}
}

func TestEstimateDuration(t *testing.T) {
	d := EstimateDuration(100 * 1024 * 1024)
	if d < 60*time.Second || d > 90*time.Second {
		t.Errorf("Expected ~1.2 minutes for 100MB, got %v", d)
	}
	if EstimateDuration(1024*1024*1024) <= d {
		t.Error("Expected longer duration for larger size")
	}
}
