// Package metrics records restore runs as structured log lines and as
// Prometheus gauges for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pgrman/internal/logger"
)

// RestoreRun holds the outcome of one restore invocation
type RestoreRun struct {
	PgData               string        `json:"pgdata"`
	Check                bool          `json:"check"`
	StartTime            time.Time     `json:"start_time"`
	Duration             time.Duration `json:"duration"`
	BackupsApplied       int           `json:"backups_applied"`
	FilesRestored        int           `json:"files_restored"`
	BytesRestored        int64         `json:"bytes_restored"`
	FilesDeleted         int           `json:"files_deleted"`
	SegmentsLinked       int           `json:"segments_linked"`
	SegmentsDecompressed int           `json:"segments_decompressed"`
	ExitCode             int           `json:"exit_code"`
	Success              bool          `json:"success"`
}

func (r RestoreRun) mode() string {
	if r.Check {
		return "check"
	}
	return "restore"
}

// MetricsCollector collects restore runs and exports them
type MetricsCollector struct {
	runs     []RestoreRun
	mu       sync.RWMutex
	logger   logger.Logger
	registry *prometheus.Registry

	success    *prometheus.GaugeVec
	exitCode   *prometheus.GaugeVec
	timestamp  *prometheus.GaugeVec
	duration   *prometheus.GaugeVec
	backups    *prometheus.GaugeVec
	files      *prometheus.GaugeVec
	bytes      *prometheus.GaugeVec
	deleted    *prometheus.GaugeVec
	segments   *prometheus.GaugeVec
	throughput *prometheus.GaugeVec
}

func newGauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pgrman",
		Subsystem: "restore",
		Name:      name,
		Help:      help,
	}, append([]string{"mode"}, labels...))
}

// NewMetricsCollector creates a collector with its own registry
func NewMetricsCollector(log logger.Logger) *MetricsCollector {
	mc := &MetricsCollector{
		runs:       make([]RestoreRun, 0),
		logger:     log,
		registry:   prometheus.NewRegistry(),
		success:    newGauge("last_success", "1 if the last restore run succeeded"),
		exitCode:   newGauge("last_exit_code", "Exit code of the last restore run"),
		timestamp:  newGauge("last_run_timestamp_seconds", "Start time of the last restore run"),
		duration:   newGauge("last_duration_seconds", "Duration of the last restore run"),
		backups:    newGauge("backups_applied", "Backups applied by the last restore run"),
		files:      newGauge("files_restored", "Files written by the last restore run"),
		bytes:      newGauge("bytes_restored", "Bytes written by the last restore run"),
		deleted:    newGauge("files_deleted", "Files removed during reconciliation"),
		segments:   newGauge("wal_segments", "Archived WAL segments materialized", "method"),
		throughput: newGauge("throughput_mbps", "Restore throughput in MB/s"),
	}
	mc.registry.MustRegister(mc.success, mc.exitCode, mc.timestamp, mc.duration, mc.backups,
		mc.files, mc.bytes, mc.deleted, mc.segments, mc.throughput)
	return mc
}

// RecordRestore records a completed run
func (mc *MetricsCollector) RecordRestore(run RestoreRun) {
	throughput := calculateThroughput(run.BytesRestored, run.Duration)
	mode := run.mode()

	mc.mu.Lock()
	mc.runs = append(mc.runs, run)
	mc.mu.Unlock()

	mc.success.WithLabelValues(mode).Set(boolToFloat(run.Success))
	mc.exitCode.WithLabelValues(mode).Set(float64(run.ExitCode))
	mc.timestamp.WithLabelValues(mode).Set(float64(run.StartTime.Unix()))
	mc.duration.WithLabelValues(mode).Set(run.Duration.Seconds())
	mc.backups.WithLabelValues(mode).Set(float64(run.BackupsApplied))
	mc.files.WithLabelValues(mode).Set(float64(run.FilesRestored))
	mc.bytes.WithLabelValues(mode).Set(float64(run.BytesRestored))
	mc.deleted.WithLabelValues(mode).Set(float64(run.FilesDeleted))
	mc.segments.WithLabelValues(mode, "linked").Set(float64(run.SegmentsLinked))
	mc.segments.WithLabelValues(mode, "decompressed").Set(float64(run.SegmentsDecompressed))
	mc.throughput.WithLabelValues(mode).Set(throughput)

	if mc.logger != nil {
		fields := map[string]interface{}{
			"metric_type":     "restore_complete",
			"mode":            mode,
			"pgdata":          run.PgData,
			"duration_ms":     run.Duration.Milliseconds(),
			"backups_applied": run.BackupsApplied,
			"files_restored":  run.FilesRestored,
			"bytes_restored":  run.BytesRestored,
			"files_deleted":   run.FilesDeleted,
			"wal_linked":      run.SegmentsLinked,
			"throughput_mbps": throughput,
			"exit_code":       run.ExitCode,
		}

		if run.Success {
			mc.logger.WithFields(fields).Debug("Restore metrics recorded")
		} else {
			mc.logger.WithFields(fields).Error("Restore failed")
		}
	}
}

// GetRuns returns a copy of all recorded runs
func (mc *MetricsCollector) GetRuns() []RestoreRun {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make([]RestoreRun, len(mc.runs))
	copy(result, mc.runs)
	return result
}

// WriteTextfile writes the registry in Prometheus text format. The file is
// replaced atomically so the textfile collector never reads a partial file.
func (mc *MetricsCollector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, mc.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

// Registry exposes the collector's registry
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// calculateThroughput calculates MB/s throughput
func calculateThroughput(bytes int64, duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds == 0 {
		return 0
	}
	return float64(bytes) / seconds / 1024 / 1024
}
