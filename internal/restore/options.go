package restore

import (
	"path/filepath"

	"pgrman/internal/failure"
	"pgrman/internal/pitr"
)

// Options control one restore run
type Options struct {
	PgData     string
	ArclogPath string
	SrvlogPath string
	WALDir     string // online WAL directory relative to PgData

	// Check resolves and verifies everything without writing
	Check   bool
	Verbose bool

	// Target.Timeline 0 picks the current or latest full backup timeline
	Target pitr.RecoveryTarget

	// ConnString enables the live server probe
	ConnString string
}

// Validate checks required paths and cleans them
func (o *Options) Validate() error {
	required := []struct {
		value *string
		name  string
		flag  string
	}{
		{&o.PgData, "PGDATA", "-D, --pgdata"},
		{&o.ArclogPath, "ARCLOG_PATH", "-A, --arclog-path"},
		{&o.SrvlogPath, "SRVLOG_PATH", "-S, --srvlog-path"},
	}
	for _, r := range required {
		if *r.value == "" {
			return failure.New(failure.Args, "required parameter not specified: %s (%s)", r.name, r.flag)
		}
		if !filepath.IsAbs(*r.value) {
			return failure.New(failure.Args, "%s must be an absolute path: %s", r.name, *r.value)
		}
		// keep and exclude checks compare against joined paths
		*r.value = filepath.Clean(*r.value)
	}
	if o.WALDir == "" {
		o.WALDir = "pg_wal"
	}
	return o.Target.Validate()
}

// OnlineWALPath is the live WAL directory inside the data directory
func (o *Options) OnlineWALPath() string {
	return filepath.Join(o.PgData, o.WALDir)
}
