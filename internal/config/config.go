package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all configuration options
type Config struct {
	// Version information
	Version   string
	BuildTime string
	GitCommit string

	// Locations
	PgData     string
	ArclogPath string
	BackupPath string
	SrvlogPath string
	WALDir     string

	// Restore options
	Check     bool
	Verbose   bool
	AssumeYes bool

	// Recovery target
	TargetTime      string
	TargetXID       string
	TargetInclusive string
	TargetTimeline  string

	// Live server probe
	ConnString string

	// Output options
	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	MetricsFile   string
}

// New creates a new configuration with default values
func New() *Config {
	return &Config{
		// Location defaults
		PgData:     getEnvString("PGDATA", ""),
		ArclogPath: getEnvString("ARCLOG_PATH", ""),
		BackupPath: getEnvString("BACKUP_PATH", ""),
		SrvlogPath: getEnvString("SRVLOG_PATH", ""),
		WALDir:     getEnvString("PGRMAN_WAL_DIR", "pg_wal"),

		AssumeYes: getEnvBool("PGRMAN_ASSUME_YES", false),

		ConnString: getEnvString("PGRMAN_CONNSTR", ""),

		// Output defaults
		LogLevel:      getEnvString("LOG_LEVEL", "info"),
		LogFormat:     getEnvString("LOG_FORMAT", "text"),
		LogFile:       getEnvString("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		MetricsFile:   getEnvString("PGRMAN_METRICS_FILE", ""),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BackupPath == "" {
		return &ConfigError{Field: "backup-path", Value: c.BackupPath, Message: "required parameter not specified: BACKUP_PATH (-B, --backup-path)"}
	}

	paths := []struct {
		field string
		value string
	}{
		{"backup-path", c.BackupPath},
		{"pgdata", c.PgData},
		{"arclog-path", c.ArclogPath},
		{"srvlog-path", c.SrvlogPath},
	}
	for _, p := range paths {
		if p.value != "" && !filepath.IsAbs(p.value) {
			return &ConfigError{Field: p.field, Value: p.value, Message: "must be an absolute path"}
		}
	}

	if c.WALDir == "" || filepath.IsAbs(c.WALDir) {
		return &ConfigError{Field: "wal-dir", Value: c.WALDir, Message: "must be a path relative to PGDATA"}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Field: "log-level", Value: c.LogLevel, Message: "must be one of debug, info, warn, error"}
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return &ConfigError{Field: "log-format", Value: c.LogFormat, Message: "must be 'text' or 'json'"}
	}

	if c.TargetTimeline != "" {
		if _, err := c.Timeline(); err != nil {
			return &ConfigError{Field: "recovery-target-timeline", Value: c.TargetTimeline, Message: "must be a positive timeline ID"}
		}
	}

	return nil
}

// Timeline parses the recovery target timeline; an empty value is 0
func (c *Config) Timeline() (uint32, error) {
	if c.TargetTimeline == "" {
		return 0, nil
	}
	tli, err := strconv.ParseUint(c.TargetTimeline, 10, 32)
	if err != nil {
		return 0, err
	}
	if tli == 0 {
		return 0, strconv.ErrRange
	}
	return uint32(tli), nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "' with value '" + e.Value + "': " + e.Message
}

// Helper functions
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
