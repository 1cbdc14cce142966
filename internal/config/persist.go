package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ConfigFileName is the catalog configuration file in the backup path
const ConfigFileName = "pgrman.yaml"

// CatalogConfig is the configuration saved alongside a backup catalog
type CatalogConfig struct {
	PgData      string `mapstructure:"pgdata"`
	ArclogPath  string `mapstructure:"arclog_path"`
	SrvlogPath  string `mapstructure:"srvlog_path"`
	WALDir      string `mapstructure:"wal_dir"`
	ConnString  string `mapstructure:"pg_conn"`
	MetricsFile string `mapstructure:"metrics_file"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	LogFile     string `mapstructure:"log_file"`
}

// LoadCatalogConfig loads pgrman.yaml from the backup path. A missing file
// is not an error and returns nil.
func LoadCatalogConfig(backupPath string) (*CatalogConfig, error) {
	path := filepath.Join(backupPath, ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("wal_dir", "pg_wal")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cc CatalogConfig
	if err := v.Unmarshal(&cc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cc, nil
}

// ApplyCatalogConfig fills settings from the catalog file. A value set by
// a command line flag (named in explicit) or by its environment variable
// wins over the file.
func ApplyCatalogConfig(cfg *Config, cc *CatalogConfig, explicit map[string]bool) {
	if cc == nil {
		return
	}

	settings := []struct {
		flag  string
		env   string
		dst   *string
		value string
	}{
		{"pgdata", "PGDATA", &cfg.PgData, cc.PgData},
		{"arclog-path", "ARCLOG_PATH", &cfg.ArclogPath, cc.ArclogPath},
		{"srvlog-path", "SRVLOG_PATH", &cfg.SrvlogPath, cc.SrvlogPath},
		{"wal-dir", "PGRMAN_WAL_DIR", &cfg.WALDir, cc.WALDir},
		{"pg-conn", "PGRMAN_CONNSTR", &cfg.ConnString, cc.ConnString},
		{"metrics-file", "PGRMAN_METRICS_FILE", &cfg.MetricsFile, cc.MetricsFile},
		{"log-level", "LOG_LEVEL", &cfg.LogLevel, cc.LogLevel},
		{"log-format", "LOG_FORMAT", &cfg.LogFormat, cc.LogFormat},
		{"log-file", "LOG_FILE", &cfg.LogFile, cc.LogFile},
	}

	for _, s := range settings {
		if s.value == "" || explicit[s.flag] || os.Getenv(s.env) != "" {
			continue
		}
		*s.dst = s.value
	}
}
