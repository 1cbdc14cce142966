package pgctl

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"pgrman/internal/failure"
	"pgrman/internal/logger"
)

// ProbeResult describes a live server reached through a connection string
type ProbeResult struct {
	Reachable     bool
	DataDirectory string
	Version       *VersionInfo
}

// ServesDataDir reports whether the probed server runs on pgdata
func (r *ProbeResult) ServesDataDir(pgdata string) bool {
	return r.Reachable && filepath.Clean(r.DataDirectory) == filepath.Clean(pgdata)
}

// Probe connects with connString and asks the server for its data
// directory. An empty connString or an unreachable server is not an error;
// the result is just not Reachable. A malformed connString is an Args
// failure; a server that answers but cannot report its directory is System.
func Probe(ctx context.Context, connString string, log logger.Logger) (*ProbeResult, error) {
	result := &ProbeResult{}
	if connString == "" {
		return result, nil
	}

	config, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, failure.Wrap(failure.Args, err, "invalid connection string")
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 5 * time.Second
	}

	log.Debug("Probing PostgreSQL server", "dsn", sanitizeDSN(connString))
	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		log.Debug("PostgreSQL server not reachable", "error", err)
		return result, nil
	}
	defer conn.Close(context.Background())

	if err := conn.QueryRow(ctx, "SHOW data_directory").Scan(&result.DataDirectory); err != nil {
		return nil, failure.Wrap(failure.System, err, "can't query data_directory")
	}

	var version string
	if err := conn.QueryRow(ctx, "SHOW server_version").Scan(&version); err == nil {
		result.Version, _ = ParseVersion(version)
	}

	result.Reachable = true
	log.Debug("PostgreSQL server reachable", "data_directory", result.DataDirectory, "version", version)
	return result, nil
}

func sanitizeDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
		return u.Redacted()
	}
	parts := strings.Split(dsn, " ")
	for i, part := range parts {
		if strings.HasPrefix(part, "password=") {
			parts[i] = "password=***"
		}
	}
	return strings.Join(parts, " ")
}
