package pitr

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/renameio/v2"

	"pgrman/internal/failure"
	"pgrman/internal/logger"
	"pgrman/internal/pgctl"
)

// Recovery file names in the data directory
const (
	RecoveryConf   = "recovery.conf"
	RecoverySignal = "recovery.signal"
	AutoConf       = "postgresql.auto.conf"
)

// recovery.conf was folded into the server config in PostgreSQL 12
const signalFileVersion = 12

// Configurator writes the recovery directives into a restored data directory
type Configurator struct {
	log     logger.Logger
	program string
}

// NewConfigurator creates a configurator. program names the generator in
// the file header, e.g. "pgrman 1.2.0".
func NewConfigurator(log logger.Logger, program string) *Configurator {
	return &Configurator{
		log:     log,
		program: program,
	}
}

// Write emits the directives for target and returns the file written.
// Data directories of PostgreSQL 12 and later get recovery.signal plus the
// directives in postgresql.auto.conf; older or unknown versions get
// recovery.conf.
func (c *Configurator) Write(pgdata, arclogPath string, target *RecoveryTarget) (string, error) {
	settings := target.Settings(arclogPath)

	version, err := pgctl.DataVersion(pgdata)
	if err != nil {
		c.log.Debug("PostgreSQL version unknown, writing recovery.conf", "error", err)
	}
	if version != nil && version.AtLeast(signalFileVersion) {
		return c.writeSignal(pgdata, settings)
	}
	return c.writeRecoveryConf(pgdata, settings)
}

func (c *Configurator) writeRecoveryConf(pgdata string, settings []Setting) (string, error) {
	path := filepath.Join(pgdata, RecoveryConf)

	var content strings.Builder
	fmt.Fprintf(&content, "# recovery.conf generated by %s\n", c.program)
	for _, s := range settings {
		content.WriteString(FormatConfigLine(s.Key, s.Value) + "\n")
	}

	if err := renameio.WriteFile(path, []byte(content.String()), 0600); err != nil {
		return "", failure.Wrap(failure.System, err, "can't write recovery.conf %q", path)
	}
	c.log.Info("Created recovery.conf", "path", path)
	return path, nil
}

func (c *Configurator) writeSignal(pgdata string, settings []Setting) (string, error) {
	autoConfPath := filepath.Join(pgdata, AutoConf)

	existing, err := os.ReadFile(autoConfPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", failure.Wrap(failure.System, err, "can't read %q", autoConfPath)
	}

	updated, err := mergeSettings(existing, settings, c.program)
	if err != nil {
		return "", failure.Wrap(failure.System, err, "can't parse %q", autoConfPath)
	}
	if err := renameio.WriteFile(autoConfPath, updated, 0600); err != nil {
		return "", failure.Wrap(failure.System, err, "can't write %q", autoConfPath)
	}

	signalPath := filepath.Join(pgdata, RecoverySignal)
	if err := os.WriteFile(signalPath, []byte{}, 0600); err != nil {
		return "", failure.Wrap(failure.System, err, "can't create %q", signalPath)
	}

	c.log.Info("Recovery configuration added to postgresql.auto.conf", "path", autoConfPath, "signal", signalPath)
	return autoConfPath, nil
}

var recoveryKeyPattern = regexp.MustCompile(`^\s*(restore_command|recovery_target\w*)\s*=`)

// mergeSettings drops earlier restore_command and recovery_target*
// assignments and appends the new block, so a repeated restore leaves one
// copy and no stale target survives.
func mergeSettings(existing []byte, settings []Setting, program string) ([]byte, error) {
	const headerPrefix = "# recovery settings generated by "

	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(existing))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, headerPrefix) || recoveryKeyPattern.MatchString(line) {
			continue
		}
		out.WriteString(line + "\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out.WriteString(headerPrefix + program + "\n")
	for _, s := range settings {
		out.WriteString(FormatConfigLine(s.Key, s.Value) + "\n")
	}
	return out.Bytes(), nil
}
