package pitr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgrman/internal/failure"
	"pgrman/internal/logger"
)

func TestRecoveryTargetValidate(t *testing.T) {
	tests := []struct {
		name   string
		target RecoveryTarget
		valid  bool
	}{
		{"empty", RecoveryTarget{Timeline: 1}, true},
		{"time", RecoveryTarget{Time: "2024-03-01 12:00:00"}, true},
		{"time with zone", RecoveryTarget{Time: "2024-03-01 12:00:00+09"}, true},
		{"bad time", RecoveryTarget{Time: "yesterday"}, false},
		{"xid", RecoveryTarget{XID: "1234"}, true},
		{"zero xid", RecoveryTarget{XID: "0"}, false},
		{"bad xid", RecoveryTarget{XID: "12ab"}, false},
		{"inclusive", RecoveryTarget{XID: "1234", Inclusive: "false"}, true},
		{"bad inclusive", RecoveryTarget{Inclusive: "maybe"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, failure.Is(err, failure.Args), "got %v", err)
			}
		})
	}
}

func TestWriteRecoveryConf(t *testing.T) {
	pgdata := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(pgdata, "PG_VERSION"), []byte("9.6\n"), 0600))

	c := NewConfigurator(logger.NewNullLogger(), "pgrman 1.0.0")
	path, err := c.Write(pgdata, "/var/lib/pgsql/arclog", &RecoveryTarget{
		Time:      "2024-03-01 12:00:00",
		Inclusive: "true",
		Timeline:  3,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pgdata, RecoveryConf), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := strings.Join([]string{
		"# recovery.conf generated by pgrman 1.0.0",
		"restore_command = 'cp /var/lib/pgsql/arclog/%f %p'",
		"recovery_target_time = '2024-03-01 12:00:00'",
		"recovery_target_inclusive = 'true'",
		"recovery_target_timeline = '3'",
		"",
	}, "\n")
	assert.Equal(t, want, string(data))
	assert.NoFileExists(t, filepath.Join(pgdata, RecoverySignal))
}

func TestWriteRecoveryConfUnknownVersion(t *testing.T) {
	pgdata := t.TempDir()
	c := NewConfigurator(logger.NewNullLogger(), "pgrman 1.0.0")

	path, err := c.Write(pgdata, "/arclog", &RecoveryTarget{Timeline: 1})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pgdata, RecoveryConf), path)
}

func TestWriteRecoverySignal(t *testing.T) {
	pgdata := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(pgdata, "PG_VERSION"), []byte("16\n"), 0600))
	autoConf := filepath.Join(pgdata, AutoConf)
	require.NoError(t, os.WriteFile(autoConf, []byte(
		"# Do not edit this file manually!\nwork_mem = '64MB'\nrecovery_target_xid = '99'\n"), 0600))

	c := NewConfigurator(logger.NewNullLogger(), "pgrman 1.0.0")
	target := &RecoveryTarget{Time: "2024-03-01 12:00:00", Timeline: 2}

	for i := 0; i < 2; i++ {
		path, err := c.Write(pgdata, "/arclog", target)
		require.NoError(t, err)
		assert.Equal(t, autoConf, path)
	}

	assert.FileExists(t, filepath.Join(pgdata, RecoverySignal))
	assert.NoFileExists(t, filepath.Join(pgdata, RecoveryConf))

	data, err := os.ReadFile(autoConf)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "work_mem = '64MB'")
	assert.NotContains(t, content, "recovery_target_xid", "stale target is dropped")
	assert.Equal(t, 1, strings.Count(content, "restore_command = 'cp /arclog/%f %p'"))
	assert.Equal(t, 1, strings.Count(content, "recovery_target_timeline = '2'"))
}

func TestFormatConfigLine(t *testing.T) {
	assert.Equal(t, "recovery_target_xid = '42'", FormatConfigLine("recovery_target_xid", "42"))
	assert.Equal(t, "restore_command = 'cp ''a''/%f %p'", FormatConfigLine("restore_command", "cp 'a'/%f %p"))
}
