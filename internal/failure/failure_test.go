package failure

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCodesAreDistinct(t *testing.T) {
	seen := make(map[int]Kind)
	for kind, code := range exitCodes {
		if other, ok := seen[code]; ok {
			t.Fatalf("kinds %v and %v share exit code %d", kind, other, code)
		}
		seen[code] = kind
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), 1},
		{"args", New(Args, "required parameter not specified: %s", "PGDATA"), 12},
		{"no backup", New(NoBackup, "no full backup found"), 24},
		{"wrapped kind", fmt.Errorf("restore: %w", New(Interrupted, "interrupted")), 13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(System, fs.ErrPermission, "can't remove file %q", "/tmp/x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrPermission))
	assert.True(t, Is(err, System))
	assert.Equal(t, `can't remove file "/tmp/x": permission denied`, err.Error())

	assert.NoError(t, Wrap(System, nil, "unused"))
}
