package restarter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/idlereboot/internal/logger"
)

func TestNewCommand(t *testing.T) {
	tests := []struct {
		name    string
		cmdline string
		want    []string
		wantErr bool
	}{
		{name: "runit restart", cmdline: "sudo sv restart kf2", want: []string{"sudo", "sv", "restart", "kf2"}},
		{name: "systemd with quotes", cmdline: `systemctl restart "kf2 server.service"`, want: []string{"systemctl", "restart", "kf2 server.service"}},
		{name: "extra whitespace", cmdline: "  sv   restart  kf2 ", want: []string{"sv", "restart", "kf2"}},
		{name: "empty", cmdline: "", wantErr: true},
		{name: "blank", cmdline: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCommand(tt.cmdline, 0, logger.Nop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Argv())
			assert.Equal(t, DefaultTimeout, c.timeout)
		})
	}
}

func TestRestartRunsCommand(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "restarted")
	c, err := NewCommand("touch "+marker, time.Second, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, c.Restart(context.Background()))

	_, err = os.Stat(marker)
	assert.NoError(t, err)
}

func TestRestartReportsFailure(t *testing.T) {
	c, err := NewCommand("false", time.Second, logger.Nop())
	require.NoError(t, err)

	err = c.Restart(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `"false"`)
}

func TestRestartMissingBinary(t *testing.T) {
	c, err := NewCommand("/nonexistent/bin/sv restart kf2", time.Second, logger.Nop())
	require.NoError(t, err)
	assert.Error(t, c.Restart(context.Background()))
}
