package dirs

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXDGOverrides(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG variables only apply on linux")
	}
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(base, "cfg"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(base, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(base, "state"))

	cfg, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "cfg", "streamcast"), cfg)

	tables, err := TablesDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "data", "streamcast", "tables"), tables)

	tracking, err := TrackingDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "data", "streamcast", "mlruns"), tracking)

	logs, err := LogDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "state", "streamcast", "logs"), logs)

	require.NoError(t, EnsureAll())
	assert.DirExists(t, logs)
}

func TestLinuxHomeFallback(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux layout only")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", "")

	d, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "streamcast"), d)
}

func TestEnsureEmpty(t *testing.T) {
	assert.Error(t, Ensure(""))
}
