package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, LevelError, ParseLevel("Error"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestSetLevel(t *testing.T) {
	defer SetLevel("INFO")

	SetLevel("ERROR")
	assert.False(t, Enabled(LevelWarn))
	assert.True(t, Enabled(LevelError))

	SetLevel("not-a-level")
	assert.False(t, Enabled(LevelWarn), "unknown level must not change the current one")

	SetLevel("debug")
	assert.True(t, Enabled(LevelDebug))
}

func TestConfigureFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scopedfs.log")
	require.NoError(t, Configure("DEBUG", "json", path))
	defer func() { _ = Configure("INFO", "text", "stdout") }()

	Info("resolved %s", "primary:Download")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"resolved primary:Download"`)
}
