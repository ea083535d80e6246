package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/scopedfs/pkg/file"
)

func memoryConfig() *Config {
	cfg := &Config{
		Device:     DeviceConfig{Type: "memory", PackageName: "com.example.app", Removable: []string{"1234-ABCD"}},
		Grants:     GrantsConfig{Type: "memory"},
		MediaIndex: MediaIndexConfig{Type: "memory"},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestInitialize_MemoryDevice(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Platform.ManageAllFiles = true

	s, err := Initialize(ctx, cfg, nil, nil)
	require.NoError(t, err)
	defer s.Close(ctx)

	// Every configured volume exists
	for _, p := range []string{"data:", "primary:", "1234-ABCD:"} {
		f, err := s.Find(ctx, p, false)
		require.NoError(t, err, p)
		info, err := f.Stat(ctx)
		require.NoError(t, err, p)
		assert.True(t, info.IsDir, p)
	}

	dir, err := s.Mkdirs(ctx, "primary:Documents/reports", true)
	require.NoError(t, err)
	assert.Equal(t, "reports", dir.Name())

	_, err = s.RequestAccess(ctx, "primary", "Documents")
	assert.ErrorIs(t, err, file.ErrNotSupported)
}

func TestInitialize_PrivilegesFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()

	s, err := Initialize(ctx, cfg, nil, nil)
	require.NoError(t, err)
	defer s.Close(ctx)

	assert.True(t, s.IsAccessible(ctx, "data:files", true))
	assert.False(t, s.IsAccessible(ctx, "primary:Documents", false))
}

func TestInitialize_OSDevice(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	cfg := &Config{Device: DeviceConfig{Root: filepath.Join(tmp, "device")}}
	ApplyDefaults(cfg)
	cfg.Platform.ManageAllFiles = true
	cfg.Sweep.Enabled = false

	s, err := Initialize(ctx, cfg, nil, InitializeMetrics(cfg))
	require.NoError(t, err)

	_, err = s.CreateFile(ctx, "primary:Download/hello", "text/plain", 0)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	_, err = os.Stat(filepath.Join(tmp, "device", "storage", "emulated", "0", "Download", "hello.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(tmp, "device-state", "grants.db"))
	assert.NoError(t, err)
}

func TestInitialize_RejectsUnsupportedPlatform(t *testing.T) {
	cfg := memoryConfig()
	cfg.Platform.SDKLevel = 10

	_, err := Initialize(context.Background(), cfg, nil, nil)
	assert.Error(t, err)
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	result := InitializeMetrics(GetDefaultConfig())

	assert.Nil(t, result.Server)
	assert.NotNil(t, result.TransferMetrics)
	assert.NotNil(t, result.GrantMetrics)
}
