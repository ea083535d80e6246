package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Write minimal config
	configContent := `
logging:
  level: "info"

device:
  type: "memory"
  package_name: "com.example.app"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Load config
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Device.Root != "" {
		t.Errorf("Expected no root for a memory device, got %q", cfg.Device.Root)
	}
	if cfg.Platform.SDKLevel != 30 {
		t.Errorf("Expected default sdk_level 30, got %d", cfg.Platform.SDKLevel)
	}
	if cfg.Transfer.ProgressInterval != 500*time.Millisecond {
		t.Errorf("Expected default progress_interval 500ms, got %v", cfg.Transfer.ProgressInterval)
	}
	if !cfg.Sweep.Enabled || cfg.Sweep.Interval != time.Hour {
		t.Errorf("Expected sweep enabled every hour, got enabled=%v interval=%v", cfg.Sweep.Enabled, cfg.Sweep.Interval)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Use a temporary directory with a non-existent config file path
	// This ensures we don't load the user's config from ~/.config/scopedfs/
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	// Verify defaults
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Device.Type != "os" {
		t.Errorf("Expected default device type 'os', got %q", cfg.Device.Type)
	}
	if cfg.Grants.Type != "bolt" {
		t.Errorf("Expected default grants type 'bolt', got %q", cfg.Grants.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	// Write invalid YAML
	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Should return error
	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
platform:
  sdk_level: 19
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for sdk_level 19, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[logging]
level = "WARN"
format = "json"

[device]
type = "memory"
removable = ["1234-ABCD"]

[transfer]
chunk_size = 4096
exclude = ["**/*.tmp"]

[grants]
type = "memory"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if len(cfg.Device.Removable) != 1 || cfg.Device.Removable[0] != "1234-ABCD" {
		t.Errorf("Expected removable [1234-ABCD], got %v", cfg.Device.Removable)
	}
	if cfg.Transfer.ChunkSize != 4096 {
		t.Errorf("Expected chunk_size 4096, got %d", cfg.Transfer.ChunkSize)
	}
	if cfg.Grants.Type != "memory" {
		t.Errorf("Expected grants type 'memory', got %q", cfg.Grants.Type)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	// Verify all defaults are set
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Device.PackageName != DefaultPackageName {
		t.Errorf("Expected default package %q, got %q", DefaultPackageName, cfg.Device.PackageName)
	}
	if cfg.Device.Root != "/tmp/scopedfs-device" {
		t.Errorf("Expected default root '/tmp/scopedfs-device', got %q", cfg.Device.Root)
	}
	if cfg.Grants.Bolt["path"] != "/tmp/scopedfs-device-state/grants.db" {
		t.Errorf("Expected grant database next to the device, got %v", cfg.Grants.Bolt["path"])
	}
	if cfg.MediaIndex.Type != "badger" {
		t.Errorf("Expected default media index type 'badger', got %q", cfg.MediaIndex.Type)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := GetConfigDir()

	if filepath.Base(dir) != "scopedfs" {
		t.Errorf("Expected directory name 'scopedfs', got %q", filepath.Base(dir))
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in a fresh directory")
	}
	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !ConfigExists() {
		t.Error("Expected config to exist after InitConfig")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("SCOPEDFS_LOGGING_LEVEL", "ERROR")
	t.Setenv("SCOPEDFS_PLATFORM_SDK_LEVEL", "29")
	t.Setenv("SCOPEDFS_PLATFORM_LEGACY_EXTERNAL_STORAGE", "true")
	t.Setenv("SCOPEDFS_TRANSFER_PROGRESS_INTERVAL", "2s")
	t.Setenv("SCOPEDFS_PLATFORM_PREFER_DIRECT_PATH", "true")

	// Create minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

platform:
  sdk_level: 30
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify environment variables override config file
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Platform.SDKLevel != 29 {
		t.Errorf("Expected sdk_level 29 from env var, got %d", cfg.Platform.SDKLevel)
	}
	if !cfg.Platform.LegacyExternalStorage {
		t.Error("Expected legacy_external_storage from env var")
	}
	if cfg.Transfer.ProgressInterval != 2*time.Second {
		t.Errorf("Expected progress_interval 2s from env var, got %v", cfg.Transfer.ProgressInterval)
	}
	if !cfg.Platform.PreferDirectPath {
		t.Error("Expected prefer_direct_path from env var")
	}
}
