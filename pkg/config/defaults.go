package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/scopedfs/pkg/platform"
	"github.com/marmos91/scopedfs/pkg/transfer"
)

// DefaultPackageName is the app package used when none is configured.
const DefaultPackageName = "io.scopedfs.cli"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyDeviceDefaults(&cfg.Device)
	applyPlatformDefaults(&cfg.Platform)
	applyGrantsDefaults(&cfg.Grants, cfg.Device.Root)
	applyMediaIndexDefaults(&cfg.MediaIndex, cfg.Device.Root)
	applyTransferDefaults(&cfg.Transfer)
	applySweepDefaults(&cfg.Sweep)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyDeviceDefaults(cfg *DeviceConfig) {
	if cfg.Type == "" {
		cfg.Type = "os"
	}
	if cfg.Type == "os" && cfg.Root == "" {
		cfg.Root = "/tmp/scopedfs-device"
	}
	if cfg.PackageName == "" {
		cfg.PackageName = DefaultPackageName
	}
	if cfg.Removable == nil {
		cfg.Removable = []string{}
	}
}

func applyPlatformDefaults(cfg *PlatformConfig) {
	if cfg.SDKLevel == 0 {
		cfg.SDKLevel = platform.SDKScopedStorageEnforced
	}
	if cfg.Space == "" {
		cfg.Space = "disk"
	}
	if cfg.Mounts == "" {
		cfg.Mounts = "disk"
	}
}

// applyGrantsDefaults sets grant store defaults. The databases live next to
// the device tree by default.
func applyGrantsDefaults(cfg *GrantsConfig, root string) {
	if cfg.Type == "" {
		cfg.Type = "bolt"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Bolt == nil {
		cfg.Bolt = make(map[string]any)
	}

	if _, ok := cfg.Bolt["path"]; !ok {
		cfg.Bolt["path"] = filepath.Join(stateDir(root), "grants.db")
	}
}

func applyMediaIndexDefaults(cfg *MediaIndexConfig, root string) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(stateDir(root), "media-index")
	}
}

// stateDir is where the store databases of a device live.
func stateDir(root string) string {
	if root == "" {
		return "/tmp/scopedfs-state"
	}
	return filepath.Clean(root) + "-state"
}

func applyTransferDefaults(cfg *TransferConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = transfer.DefaultChunkSize
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
	if cfg.Exclude == nil {
		cfg.Exclude = []string{}
	}
	// BytesPerSecond defaults to 0 (unlimited)
	// SkipEmptyFiles defaults to false
}

// applySweepDefaults enables the sweep when the section was left out
// entirely (no interval configured). Users can set enabled: false with an
// interval to disable it.
func applySweepDefaults(cfg *SweepConfig) {
	if cfg.Interval == 0 {
		cfg.Enabled = true
		cfg.Interval = time.Hour
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
