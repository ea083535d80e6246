package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete scopedfs configuration.
//
// This structure captures all configurable aspects of an emulated device:
//   - Logging configuration
//   - Device location on the host and the app package name
//   - Platform level and privileges held by the app
//   - Grant table and media index store selection (store-specific)
//   - Transfer defaults
//   - Redundant-grant sweep
//   - Metrics endpoint
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (SCOPEDFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration type. The Config
// struct contains type-specific sections (e.g., grants.bolt, grants.memory)
// and only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Device locates the emulated device
	Device DeviceConfig `mapstructure:"device" yaml:"device"`

	// Platform selects the OS level and the privileges held by the app
	Platform PlatformConfig `mapstructure:"platform" yaml:"platform"`

	// Grants specifies the grant table store
	Grants GrantsConfig `mapstructure:"grants" yaml:"grants"`

	// MediaIndex specifies the media index store
	MediaIndex MediaIndexConfig `mapstructure:"media_index" yaml:"media_index"`

	// Transfer holds the defaults of copy and move
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`

	// Sweep configures the background redundant-grant sweep
	Sweep SweepConfig `mapstructure:"sweep" yaml:"sweep"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// DeviceConfig locates the emulated device.
type DeviceConfig struct {
	// Type selects the backing filesystem
	// Valid values: os (a host directory), memory (lost on exit)
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=os memory"`

	// Root is the host directory holding the device tree
	// Only used when Type = "os"
	Root string `mapstructure:"root" yaml:"root" validate:"required_if=Type os"`

	// PackageName identifies the app the device is emulated for
	PackageName string `mapstructure:"package_name" yaml:"package_name" validate:"required"`

	// Removable lists the volume IDs (XXXX-XXXX) of mounted SD cards
	Removable []string `mapstructure:"removable" yaml:"removable"`
}

// PlatformConfig selects the OS behavior.
type PlatformConfig struct {
	// SDKLevel is the OS API level
	SDKLevel int `mapstructure:"sdk_level" yaml:"sdk_level" validate:"gte=21"`

	// LegacyExternalStorage is the app-level opt-out from scoped storage,
	// honoured on the first scoped storage release only
	LegacyExternalStorage bool `mapstructure:"legacy_external_storage" yaml:"legacy_external_storage"`

	// LegacyPermission means the legacy blanket storage permission is held
	LegacyPermission bool `mapstructure:"legacy_permission" yaml:"legacy_permission"`

	// ManageAllFiles means the full-disk-access privilege is held
	ManageAllFiles bool `mapstructure:"manage_all_files" yaml:"manage_all_files"`

	// PreferDirectPath tries direct paths before grants even without
	// full-disk access
	PreferDirectPath bool `mapstructure:"prefer_direct_path" yaml:"prefer_direct_path"`

	// Space selects the free space source
	// Valid values: disk (host filesystem statistics), none (no check)
	Space string `mapstructure:"space" yaml:"space" validate:"required,oneof=disk none"`

	// Mounts selects the mount point source used to decide fast renames
	// Valid values: disk (host partition table), none (always copy)
	Mounts string `mapstructure:"mounts" yaml:"mounts" validate:"required,oneof=disk none"`
}

// GrantsConfig specifies the grant table store.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type GrantsConfig struct {
	// Type specifies which grant store implementation to use
	// Valid values: memory, bolt
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory bolt"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// Bolt contains BoltDB-specific configuration
	// Only used when Type = "bolt"
	Bolt map[string]any `mapstructure:"bolt" yaml:"bolt"`
}

// MediaIndexConfig specifies the media index store.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type MediaIndexConfig struct {
	// Type specifies which media index implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// TransferConfig holds the defaults applied to every copy and move.
type TransferConfig struct {
	// ChunkSize is the streaming buffer size in bytes
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size" validate:"gte=0"`

	// ProgressInterval is the minimum delay between progress reports
	// (negative disables reporting)
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`

	// BytesPerSecond caps the copy throughput (0 = unlimited)
	BytesPerSecond uint64 `mapstructure:"bytes_per_second" yaml:"bytes_per_second"`

	// SkipEmptyFiles leaves zero-length files out of every transfer
	SkipEmptyFiles bool `mapstructure:"skip_empty_files" yaml:"skip_empty_files"`

	// Exclude lists glob patterns (doublestar syntax) matched against the
	// path of each entry relative to its source root
	Exclude []string `mapstructure:"exclude" yaml:"exclude"`
}

// SweepConfig configures the redundant-grant sweep.
type SweepConfig struct {
	// Enabled controls whether the periodic sweep runs
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is how often to sweep
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gte=0"`

	// DryRun logs what would be released without releasing anything
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled starts the metrics HTTP server
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of the metrics server
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SCOPEDFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the SCOPEDFS_ prefix and underscores
	// Example: SCOPEDFS_PLATFORM_SDK_LEVEL=29
	v.SetEnvPrefix("SCOPEDFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/scopedfs/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys are the scalar keys that can be set from the environment alone.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"device.type",
	"device.root",
	"device.package_name",
	"platform.sdk_level",
	"platform.legacy_external_storage",
	"platform.legacy_permission",
	"platform.manage_all_files",
	"platform.prefer_direct_path",
	"platform.space",
	"platform.mounts",
	"grants.type",
	"media_index.type",
	"transfer.chunk_size",
	"transfer.progress_interval",
	"transfer.bytes_per_second",
	"transfer.skip_empty_files",
	"sweep.enabled",
	"sweep.interval",
	"sweep.dry_run",
	"metrics.enabled",
	"metrics.port",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist behaves like no file at all
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "scopedfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "scopedfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
