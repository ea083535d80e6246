package config

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/pkg/grant"
	"github.com/marmos91/scopedfs/pkg/platform"
	"github.com/marmos91/scopedfs/pkg/storage"
	"github.com/marmos91/scopedfs/pkg/storagepath"
	"github.com/marmos91/scopedfs/pkg/transfer"
)

// Initialize creates a fully wired Storage from the provided configuration.
//
// This function orchestrates the complete initialization process:
//  1. Opens the device filesystem and creates the volume roots
//  2. Opens the grant table and the media index stores
//  3. Selects the free space and mount point sources
//  4. Wires the Storage with the transfer defaults and the sweep settings
//
// The grant sweep is not started; call Start on the result.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: Complete configuration loaded from config file
//   - picker: Document tree picker serving access requests (may be nil)
//   - m: Metrics components from InitializeMetrics (may be nil)
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	s, err := config.Initialize(ctx, cfg, nil, config.InitializeMetrics(cfg))
//	if err != nil {
//	    log.Fatalf("Failed to initialize storage: %v", err)
//	}
//	defer s.Close(ctx)
func Initialize(ctx context.Context, cfg *Config, picker platform.Picker, m *MetricsResult) (*storage.Storage, error) {
	logger.Debug("Initializing storage from configuration")

	caps := platform.CapabilitiesFor(cfg.Platform.SDKLevel, cfg.Platform.LegacyExternalStorage)
	if err := caps.Validate(); err != nil {
		return nil, err
	}

	layout := storagepath.DefaultLayout(cfg.Device.PackageName)
	fs, err := createDeviceFs(cfg.Device, layout)
	if err != nil {
		return nil, err
	}

	grants, err := createGrantStore(ctx, cfg.Grants)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant store: %w", err)
	}
	logger.Debug("Grant store ready: type=%s", cfg.Grants.Type)

	index, err := createMediaIndexStore(ctx, cfg.MediaIndex)
	if err != nil {
		_ = grants.Close()
		return nil, fmt.Errorf("failed to create media index: %w", err)
	}
	logger.Debug("Media index ready: type=%s", cfg.MediaIndex.Type)

	if m == nil {
		m = InitializeMetrics(&Config{})
	}

	scfg := storage.Config{
		Fs:           fs,
		Layout:       layout,
		PackageName:  cfg.Device.PackageName,
		Capabilities: caps,
		Permissions:  platform.NewStaticPermissions(cfg.Platform.LegacyPermission, cfg.Platform.ManageAllFiles),
		Picker:       picker,
		Grants:       grants,
		MediaIndex:   index,

		PreferDirectPath: cfg.Platform.PreferDirectPath,
		TransferDefaults: transfer.Options{
			ChunkSize:        cfg.Transfer.ChunkSize,
			ProgressInterval: cfg.Transfer.ProgressInterval,
			BytesPerSecond:   cfg.Transfer.BytesPerSecond,
			SkipEmptyFiles:   cfg.Transfer.SkipEmptyFiles,
			Exclude:          cfg.Transfer.Exclude,
		},
		Sweep: grant.SweepConfig{
			Enabled:  cfg.Sweep.Enabled,
			Interval: cfg.Sweep.Interval,
			DryRun:   cfg.Sweep.DryRun,
		},
		TransferMetrics: m.TransferMetrics,
		GrantMetrics:    m.GrantMetrics,
	}

	// Host statistics only describe an os-backed device
	if cfg.Device.Type == "os" {
		if cfg.Platform.Space == "disk" {
			scfg.Space = platform.DiskSpace{HostRoot: cfg.Device.Root}
		}
		if cfg.Platform.Mounts == "disk" {
			scfg.Mounts = platform.DiskMounts{HostRoot: cfg.Device.Root}
		}
	}

	s, err := storage.New(scfg)
	if err != nil {
		_ = grants.Close()
		_ = index.Close()
		return nil, err
	}

	logger.Info("Device ready: package=%s type=%s %s", cfg.Device.PackageName, cfg.Device.Type, caps)
	return s, nil
}

// createDeviceFs opens the device filesystem and creates the root of every
// configured volume.
func createDeviceFs(cfg DeviceConfig, layout storagepath.Layout) (afero.Fs, error) {
	var fs afero.Fs
	switch cfg.Type {
	case "os":
		if err := afero.NewOsFs().MkdirAll(cfg.Root, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create device root: %w", err)
		}
		fs = afero.NewBasePathFs(afero.NewOsFs(), cfg.Root)
	case "memory":
		fs = afero.NewMemMapFs()
	default:
		return nil, fmt.Errorf("unknown device type: %q", cfg.Type)
	}

	volumes := []storagepath.VolumeID{storagepath.VolumeData, storagepath.VolumePrimary}
	for _, id := range cfg.Removable {
		volumes = append(volumes, storagepath.VolumeID(id))
	}
	for _, v := range volumes {
		if err := fs.MkdirAll(layout.VolumeRoot(v), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create volume %s: %w", v, err)
		}
	}

	return fs, nil
}
