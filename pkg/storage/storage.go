// Package storage is the public entry point of scopedfs.
//
// A Storage ties together the path grammar, the access oracle, the
// mechanism resolver, the materializer, the media index adapter and the
// transfer engine over one emulated device. Every operation takes symbolic
// paths (absolute or compact) or resolved handles and returns handles whose
// backend was picked from the current permission state. Handles are never
// cached: a permission change is visible to the next call.
//
// Lifecycle:
//  1. Creation: New() with the collaborators of the device
//  2. Startup: Start() launches the background grant sweep
//  3. Operation: any method, from any goroutine
//  4. Shutdown: Close() stops the sweep and closes the stores
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/pkg/access"
	"github.com/marmos91/scopedfs/pkg/document"
	"github.com/marmos91/scopedfs/pkg/file"
	"github.com/marmos91/scopedfs/pkg/grant"
	"github.com/marmos91/scopedfs/pkg/materializer"
	"github.com/marmos91/scopedfs/pkg/media"
	"github.com/marmos91/scopedfs/pkg/mediaindex"
	"github.com/marmos91/scopedfs/pkg/metrics"
	"github.com/marmos91/scopedfs/pkg/platform"
	"github.com/marmos91/scopedfs/pkg/storagepath"
	"github.com/marmos91/scopedfs/pkg/transfer"
)

// Config holds the collaborators of a Storage.
type Config struct {
	// Fs holds every volume of the device. Required.
	Fs afero.Fs

	// Layout maps volumes to device paths.
	// Default: storagepath.DefaultLayout(PackageName)
	Layout storagepath.Layout

	// PackageName identifies the app. Required.
	PackageName string

	Capabilities platform.Capabilities

	// Permissions default to none held.
	Permissions platform.Permissions

	// PreferDirectPath tries direct volume roots before grants.
	PreferDirectPath bool

	// Picker serves RequestAccess. Without one RequestAccess fails with
	// NotSupported.
	Picker platform.Picker

	// Grants and MediaIndex are owned by the Storage and closed by Close.
	// Required.
	Grants     grant.Store
	MediaIndex mediaindex.Store

	// Space and Mounts are optional. Without Space the free space check is
	// skipped; without Mounts moves always copy.
	Space  platform.SpaceProvider
	Mounts platform.MountResolver

	// TransferDefaults fill the zero fields of per-call transfer options.
	TransferDefaults transfer.Options

	Sweep grant.SweepConfig

	TransferMetrics metrics.TransferMetrics
	GrantMetrics    metrics.GrantMetrics
}

// Storage resolves, creates, looks up and transfers entries across the
// direct, tree and media index mechanisms.
//
// Thread safety: safe for concurrent use.
type Storage struct {
	layout       storagepath.Layout
	oracle       *access.Oracle
	resolver     *access.Resolver
	materializer *materializer.Materializer
	media        *media.Adapter
	negotiator   *access.Negotiator
	engine       *transfer.Engine
	grants       grant.Store
	index        mediaindex.Store
	sweeper      *grant.Sweeper
	defaults     transfer.Options
	packageName  string
	active       atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// New wires a Storage. It does not start the grant sweep.
func New(cfg Config) (*Storage, error) {
	if cfg.Fs == nil {
		return nil, errors.New("storage: filesystem is required")
	}
	if cfg.PackageName == "" {
		return nil, errors.New("storage: package name is required")
	}
	if cfg.Grants == nil {
		return nil, errors.New("storage: grant store is required")
	}
	if cfg.MediaIndex == nil {
		return nil, errors.New("storage: media index store is required")
	}
	if err := cfg.Capabilities.Validate(); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if cfg.Layout == (storagepath.Layout{}) {
		cfg.Layout = storagepath.DefaultLayout(cfg.PackageName)
	}
	if cfg.Permissions == nil {
		cfg.Permissions = platform.NewStaticPermissions(false, false)
	}

	auth := grant.NewAuthorizer(cfg.Grants)
	oracle := access.NewOracle(cfg.Capabilities, cfg.Permissions, cfg.Grants, cfg.PackageName,
		access.WithPreferDirectPath(cfg.PreferDirectPath))
	resolver := access.NewResolver(oracle, access.Backends{
		Fs:        cfg.Fs,
		Layout:    cfg.Layout,
		External:  document.NewExternalStorageProvider(cfg.Fs, cfg.Layout, auth),
		Downloads: document.NewDownloadsProvider(cfg.Fs, cfg.Layout, auth),
	})
	mat := materializer.New(resolver)
	provider := mediaindex.NewProvider(cfg.MediaIndex, cfg.Fs, cfg.Layout.PrimaryRoot, cfg.PackageName)

	s := &Storage{
		layout:       cfg.Layout,
		oracle:       oracle,
		resolver:     resolver,
		materializer: mat,
		media:        media.NewAdapter(cfg.Capabilities, provider, mat, resolver),
		engine:       transfer.NewEngine(cfg.Layout, cfg.Space, cfg.Mounts, cfg.TransferMetrics),
		grants:       cfg.Grants,
		index:        cfg.MediaIndex,
		sweeper:      grant.NewSweeper(cfg.Grants, cfg.Sweep, cfg.GrantMetrics),
		defaults:     cfg.TransferDefaults,
		packageName:  cfg.PackageName,
	}
	if cfg.Picker != nil {
		s.negotiator = access.NewNegotiator(cfg.Picker, cfg.Grants, cfg.GrantMetrics)
	}

	logger.Debug("Storage ready: package=%s %s", cfg.PackageName, cfg.Capabilities)
	return s, nil
}

// Start launches the periodic grant sweep when it is enabled.
func (s *Storage) Start() {
	s.sweeper.Start()
}

// Close stops the sweep and closes the grant and media stores. Subsequent
// calls return the first result.
func (s *Storage) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.sweeper.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop grant sweep: %w", err))
		}
		if err := s.grants.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close grant store: %w", err))
		}
		if err := s.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close media index: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Layout returns the device layout.
func (s *Storage) Layout() storagepath.Layout {
	return s.layout
}

// Capabilities returns the platform behavior the storage was built for.
func (s *Storage) Capabilities() platform.Capabilities {
	return s.oracle.Capabilities()
}

// ToAbsolutePath converts a symbolic path in either notation to its device
// path.
func (s *Storage) ToAbsolutePath(symbolic string) (string, error) {
	abs, err := s.layout.ToAbsolute(symbolic)
	if err != nil {
		return "", file.Classify(err, symbolic)
	}
	return abs, nil
}

// ToCompactPath converts a symbolic path in either notation to
// "volume:base".
func (s *Storage) ToCompactPath(symbolic string) (string, error) {
	compact, err := s.layout.ToCompact(symbolic)
	if err != nil {
		return "", file.Classify(err, symbolic)
	}
	return compact, nil
}

// VolumeIDOf returns the volume a symbolic path lives on.
func (s *Storage) VolumeIDOf(symbolic string) (storagepath.VolumeID, error) {
	v, err := s.layout.VolumeIDOf(symbolic)
	if err != nil {
		return "", file.Classify(err, symbolic)
	}
	return v, nil
}

// IsAccessible reports whether symbolic can be reached, and written to
// when requireWritable is set, without asking the user. Unparsable paths
// are not accessible.
func (s *Storage) IsAccessible(ctx context.Context, symbolic string, requireWritable bool) bool {
	loc, err := s.layout.Parse(symbolic)
	if err != nil {
		return false
	}
	return s.oracle.IsAccessible(ctx, loc, requireWritable)
}

// CreateFile creates the file at symbolic, creating missing parents.
func (s *Storage) CreateFile(ctx context.Context, symbolic, mimeType string, mode materializer.Mode) (file.File, error) {
	loc, err := s.layout.Parse(symbolic)
	if err != nil {
		return nil, file.Classify(err, symbolic)
	}
	return s.materializer.CreateFile(ctx, loc.Volume, loc.Base, mimeType, mode)
}

// Mkdirs creates the directory at symbolic and its missing parents.
func (s *Storage) Mkdirs(ctx context.Context, symbolic string, requireWritable bool) (file.File, error) {
	loc, err := s.layout.Parse(symbolic)
	if err != nil {
		return nil, file.Classify(err, symbolic)
	}
	return s.materializer.Mkdirs(ctx, loc.Volume, loc.Base, requireWritable)
}

// MkdirsBatch creates every directory in paths. The handles are aligned
// with paths; failed entries are nil and their errors joined.
func (s *Storage) MkdirsBatch(ctx context.Context, paths []string, requireWritable bool) ([]file.File, error) {
	return s.materializer.MkdirsBatch(ctx, paths, requireWritable)
}

// Find returns a handle on the existing entry at symbolic.
func (s *Storage) Find(ctx context.Context, symbolic string, requireWritable bool) (file.File, error) {
	return s.resolver.FindPath(ctx, symbolic, requireWritable)
}

// FindByVolumeAndBasePath is Find for an already decomposed path.
func (s *Storage) FindByVolumeAndBasePath(ctx context.Context, volume storagepath.VolumeID, basePath string, requireWritable bool) (file.File, error) {
	if !volume.Valid() {
		return nil, file.NewError(file.InvalidPath, string(volume), "unknown volume")
	}
	return s.resolver.Find(ctx, volume, basePath, requireWritable)
}

// CreateMediaFile creates a file of category under one of its well-known
// directories, through the media index when the platform requires it.
func (s *Storage) CreateMediaFile(ctx context.Context, category mediaindex.Category, directory string, desc media.FileDescription, mode materializer.Mode) (file.File, error) {
	return s.media.CreateFile(ctx, category, directory, desc, mode)
}

// FindMedia returns the media file name in relativePath.
func (s *Storage) FindMedia(ctx context.Context, category mediaindex.Category, relativePath, name string) (file.File, error) {
	return s.media.Find(ctx, category, relativePath, name)
}

// FindAllMedia lists the media files of category in relativePath, or in
// the whole category when relativePath is empty.
func (s *Storage) FindAllMedia(ctx context.Context, category mediaindex.Category, relativePath string) ([]file.File, error) {
	return s.media.FindAll(ctx, category, relativePath)
}

// NewTransfer prepares a step-by-step transfer. The caller drives it with
// Next and Resume, or hands it to transfer.Drive.
func (s *Storage) NewTransfer(sources []file.File, target file.File, opts transfer.Options) *transfer.Transfer {
	return s.engine.NewTransfer(transfer.Request{
		Sources: sources,
		Target:  target,
		Options: s.withDefaults(opts),
	})
}

// Copy copies sources into the target directory and blocks until the
// transfer ends. Callbacks run through d, or inline when d is nil.
func (s *Storage) Copy(ctx context.Context, sources []file.File, target file.File, opts transfer.Options, cb transfer.Callbacks, d transfer.Dispatcher) transfer.Result {
	opts.DeleteSource = false
	return s.drive(ctx, s.NewTransfer(sources, target, opts), cb, d)
}

// Move is Copy followed by the deletion of every transferred source. Sources
// on the same mount as the target are renamed instead of copied.
func (s *Storage) Move(ctx context.Context, sources []file.File, target file.File, opts transfer.Options, cb transfer.Callbacks, d transfer.Dispatcher) transfer.Result {
	opts.DeleteSource = true
	return s.drive(ctx, s.NewTransfer(sources, target, opts), cb, d)
}

func (s *Storage) drive(ctx context.Context, t *transfer.Transfer, cb transfer.Callbacks, d transfer.Dispatcher) transfer.Result {
	s.active.Add(1)
	defer s.active.Add(-1)
	return transfer.Drive(ctx, t, cb, d)
}

// Status summarizes the device for the status endpoint.
func (s *Storage) Status(ctx context.Context) (metrics.Status, error) {
	grants, err := s.grants.List(ctx)
	if err != nil {
		return metrics.Status{}, fmt.Errorf("list grants: %w", err)
	}
	caps := s.Capabilities()
	return metrics.Status{
		PackageName:           s.packageName,
		SDKLevel:              caps.SDKLevel,
		ScopedStorageEnforced: caps.ScopedStorageEnforced,
		Grants:                len(grants),
		ActiveTransfers:       s.active.Load(),
	}, nil
}

// FindAll resolves several symbolic paths at once. It stops at the first
// failure.
func (s *Storage) FindAll(ctx context.Context, paths []string, requireWritable bool) ([]file.File, error) {
	handles := make([]file.File, 0, len(paths))
	for _, p := range paths {
		f, err := s.Find(ctx, p, requireWritable)
		if err != nil {
			return nil, err
		}
		handles = append(handles, f)
	}
	return handles, nil
}

// RequestAccess asks the user to grant a document tree starting at
// (volume, initialBasePath) and persists the grant.
func (s *Storage) RequestAccess(ctx context.Context, volume storagepath.VolumeID, initialBasePath string) (grant.Grant, error) {
	if s.negotiator == nil {
		return grant.Grant{}, file.NewError(file.NotSupported, storagepath.New(volume, initialBasePath).Compact(), "no document tree picker configured")
	}
	return s.negotiator.RequestAccess(ctx, volume, initialBasePath)
}

// Grants lists the persisted grants ordered by URI.
func (s *Storage) Grants(ctx context.Context) ([]grant.Grant, error) {
	grants, err := s.grants.List(ctx)
	if err != nil {
		return nil, err
	}
	grant.SortByURI(grants)
	return grants, nil
}

// ReleaseGrant drops the grant on uri.
func (s *Storage) ReleaseGrant(ctx context.Context, uri string) error {
	if err := s.grants.Release(ctx, uri); err != nil {
		return err
	}
	logger.Info("Released grant %s", uri)
	return nil
}

// SweepGrants releases redundant grants now.
func (s *Storage) SweepGrants(ctx context.Context) (*grant.SweepStats, error) {
	return s.sweeper.RunNow(ctx)
}

func (s *Storage) withDefaults(opts transfer.Options) transfer.Options {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = s.defaults.ChunkSize
	}
	if opts.ProgressInterval == 0 {
		opts.ProgressInterval = s.defaults.ProgressInterval
	}
	if opts.BytesPerSecond == 0 {
		opts.BytesPerSecond = s.defaults.BytesPerSecond
	}
	if len(opts.Exclude) == 0 {
		opts.Exclude = s.defaults.Exclude
	}
	opts.SkipEmptyFiles = opts.SkipEmptyFiles || s.defaults.SkipEmptyFiles
	return opts
}
