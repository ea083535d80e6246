package access

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/afero"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/pkg/document"
	"github.com/marmos91/scopedfs/pkg/file"
	"github.com/marmos91/scopedfs/pkg/grant"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// Root is the handle a request is served from.
type Root struct {
	// File is the root handle: a raw directory or a tree root.
	File file.File

	// Location is the storage location of File.
	Location storagepath.Path

	// Grant is the grant the root goes through, nil for direct roots.
	Grant *grant.Grant
}

// IsDirect reports whether the root is a direct path.
func (r *Root) IsDirect() bool {
	return r.Grant == nil
}

// Backends are the mechanisms the Resolver can hand out.
type Backends struct {
	Fs        afero.Fs
	Layout    storagepath.Layout
	External  document.Provider
	Downloads document.Provider
}

// Resolver picks the mechanism serving a location.
type Resolver struct {
	oracle   *Oracle
	backends Backends
}

// NewResolver creates a Resolver.
func NewResolver(oracle *Oracle, backends Backends) *Resolver {
	return &Resolver{oracle: oracle, backends: backends}
}

// Oracle returns the oracle the resolver decides with.
func (r *Resolver) Oracle() *Oracle {
	return r.oracle
}

// Layout returns the device layout.
func (r *Resolver) Layout() storagepath.Layout {
	return r.backends.Layout
}

// AccessibleRoot returns the root to reach (volume, basePath) from.
//
// Direct roots are tried first when the oracle allows or prefers a direct
// path. Then
// the held grants are tried, the downloads grant first for paths under
// Download and otherwise the most specific external storage grant. When
// nothing covers the location the error matches file.ErrAccessDenied; the
// caller may then request access explicitly.
func (r *Resolver) AccessibleRoot(ctx context.Context, volume storagepath.VolumeID, basePath string, requireWritable bool) (*Root, error) {
	if err := ctx.Err(); err != nil {
		return nil, file.Classify(err, "")
	}
	if !volume.Valid() {
		return nil, file.NewError(file.InvalidPath, string(volume), "unknown volume")
	}
	loc := storagepath.New(volume, basePath)

	if r.oracle.HasDirectAccess(loc) || r.oracle.PrefersDirectPath() {
		root, err := r.directRoot(loc, requireWritable)
		if err == nil {
			return root, nil
		}
		logger.Debug("Direct root for %s unavailable: %v", loc, err)
	}

	g, err := r.oracle.coveringGrant(ctx, loc, requireWritable)
	switch {
	case errors.Is(err, grant.ErrGrantNotFound):
		return nil, &file.Error{
			Kind:     file.AccessDenied,
			Path:     loc.Compact(),
			Message:  "no grant covers the location",
			Recovery: &file.Recovery{Volume: volume, BasePath: loc.Base},
		}
	case err != nil:
		return nil, file.Classify(err, loc.Compact())
	}

	tree, err := g.TreeURI()
	if err != nil {
		return nil, file.Classify(err, g.URI)
	}
	provider := r.backends.External
	if tree.IsDownloads() {
		provider = r.backends.Downloads
	}

	logger.Debug("Resolved %s through grant %s", loc, g.URI)
	return &Root{
		File:     file.NewTree(provider, tree, ""),
		Location: g.Location(),
		Grant:    &g,
	}, nil
}

// directRoot returns the volume root as a raw handle when it exists and
// allows the requested mode.
func (r *Resolver) directRoot(loc storagepath.Path, requireWritable bool) (*Root, error) {
	rootLoc := storagepath.Path{Volume: loc.Volume}
	devicePath := r.backends.Layout.Absolute(rootLoc)

	info, err := r.backends.Fs.Stat(devicePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, document.ErrNotDirectory
	}
	if info.Mode().Perm()&0o444 == 0 || (requireWritable && info.Mode().Perm()&0o222 == 0) {
		return nil, os.ErrPermission
	}

	return &Root{
		File:     file.NewRaw(r.backends.Fs, r.backends.Layout, devicePath),
		Location: rootLoc,
	}, nil
}

// Resolve returns a handle on (volume, basePath) without checking that
// the entry exists.
func (r *Resolver) Resolve(ctx context.Context, volume storagepath.VolumeID, basePath string, requireWritable bool) (file.File, error) {
	root, err := r.AccessibleRoot(ctx, volume, basePath, requireWritable)
	if err != nil {
		return nil, err
	}
	return r.handleAt(root, storagepath.New(volume, basePath))
}

func (r *Resolver) handleAt(root *Root, loc storagepath.Path) (file.File, error) {
	if loc == root.Location {
		return root.File, nil
	}
	switch h := root.File.(type) {
	case *file.Raw:
		return file.NewRaw(h.Fs(), r.backends.Layout, r.backends.Layout.Absolute(loc)), nil
	case *file.Tree:
		provider := r.backends.External
		if h.TreeURI().IsDownloads() {
			provider = r.backends.Downloads
		}
		id, err := provider.DocumentID(loc)
		if err != nil {
			return nil, file.Classify(err, loc.Compact())
		}
		return file.NewTree(provider, h.TreeURI(), id), nil
	default:
		return nil, file.NewError(file.NotSupported, loc.Compact(), "unexpected root handle")
	}
}

// Find returns a handle on an existing entry.
func (r *Resolver) Find(ctx context.Context, volume storagepath.VolumeID, basePath string, requireWritable bool) (file.File, error) {
	f, err := r.Resolve(ctx, volume, basePath, requireWritable)
	if err != nil {
		return nil, err
	}
	if _, err := f.Stat(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// FindPath is Find for a symbolic path in either notation.
func (r *Resolver) FindPath(ctx context.Context, symbolic string, requireWritable bool) (file.File, error) {
	loc, err := r.backends.Layout.Parse(symbolic)
	if err != nil {
		return nil, file.Classify(err, symbolic)
	}
	return r.Find(ctx, loc.Volume, loc.Base, requireWritable)
}
