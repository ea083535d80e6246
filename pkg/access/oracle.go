// Package access decides how a storage location can be reached.
//
// The Oracle answers yes/no questions about permissions without ever
// prompting. The Resolver picks the mechanism, a direct path or a granted
// document tree, and returns the root handle to work from. The Negotiator
// runs the explicit, caller-initiated picker flow that adds a grant.
package access

import (
	"context"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/pkg/grant"
	"github.com/marmos91/scopedfs/pkg/platform"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// appSpecificDirs are the per-app directories on shared volumes that the
// app reaches directly at every OS level.
var appSpecificDirs = []string{"Android/data", "Android/media", "Android/obb"}

// Oracle answers permission questions.
//
// Thread Safety: Safe for concurrent use. Grants are read from the store
// on every call.
type Oracle struct {
	caps         platform.Capabilities
	perms        platform.Permissions
	grants       grant.Store
	packageName  string
	preferDirect bool
}

// OracleOption configures an Oracle.
type OracleOption func(*Oracle)

// WithPreferDirectPath makes the resolver try the direct volume root
// before any grant, whatever privileges are held. Roots the process
// cannot read still fall back to the grants.
func WithPreferDirectPath(prefer bool) OracleOption {
	return func(o *Oracle) {
		o.preferDirect = prefer
	}
}

// NewOracle creates an Oracle.
func NewOracle(caps platform.Capabilities, perms platform.Permissions, grants grant.Store, packageName string, opts ...OracleOption) *Oracle {
	o := &Oracle{caps: caps, perms: perms, grants: grants, packageName: packageName}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PrefersDirectPath reports whether direct roots are tried first even
// without direct access.
func (o *Oracle) PrefersDirectPath() bool {
	return o.preferDirect
}

// Capabilities returns the flags the oracle decides with.
func (o *Oracle) Capabilities() platform.Capabilities {
	return o.caps
}

// HasFullDiskAccess reports whether direct paths work on the whole volume:
// the "manage all files" privilege where the platform supports it, or the
// legacy permission on the primary volume before enforcement.
func (o *Oracle) HasFullDiskAccess(volume storagepath.VolumeID) bool {
	if o.caps.ManageAllFilesSupported && o.perms.HasManageAllFiles() {
		return true
	}
	return volume == storagepath.VolumePrimary &&
		!o.caps.ScopedStorageEnforced &&
		o.perms.HasLegacyBlanketPermission()
}

// IsAppSpecific reports whether loc lies inside one of the app's own
// directories on a shared volume.
func (o *Oracle) IsAppSpecific(loc storagepath.Path) bool {
	if o.packageName == "" || loc.Volume == storagepath.VolumeData {
		return false
	}
	for _, dir := range appSpecificDirs {
		if storagepath.IsDescendant(storagepath.Join(dir, o.packageName), loc.Base, false) {
			return true
		}
	}
	return false
}

// HasDirectAccess reports whether loc is reachable through a direct path.
func (o *Oracle) HasDirectAccess(loc storagepath.Path) bool {
	return loc.Volume == storagepath.VolumeData ||
		o.HasFullDiskAccess(loc.Volume) ||
		o.IsAppSpecific(loc)
}

// IsAccessGranted reports whether something on the volume is reachable
// with the requested mode: the internal volume, the primary volume before
// scoped storage is enforced, direct access to the whole volume or at
// least one held grant on it.
func (o *Oracle) IsAccessGranted(ctx context.Context, volume storagepath.VolumeID, requireWritable bool) bool {
	if volume == storagepath.VolumeData || o.HasFullDiskAccess(volume) {
		return true
	}
	if volume == storagepath.VolumePrimary && !o.caps.ScopedStorageEnforced {
		return true
	}
	grants, err := o.grants.List(ctx)
	if err != nil {
		logger.Warn("Access check: failed to list grants: %v", err)
		return false
	}
	for _, g := range grants {
		if g.VolumeID == volume && g.Allows(requireWritable) {
			return true
		}
	}
	return false
}

// IsAccessible reports whether loc itself is reachable with the requested
// mode.
func (o *Oracle) IsAccessible(ctx context.Context, loc storagepath.Path, requireWritable bool) bool {
	if o.HasDirectAccess(loc) {
		return true
	}
	_, err := o.coveringGrant(ctx, loc, requireWritable)
	return err == nil
}

// coveringGrant picks the grant to reach loc through: the downloads grant
// first for paths under Download, then the external storage grant with
// the longest base path.
func (o *Oracle) coveringGrant(ctx context.Context, loc storagepath.Path, requireWritable bool) (grant.Grant, error) {
	grants, err := o.grants.List(ctx)
	if err != nil {
		return grant.Grant{}, err
	}

	var best *grant.Grant
	for i := range grants {
		g := &grants[i]
		if !g.Covers(loc, requireWritable) {
			continue
		}
		if g.IsDownloads() {
			return *g, nil
		}
		if best == nil || len(g.BasePath) > len(best.BasePath) {
			best = g
		}
	}
	if best == nil {
		return grant.Grant{}, grant.ErrGrantNotFound
	}
	return *best, nil
}
