// Package grant manages persisted document-tree permission grants.
//
// A grant records that the user approved access to a document tree through
// the system picker. The OS keeps a bounded table of grants per app; this
// package models that table as a Store and provides the redundant-grant
// Sweeper that keeps it small.
package grant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/marmos91/scopedfs/pkg/document"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// MaxGrants is the number of grants the OS keeps per app.
const MaxGrants = 128

var (
	// ErrGrantNotFound is returned when no grant exists for a URI.
	ErrGrantNotFound = errors.New("grant not found")

	// ErrGrantLimit is returned when persisting a new grant would exceed
	// the per-app limit.
	ErrGrantLimit = errors.New("grant limit reached")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("grant store closed")
)

// Grant is one persisted tree permission.
type Grant struct {
	// URI is the tree URI the permission was granted on.
	URI string `json:"uri"`

	// VolumeID and BasePath locate the tree root.
	VolumeID storagepath.VolumeID `json:"volume_id"`
	BasePath string               `json:"base_path"`

	Read  bool `json:"read"`
	Write bool `json:"write"`

	PersistedAt time.Time `json:"persisted_at"`
}

// New derives a grant from a tree URI.
func New(uri document.URI, read, write bool, at time.Time) (Grant, error) {
	loc, err := TreeLocation(uri)
	if err != nil {
		return Grant{}, err
	}
	return Grant{
		URI:         uri.Tree().String(),
		VolumeID:    loc.Volume,
		BasePath:    loc.Base,
		Read:        read,
		Write:       write,
		PersistedAt: at,
	}, nil
}

// TreeLocation returns the storage location of a tree root.
func TreeLocation(uri document.URI) (storagepath.Path, error) {
	switch uri.Authority {
	case document.DownloadsAuthority:
		if uri.TreeID != document.DownloadsTreeID {
			return storagepath.Path{}, fmt.Errorf("%w: unknown downloads tree %q", document.ErrInvalidURI, uri.TreeID)
		}
		return storagepath.New(storagepath.VolumePrimary, "Download"), nil
	case document.ExternalStorageAuthority:
		loc, err := storagepath.ParseCompact(uri.TreeID)
		if err != nil {
			return storagepath.Path{}, fmt.Errorf("%w: %v", document.ErrInvalidURI, err)
		}
		return loc, nil
	default:
		return storagepath.Path{}, fmt.Errorf("%w: unsupported authority %q", document.ErrInvalidURI, uri.Authority)
	}
}

// Location returns the tree root of the grant.
func (g Grant) Location() storagepath.Path {
	return storagepath.Path{Volume: g.VolumeID, Base: g.BasePath}
}

// TreeURI parses the grant URI.
func (g Grant) TreeURI() (document.URI, error) {
	return document.ParseURI(g.URI)
}

// IsDownloads reports whether the grant is on the downloads provider.
func (g Grant) IsDownloads() bool {
	u, err := g.TreeURI()
	return err == nil && u.IsDownloads()
}

// Allows reports whether the grant carries the requested access mode.
func (g Grant) Allows(write bool) bool {
	if write {
		return g.Read && g.Write
	}
	return g.Read
}

// Covers reports whether the grant gives access to loc.
func (g Grant) Covers(loc storagepath.Path, write bool) bool {
	return g.Allows(write) && g.Location().Contains(loc)
}

// Store persists the grant table.
//
// Persisting an existing URI replaces its flags. Implementations must be
// safe for concurrent use.
type Store interface {
	// Persist records a grant. It fails with ErrGrantLimit when the URI
	// is new and the table already holds MaxGrants entries.
	Persist(ctx context.Context, g Grant) error

	// Get returns the grant for a tree URI or ErrGrantNotFound.
	Get(ctx context.Context, uri string) (Grant, error)

	// List returns every grant ordered by URI.
	List(ctx context.Context) ([]Grant, error)

	// Release removes a grant. Releasing a missing URI returns
	// ErrGrantNotFound.
	Release(ctx context.Context, uri string) error

	// Close releases the resources held by the store.
	Close() error
}

// SortByURI orders grants by URI in place.
func SortByURI(grants []Grant) {
	sort.Slice(grants, func(i, j int) bool { return grants[i].URI < grants[j].URI })
}

// Authorizer adapts a Store to document.Authorizer.
type Authorizer struct {
	store Store
}

// NewAuthorizer creates an Authorizer backed by store.
func NewAuthorizer(store Store) *Authorizer {
	return &Authorizer{store: store}
}

func (a *Authorizer) IsTreeGranted(ctx context.Context, tree document.URI, write bool) (bool, error) {
	g, err := a.store.Get(ctx, tree.Tree().String())
	if errors.Is(err, ErrGrantNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return g.Allows(write), nil
}
