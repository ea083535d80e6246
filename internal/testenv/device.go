// Package testenv builds an in-memory device for tests: a memory-backed
// filesystem laid out like a phone, a grant table, both document
// providers and a media index.
package testenv

import (
	"context"
	"path"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/scopedfs/pkg/document"
	"github.com/marmos91/scopedfs/pkg/grant"
	grantmemory "github.com/marmos91/scopedfs/pkg/grant/memory"
	"github.com/marmos91/scopedfs/pkg/mediaindex"
	mediamemory "github.com/marmos91/scopedfs/pkg/mediaindex/memory"
	"github.com/marmos91/scopedfs/pkg/platform"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

const (
	// Package is the package name of the app under test.
	Package = "com.example.app"

	// Removable is the volume ID of the mounted SD card.
	Removable storagepath.VolumeID = "1234-ABCD"
)

// Device is an emulated device.
type Device struct {
	Fs          afero.Fs
	Layout      storagepath.Layout
	Grants      grant.Store
	External    *document.LocalProvider
	Downloads   *document.LocalProvider
	Media       *mediaindex.Provider
	Permissions *platform.StaticPermissions
}

// New creates a device with the internal, primary and removable volumes
// and the usual top-level shared directories.
func New(t testing.TB) *Device {
	t.Helper()

	fs := afero.NewMemMapFs()
	layout := storagepath.DefaultLayout(Package)
	grants := grantmemory.NewGrantStore()
	auth := grant.NewAuthorizer(grants)

	d := &Device{
		Fs:          fs,
		Layout:      layout,
		Grants:      grants,
		External:    document.NewExternalStorageProvider(fs, layout, auth),
		Downloads:   document.NewDownloadsProvider(fs, layout, auth),
		Media:       mediaindex.NewProvider(mediamemory.NewMediaIndexStore(), fs, layout.PrimaryRoot, Package),
		Permissions: platform.NewStaticPermissions(false, false),
	}

	dirs := []string{
		layout.InternalRoot,
		layout.VolumeRoot(Removable),
	}
	for _, name := range []string{"Download", "DCIM", "Pictures", "Music", "Movies", "Documents"} {
		dirs = append(dirs, path.Join(layout.PrimaryRoot, name))
	}
	for _, dir := range dirs {
		require.NoError(t, fs.MkdirAll(dir, 0o755))
	}

	t.Cleanup(func() { _ = grants.Close() })
	return d
}

// Abs converts a compact path to its device path.
func (d *Device) Abs(t testing.TB, compact string) string {
	t.Helper()
	abs, err := d.Layout.ToAbsolute(compact)
	require.NoError(t, err)
	return abs
}

// Grant persists a read (and optionally write) grant on the external
// storage tree rooted at compact and returns its URI.
func (d *Device) Grant(t testing.TB, compact string, write bool) document.URI {
	t.Helper()
	loc, err := storagepath.ParseCompact(compact)
	require.NoError(t, err)
	return d.persist(t, document.TreeURI(document.ExternalStorageAuthority, loc.Compact()), write)
}

// GrantDownloads persists a read/write grant on the downloads tree.
func (d *Device) GrantDownloads(t testing.TB) document.URI {
	t.Helper()
	return d.persist(t, document.DownloadsTreeURI(), true)
}

func (d *Device) persist(t testing.TB, uri document.URI, write bool) document.URI {
	g, err := grant.New(uri, true, write, time.Now())
	require.NoError(t, err)
	require.NoError(t, d.Grants.Persist(context.Background(), g))
	return uri
}

// WriteFile creates a file, and its parents, at a compact path.
func (d *Device) WriteFile(t testing.TB, compact string, data []byte) string {
	t.Helper()
	abs := d.Abs(t, compact)
	require.NoError(t, d.Fs.MkdirAll(path.Dir(abs), 0o755))
	require.NoError(t, afero.WriteFile(d.Fs, abs, data, 0o644))
	return abs
}

// Mkdir creates a directory, and its parents, at a compact path.
func (d *Device) Mkdir(t testing.TB, compact string) string {
	t.Helper()
	abs := d.Abs(t, compact)
	require.NoError(t, d.Fs.MkdirAll(abs, 0o755))
	return abs
}

// ReadFile returns the content of the file at a compact path.
func (d *Device) ReadFile(t testing.TB, compact string) []byte {
	t.Helper()
	data, err := afero.ReadFile(d.Fs, d.Abs(t, compact))
	require.NoError(t, err)
	return data
}

// Exists reports whether an entry exists at a compact path.
func (d *Device) Exists(t testing.TB, compact string) bool {
	t.Helper()
	ok, err := afero.Exists(d.Fs, d.Abs(t, compact))
	require.NoError(t, err)
	return ok
}

// Names lists the entry names of the directory at a compact path.
func (d *Device) Names(t testing.TB, compact string) []string {
	t.Helper()
	entries, err := afero.ReadDir(d.Fs, d.Abs(t, compact))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
