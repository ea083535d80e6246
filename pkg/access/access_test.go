package access

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/scopedfs/internal/testenv"
	"github.com/marmos91/scopedfs/pkg/document"
	"github.com/marmos91/scopedfs/pkg/file"
	"github.com/marmos91/scopedfs/pkg/grant"
	grantmemory "github.com/marmos91/scopedfs/pkg/grant/memory"
	"github.com/marmos91/scopedfs/pkg/platform"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

func newResolver(dev *testenv.Device, sdk int) *Resolver {
	oracle := NewOracle(platform.CapabilitiesFor(sdk, false), dev.Permissions, dev.Grants, testenv.Package)
	return NewResolver(oracle, Backends{
		Fs:        dev.Fs,
		Layout:    dev.Layout,
		External:  dev.External,
		Downloads: dev.Downloads,
	})
}

func primary(base string) storagepath.Path {
	return storagepath.New(storagepath.VolumePrimary, base)
}

func TestOracleScopedStorage(t *testing.T) {
	ctx := context.Background()
	dev := testenv.New(t)
	o := newResolver(dev, 30).Oracle()

	assert.True(t, o.IsAccessGranted(ctx, storagepath.VolumeData, true))
	assert.False(t, o.IsAccessGranted(ctx, storagepath.VolumePrimary, false))
	assert.False(t, o.IsAccessible(ctx, primary("Download"), false))
	assert.True(t, o.IsAccessible(ctx, primary("Android/data/"+testenv.Package+"/cache"), true))
	assert.False(t, o.IsAccessible(ctx, primary("Android/data/com.other"), false))

	dev.Permissions.SetLegacy(true)
	assert.False(t, o.HasFullDiskAccess(storagepath.VolumePrimary))

	dev.Grant(t, "primary:Download", false)
	assert.True(t, o.IsAccessGranted(ctx, storagepath.VolumePrimary, false))
	assert.False(t, o.IsAccessGranted(ctx, storagepath.VolumePrimary, true))
	assert.True(t, o.IsAccessible(ctx, primary("Download/a"), false))
	assert.False(t, o.IsAccessible(ctx, primary("Music"), false))

	dev.Permissions.SetManageAllFiles(true)
	assert.True(t, o.HasFullDiskAccess(testenv.Removable))
	assert.True(t, o.IsAccessible(ctx, primary("Music"), true))
}

func TestOracleLegacy(t *testing.T) {
	dev := testenv.New(t)
	dev.Permissions.SetLegacy(true)

	legacy := newResolver(dev, 28).Oracle()
	assert.True(t, legacy.HasFullDiskAccess(storagepath.VolumePrimary))
	assert.False(t, legacy.HasFullDiskAccess(testenv.Removable))

	dev.Permissions.SetManageAllFiles(true)
	assert.False(t, legacy.HasFullDiskAccess(testenv.Removable), "manage all files needs platform support")

	optOut := NewOracle(platform.CapabilitiesFor(29, true), dev.Permissions, dev.Grants, testenv.Package)
	assert.True(t, optOut.HasFullDiskAccess(storagepath.VolumePrimary))
}

func TestOracleLegacyPrimaryWithoutPermission(t *testing.T) {
	ctx := context.Background()
	dev := testenv.New(t)
	o := newResolver(dev, 28).Oracle()

	assert.False(t, o.HasFullDiskAccess(storagepath.VolumePrimary))
	assert.True(t, o.IsAccessGranted(ctx, storagepath.VolumePrimary, false))
	assert.True(t, o.IsAccessGranted(ctx, storagepath.VolumePrimary, true))
	assert.False(t, o.IsAccessGranted(ctx, testenv.Removable, false))
}

func TestAccessibleRootPreferDirectPath(t *testing.T) {
	ctx := context.Background()
	dev := testenv.New(t)
	dev.Grant(t, "primary:Documents", true)

	oracle := NewOracle(platform.CapabilitiesFor(30, false), dev.Permissions, dev.Grants, testenv.Package,
		WithPreferDirectPath(true))
	require.True(t, oracle.PrefersDirectPath())
	r := NewResolver(oracle, Backends{
		Fs:        dev.Fs,
		Layout:    dev.Layout,
		External:  dev.External,
		Downloads: dev.Downloads,
	})

	root, err := r.AccessibleRoot(ctx, storagepath.VolumePrimary, "Documents/x.txt", true)
	require.NoError(t, err)
	assert.True(t, root.IsDirect())
	assert.Equal(t, primary(""), root.Location)

	require.NoError(t, dev.Fs.Chmod(dev.Layout.PrimaryRoot, 0o555))
	root, err = r.AccessibleRoot(ctx, storagepath.VolumePrimary, "Documents/x.txt", true)
	require.NoError(t, err)
	require.NotNil(t, root.Grant, "unwritable direct root falls back to the grant")
	assert.Equal(t, primary("Documents"), root.Location)

	_, err = r.AccessibleRoot(ctx, storagepath.VolumePrimary, "Music", true)
	assert.ErrorIs(t, err, file.ErrAccessDenied)

	root, err = newResolver(dev, 30).AccessibleRoot(ctx, storagepath.VolumePrimary, "Documents/x.txt", false)
	require.NoError(t, err)
	assert.False(t, root.IsDirect())
}

func TestAccessibleRootDirect(t *testing.T) {
	ctx := context.Background()
	dev := testenv.New(t)
	r := newResolver(dev, 30)

	root, err := r.AccessibleRoot(ctx, storagepath.VolumeData, "files/db", true)
	require.NoError(t, err)
	assert.True(t, root.IsDirect())
	abs, ok := file.AbsolutePath(root.File)
	require.True(t, ok)
	assert.Equal(t, dev.Layout.InternalRoot, abs)
}

func TestAccessibleRootPrefersMostSpecificGrant(t *testing.T) {
	ctx := context.Background()
	dev := testenv.New(t)
	r := newResolver(dev, 30)

	dev.Grant(t, "primary:", true)
	dev.Grant(t, "primary:Documents", true)
	dev.Grant(t, "primary:Documents/app/deep", true)

	root, err := r.AccessibleRoot(ctx, storagepath.VolumePrimary, "Documents/app/x.txt", true)
	require.NoError(t, err)
	require.NotNil(t, root.Grant)
	assert.Equal(t, primary("Documents"), root.Location)

	root, err = r.AccessibleRoot(ctx, storagepath.VolumePrimary, "Music", true)
	require.NoError(t, err)
	assert.Equal(t, primary(""), root.Location)
}

func TestAccessibleRootDownloadsFirst(t *testing.T) {
	ctx := context.Background()
	dev := testenv.New(t)
	r := newResolver(dev, 30)

	dev.Grant(t, "primary:Download/app", true)
	dev.GrantDownloads(t)

	root, err := r.AccessibleRoot(ctx, storagepath.VolumePrimary, "Download/app/a.txt", true)
	require.NoError(t, err)
	tree, ok := root.File.(*file.Tree)
	require.True(t, ok)
	assert.True(t, tree.TreeURI().IsDownloads())

	dev.WriteFile(t, "primary:Download/app/a.txt", []byte("x"))
	f, err := r.Find(ctx, storagepath.VolumePrimary, "Download/app/a.txt", true)
	require.NoError(t, err)
	assert.Equal(t, "raw:/storage/emulated/0/Download/app/a.txt", f.(*file.Tree).DocumentID())
}

func TestAccessibleRootDenied(t *testing.T) {
	ctx := context.Background()
	dev := testenv.New(t)
	r := newResolver(dev, 30)
	dev.Grant(t, "primary:Download", false)

	_, err := r.AccessibleRoot(ctx, storagepath.VolumePrimary, "Download/a", true)
	require.ErrorIs(t, err, file.ErrAccessDenied)

	var fe *file.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, &file.Recovery{Volume: storagepath.VolumePrimary, BasePath: "Download/a"}, fe.Recovery)

	_, err = r.AccessibleRoot(ctx, "bogus", "x", false)
	assert.ErrorIs(t, err, file.ErrInvalidPath)
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	dev := testenv.New(t)
	r := newResolver(dev, 30)
	dev.Grant(t, "primary:Documents", true)
	dev.WriteFile(t, "primary:Documents/app/db.json", []byte("{}"))

	f, err := r.FindPath(ctx, "/storage/emulated/0/Documents/app/db.json", false)
	require.NoError(t, err)
	assert.Equal(t, file.KindTree, f.Kind())
	assert.Equal(t, "db.json", f.Name())

	_, err = r.FindPath(ctx, "primary:Documents/app/missing", false)
	assert.ErrorIs(t, err, file.ErrNotFound)

	_, err = r.FindPath(ctx, "/nowhere/x", false)
	assert.ErrorIs(t, err, file.ErrInvalidPath)

	dev.Permissions.SetManageAllFiles(true)
	f, err = r.FindPath(ctx, "primary:Documents/app/db.json", true)
	require.NoError(t, err)
	assert.Equal(t, file.KindRaw, f.Kind())
}

type recordingGrantMetrics struct {
	outcomes []string
}

func (m *recordingGrantMetrics) RecordSweep(int, int, time.Duration) {}
func (m *recordingGrantMetrics) SetGrantCount(int)                   {}
func (m *recordingGrantMetrics) RecordAccessRequest(outcome string) {
	m.outcomes = append(m.outcomes, outcome)
}

func pickerReturning(uri string, err error) platform.Picker {
	return platform.PickerFunc(func(context.Context, storagepath.Path) (string, error) {
		return uri, err
	})
}

func TestRequestAccess(t *testing.T) {
	ctx := context.Background()
	store := grantmemory.NewGrantStore()
	m := &recordingGrantMetrics{}

	tree := document.TreeURI(document.ExternalStorageAuthority, "primary:Documents").String()
	n := NewNegotiator(pickerReturning(tree, nil), store, m)

	g, err := n.RequestAccess(ctx, storagepath.VolumePrimary, "Documents")
	require.NoError(t, err)
	assert.Equal(t, "Documents", g.BasePath)
	assert.True(t, g.Write)

	held, err := store.Get(ctx, tree)
	require.NoError(t, err)
	assert.Equal(t, g.URI, held.URI)

	_, err = n.RequestAccess(ctx, testenv.Removable, "Documents")
	assert.ErrorIs(t, err, file.ErrAccessDenied)
	assert.ErrorIs(t, err, ErrWrongVolume)

	canceled := NewNegotiator(pickerReturning("", platform.ErrPickerCanceled), store, m)
	_, err = canceled.RequestAccess(ctx, storagepath.VolumePrimary, "")
	assert.ErrorIs(t, err, file.ErrCanceled)

	garbage := NewNegotiator(pickerReturning("file:///x", nil), store, m)
	_, err = garbage.RequestAccess(ctx, storagepath.VolumePrimary, "")
	assert.ErrorIs(t, err, file.ErrInvalidPath)

	assert.Equal(t, []string{"granted", "wrong_volume", "canceled", "error"}, m.outcomes)
}

func TestRequestAccessReleasesRedundantGrantsWhenFull(t *testing.T) {
	ctx := context.Background()
	store := grantmemory.NewGrantStoreWithLimit(3)
	for _, id := range []string{"primary:A", "primary:A/B", "primary:A/C"} {
		g, err := grant.New(document.TreeURI(document.ExternalStorageAuthority, id), true, true, time.Now())
		require.NoError(t, err)
		require.NoError(t, store.Persist(ctx, g))
	}

	tree := document.TreeURI(document.ExternalStorageAuthority, "primary:Z").String()
	n := NewNegotiator(pickerReturning(tree, nil), store, nil)
	_, err := n.RequestAccess(ctx, storagepath.VolumePrimary, "Z")
	require.NoError(t, err)

	held, err := store.List(ctx)
	require.NoError(t, err)
	uris := make([]string, 0, len(held))
	for _, g := range held {
		uris = append(uris, g.URI)
	}
	assert.ElementsMatch(t, []string{
		fmt.Sprint(document.TreeURI(document.ExternalStorageAuthority, "primary:A")),
		tree,
	}, uris)
}
