package grant_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/scopedfs/pkg/document"
	"github.com/marmos91/scopedfs/pkg/grant"
	"github.com/marmos91/scopedfs/pkg/grant/memory"
	granttesting "github.com/marmos91/scopedfs/pkg/grant/testing"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

func TestNewGrant(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	g, err := grant.New(document.TreeURI(document.ExternalStorageAuthority, "1234-ABCD:DCIM/Camera").Document("x"), true, false, at)
	require.NoError(t, err)
	assert.Equal(t, storagepath.VolumeID("1234-ABCD"), g.VolumeID)
	assert.Equal(t, "DCIM/Camera", g.BasePath)
	assert.Equal(t, "content://com.android.externalstorage.documents/tree/1234-ABCD%3ADCIM%2FCamera", g.URI)
	assert.True(t, g.Allows(false))
	assert.False(t, g.Allows(true))

	d, err := grant.New(document.DownloadsTreeURI(), true, true, at)
	require.NoError(t, err)
	assert.True(t, d.IsDownloads())
	assert.Equal(t, storagepath.New(storagepath.VolumePrimary, "Download"), d.Location())

	_, err = grant.New(document.TreeURI("com.example.other", "x"), true, true, at)
	assert.ErrorIs(t, err, document.ErrInvalidURI)
	_, err = grant.New(document.TreeURI(document.DownloadsAuthority, "msd:1"), true, true, at)
	assert.ErrorIs(t, err, document.ErrInvalidURI)
}

func TestGrantCovers(t *testing.T) {
	g := granttesting.NewGrant(t, "primary:Download")

	assert.True(t, g.Covers(storagepath.New(storagepath.VolumePrimary, "Download/a/b"), true))
	assert.True(t, g.Covers(storagepath.New(storagepath.VolumePrimary, "Download"), true))
	assert.False(t, g.Covers(storagepath.New(storagepath.VolumePrimary, "Downloads"), false))
	assert.False(t, g.Covers(storagepath.New(storagepath.VolumeData, "Download"), false))
}

func TestFindRedundant(t *testing.T) {
	parent := granttesting.NewGrant(t, "primary:A")
	child := granttesting.NewGrant(t, "primary:A/B")
	grandChild := granttesting.NewGrant(t, "primary:A/B/C")
	sibling := granttesting.NewGrant(t, "primary:AB")
	otherVolume := granttesting.NewGrant(t, "1234-ABCD:A/B")

	readOnly := granttesting.NewGrant(t, "primary:A/R")
	readOnly.Write = false

	downloads, err := grant.New(document.DownloadsTreeURI(), true, true, time.Now())
	require.NoError(t, err)
	downloadsChild := granttesting.NewGrant(t, "primary:Download/x")

	redundant := grant.FindRedundant([]grant.Grant{
		parent, child, grandChild, sibling, otherVolume, readOnly, downloads, downloadsChild,
	})

	uris := make([]string, 0, len(redundant))
	for _, g := range redundant {
		uris = append(uris, g.URI)
	}
	assert.ElementsMatch(t, []string{child.URI, grandChild.URI}, uris)
}

func TestFindRedundantEmpty(t *testing.T) {
	assert.Empty(t, grant.FindRedundant(nil))
	assert.Empty(t, grant.FindRedundant([]grant.Grant{granttesting.NewGrant(t, "primary:A")}))
}

type countingMetrics struct {
	sweeps   int
	released int
	count    int
}

func (m *countingMetrics) RecordSweep(released, _ int, _ time.Duration) {
	m.sweeps++
	m.released += released
}
func (m *countingMetrics) SetGrantCount(n int)        { m.count = n }
func (m *countingMetrics) RecordAccessRequest(string) {}

func seed(t *testing.T, store grant.Store, treeIDs ...string) {
	t.Helper()
	for _, id := range treeIDs {
		require.NoError(t, store.Persist(context.Background(), granttesting.NewGrant(t, id)))
	}
}

func TestSweeperRunNow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewGrantStore()
	seed(t, store, "primary:A", "primary:A/B", "primary:A/B/C", "primary:Z")

	m := &countingMetrics{}
	sweeper := grant.NewSweeper(store, grant.SweepConfig{}, m)

	stats, err := sweeper.RunNow(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.GrantCount)
	assert.EqualValues(t, 2, stats.RedundantCount)
	assert.EqualValues(t, 2, stats.ReleasedCount)
	assert.Contains(t, stats.Summary(), "released=2")

	left, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, left, 2)
	assert.Equal(t, 1, m.sweeps)
	assert.Equal(t, 2, m.released)
	assert.Equal(t, 2, m.count)

	stats, err = sweeper.RunNow(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.RedundantCount)
}

func TestSweeperDryRun(t *testing.T) {
	ctx := context.Background()
	store := memory.NewGrantStore()
	seed(t, store, "primary:A", "primary:A/B")

	sweeper := grant.NewSweeper(store, grant.SweepConfig{DryRun: true}, nil)
	stats, err := sweeper.RunNow(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.RedundantCount)
	assert.EqualValues(t, 0, stats.ReleasedCount)

	left, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestSweeperStartStop(t *testing.T) {
	store := memory.NewGrantStore()
	seed(t, store, "primary:A", "primary:A/B")

	sweeper := grant.NewSweeper(store, grant.SweepConfig{Enabled: true, Interval: 10 * time.Millisecond}, nil)
	sweeper.Start()
	sweeper.Start()

	require.Eventually(t, func() bool {
		left, err := store.List(context.Background())
		return err == nil && len(left) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sweeper.Stop(ctx))
	require.NoError(t, sweeper.Stop(ctx))
}

func TestSweeperDisabledStopIsNoop(t *testing.T) {
	sweeper := grant.NewSweeper(memory.NewGrantStore(), grant.SweepConfig{}, nil)
	sweeper.Start()
	require.NoError(t, sweeper.Stop(context.Background()))
}
