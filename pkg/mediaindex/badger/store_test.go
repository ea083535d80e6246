package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/scopedfs/pkg/mediaindex"
	mediatesting "github.com/marmos91/scopedfs/pkg/mediaindex/testing"
)

func TestBadgerMediaIndexStore(t *testing.T) {
	suite := &mediatesting.StoreTestSuite{
		NewStore: func() mediaindex.Store {
			store, err := NewMediaIndexStore(context.Background(), MediaIndexStoreConfig{InMemory: true})
			require.NoError(t, err)
			return store
		},
	}
	suite.Run(t)
}

func TestBadgerMediaIndexStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewMediaIndexStore(ctx, MediaIndexStoreConfig{DBPath: dir})
	require.NoError(t, err)

	first, err := store.Insert(ctx, mediatesting.NewRecord(mediaindex.CategoryImages, "Pictures/", "a.jpg"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewMediaIndexStore(ctx, MediaIndexStoreConfig{DBPath: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", got.DisplayName)

	second, err := reopened.Insert(ctx, mediatesting.NewRecord(mediaindex.CategoryImages, "Pictures/", "b.jpg"))
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID, "ids are never reused across restarts")
}

func TestKeyOrdering(t *testing.T) {
	assert.Less(t, string(keyRecord(2)), string(keyRecord(256)))

	id, err := decodeID(encodeID(1 << 40))
	require.NoError(t, err)
	assert.Equal(t, int64(1<<40), id)

	_, err = decodeID([]byte{1, 2})
	assert.Error(t, err)
}
