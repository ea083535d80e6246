package testing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/scopedfs/pkg/document"
	"github.com/marmos91/scopedfs/pkg/grant"
)

// StoreTestSuite checks the grant.Store contract against any backend.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func() grant.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(test *testing.T) {
	test.Run("Persist", suite.RunPersistTests)
	test.Run("Release", suite.RunReleaseTests)
	test.Run("List", suite.TestList_OrderedByURI)
	test.Run("Limit", suite.TestPersist_Limit)
	test.Run("Authorizer", suite.TestAuthorizer)
}

func (suite *StoreTestSuite) RunPersistTests(test *testing.T) {
	test.Run("Success", suite.TestPersist_Success)
	test.Run("ReplacesFlags", suite.TestPersist_ReplacesFlags)
	test.Run("GetMissing", suite.TestGet_Missing)
}

func (suite *StoreTestSuite) RunReleaseTests(test *testing.T) {
	test.Run("Success", suite.TestRelease_Success)
	test.Run("Missing", suite.TestRelease_Missing)
}

// NewGrant builds a read/write external-storage grant for compact tree ID
// treeID (e.g. "primary:Download").
func NewGrant(test *testing.T, treeID string) grant.Grant {
	test.Helper()
	g, err := grant.New(
		document.TreeURI(document.ExternalStorageAuthority, treeID),
		true, true,
		time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	)
	require.NoError(test, err)
	return g
}

func (suite *StoreTestSuite) TestPersist_Success(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	g := NewGrant(test, "primary:Download/app")
	require.NoError(test, store.Persist(ctx, g))

	got, err := store.Get(ctx, g.URI)
	require.NoError(test, err)
	assert.Equal(test, g.URI, got.URI)
	assert.Equal(test, g.VolumeID, got.VolumeID)
	assert.Equal(test, "Download/app", got.BasePath)
	assert.True(test, got.Read)
	assert.True(test, got.Write)
	assert.True(test, got.PersistedAt.Equal(g.PersistedAt))
}

func (suite *StoreTestSuite) TestPersist_ReplacesFlags(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	g := NewGrant(test, "primary:Music")
	require.NoError(test, store.Persist(ctx, g))

	g.Write = false
	require.NoError(test, store.Persist(ctx, g))

	got, err := store.Get(ctx, g.URI)
	require.NoError(test, err)
	assert.False(test, got.Write)

	all, err := store.List(ctx)
	require.NoError(test, err)
	assert.Len(test, all, 1)
}

func (suite *StoreTestSuite) TestGet_Missing(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()

	_, err := store.Get(context.Background(), "content://nope/tree/x")
	assert.ErrorIs(test, err, grant.ErrGrantNotFound)
}

func (suite *StoreTestSuite) TestRelease_Success(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	g := NewGrant(test, "9016-4EF8:")
	require.NoError(test, store.Persist(ctx, g))
	require.NoError(test, store.Release(ctx, g.URI))

	_, err := store.Get(ctx, g.URI)
	assert.ErrorIs(test, err, grant.ErrGrantNotFound)
}

func (suite *StoreTestSuite) TestRelease_Missing(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()

	err := store.Release(context.Background(), "content://nope/tree/x")
	assert.ErrorIs(test, err, grant.ErrGrantNotFound)
}

func (suite *StoreTestSuite) TestList_OrderedByURI(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	for _, id := range []string{"primary:Music", "primary:DCIM", "9016-4EF8:Download"} {
		require.NoError(test, store.Persist(ctx, NewGrant(test, id)))
	}

	all, err := store.List(ctx)
	require.NoError(test, err)
	require.Len(test, all, 3)
	for i := 1; i < len(all); i++ {
		assert.Less(test, all[i-1].URI, all[i].URI)
	}
}

func (suite *StoreTestSuite) TestPersist_Limit(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < grant.MaxGrants; i++ {
		require.NoError(test, store.Persist(ctx, NewGrant(test, fmt.Sprintf("primary:Dir%03d", i))))
	}

	err := store.Persist(ctx, NewGrant(test, "primary:Overflow"))
	assert.ErrorIs(test, err, grant.ErrGrantLimit)

	// Re-persisting an existing grant is not a new entry.
	assert.NoError(test, store.Persist(ctx, NewGrant(test, "primary:Dir000")))
}

func (suite *StoreTestSuite) TestAuthorizer(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	g := NewGrant(test, "primary:Download")
	g.Write = false
	require.NoError(test, store.Persist(ctx, g))

	auth := grant.NewAuthorizer(store)
	tree, err := g.TreeURI()
	require.NoError(test, err)

	ok, err := auth.IsTreeGranted(ctx, tree.Document("primary:Download/a.txt"), false)
	require.NoError(test, err)
	assert.True(test, ok)

	ok, err = auth.IsTreeGranted(ctx, tree, true)
	require.NoError(test, err)
	assert.False(test, ok, "read-only grant must not authorize writes")

	ok, err = auth.IsTreeGranted(ctx, document.TreeURI(document.ExternalStorageAuthority, "primary:Music"), false)
	require.NoError(test, err)
	assert.False(test, ok)
}
