package testing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/scopedfs/pkg/mediaindex"
)

// StoreTestSuite checks the mediaindex.Store contract. It tests the
// interface, not implementation details, so every backend runs the same
// cases.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func() mediaindex.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(test *testing.T) {
	test.Run("Insert", suite.RunInsertTests)
	test.Run("Update", suite.RunUpdateTests)
	test.Run("Delete", suite.RunDeleteTests)
	test.Run("Query", suite.RunQueryTests)
	test.Run("Close", suite.TestClose)
}

func (suite *StoreTestSuite) RunInsertTests(test *testing.T) {
	test.Run("AssignsIncreasingIDs", suite.TestInsert_AssignsIncreasingIDs)
	test.Run("RejectsInvalid", suite.TestInsert_RejectsInvalid)
	test.Run("GetMissing", suite.TestGet_Missing)
}

func (suite *StoreTestSuite) RunUpdateTests(test *testing.T) {
	test.Run("Success", suite.TestUpdate_Success)
	test.Run("Missing", suite.TestUpdate_Missing)
	test.Run("ChangesCategory", suite.TestUpdate_ChangesCategory)
}

func (suite *StoreTestSuite) RunDeleteTests(test *testing.T) {
	test.Run("Success", suite.TestDelete_Success)
	test.Run("Missing", suite.TestDelete_Missing)
}

func (suite *StoreTestSuite) RunQueryTests(test *testing.T) {
	test.Run("ByCategory", suite.TestQuery_ByCategory)
	test.Run("ByRelativePathAndName", suite.TestQuery_ByRelativePathAndName)
	test.Run("NamePrefix", suite.TestQuery_NamePrefix)
	test.Run("Pending", suite.TestQuery_Pending)
	test.Run("Cancelled", suite.TestQuery_Cancelled)
}

// NewRecord builds a valid row for tests.
func NewRecord(category mediaindex.Category, relativePath, name string) mediaindex.Record {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return mediaindex.Record{
		Category:     category,
		DisplayName:  name,
		MimeType:     "application/octet-stream",
		RelativePath: relativePath,
		DateAdded:    ts,
		DateModified: ts,
		OwnerPackage: "com.example.app",
	}
}

func (suite *StoreTestSuite) TestInsert_AssignsIncreasingIDs(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	first, err := store.Insert(ctx, NewRecord(mediaindex.CategoryDownloads, "Download/", "a.txt"))
	require.NoError(test, err)
	second, err := store.Insert(ctx, NewRecord(mediaindex.CategoryDownloads, "Download/", "a.txt"))
	require.NoError(test, err)

	assert.Greater(test, first.ID, int64(0))
	assert.Greater(test, second.ID, first.ID, "duplicate visible names get distinct ids")

	got, err := store.Get(ctx, first.ID)
	require.NoError(test, err)
	assert.Equal(test, "a.txt", got.DisplayName)
	assert.Equal(test, "Download/", got.RelativePath)
	assert.Equal(test, "com.example.app", got.OwnerPackage)
	assert.True(test, got.DateAdded.Equal(first.DateAdded))
}

func (suite *StoreTestSuite) TestInsert_RejectsInvalid(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()

	_, err := store.Insert(context.Background(), NewRecord(mediaindex.CategoryImages, "Pictures/", ""))
	assert.ErrorIs(test, err, mediaindex.ErrInvalidRecord)

	_, err = store.Insert(context.Background(), NewRecord("documents", "Documents/", "x"))
	assert.ErrorIs(test, err, mediaindex.ErrInvalidRecord)
}

func (suite *StoreTestSuite) TestGet_Missing(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()

	_, err := store.Get(context.Background(), 9999)
	assert.ErrorIs(test, err, mediaindex.ErrRecordNotFound)
}

func (suite *StoreTestSuite) TestUpdate_Success(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	rec, err := store.Insert(ctx, NewRecord(mediaindex.CategoryAudio, "Music/", "song.mp3"))
	require.NoError(test, err)

	rec.Size = 4096
	rec.DisplayName = "track.mp3"
	require.NoError(test, store.Update(ctx, rec))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(test, err)
	assert.Equal(test, int64(4096), got.Size)
	assert.Equal(test, "track.mp3", got.DisplayName)
}

func (suite *StoreTestSuite) TestUpdate_Missing(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()

	rec := NewRecord(mediaindex.CategoryAudio, "Music/", "song.mp3")
	rec.ID = 77
	assert.ErrorIs(test, store.Update(context.Background(), rec), mediaindex.ErrRecordNotFound)
}

func (suite *StoreTestSuite) TestUpdate_ChangesCategory(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	rec, err := store.Insert(ctx, NewRecord(mediaindex.CategoryImages, "DCIM/", "clip.mp4"))
	require.NoError(test, err)

	rec.Category = mediaindex.CategoryVideo
	require.NoError(test, store.Update(ctx, rec))

	images, err := store.Query(ctx, mediaindex.CategoryImages, mediaindex.Filter{})
	require.NoError(test, err)
	assert.Empty(test, images)

	videos, err := store.Query(ctx, mediaindex.CategoryVideo, mediaindex.Filter{})
	require.NoError(test, err)
	require.Len(test, videos, 1)
	assert.Equal(test, rec.ID, videos[0].ID)
}

func (suite *StoreTestSuite) TestDelete_Success(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	rec, err := store.Insert(ctx, NewRecord(mediaindex.CategoryVideo, "Movies/", "m.mp4"))
	require.NoError(test, err)
	require.NoError(test, store.Delete(ctx, rec.ID))

	_, err = store.Get(ctx, rec.ID)
	assert.ErrorIs(test, err, mediaindex.ErrRecordNotFound)

	rows, err := store.Query(ctx, mediaindex.CategoryVideo, mediaindex.Filter{})
	require.NoError(test, err)
	assert.Empty(test, rows)
}

func (suite *StoreTestSuite) TestDelete_Missing(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()

	assert.ErrorIs(test, store.Delete(context.Background(), 12345), mediaindex.ErrRecordNotFound)
}

func (suite *StoreTestSuite) TestQuery_ByCategory(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		_, err := store.Insert(ctx, NewRecord(mediaindex.CategoryImages, "Pictures/", name))
		require.NoError(test, err)
	}
	_, err := store.Insert(ctx, NewRecord(mediaindex.CategoryAudio, "Music/", "a.mp3"))
	require.NoError(test, err)

	rows, err := store.Query(ctx, mediaindex.CategoryImages, mediaindex.Filter{})
	require.NoError(test, err)
	require.Len(test, rows, 3)
	assert.Equal(test, "a.jpg", rows[0].DisplayName)
	assert.Equal(test, "c.jpg", rows[2].DisplayName)
	assert.Less(test, rows[0].ID, rows[1].ID)
}

func (suite *StoreTestSuite) TestQuery_ByRelativePathAndName(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.Insert(ctx, NewRecord(mediaindex.CategoryDownloads, "Download/app/", "db.json"))
	require.NoError(test, err)
	_, err = store.Insert(ctx, NewRecord(mediaindex.CategoryDownloads, "Download/", "db.json"))
	require.NoError(test, err)

	rows, err := store.Query(ctx, mediaindex.CategoryDownloads, mediaindex.Filter{
		RelativePath: "Download/app/",
		DisplayName:  "db.json",
	})
	require.NoError(test, err)
	require.Len(test, rows, 1)
	assert.Equal(test, "Download/app/", rows[0].RelativePath)

	rows, err = store.Query(ctx, mediaindex.CategoryDownloads, mediaindex.Filter{RelativePath: "Download/app"})
	require.NoError(test, err)
	assert.Empty(test, rows, "relative path match is exact")
}

func (suite *StoreTestSuite) TestQuery_NamePrefix(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	for _, name := range []string{"a.txt", "a (1).txt", "b.txt"} {
		_, err := store.Insert(ctx, NewRecord(mediaindex.CategoryDownloads, "Download/", name))
		require.NoError(test, err)
	}

	rows, err := store.Query(ctx, mediaindex.CategoryDownloads, mediaindex.Filter{NamePrefix: "a"})
	require.NoError(test, err)
	assert.Len(test, rows, 2)
}

func (suite *StoreTestSuite) TestQuery_Pending(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()
	ctx := context.Background()

	rec := NewRecord(mediaindex.CategoryDownloads, "Download/", "partial.bin")
	rec.Pending = true
	_, err := store.Insert(ctx, rec)
	require.NoError(test, err)

	rows, err := store.Query(ctx, mediaindex.CategoryDownloads, mediaindex.Filter{})
	require.NoError(test, err)
	assert.Empty(test, rows)

	rows, err = store.Query(ctx, mediaindex.CategoryDownloads, mediaindex.Filter{IncludePending: true})
	require.NoError(test, err)
	assert.Len(test, rows, 1)
}

func (suite *StoreTestSuite) TestQuery_Cancelled(test *testing.T) {
	store := suite.NewStore()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Query(ctx, mediaindex.CategoryDownloads, mediaindex.Filter{})
	assert.ErrorIs(test, err, context.Canceled)
}

func (suite *StoreTestSuite) TestClose(test *testing.T) {
	store := suite.NewStore()
	require.NoError(test, store.Close())

	_, err := store.Insert(context.Background(), NewRecord(mediaindex.CategoryDownloads, "Download/", "x"))
	assert.ErrorIs(test, err, mediaindex.ErrStoreClosed)
}
