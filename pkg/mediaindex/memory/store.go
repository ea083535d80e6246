package memory

import (
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/marmos91/scopedfs/pkg/mediaindex"
)

// recordItem orders rows by id inside the B-tree.
type recordItem struct {
	rec mediaindex.Record
}

func (a recordItem) Less(than btree.Item) bool {
	return a.rec.ID < than.(recordItem).rec.ID
}

// MediaIndexStore is an in-memory mediaindex.Store.
//
// Rows live in a B-tree keyed by id so queries return them in insertion
// order without sorting. Contents are lost when the process exits.
//
// Thread Safety:
// All operations are protected by a single read-write mutex.
type MediaIndexStore struct {
	mu     sync.RWMutex
	tree   *btree.BTree
	nextID int64
	closed bool
}

// NewMediaIndexStore creates an empty store.
func NewMediaIndexStore() *MediaIndexStore {
	return &MediaIndexStore{
		tree:   btree.New(32),
		nextID: 1,
	}
}

func (s *MediaIndexStore) Insert(ctx context.Context, rec mediaindex.Record) (mediaindex.Record, error) {
	if err := ctx.Err(); err != nil {
		return mediaindex.Record{}, err
	}
	if err := rec.Validate(); err != nil {
		return mediaindex.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mediaindex.Record{}, mediaindex.ErrStoreClosed
	}

	rec.ID = s.nextID
	s.nextID++
	s.tree.ReplaceOrInsert(recordItem{rec: rec})
	return rec, nil
}

func (s *MediaIndexStore) Get(ctx context.Context, id int64) (mediaindex.Record, error) {
	if err := ctx.Err(); err != nil {
		return mediaindex.Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return mediaindex.Record{}, mediaindex.ErrStoreClosed
	}

	item := s.tree.Get(recordItem{rec: mediaindex.Record{ID: id}})
	if item == nil {
		return mediaindex.Record{}, mediaindex.ErrRecordNotFound
	}
	return item.(recordItem).rec, nil
}

func (s *MediaIndexStore) Update(ctx context.Context, rec mediaindex.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mediaindex.ErrStoreClosed
	}
	if s.tree.Get(recordItem{rec: rec}) == nil {
		return mediaindex.ErrRecordNotFound
	}
	s.tree.ReplaceOrInsert(recordItem{rec: rec})
	return nil
}

func (s *MediaIndexStore) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mediaindex.ErrStoreClosed
	}
	if s.tree.Delete(recordItem{rec: mediaindex.Record{ID: id}}) == nil {
		return mediaindex.ErrRecordNotFound
	}
	return nil
}

func (s *MediaIndexStore) Query(ctx context.Context, category mediaindex.Category, f mediaindex.Filter) ([]mediaindex.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mediaindex.ErrStoreClosed
	}

	var result []mediaindex.Record
	s.tree.Ascend(func(i btree.Item) bool {
		rec := i.(recordItem).rec
		if rec.Category == category && f.Matches(rec) {
			result = append(result, rec)
		}
		return true
	})
	return result, nil
}

func (s *MediaIndexStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
