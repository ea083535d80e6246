package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/pkg/mediaindex"
)

// MediaIndexStore implements mediaindex.Store using BadgerDB for persistence.
//
// Each row is stored once under its id and referenced from a per-category
// index key, so category queries scan only the rows of that category (see
// keys.go for the key schema). Ids come from a Badger sequence and are
// never reused, even after a restart.
//
// Thread Safety:
// Badger transactions are safe for concurrent use. The mutex only guards
// the sequence and the closed flag.
type MediaIndexStore struct {
	mu     sync.Mutex
	db     *badger.DB
	seq    *badger.Sequence
	closed bool
}

// MediaIndexStoreConfig contains configuration for a BadgerDB media index.
type MediaIndexStoreConfig struct {
	// DBPath is the directory where BadgerDB stores its files.
	DBPath string

	// InMemory keeps the database in memory only. DBPath is ignored.
	InMemory bool

	// BadgerOptions overrides every other option when set.
	BadgerOptions *badger.Options
}

// NewMediaIndexStore opens (or creates) a BadgerDB media index.
//
// Parameters:
//   - ctx: Context for cancellation
//   - config: Database location and options
//
// Returns:
//   - *MediaIndexStore: A store ready for use
//   - error: Error if the database cannot be opened
func NewMediaIndexStore(ctx context.Context, config MediaIndexStoreConfig) (*MediaIndexStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	switch {
	case config.BadgerOptions != nil:
		opts = *config.BadgerOptions
	case config.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	default:
		opts = badger.DefaultOptions(config.DBPath)
	}
	if config.BadgerOptions == nil {
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), 64)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	logger.Debug("Media index opened: path=%s in_memory=%t", config.DBPath, config.InMemory)

	return &MediaIndexStore{db: db, seq: seq}, nil
}

func (s *MediaIndexStore) nextID() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, mediaindex.ErrStoreClosed
	}
	n, err := s.seq.Next()
	if err != nil {
		return 0, err
	}
	// Sequences start at zero, ids start at one.
	return int64(n) + 1, nil
}

func (s *MediaIndexStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MediaIndexStore) Insert(ctx context.Context, rec mediaindex.Record) (mediaindex.Record, error) {
	if err := ctx.Err(); err != nil {
		return mediaindex.Record{}, err
	}
	if err := rec.Validate(); err != nil {
		return mediaindex.Record{}, err
	}

	id, err := s.nextID()
	if err != nil {
		return mediaindex.Record{}, err
	}
	rec.ID = id

	data, err := encodeRecord(rec)
	if err != nil {
		return mediaindex.Record{}, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyRecord(id), data); err != nil {
			return err
		}
		return txn.Set(keyCategory(rec.Category, id), nil)
	})
	if err != nil {
		return mediaindex.Record{}, fmt.Errorf("failed to insert media record: %w", err)
	}
	return rec, nil
}

func (s *MediaIndexStore) Get(ctx context.Context, id int64) (mediaindex.Record, error) {
	if err := ctx.Err(); err != nil {
		return mediaindex.Record{}, err
	}
	if s.isClosed() {
		return mediaindex.Record{}, mediaindex.ErrStoreClosed
	}

	var rec mediaindex.Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	return rec, err
}

func (s *MediaIndexStore) Update(ctx context.Context, rec mediaindex.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if s.isClosed() {
		return mediaindex.ErrStoreClosed
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		old, err := getRecord(txn, rec.ID)
		if err != nil {
			return err
		}
		if old.Category != rec.Category {
			if err := txn.Delete(keyCategory(old.Category, rec.ID)); err != nil {
				return err
			}
			if err := txn.Set(keyCategory(rec.Category, rec.ID), nil); err != nil {
				return err
			}
		}
		return txn.Set(keyRecord(rec.ID), data)
	})
}

func (s *MediaIndexStore) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return mediaindex.ErrStoreClosed
	}

	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(keyCategory(rec.Category, id)); err != nil {
			return err
		}
		return txn.Delete(keyRecord(id))
	})
}

func (s *MediaIndexStore) Query(ctx context.Context, category mediaindex.Category, f mediaindex.Filter) ([]mediaindex.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, mediaindex.ErrStoreClosed
	}

	var result []mediaindex.Record
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := keyCategoryPrefix(category)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, err := decodeID(it.Item().Key()[len(prefix):])
			if err != nil {
				return err
			}
			rec, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			if f.Matches(rec) {
				result = append(result, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close releases the id sequence and closes the database.
func (s *MediaIndexStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.seq.Release(); err != nil {
		logger.Warn("Failed to release media index sequence: %v", err)
	}
	return s.db.Close()
}

func getRecord(txn *badger.Txn, id int64) (mediaindex.Record, error) {
	item, err := txn.Get(keyRecord(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return mediaindex.Record{}, mediaindex.ErrRecordNotFound
	}
	if err != nil {
		return mediaindex.Record{}, err
	}

	var rec mediaindex.Record
	err = item.Value(func(val []byte) error {
		var decodeErr error
		rec, decodeErr = decodeRecord(val)
		return decodeErr
	})
	return rec, err
}
