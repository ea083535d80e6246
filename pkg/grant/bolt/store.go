// Package bolt persists the grant table in a BoltDB file.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/pkg/grant"
)

// grantsBucket holds one key per grant: the tree URI, mapped to the JSON
// encoded grant.
var grantsBucket = []byte("grants")

// GrantStore implements grant.Store on top of a BoltDB file.
//
// Bolt serializes writers itself, so the limit check and the insert run in
// the same read-write transaction and cannot race.
type GrantStore struct {
	db    *bolt.DB
	limit int
}

// GrantStoreConfig contains configuration for a BoltDB grant store.
type GrantStoreConfig struct {
	// Path is the database file. Parent directories are created.
	Path string

	// Limit overrides grant.MaxGrants when positive.
	Limit int

	// Timeout bounds how long Open waits for the file lock (default: 1s).
	Timeout time.Duration
}

// NewGrantStore opens (or creates) the grant database.
func NewGrantStore(ctx context.Context, config GrantStoreConfig) (*GrantStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.Path == "" {
		return nil, fmt.Errorf("grant database path is required")
	}
	if config.Limit <= 0 {
		config.Limit = grant.MaxGrants
	}
	if config.Timeout == 0 {
		config.Timeout = time.Second
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create grant database directory: %w", err)
	}

	db, err := bolt.Open(config.Path, 0o600, &bolt.Options{Timeout: config.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open grant database at %s: %w", config.Path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(grantsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize grant bucket: %w", err)
	}

	logger.Debug("Grant store opened: path=%s limit=%d", config.Path, config.Limit)
	return &GrantStore{db: db, limit: config.Limit}, nil
}

func (s *GrantStore) Persist(ctx context.Context, g grant.Grant) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to encode grant: %w", err)
	}

	return s.update(func(b *bolt.Bucket) error {
		key := []byte(g.URI)
		if b.Get(key) == nil && countKeys(b) >= s.limit {
			return grant.ErrGrantLimit
		}
		return b.Put(key, data)
	})
}

func (s *GrantStore) Get(ctx context.Context, uri string) (grant.Grant, error) {
	if err := ctx.Err(); err != nil {
		return grant.Grant{}, err
	}

	var g grant.Grant
	err := s.view(func(b *bolt.Bucket) error {
		data := b.Get([]byte(uri))
		if data == nil {
			return grant.ErrGrantNotFound
		}
		return decode(data, &g)
	})
	return g, err
}

func (s *GrantStore) List(ctx context.Context) ([]grant.Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []grant.Grant
	err := s.view(func(b *bolt.Bucket) error {
		// Keys are iterated in byte order, which is URI order.
		return b.ForEach(func(_, v []byte) error {
			var g grant.Grant
			if err := decode(v, &g); err != nil {
				return err
			}
			result = append(result, g)
			return nil
		})
	})
	return result, err
}

func (s *GrantStore) Release(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.update(func(b *bolt.Bucket) error {
		key := []byte(uri)
		if b.Get(key) == nil {
			return grant.ErrGrantNotFound
		}
		return b.Delete(key)
	})
}

func (s *GrantStore) Close() error {
	return s.db.Close()
}

func (s *GrantStore) update(fn func(b *bolt.Bucket) error) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(grantsBucket))
	})
	if err == bolt.ErrDatabaseNotOpen {
		return grant.ErrStoreClosed
	}
	return err
}

func (s *GrantStore) view(fn func(b *bolt.Bucket) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(grantsBucket))
	})
	if err == bolt.ErrDatabaseNotOpen {
		return grant.ErrStoreClosed
	}
	return err
}

func decode(data []byte, g *grant.Grant) error {
	if err := json.Unmarshal(data, g); err != nil {
		return fmt.Errorf("failed to decode grant: %w", err)
	}
	return nil
}

func countKeys(b *bolt.Bucket) int {
	n := 0
	_ = b.ForEach(func(_, _ []byte) error {
		n++
		return nil
	})
	return n
}
