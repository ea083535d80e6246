package memory

import (
	"context"
	"sync"

	"github.com/marmos91/scopedfs/pkg/grant"
)

// GrantStore is an in-memory grant.Store.
//
// Thread Safety:
// All operations are protected by a single read-write mutex.
type GrantStore struct {
	mu     sync.RWMutex
	grants map[string]grant.Grant
	limit  int
	closed bool
}

// NewGrantStore creates an empty store holding at most grant.MaxGrants
// entries.
func NewGrantStore() *GrantStore {
	return NewGrantStoreWithLimit(grant.MaxGrants)
}

// NewGrantStoreWithLimit creates an empty store with a custom limit.
func NewGrantStoreWithLimit(limit int) *GrantStore {
	if limit <= 0 {
		limit = grant.MaxGrants
	}
	return &GrantStore{grants: make(map[string]grant.Grant), limit: limit}
}

func (s *GrantStore) Persist(ctx context.Context, g grant.Grant) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return grant.ErrStoreClosed
	}
	if _, exists := s.grants[g.URI]; !exists && len(s.grants) >= s.limit {
		return grant.ErrGrantLimit
	}
	s.grants[g.URI] = g
	return nil
}

func (s *GrantStore) Get(ctx context.Context, uri string) (grant.Grant, error) {
	if err := ctx.Err(); err != nil {
		return grant.Grant{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return grant.Grant{}, grant.ErrStoreClosed
	}
	g, ok := s.grants[uri]
	if !ok {
		return grant.Grant{}, grant.ErrGrantNotFound
	}
	return g, nil
}

func (s *GrantStore) List(ctx context.Context) ([]grant.Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, grant.ErrStoreClosed
	}
	result := make([]grant.Grant, 0, len(s.grants))
	for _, g := range s.grants {
		result = append(result, g)
	}
	grant.SortByURI(result)
	return result, nil
}

func (s *GrantStore) Release(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return grant.ErrStoreClosed
	}
	if _, ok := s.grants[uri]; !ok {
		return grant.ErrGrantNotFound
	}
	delete(s.grants, uri)
	return nil
}

func (s *GrantStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
