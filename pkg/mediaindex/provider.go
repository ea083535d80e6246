package mediaindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/spf13/afero"
)

// Provider serves media rows together with their payloads.
//
// Payloads live on the primary volume at <root>/<RelativePath><DisplayName>.
// Several rows may point at the same payload path; the index tolerates
// duplicate visible names and leaves it to callers to pick unique ones.
type Provider struct {
	store Store
	fs    afero.Fs
	root  string
	owner string
	now   func() time.Time
}

// NewProvider creates a Provider.
//
// Parameters:
//   - store: Row persistence
//   - fs: Filesystem holding the payloads
//   - primaryRoot: Device path of the primary volume root
//   - ownerPackage: Package recorded as owner of rows inserted without one
func NewProvider(store Store, fs afero.Fs, primaryRoot, ownerPackage string) *Provider {
	return &Provider{
		store: store,
		fs:    fs,
		root:  primaryRoot,
		owner: ownerPackage,
		now:   time.Now,
	}
}

// Store returns the underlying row store.
func (p *Provider) Store() Store {
	return p.store
}

// DevicePath returns where the payload of rec is stored.
func (p *Provider) DevicePath(rec Record) string {
	return path.Join(p.root, rec.RelativePath, rec.DisplayName)
}

// Insert publishes a new row and materializes an empty payload for it.
// An existing payload at the same location is adopted as is.
func (p *Provider) Insert(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	now := p.now()
	rec.ID = 0
	rec.RelativePath = WithTrailingSeparator(rec.RelativePath)
	if rec.DateAdded.IsZero() {
		rec.DateAdded = now
	}
	if rec.DateModified.IsZero() {
		rec.DateModified = now
	}
	if rec.OwnerPackage == "" {
		rec.OwnerPackage = p.owner
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}

	payload := p.DevicePath(rec)
	if err := p.fs.MkdirAll(path.Dir(payload), 0o755); err != nil {
		return Record{}, fmt.Errorf("create media directory: %w", err)
	}
	f, err := p.fs.OpenFile(payload, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Record{}, fmt.Errorf("create media payload: %w", err)
	}
	info, statErr := f.Stat()
	_ = f.Close()
	if statErr != nil {
		return Record{}, fmt.Errorf("stat media payload: %w", statErr)
	}
	rec.Size = info.Size()

	return p.store.Insert(ctx, rec)
}

// Get returns a row with its size refreshed from the payload.
func (p *Provider) Get(ctx context.Context, id int64) (Record, error) {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if info, err := p.fs.Stat(p.DevicePath(rec)); err == nil {
		rec.Size = info.Size()
	}
	return rec, nil
}

// Query returns the rows of a category matching f.
func (p *Provider) Query(ctx context.Context, category Category, f Filter) ([]Record, error) {
	return p.store.Query(ctx, category, f)
}

// OpenReader opens the payload of a row for reading.
func (p *Provider) OpenReader(ctx context.Context, id int64) (io.ReadCloser, error) {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.fs.Open(p.DevicePath(rec))
}

// OpenWriter opens the payload of a row for writing, truncating it unless
// appending. Closing the writer publishes the new size and modification
// time.
func (p *Provider) OpenWriter(ctx context.Context, id int64, appendMode bool) (io.WriteCloser, error) {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := p.fs.OpenFile(p.DevicePath(rec), flags, 0o644)
	if err != nil {
		return nil, err
	}
	return &recordWriter{File: f, provider: p, ctx: context.WithoutCancel(ctx), id: id}, nil
}

// Delete removes a row and its payload.
func (p *Provider) Delete(ctx context.Context, id int64) error {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := p.fs.Remove(p.DevicePath(rec)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove media payload: %w", err)
	}
	return p.store.Delete(ctx, id)
}

// Rename changes the display name of a row and moves its payload.
func (p *Provider) Rename(ctx context.Context, id int64, newName string) (Record, error) {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if newName == "" {
		return Record{}, fmt.Errorf("%w: empty display name", ErrInvalidRecord)
	}

	oldPath := p.DevicePath(rec)
	rec.DisplayName = newName
	if err := p.fs.Rename(oldPath, p.DevicePath(rec)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Record{}, fmt.Errorf("rename media payload: %w", err)
	}
	rec.DateModified = p.now()
	if err := p.store.Update(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

type recordWriter struct {
	afero.File
	provider *Provider
	ctx      context.Context
	id       int64
}

func (w *recordWriter) Close() error {
	info, statErr := w.File.Stat()
	if err := w.File.Close(); err != nil {
		return err
	}
	if statErr != nil {
		return statErr
	}

	rec, err := w.provider.store.Get(w.ctx, w.id)
	if err != nil {
		return err
	}
	rec.Size = info.Size()
	rec.DateModified = w.provider.now()
	rec.Pending = false
	return w.provider.store.Update(w.ctx, rec)
}
