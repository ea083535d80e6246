package transfer

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/spf13/afero"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/pkg/file"
)

// walk lists every entry below a directory root. Raw roots backed by the
// host filesystem are walked with fastwalk, everything else through the
// handle interface.
func (t *Transfer) walk(ctx context.Context, r *root) ([]*entry, error) {
	if raw, ok := r.src.(*file.Raw); ok {
		if host, ok := hostPath(raw); ok {
			entries, err := t.fastWalk(ctx, r, raw, host)
			if err == nil {
				return entries, nil
			}
			if ctx.Err() != nil {
				return nil, file.Classify(ctx.Err(), r.src.URI())
			}
			logger.Debug("Transfer %s: fast walk of %s failed, listing instead: %v", t.id, host, err)
		}
	}
	return t.listWalk(ctx, r, r.src, "")
}

// hostPath returns the path of a raw handle on the host filesystem.
func hostPath(raw *file.Raw) (string, bool) {
	switch fsys := raw.Fs().(type) {
	case *afero.OsFs:
		return filepath.FromSlash(raw.Path()), true
	case interface {
		RealPath(name string) (string, error)
	}:
		p, err := fsys.RealPath(raw.Path())
		return p, err == nil
	}
	return "", false
}

func (t *Transfer) fastWalk(ctx context.Context, r *root, raw *file.Raw, host string) ([]*entry, error) {
	var (
		mu      sync.Mutex
		entries []*entry
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, host, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return walkErr
		}
		if p == host {
			return nil
		}

		rel, err := filepath.Rel(host, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if t.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		e := &entry{
			root:  r,
			src:   file.NewRaw(raw.Fs(), t.engine.layout, path.Join(raw.Path(), rel)),
			rel:   rel,
			isDir: d.IsDir(),
		}
		if !e.isDir {
			info, err := d.Info()
			if err != nil {
				return err
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			if t.req.Options.SkipEmptyFiles && info.Size() == 0 {
				return nil
			}
			e.size = info.Size()
		}

		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
		return nil
	})
	return entries, err
}

func (t *Transfer) listWalk(ctx context.Context, r *root, dir file.File, rel string) ([]*entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, file.Classify(err, dir.URI())
	}
	children, err := dir.List(ctx)
	if err != nil {
		return nil, err
	}

	var entries []*entry
	for _, c := range children {
		childRel := path.Join(rel, c.Name())
		if t.excluded(childRel) {
			continue
		}
		info, err := c.Stat(ctx)
		if err != nil {
			return nil, err
		}

		if info.IsDir {
			entries = append(entries, &entry{root: r, src: c, rel: childRel, isDir: true})
			below, err := t.listWalk(ctx, r, c, childRel)
			if err != nil {
				return nil, err
			}
			entries = append(entries, below...)
			continue
		}

		if t.req.Options.SkipEmptyFiles && info.Size == 0 {
			continue
		}
		entries = append(entries, &entry{root: r, src: c, rel: childRel, size: info.Size, mime: info.MimeType})
	}
	return entries, nil
}
