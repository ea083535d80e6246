package transfer

import (
	"context"
	"errors"
	"path"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/pkg/file"
	"github.com/marmos91/scopedfs/pkg/materializer"
	"github.com/marmos91/scopedfs/pkg/platform"
)

// root is one source of the request and where it goes.
type root struct {
	src   file.File
	info  file.Info
	isDir bool

	// name is the destination name below the target directory.
	name string

	// existing is the entry in the way at the parent level, if any.
	existing      file.File
	existingIsDir bool
	resolution    Resolution
	skipped       bool

	// renamed is set when the fast path moved the whole root.
	renamed bool
	target  file.File
}

// entry is a file or directory below a root. rel is empty for file roots.
type entry struct {
	root  *root
	src   file.File
	rel   string
	isDir bool
	size  int64
	mime  string

	done  bool
	moved bool
}

// key is the destination path relative to the target directory.
func (e *entry) key() string {
	return path.Join(e.root.name, e.rel)
}

// withKind re-labels err when it has kind from.
func withKind(err error, from, to file.ErrorKind, p string) error {
	err = file.Classify(err, p)
	if file.KindOf(err) != from {
		return err
	}
	return &file.Error{Kind: to, Path: p, Err: err}
}

func (t *Transfer) validate(ctx context.Context) error {
	target := t.req.Target
	if target == nil {
		return file.NewError(file.TargetFolderNotFound, "", "no target")
	}
	if len(t.req.Sources) == 0 {
		return file.NewError(file.SourceNotFound, target.URI(), "nothing to transfer")
	}
	for _, pattern := range t.req.Options.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return file.NewError(file.InvalidPath, pattern, "invalid exclude pattern")
		}
	}

	tinfo, err := target.Stat(ctx)
	if err != nil {
		return withKind(err, file.NotFound, file.TargetFolderNotFound, target.URI())
	}
	if !tinfo.IsDir {
		return file.NewError(file.TargetFolderNotFound, target.URI(), "not a directory")
	}
	tloc, tlocErr := file.Locate(target)

	t.roots = t.roots[:0]
	for _, src := range t.req.Sources {
		info, err := src.Stat(ctx)
		if err != nil {
			return withKind(err, file.NotFound, file.SourceNotFound, src.URI())
		}

		if tlocErr == nil {
			if sloc, err := file.Locate(src); err == nil {
				if sloc == tloc || tloc.Child(src.Name()) == sloc {
					return file.NewError(file.SameSourceTargetPath, src.URI(), "source and target are the same")
				}
				if info.IsDir && sloc.Contains(tloc) {
					return file.NewError(file.SameSourceTargetPath, src.URI(), "target is inside the source")
				}
			}
		}

		t.roots = append(t.roots, &root{
			src:   src,
			info:  info,
			isDir: info.IsDir,
			name:  src.Name(),
		})
	}
	return nil
}

func (t *Transfer) findParentConflicts(ctx context.Context) ([]ParentConflict, error) {
	var conflicts []ParentConflict
	for _, r := range t.roots {
		existing, err := t.req.Target.Child(ctx, r.name)
		if errors.Is(err, file.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		info, err := existing.Stat(ctx)
		if err != nil {
			return nil, err
		}
		if !r.isDir && !info.IsDir {
			// File over file is settled per file while transferring.
			continue
		}

		r.existing = existing
		r.existingIsDir = info.IsDir
		if r.isDir && info.IsDir {
			children, err := existing.List(ctx)
			if err != nil {
				return nil, err
			}
			if len(children) == 0 {
				logger.Debug("Transfer %s: merging into empty directory %s", t.id, existing.URI())
				r.resolution = Merge
				continue
			}
		}

		conflicts = append(conflicts, ParentConflict{
			Source:      r.src,
			Existing:    existing,
			SourceIsDir: r.isDir,
			Resolution:  Skip,
			root:        r,
		})
	}
	return conflicts, nil
}

func (t *Transfer) applyParentResolutions(conflicts []ParentConflict) {
	for _, c := range conflicts {
		r := c.root
		res := c.Resolution
		if res == Merge && !(r.isDir && r.existingIsDir) {
			res = Skip
		}
		r.resolution = res
		r.skipped = res == Skip
		logger.Debug("Transfer %s: %s resolved as %s", t.id, r.src.URI(), res)
	}
}

func (t *Transfer) count(ctx context.Context) error {
	var taken []string
	for _, r := range t.roots {
		if r.skipped {
			continue
		}
		if r.resolution == CreateNew && r.existing != nil {
			if taken == nil {
				names, err := childNames(ctx, t.req.Target)
				if err != nil {
					return err
				}
				taken = names
			}
			r.name = materializer.NextAvailableName(taken, r.name)
			taken = append(taken, r.name)
			r.existing = nil
		}

		if !r.isDir {
			if t.excluded(r.src.Name()) || (t.req.Options.SkipEmptyFiles && r.info.Size == 0) {
				continue
			}
			t.entries = append(t.entries, &entry{root: r, src: r.src, size: r.info.Size, mime: r.info.MimeType})
			continue
		}

		entries, err := t.walk(ctx, r)
		if err != nil {
			return err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
		t.entries = append(t.entries, entries...)
	}

	for _, e := range t.entries {
		if !e.isDir {
			t.result.TotalFiles++
		}
	}
	logger.Debug("Transfer %s: %d file(s), %d byte(s) to transfer", t.id, t.result.TotalFiles, t.remainingBytes())
	return nil
}

func (t *Transfer) remainingBytes() int64 {
	var n int64
	for _, e := range t.entries {
		if !e.isDir && !e.done {
			n += e.size
		}
	}
	return n
}

func (t *Transfer) remainingFiles() int {
	n := 0
	for _, e := range t.entries {
		if !e.isDir && !e.done {
			n++
		}
	}
	return n
}

// devicePath maps a handle to its device path.
func (t *Transfer) devicePath(f file.File) (string, bool) {
	loc, err := file.Locate(f)
	if err != nil {
		return "", false
	}
	return t.engine.layout.Absolute(loc), true
}

// fastRename moves sources in place when they share a mount with the
// target. Whatever cannot be renamed is copied afterwards.
func (t *Transfer) fastRename(ctx context.Context) error {
	if !t.req.Options.DeleteSource || t.engine.mounts == nil {
		return nil
	}
	targetPath, ok := t.devicePath(t.req.Target)
	if !ok {
		return nil
	}

	for _, r := range t.roots {
		if r.skipped {
			continue
		}
		if err := ctx.Err(); err != nil {
			return file.Classify(err, r.src.URI())
		}
		srcPath, ok := t.devicePath(r.src)
		if !ok || !platform.SameMount(t.engine.mounts, srcPath, targetPath) {
			continue
		}

		switch {
		case r.existing == nil && r.name == r.src.Name():
			moved, err := file.Move(ctx, r.src, t.req.Target)
			if err != nil {
				logger.Debug("Transfer %s: rename of %s failed, copying instead: %v", t.id, r.src.URI(), err)
				continue
			}
			r.renamed = true
			r.target = moved
			for _, e := range t.entries {
				if e.root == r && !e.isDir {
					t.markDone(e)
				}
			}
			t.engine.metrics.RecordFastRename(t.op())

		case r.isDir && r.resolution == Merge:
			if err := t.renameInto(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// renameInto moves the files of r one by one into the existing directory
// it merges with, then prunes the source directories left empty.
func (t *Transfer) renameInto(ctx context.Context, r *root) error {
	moved := 0
	for _, e := range t.entries {
		if e.root != r || e.isDir || e.done {
			continue
		}
		if err := ctx.Err(); err != nil {
			return file.Classify(err, e.src.URI())
		}
		parent, err := t.ensureDir(ctx, path.Dir(e.key()))
		if err != nil {
			return err
		}
		if _, err := parent.Child(ctx, path.Base(e.key())); err == nil {
			continue
		}
		if _, err := file.Move(ctx, e.src, parent); err != nil {
			if file.KindOf(err) == file.NotSupported {
				break
			}
			continue
		}
		e.moved = true
		t.markDone(e)
		moved++
	}
	if moved > 0 {
		t.prune(ctx, r)
		t.engine.metrics.RecordFastRename(t.op())
	}
	return nil
}

func (t *Transfer) markDone(e *entry) {
	e.done = true
	t.result.TransferredFiles++
	t.result.Bytes += e.size
}

// prune deletes the directories of r left empty, deepest first.
func (t *Transfer) prune(ctx context.Context, r *root) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if e := t.entries[i]; e.root == r && e.isDir {
			removeIfEmpty(ctx, e.src)
		}
	}
	removeIfEmpty(ctx, r.src)
}

func removeIfEmpty(ctx context.Context, dir file.File) {
	children, err := dir.List(ctx)
	if err != nil || len(children) > 0 {
		return
	}
	if err := dir.Delete(ctx); err != nil {
		logger.Warn("Failed to remove empty directory %s: %v", dir.URI(), err)
	}
}

func (t *Transfer) checkFreeSpace() (*FreeSpaceCheck, error) {
	if t.engine.space == nil {
		return nil, nil
	}
	required := t.remainingBytes()
	if required == 0 {
		return nil, nil
	}
	targetPath, ok := t.devicePath(t.req.Target)
	if !ok {
		return nil, nil
	}
	free, err := t.engine.space.FreeSpace(targetPath)
	if err != nil {
		logger.Warn("Transfer %s: free space of %s unknown: %v", t.id, targetPath, err)
		return nil, nil
	}
	return &FreeSpaceCheck{Free: free, Required: uint64(required)}, nil
}

// ensureDir returns the destination directory at key, creating it and its
// parents as needed.
func (t *Transfer) ensureDir(ctx context.Context, key string) (file.File, error) {
	if key == "." || key == "" {
		return t.req.Target, nil
	}
	if d, ok := t.dirs[key]; ok {
		return d, nil
	}
	parent, err := t.ensureDir(ctx, path.Dir(key))
	if err != nil {
		return nil, err
	}
	d, err := materializer.MakeDir(ctx, parent, path.Base(key), materializer.ModeReuse)
	if err != nil {
		return nil, err
	}
	t.dirs[key] = d
	return d, nil
}

func (t *Transfer) transfer(ctx context.Context) error {
	for _, r := range t.roots {
		if r.skipped || r.resolution != Replace || r.existing == nil {
			continue
		}
		if err := r.existing.Delete(ctx); err != nil && !errors.Is(err, file.ErrNotFound) {
			return err
		}
		r.existing = nil
	}

	rep := t.newReporter(t.remainingBytes(), t.remainingFiles())
	for _, r := range t.roots {
		if r.skipped || r.renamed || !r.isDir {
			continue
		}
		d, err := t.ensureDir(ctx, r.name)
		if err != nil {
			return err
		}
		r.target = d
	}

	for _, e := range t.entries {
		if e.done {
			continue
		}
		if err := ctx.Err(); err != nil {
			return file.Classify(err, e.src.URI())
		}
		if e.isDir {
			if _, err := t.ensureDir(ctx, e.key()); err != nil {
				return err
			}
			continue
		}

		conflict, err := t.copyEntry(ctx, e, materializer.ModeReuse, rep)
		if err != nil {
			return err
		}
		if conflict != nil {
			t.conflicts = append(t.conflicts, *conflict)
		}
	}
	return nil
}

func (t *Transfer) resolveContentConflicts(ctx context.Context) error {
	var bytes int64
	files := 0
	for _, c := range t.conflicts {
		if c.Resolution == Replace || c.Resolution == CreateNew {
			bytes += c.Size
			files++
		}
	}
	rep := t.newReporter(bytes, files)

	for _, c := range t.conflicts {
		if err := ctx.Err(); err != nil {
			return file.Classify(err, c.Source.URI())
		}
		switch c.Resolution {
		case Replace:
			if err := t.replace(ctx, c, rep); err != nil {
				return err
			}
		case CreateNew:
			if _, err := t.copyEntry(ctx, c.entry, materializer.ModeCreateNew, rep); err != nil {
				return err
			}
		default:
			t.result.SkippedFiles++
		}
	}
	return nil
}

func (t *Transfer) finalize(ctx context.Context) {
	if !t.req.Options.DeleteSource {
		return
	}
	for _, e := range t.entries {
		if e.isDir || !e.done || e.moved || e.root.renamed {
			continue
		}
		if err := e.src.Delete(ctx); err != nil {
			logger.Warn("Transfer %s: failed to delete source %s: %v", t.id, e.src.URI(), err)
		}
	}
	for _, r := range t.roots {
		if r.isDir && !r.renamed && !r.skipped {
			t.prune(ctx, r)
		}
	}
}

func (t *Transfer) resultTarget() file.File {
	var active []*root
	for _, r := range t.roots {
		if !r.skipped {
			active = append(active, r)
		}
	}
	if len(active) == 1 && active[0].target != nil {
		return active[0].target
	}
	return t.req.Target
}

func childNames(ctx context.Context, dir file.File) ([]string, error) {
	children, err := dir.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, c.Name())
	}
	return names, nil
}
