// Package materializer creates directories and files at storage locations,
// through whichever mechanism the access resolver hands out.
//
// Direct roots use plain filesystem calls. Tree roots are walked one
// segment at a time, looking each segment up before creating it.
package materializer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/pkg/access"
	"github.com/marmos91/scopedfs/pkg/file"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// Mode decides what happens when the target name is already taken.
type Mode int

const (
	// ModeReuse returns the existing file. A directory in the way is a
	// conflict.
	ModeReuse Mode = iota

	// ModeReplace deletes the existing entry first.
	ModeReplace

	// ModeCreateNew picks the next free "name (n)".
	ModeCreateNew
)

func (m Mode) String() string {
	switch m {
	case ModeReuse:
		return "reuse"
	case ModeReplace:
		return "replace"
	case ModeCreateNew:
		return "create_new"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a mode name as printed by String.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "reuse", "":
		return ModeReuse, nil
	case "replace":
		return ModeReplace, nil
	case "create_new", "create-new", "createnew":
		return ModeCreateNew, nil
	default:
		return ModeReuse, fmt.Errorf("unknown creation mode %q", name)
	}
}

// Materializer creates entries at symbolic locations.
type Materializer struct {
	resolver *access.Resolver
}

// New creates a Materializer.
func New(resolver *access.Resolver) *Materializer {
	return &Materializer{resolver: resolver}
}

// CreateFile creates the file at (volume, basePath), creating missing
// parent directories on the way. The leaf name is sanitized and, when it
// has no extension, gets the canonical extension of mimeType.
func (m *Materializer) CreateFile(ctx context.Context, volume storagepath.VolumeID, basePath, mimeType string, mode Mode) (file.File, error) {
	loc := storagepath.New(volume, basePath)
	parentLoc, ok := loc.Parent()
	if !ok {
		return nil, file.NewError(file.InvalidPath, loc.Compact(), "cannot create a file at a volume root")
	}

	parent, err := m.mkdirs(ctx, parentLoc)
	if err != nil {
		return nil, err
	}

	name := WithExtension(storagepath.SanitizeName(loc.Name()), mimeType)
	f, err := MakeFile(ctx, parent, name, mimeType, mode)
	if err != nil {
		return nil, err
	}
	logger.Debug("Created file %s (%s, mode=%s)", f.URI(), f.Kind(), mode)
	return f, nil
}

// Mkdirs creates the directory at (volume, basePath) and every missing
// parent. Existing directories are reused; a file in the way fails with
// CannotCreateInTarget.
func (m *Materializer) Mkdirs(ctx context.Context, volume storagepath.VolumeID, basePath string, requireWritable bool) (file.File, error) {
	loc := storagepath.New(volume, basePath)
	if !requireWritable {
		if f, err := m.resolver.Find(ctx, volume, loc.Base, false); err == nil {
			if info, err := f.Stat(ctx); err == nil && info.IsDir {
				return f, nil
			}
		}
	}
	return m.mkdirs(ctx, loc)
}

// MkdirsBatch creates every directory in paths, symbolic paths in either
// notation. Only the deepest unique directories are created explicitly.
// The returned handles are aligned with paths; entries that failed are
// nil and their errors are joined.
func (m *Materializer) MkdirsBatch(ctx context.Context, paths []string, requireWritable bool) ([]file.File, error) {
	layout := m.resolver.Layout()
	locs := make([]storagepath.Path, len(paths))
	abs := make([]string, 0, len(paths))
	var errs []error

	for i, p := range paths {
		loc, err := layout.Parse(p)
		if err != nil {
			errs = append(errs, file.Classify(err, p))
			continue
		}
		locs[i] = loc
		abs = append(abs, layout.Absolute(loc))
	}

	for _, deepest := range storagepath.FindUniqueDeepestSubFolders(abs) {
		loc, err := layout.Parse(deepest)
		if err != nil {
			continue
		}
		if _, err := m.Mkdirs(ctx, loc.Volume, loc.Base, requireWritable); err != nil {
			errs = append(errs, err)
		}
	}

	handles := make([]file.File, len(paths))
	for i, loc := range locs {
		if loc.Volume == "" {
			continue
		}
		f, err := m.resolver.Find(ctx, loc.Volume, loc.Base, requireWritable)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		handles[i] = f
	}
	return handles, errors.Join(errs...)
}

func (m *Materializer) mkdirs(ctx context.Context, loc storagepath.Path) (file.File, error) {
	root, err := m.resolver.AccessibleRoot(ctx, loc.Volume, loc.Base, true)
	if err != nil {
		return nil, err
	}

	if raw, ok := root.File.(*file.Raw); ok {
		devicePath := m.resolver.Layout().Absolute(loc)
		if err := raw.Fs().MkdirAll(devicePath, 0o755); err != nil {
			return nil, file.Wrap(file.CannotCreateInTarget, devicePath, err)
		}
		dir := file.NewRaw(raw.Fs(), m.resolver.Layout(), devicePath)
		info, err := dir.Stat(ctx)
		if err != nil {
			return nil, err
		}
		if !info.IsDir {
			return nil, file.NewError(file.CannotCreateInTarget, devicePath, "not a directory")
		}
		return dir, nil
	}

	rel, _ := storagepath.Relative(root.Location.Base, loc.Base)
	current := root.File
	for _, segment := range storagepath.Segments(rel) {
		current, err = MakeDir(ctx, current, segment, ModeReuse)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

// MakeDir creates the directory name under parent.
//
// An existing directory is returned as is with ModeReuse. An existing file
// is a conflict with ModeReuse.
func MakeDir(ctx context.Context, parent file.File, name string, mode Mode) (file.File, error) {
	name = storagepath.SanitizeName(name)
	if name == "" {
		return nil, file.NewError(file.InvalidPath, parent.URI(), "empty directory name")
	}

	existing, info, err := lookup(ctx, parent, name)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return parent.CreateDir(ctx, name)
	}

	switch mode {
	case ModeReuse:
		if info.IsDir {
			return existing, nil
		}
		return nil, file.NewError(file.CannotCreateInTarget, existing.URI(), "a file is in the way")
	case ModeReplace:
		if err := existing.Delete(ctx); err != nil {
			return nil, err
		}
		return parent.CreateDir(ctx, name)
	default:
		free, err := freeName(ctx, parent, name)
		if err != nil {
			return nil, err
		}
		return parent.CreateDir(ctx, free)
	}
}

// MakeFile creates the file name under parent.
//
// With ModeReuse an existing file is returned as is and an existing
// directory is a conflict.
func MakeFile(ctx context.Context, parent file.File, name, mimeType string, mode Mode) (file.File, error) {
	f, _, err := EnsureFile(ctx, parent, name, mimeType, mode)
	return f, err
}

// EnsureFile is MakeFile that also reports whether the returned file was
// created by the call. It is false only for a file reused with ModeReuse.
func EnsureFile(ctx context.Context, parent file.File, name, mimeType string, mode Mode) (file.File, bool, error) {
	name = storagepath.SanitizeName(name)
	if name == "" {
		return nil, false, file.NewError(file.InvalidPath, parent.URI(), "empty file name")
	}

	existing, info, err := lookup(ctx, parent, name)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return created(parent.CreateFile(ctx, name, mimeType))
	}

	switch mode {
	case ModeReuse:
		if !info.IsDir {
			return existing, false, nil
		}
		return nil, false, file.NewError(file.CannotCreateInTarget, existing.URI(), "a directory is in the way")
	case ModeReplace:
		if err := existing.Delete(ctx); err != nil {
			return nil, false, err
		}
		return created(parent.CreateFile(ctx, name, mimeType))
	default:
		free, err := freeName(ctx, parent, name)
		if err != nil {
			return nil, false, err
		}
		return created(parent.CreateFile(ctx, free, mimeType))
	}
}

func created(f file.File, err error) (file.File, bool, error) {
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// lookup returns the existing child, or nil when there is none.
func lookup(ctx context.Context, parent file.File, name string) (file.File, file.Info, error) {
	child, err := parent.Child(ctx, name)
	if errors.Is(err, file.ErrNotFound) {
		return nil, file.Info{}, nil
	}
	if err != nil {
		return nil, file.Info{}, err
	}
	info, err := child.Stat(ctx)
	if err != nil {
		return nil, file.Info{}, err
	}
	return child, info, nil
}

func freeName(ctx context.Context, parent file.File, name string) (string, error) {
	children, err := parent.List(ctx)
	if err != nil {
		return "", err
	}
	siblings := make([]string, 0, len(children))
	for _, c := range children {
		siblings = append(siblings, c.Name())
	}
	return NextAvailableName(siblings, name), nil
}

// NextAvailableName returns name when no sibling uses it, otherwise
// "base (n).ext" with n one past the largest suffix among the siblings.
// Gaps are not reused, so concurrent deletions never hand out a name twice.
//
//	{a.txt, a (1).txt, a (3).txt} + a.txt -> a (4).txt
func NextAvailableName(siblings []string, name string) string {
	base, ext := storagepath.SplitExt(name)
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(base) + ` \((\d+)\)` + regexp.QuoteMeta(ext) + `$`)

	taken := false
	highest := 0
	for _, s := range siblings {
		if s == name {
			taken = true
			continue
		}
		if m := pattern.FindStringSubmatch(s); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
				highest = n
			}
		}
	}
	if !taken {
		return name
	}
	return base + " (" + strconv.Itoa(highest+1) + ")" + ext
}

// WithExtension appends the canonical extension of mimeType when name
// has none.
func WithExtension(name, mimeType string) string {
	if _, ext := storagepath.SplitExt(name); ext != "" || mimeType == "" {
		return name
	}
	mt := mimetype.Lookup(mimeType)
	if mt == nil || mt.Extension() == "" {
		return name
	}
	return name + mt.Extension()
}
