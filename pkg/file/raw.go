package file

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sort"

	"github.com/spf13/afero"

	"github.com/marmos91/scopedfs/pkg/document"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// Raw is a handle on a device path.
type Raw struct {
	fs     afero.Fs
	layout storagepath.Layout
	path   string
}

// NewRaw creates a handle on devicePath.
func NewRaw(fs afero.Fs, layout storagepath.Layout, devicePath string) *Raw {
	return &Raw{fs: fs, layout: layout, path: path.Clean(devicePath)}
}

func (r *Raw) sealed() {}

func (r *Raw) child(devicePath string) *Raw {
	return &Raw{fs: r.fs, layout: r.layout, path: devicePath}
}

// Path returns the device path.
func (r *Raw) Path() string {
	return r.path
}

// Fs returns the filesystem the handle reads from.
func (r *Raw) Fs() afero.Fs {
	return r.fs
}

func (r *Raw) Kind() Kind {
	return KindRaw
}

func (r *Raw) Name() string {
	return path.Base(r.path)
}

func (r *Raw) URI() string {
	return "file://" + r.path
}

func (r *Raw) Stat(ctx context.Context) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, Classify(err, r.path)
	}
	fi, err := r.fs.Stat(r.path)
	if err != nil {
		return Info{}, Classify(err, r.path)
	}
	return infoFromFileInfo(fi), nil
}

func (r *Raw) Exists(ctx context.Context) bool {
	_, err := r.Stat(ctx)
	return err == nil
}

func (r *Raw) List(ctx context.Context) ([]File, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(err, r.path)
	}
	entries, err := afero.ReadDir(r.fs, r.path)
	if err != nil {
		return nil, Classify(err, r.path)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		files = append(files, r.child(path.Join(r.path, e.Name())))
	}
	return files, nil
}

func (r *Raw) Child(ctx context.Context, name string) (File, error) {
	c := r.child(path.Join(r.path, storagepath.SanitizeName(name)))
	if _, err := c.Stat(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Raw) CreateDir(ctx context.Context, name string) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(err, r.path)
	}
	c := r.child(path.Join(r.path, storagepath.SanitizeName(name)))
	if err := r.fs.Mkdir(c.path, 0o755); err != nil {
		return nil, Wrap(CannotCreateInTarget, c.path, err)
	}
	return c, nil
}

func (r *Raw) CreateFile(ctx context.Context, name, _ string) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(err, r.path)
	}
	c := r.child(path.Join(r.path, storagepath.SanitizeName(name)))
	f, err := r.fs.OpenFile(c.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, Wrap(CannotCreateInTarget, c.path, err)
	}
	if err := f.Close(); err != nil {
		return nil, Wrap(CannotCreateInTarget, c.path, err)
	}
	return c, nil
}

func (r *Raw) OpenReader(ctx context.Context) (io.ReadCloser, error) {
	info, err := r.Stat(ctx)
	if err != nil {
		return nil, err
	}
	if info.IsDir {
		return nil, Classify(document.ErrIsDirectory, r.path)
	}
	f, err := r.fs.Open(r.path)
	if err != nil {
		return nil, Classify(err, r.path)
	}
	return f, nil
}

func (r *Raw) OpenWriter(ctx context.Context, appendMode bool) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(err, r.path)
	}
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := r.fs.OpenFile(r.path, flags, 0o644)
	if err != nil {
		return nil, Classify(err, r.path)
	}
	return f, nil
}

func (r *Raw) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Classify(err, r.path)
	}
	if _, err := r.fs.Stat(r.path); err != nil {
		return Classify(err, r.path)
	}
	return Classify(r.fs.RemoveAll(r.path), r.path)
}

func (r *Raw) Rename(ctx context.Context, name string) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(err, r.path)
	}
	target := r.child(path.Join(path.Dir(r.path), storagepath.SanitizeName(name)))
	if target.path == r.path {
		return r, nil
	}
	if _, err := r.fs.Stat(target.path); err == nil {
		return nil, NewError(CannotCreateInTarget, target.path, "entry already exists")
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, Classify(err, target.path)
	}
	if err := r.fs.Rename(r.path, target.path); err != nil {
		return nil, Classify(err, r.path)
	}
	return target, nil
}

// Parent returns the containing directory. Volume roots have none.
func (r *Raw) Parent() (File, bool) {
	loc, err := r.layout.Parse(r.path)
	if err != nil || loc.IsRoot() {
		return nil, false
	}
	return r.child(path.Dir(r.path)), true
}

func infoFromFileInfo(fi os.FileInfo) Info {
	info := Info{
		Name:    fi.Name(),
		IsDir:   fi.IsDir(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}
	if info.IsDir {
		info.MimeType = document.DirectoryMimeType
		info.Size = 0
	} else {
		info.MimeType = document.MimeTypeOf(fi.Name())
	}
	return info
}
