// Package file defines the resolved file handle: one capability interface
// implemented by three backends.
//
//   - *Raw addresses a device path directly through an afero filesystem.
//   - *Tree addresses a document inside a granted document tree.
//   - *Media addresses a row of the structured media index.
//
// The set of variants is closed. Capabilities that only some variants have
// (a direct device path, an in-place move) are exposed as free functions
// that branch on the variant.
package file

import (
	"context"
	"io"
	"path"
	"time"

	"github.com/marmos91/scopedfs/pkg/document"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// Kind identifies the backend of a handle.
type Kind int

const (
	KindRaw Kind = iota
	KindTree
	KindMedia
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindTree:
		return "tree"
	case KindMedia:
		return "media"
	default:
		return "unknown"
	}
}

// Info is the metadata of a handle.
type Info struct {
	Name     string
	IsDir    bool
	Size     int64
	ModTime  time.Time
	MimeType string
}

// File is a resolved handle.
//
// Handles are cheap values derived on demand; they hold no open resources
// and may go stale when the underlying entry changes.
type File interface {
	Kind() Kind

	// Name is the last path segment (display name for media rows).
	Name() string

	// URI renders the handle as a file:// or content:// URI.
	URI() string

	Stat(ctx context.Context) (Info, error)
	Exists(ctx context.Context) bool

	// List returns the children of a directory sorted by name.
	List(ctx context.Context) ([]File, error)

	// Child looks up an existing direct child. Missing children fail with
	// a NotFound *Error.
	Child(ctx context.Context, name string) (File, error)

	// CreateDir and CreateFile add a direct child under the exact name.
	// The caller checks for collisions first.
	CreateDir(ctx context.Context, name string) (File, error)
	CreateFile(ctx context.Context, name, mimeType string) (File, error)

	OpenReader(ctx context.Context) (io.ReadCloser, error)

	// OpenWriter truncates the file unless appendMode is set.
	OpenWriter(ctx context.Context, appendMode bool) (io.WriteCloser, error)

	// Delete removes the entry, recursively for directories.
	Delete(ctx context.Context) error

	// Rename changes the last segment and returns the renamed handle.
	Rename(ctx context.Context, name string) (File, error)

	// Parent returns the containing directory, if it is addressable
	// through the same backend.
	Parent() (File, bool)

	sealed()
}

// Locate returns the canonical storage location of f. Every variant
// resolves to the same Path for the same entry, which is what identity
// checks compare.
func Locate(f File) (storagepath.Path, error) {
	switch v := f.(type) {
	case *Raw:
		return v.layout.Parse(v.path)
	case *Tree:
		return v.provider.Locate(v.docID)
	case *Media:
		return v.location(), nil
	default:
		return storagepath.Path{}, ErrNotSupported
	}
}

// SameLocation reports whether a and b designate the same entry.
func SameLocation(a, b File) bool {
	la, err := Locate(a)
	if err != nil {
		return false
	}
	lb, err := Locate(b)
	if err != nil {
		return false
	}
	return la == lb
}

// AbsolutePath returns the device path of a raw handle.
func AbsolutePath(f File) (string, bool) {
	if r, ok := f.(*Raw); ok {
		return r.path, true
	}
	return "", false
}

// Move re-parents src under dir without copying bytes. It only works when
// both handles use the same backend: the same filesystem for raw handles,
// the same granted tree for tree handles. Anything else fails with
// NotSupported and the caller falls back to copying.
func Move(ctx context.Context, src, dir File) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(err, src.URI())
	}

	switch s := src.(type) {
	case *Raw:
		d, ok := dir.(*Raw)
		if !ok || d.fs != s.fs {
			break
		}
		target := path.Join(d.path, s.Name())
		if _, err := s.fs.Stat(target); err == nil {
			return nil, NewError(CannotCreateInTarget, target, "entry already exists")
		}
		if err := s.fs.Rename(s.path, target); err != nil {
			return nil, Classify(err, s.path)
		}
		return d.child(target), nil

	case *Tree:
		d, ok := dir.(*Tree)
		if !ok || d.tree != s.tree || d.provider != s.provider {
			break
		}
		doc, err := s.provider.Move(ctx, s.tree, s.docID, d.docID)
		if err != nil {
			return nil, Classify(err, s.URI())
		}
		return d.with(doc.ID), nil
	}

	return nil, NewError(NotSupported, src.URI(), "cannot move %s handle into %s handle", src.Kind(), dir.Kind())
}

func infoFromDocument(doc document.Document) Info {
	return Info{
		Name:     doc.Name,
		IsDir:    doc.IsDir(),
		Size:     doc.Size,
		ModTime:  doc.ModTime,
		MimeType: doc.MimeType,
	}
}
