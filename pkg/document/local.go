package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// LocalProvider serves documents from an afero filesystem laid out like a
// device.
type LocalProvider struct {
	authority string
	fs        afero.Fs
	layout    storagepath.Layout
	auth      Authorizer
}

// NewExternalStorageProvider serves trees on every volume. Document IDs
// are compact paths.
func NewExternalStorageProvider(fs afero.Fs, layout storagepath.Layout, auth Authorizer) *LocalProvider {
	return &LocalProvider{authority: ExternalStorageAuthority, fs: fs, layout: layout, auth: auth}
}

// NewDownloadsProvider serves the single downloads tree. Its root has the
// document ID "downloads", its descendants "raw:<device path>".
func NewDownloadsProvider(fs afero.Fs, layout storagepath.Layout, auth Authorizer) *LocalProvider {
	return &LocalProvider{authority: DownloadsAuthority, fs: fs, layout: layout, auth: auth}
}

func (p *LocalProvider) Authority() string {
	return p.authority
}

func downloadsRoot() storagepath.Path {
	return storagepath.New(storagepath.VolumePrimary, "Download")
}

func (p *LocalProvider) Locate(docID string) (storagepath.Path, error) {
	if p.authority == DownloadsAuthority {
		if docID == DownloadsTreeID {
			return downloadsRoot(), nil
		}
		raw, ok := strings.CutPrefix(docID, RawDocumentPrefix)
		if !ok {
			return storagepath.Path{}, fmt.Errorf("%w: %q", ErrDocumentNotFound, docID)
		}
		loc, err := p.layout.Parse(raw)
		if err != nil {
			return storagepath.Path{}, fmt.Errorf("%w: %v", ErrDocumentNotFound, err)
		}
		if !downloadsRoot().Contains(loc) {
			return storagepath.Path{}, fmt.Errorf("%w: %q is outside the downloads collection", ErrDocumentNotFound, docID)
		}
		return loc, nil
	}

	if !strings.Contains(docID, ":") {
		return storagepath.Path{}, fmt.Errorf("%w: %q", ErrDocumentNotFound, docID)
	}
	loc, err := p.layout.Parse(docID)
	if err != nil {
		return storagepath.Path{}, fmt.Errorf("%w: %v", ErrDocumentNotFound, err)
	}
	return loc, nil
}

func (p *LocalProvider) DocumentID(loc storagepath.Path) (string, error) {
	if p.authority != DownloadsAuthority {
		return loc.Compact(), nil
	}
	root := downloadsRoot()
	if loc == root {
		return DownloadsTreeID, nil
	}
	if !root.Contains(loc) {
		return "", fmt.Errorf("%w: %s is outside the downloads collection", ErrDocumentNotFound, loc)
	}
	return RawDocumentPrefix + p.layout.Absolute(loc), nil
}

// authorize checks the grant and containment, returning the device path
// of docID.
func (p *LocalProvider) authorize(ctx context.Context, tree URI, docID string, write bool) (string, storagepath.Path, error) {
	if err := ctx.Err(); err != nil {
		return "", storagepath.Path{}, err
	}
	if tree.Authority != p.authority {
		return "", storagepath.Path{}, fmt.Errorf("%w: authority %q served by %q", ErrInvalidURI, tree.Authority, p.authority)
	}

	treeLoc, err := p.Locate(tree.TreeID)
	if err != nil {
		return "", storagepath.Path{}, err
	}
	docLoc, err := p.Locate(docID)
	if err != nil {
		return "", storagepath.Path{}, err
	}

	deny := func(reason string) *SecurityError {
		return &SecurityError{
			URI:      tree.Document(docID),
			Write:    write,
			Volume:   treeLoc.Volume,
			BasePath: treeLoc.Base,
			Reason:   reason,
		}
	}

	granted, err := p.auth.IsTreeGranted(ctx, tree.Tree(), write)
	if err != nil {
		return "", storagepath.Path{}, err
	}
	if !granted {
		return "", storagepath.Path{}, deny("tree is not granted")
	}
	if !treeLoc.Contains(docLoc) {
		return "", storagepath.Path{}, deny("document is outside the granted tree")
	}

	return p.layout.Absolute(docLoc), docLoc, nil
}

func (p *LocalProvider) describe(loc storagepath.Path, info os.FileInfo) (Document, error) {
	id, err := p.DocumentID(loc)
	if err != nil {
		return Document{}, err
	}
	doc := Document{
		ID:      id,
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if info.IsDir() {
		doc.MimeType = DirectoryMimeType
		doc.Size = 0
	} else {
		doc.MimeType = MimeTypeOf(info.Name())
	}
	return doc, nil
}

func (p *LocalProvider) Query(ctx context.Context, tree URI, docID string) (Document, error) {
	devicePath, loc, err := p.authorize(ctx, tree, docID, false)
	if err != nil {
		return Document{}, err
	}
	info, err := p.fs.Stat(devicePath)
	if err != nil {
		return Document{}, notFound(docID, err)
	}
	return p.describe(loc, info)
}

func (p *LocalProvider) Children(ctx context.Context, tree URI, parentID string) ([]Document, error) {
	devicePath, loc, err := p.authorize(ctx, tree, parentID, false)
	if err != nil {
		return nil, err
	}
	info, err := p.fs.Stat(devicePath)
	if err != nil {
		return nil, notFound(parentID, err)
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	entries, err := afero.ReadDir(p.fs, devicePath)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		doc, err := p.describe(storagepath.Path{Volume: loc.Volume, Base: storagepath.Join(loc.Base, entry.Name())}, entry)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

func (p *LocalProvider) Create(ctx context.Context, tree URI, parentID, mimeType, name string) (Document, error) {
	parentPath, parentLoc, err := p.authorize(ctx, tree, parentID, true)
	if err != nil {
		return Document{}, err
	}
	info, err := p.fs.Stat(parentPath)
	if err != nil {
		return Document{}, notFound(parentID, err)
	}
	if !info.IsDir() {
		return Document{}, ErrNotDirectory
	}

	name = storagepath.SanitizeName(name)
	if name == "" {
		return Document{}, fmt.Errorf("empty document name")
	}

	free, err := p.firstFreeName(parentPath, name)
	if err != nil {
		return Document{}, err
	}
	target := path.Join(parentPath, free)

	if mimeType == DirectoryMimeType {
		if err := p.fs.Mkdir(target, 0o755); err != nil {
			return Document{}, err
		}
	} else {
		f, err := p.fs.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return Document{}, err
		}
		_ = f.Close()
	}

	created, err := p.fs.Stat(target)
	if err != nil {
		return Document{}, err
	}
	return p.describe(parentLoc.Child(free), created)
}

// firstFreeName mirrors the provider's own collision handling: the first
// unused "name (n)".
func (p *LocalProvider) firstFreeName(dir, name string) (string, error) {
	exists, err := afero.Exists(p.fs, path.Join(dir, name))
	if err != nil || !exists {
		return name, err
	}

	base, ext := storagepath.SplitExt(name)
	for n := 1; ; n++ {
		candidate := base + " (" + strconv.Itoa(n) + ")" + ext
		exists, err := afero.Exists(p.fs, path.Join(dir, candidate))
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}

func (p *LocalProvider) Delete(ctx context.Context, tree URI, docID string) error {
	devicePath, _, err := p.authorize(ctx, tree, docID, true)
	if err != nil {
		return err
	}
	if _, err := p.fs.Stat(devicePath); err != nil {
		return notFound(docID, err)
	}
	return p.fs.RemoveAll(devicePath)
}

func (p *LocalProvider) Rename(ctx context.Context, tree URI, docID, name string) (Document, error) {
	devicePath, loc, err := p.authorize(ctx, tree, docID, true)
	if err != nil {
		return Document{}, err
	}
	if loc == mustLocate(p, tree.TreeID) {
		return Document{}, fmt.Errorf("%w: cannot rename a tree root", ErrUnsupported)
	}

	name = storagepath.SanitizeName(name)
	parentLoc, _ := loc.Parent()
	target := path.Join(path.Dir(devicePath), name)
	if exists, _ := afero.Exists(p.fs, target); exists {
		return Document{}, fmt.Errorf("rename %s: %w", name, os.ErrExist)
	}
	if err := p.fs.Rename(devicePath, target); err != nil {
		return Document{}, notFound(docID, err)
	}

	info, err := p.fs.Stat(target)
	if err != nil {
		return Document{}, err
	}
	return p.describe(parentLoc.Child(name), info)
}

func (p *LocalProvider) Move(ctx context.Context, tree URI, docID, targetParentID string) (Document, error) {
	devicePath, loc, err := p.authorize(ctx, tree, docID, true)
	if err != nil {
		return Document{}, err
	}
	parentPath, parentLoc, err := p.authorize(ctx, tree, targetParentID, true)
	if err != nil {
		return Document{}, err
	}
	if loc.Volume != parentLoc.Volume {
		return Document{}, fmt.Errorf("%w: move across volumes", ErrUnsupported)
	}

	target := path.Join(parentPath, loc.Name())
	if exists, _ := afero.Exists(p.fs, target); exists {
		return Document{}, fmt.Errorf("move %s: %w", loc.Name(), os.ErrExist)
	}
	if err := p.fs.Rename(devicePath, target); err != nil {
		return Document{}, notFound(docID, err)
	}

	info, err := p.fs.Stat(target)
	if err != nil {
		return Document{}, err
	}
	return p.describe(parentLoc.Child(loc.Name()), info)
}

func (p *LocalProvider) OpenReader(ctx context.Context, tree URI, docID string) (io.ReadCloser, error) {
	devicePath, _, err := p.authorize(ctx, tree, docID, false)
	if err != nil {
		return nil, err
	}
	info, err := p.fs.Stat(devicePath)
	if err != nil {
		return nil, notFound(docID, err)
	}
	if info.IsDir() {
		return nil, ErrIsDirectory
	}
	return p.fs.Open(devicePath)
}

func (p *LocalProvider) OpenWriter(ctx context.Context, tree URI, docID string, appendMode bool) (io.WriteCloser, error) {
	devicePath, _, err := p.authorize(ctx, tree, docID, true)
	if err != nil {
		return nil, err
	}
	info, err := p.fs.Stat(devicePath)
	if err != nil {
		return nil, notFound(docID, err)
	}
	if info.IsDir() {
		return nil, ErrIsDirectory
	}

	flags := os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	return p.fs.OpenFile(devicePath, flags, 0o644)
}

func mustLocate(p *LocalProvider, docID string) storagepath.Path {
	loc, _ := p.Locate(docID)
	return loc
}

func notFound(docID string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	return err
}

// MimeTypeOf guesses a MIME type from the file extension.
func MimeTypeOf(name string) string {
	_, ext := storagepath.SplitExt(name)
	if ext != "" {
		if t := mime.TypeByExtension(strings.ToLower(ext)); t != "" {
			if base, _, ok := strings.Cut(t, ";"); ok {
				return strings.TrimSpace(base)
			}
			return t
		}
	}
	return "application/octet-stream"
}
