package file

import (
	"context"
	"io"

	"github.com/marmos91/scopedfs/pkg/document"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// Tree is a handle on a document inside a granted tree.
type Tree struct {
	provider document.Provider
	tree     document.URI
	docID    string
}

// NewTree creates a handle on docID inside tree. An empty docID addresses
// the tree root.
func NewTree(provider document.Provider, tree document.URI, docID string) *Tree {
	tree = tree.Tree()
	if docID == "" {
		docID = tree.TreeID
	}
	return &Tree{provider: provider, tree: tree, docID: docID}
}

func (t *Tree) sealed() {}

func (t *Tree) with(docID string) *Tree {
	return &Tree{provider: t.provider, tree: t.tree, docID: docID}
}

// TreeURI returns the URI of the granted tree the handle goes through.
func (t *Tree) TreeURI() document.URI {
	return t.tree
}

// DocumentID returns the provider document ID.
func (t *Tree) DocumentID() string {
	return t.docID
}

func (t *Tree) Kind() Kind {
	return KindTree
}

func (t *Tree) Name() string {
	loc, err := t.provider.Locate(t.docID)
	if err != nil {
		return t.docID
	}
	if loc.IsRoot() {
		return string(loc.Volume)
	}
	return loc.Name()
}

func (t *Tree) URI() string {
	return t.tree.Document(t.docID).String()
}

func (t *Tree) Stat(ctx context.Context) (Info, error) {
	doc, err := t.provider.Query(ctx, t.tree, t.docID)
	if err != nil {
		return Info{}, Classify(err, t.URI())
	}
	return infoFromDocument(doc), nil
}

func (t *Tree) Exists(ctx context.Context) bool {
	_, err := t.Stat(ctx)
	return err == nil
}

func (t *Tree) List(ctx context.Context) ([]File, error) {
	docs, err := t.provider.Children(ctx, t.tree, t.docID)
	if err != nil {
		return nil, Classify(err, t.URI())
	}
	files := make([]File, 0, len(docs))
	for _, d := range docs {
		files = append(files, t.with(d.ID))
	}
	return files, nil
}

func (t *Tree) childID(name string) (string, error) {
	loc, err := t.provider.Locate(t.docID)
	if err != nil {
		return "", Classify(err, t.URI())
	}
	id, err := t.provider.DocumentID(loc.Child(name))
	if err != nil {
		return "", Classify(err, t.URI())
	}
	return id, nil
}

func (t *Tree) Child(ctx context.Context, name string) (File, error) {
	id, err := t.childID(name)
	if err != nil {
		return nil, err
	}
	c := t.with(id)
	if _, err := c.Stat(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *Tree) create(ctx context.Context, mimeType, name string) (File, error) {
	doc, err := t.provider.Create(ctx, t.tree, t.docID, mimeType, storagepath.SanitizeName(name))
	if err != nil {
		if classified := Classify(err, t.URI()); KindOf(classified) != UnknownIOError {
			return nil, classified
		}
		return nil, &Error{Kind: CannotCreateInTarget, Path: t.URI(), Err: err}
	}
	return t.with(doc.ID), nil
}

func (t *Tree) CreateDir(ctx context.Context, name string) (File, error) {
	return t.create(ctx, document.DirectoryMimeType, name)
}

func (t *Tree) CreateFile(ctx context.Context, name, mimeType string) (File, error) {
	if mimeType == "" || mimeType == document.DirectoryMimeType {
		mimeType = "application/octet-stream"
	}
	return t.create(ctx, mimeType, name)
}

func (t *Tree) OpenReader(ctx context.Context) (io.ReadCloser, error) {
	r, err := t.provider.OpenReader(ctx, t.tree, t.docID)
	if err != nil {
		return nil, Classify(err, t.URI())
	}
	return r, nil
}

func (t *Tree) OpenWriter(ctx context.Context, appendMode bool) (io.WriteCloser, error) {
	w, err := t.provider.OpenWriter(ctx, t.tree, t.docID, appendMode)
	if err != nil {
		return nil, Classify(err, t.URI())
	}
	return w, nil
}

func (t *Tree) Delete(ctx context.Context) error {
	return Classify(t.provider.Delete(ctx, t.tree, t.docID), t.URI())
}

func (t *Tree) Rename(ctx context.Context, name string) (File, error) {
	doc, err := t.provider.Rename(ctx, t.tree, t.docID, name)
	if err != nil {
		return nil, Classify(err, t.URI())
	}
	return t.with(doc.ID), nil
}

// Parent returns the containing directory while it stays inside the
// granted tree.
func (t *Tree) Parent() (File, bool) {
	root, err := t.provider.Locate(t.tree.TreeID)
	if err != nil {
		return nil, false
	}
	loc, err := t.provider.Locate(t.docID)
	if err != nil || loc == root {
		return nil, false
	}
	parent, ok := loc.Parent()
	if !ok || !root.Contains(parent) {
		return nil, false
	}
	id, err := t.provider.DocumentID(parent)
	if err != nil {
		return nil, false
	}
	return t.with(id), true
}
