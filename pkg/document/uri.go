// Package document emulates the OS document-tree content providers.
//
// A document tree is a permission-scoped subtree addressed by URI. The
// user grants access to a tree through the system picker; every document
// inside it is then addressed by a document ID relative to the provider
// that serves it. Two providers exist: the external-storage provider, whose
// document IDs are compact paths ("primary:Download/a.txt"), and the
// downloads provider, which exposes a single fixed tree for the downloads
// collection.
package document

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// ExternalStorageAuthority serves trees on every shared volume.
	ExternalStorageAuthority = "com.android.externalstorage.documents"

	// DownloadsAuthority serves the downloads collection.
	DownloadsAuthority = "com.android.providers.downloads.documents"

	// DownloadsTreeID is the document ID of the downloads tree root.
	DownloadsTreeID = "downloads"

	// RawDocumentPrefix marks downloads document IDs carrying a device path.
	RawDocumentPrefix = "raw:"

	// DirectoryMimeType is the MIME type reported for directories.
	DirectoryMimeType = "vnd.android.document/directory"

	contentScheme = "content"
)

// ErrInvalidURI is returned for URIs that are not document-tree URIs.
var ErrInvalidURI = errors.New("invalid document uri")

// URI identifies a document inside a granted tree.
//
// DocumentID is empty when the URI addresses the tree itself.
type URI struct {
	Authority  string
	TreeID     string
	DocumentID string
}

// TreeURI returns the URI of the tree root.
func TreeURI(authority, treeID string) URI {
	return URI{Authority: authority, TreeID: treeID}
}

// DownloadsTreeURI returns the fixed URI of the downloads tree.
func DownloadsTreeURI() URI {
	return TreeURI(DownloadsAuthority, DownloadsTreeID)
}

// Tree returns the tree part of u.
func (u URI) Tree() URI {
	return URI{Authority: u.Authority, TreeID: u.TreeID}
}

// Document returns the URI of docID inside the same tree.
func (u URI) Document(docID string) URI {
	return URI{Authority: u.Authority, TreeID: u.TreeID, DocumentID: docID}
}

// EffectiveDocumentID is the addressed document: the tree root when no
// document ID is set.
func (u URI) EffectiveDocumentID() string {
	if u.DocumentID == "" {
		return u.TreeID
	}
	return u.DocumentID
}

// IsDownloads reports whether u belongs to the downloads provider.
func (u URI) IsDownloads() bool {
	return u.Authority == DownloadsAuthority
}

// String renders content://<authority>/tree/<tree>[/document/<doc>].
func (u URI) String() string {
	var b strings.Builder
	b.WriteString(contentScheme)
	b.WriteString("://")
	b.WriteString(u.Authority)
	b.WriteString("/tree/")
	b.WriteString(escapeID(u.TreeID))
	if u.DocumentID != "" {
		b.WriteString("/document/")
		b.WriteString(escapeID(u.DocumentID))
	}
	return b.String()
}

// ParseURI parses a tree or tree-document URI.
func ParseURI(raw string) (URI, error) {
	prefix := contentScheme + "://"
	if !strings.HasPrefix(raw, prefix) {
		return URI{}, fmt.Errorf("%w: %q", ErrInvalidURI, raw)
	}

	authority, rest, ok := strings.Cut(strings.TrimPrefix(raw, prefix), "/")
	if !ok || authority == "" {
		return URI{}, fmt.Errorf("%w: %q has no authority", ErrInvalidURI, raw)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 2 && len(parts) != 4 {
		return URI{}, fmt.Errorf("%w: %q", ErrInvalidURI, raw)
	}
	if parts[0] != "tree" || parts[1] == "" {
		return URI{}, fmt.Errorf("%w: %q is not a tree uri", ErrInvalidURI, raw)
	}

	treeID, err := url.PathUnescape(parts[1])
	if err != nil {
		return URI{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	u := URI{Authority: authority, TreeID: treeID}

	if len(parts) == 4 {
		if parts[2] != "document" || parts[3] == "" {
			return URI{}, fmt.Errorf("%w: %q", ErrInvalidURI, raw)
		}
		docID, err := url.PathUnescape(parts[3])
		if err != nil {
			return URI{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
		}
		u.DocumentID = docID
	}

	return u, nil
}

// escapeID percent-encodes a document ID as a single path segment. Colons
// are encoded too, matching the URIs handed out by the system picker.
func escapeID(id string) string {
	return strings.ReplaceAll(url.PathEscape(id), ":", "%3A")
}
