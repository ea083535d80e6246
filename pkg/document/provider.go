package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/marmos91/scopedfs/pkg/storagepath"
)

var (
	// ErrDocumentNotFound is returned when a document ID resolves to nothing.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNotDirectory is returned when a directory operation targets a file.
	ErrNotDirectory = errors.New("document is not a directory")

	// ErrIsDirectory is returned when a file operation targets a directory.
	ErrIsDirectory = errors.New("document is a directory")

	// ErrUnsupported is returned for operations the provider cannot perform,
	// such as moving documents across providers.
	ErrUnsupported = errors.New("operation not supported by document provider")

	// ErrSecurity matches every *SecurityError.
	ErrSecurity = errors.New("permission denial")
)

// SecurityError reports an access outside the granted trees.
//
// Volume and BasePath name the location the caller has to request access
// to in order to retry.
type SecurityError struct {
	URI      URI
	Write    bool
	Volume   storagepath.VolumeID
	BasePath string
	Reason   string
}

func (e *SecurityError) Error() string {
	mode := "read"
	if e.Write {
		mode = "write"
	}
	return fmt.Sprintf("permission denial: %s access to %s: %s", mode, e.URI, e.Reason)
}

func (e *SecurityError) Is(target error) bool {
	return target == ErrSecurity
}

// Document describes one entry served by a provider.
type Document struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
	ModTime  time.Time
}

// IsDir reports whether the document is a directory.
func (d Document) IsDir() bool {
	return d.MimeType == DirectoryMimeType
}

// Authorizer decides whether a tree is currently granted.
type Authorizer interface {
	IsTreeGranted(ctx context.Context, tree URI, write bool) (bool, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, tree URI, write bool) (bool, error)

func (f AuthorizerFunc) IsTreeGranted(ctx context.Context, tree URI, write bool) (bool, error) {
	return f(ctx, tree, write)
}

// Provider serves the documents of one authority.
//
// Every operation names the granted tree it goes through; documents
// outside that tree, or trees that are not granted, fail with a
// *SecurityError.
type Provider interface {
	// Authority returns the provider authority.
	Authority() string

	// Locate maps a document ID to the storage location it designates.
	Locate(docID string) (storagepath.Path, error)

	// DocumentID maps a storage location to its document ID.
	DocumentID(p storagepath.Path) (string, error)

	// Query returns the metadata of a document.
	Query(ctx context.Context, tree URI, docID string) (Document, error)

	// Children lists a directory, sorted by name.
	Children(ctx context.Context, tree URI, parentID string) ([]Document, error)

	// Create adds a file or, with DirectoryMimeType, a directory. When
	// the name is taken the provider picks the first free "name (n)".
	Create(ctx context.Context, tree URI, parentID, mimeType, name string) (Document, error)

	// Delete removes a document, recursively for directories.
	Delete(ctx context.Context, tree URI, docID string) error

	// Rename changes the name of a document.
	Rename(ctx context.Context, tree URI, docID, name string) (Document, error)

	// Move re-parents a document without copying its content.
	Move(ctx context.Context, tree URI, docID, targetParentID string) (Document, error)

	// OpenReader opens a file document for reading.
	OpenReader(ctx context.Context, tree URI, docID string) (io.ReadCloser, error)

	// OpenWriter opens a file document for writing, truncating it unless
	// appending.
	OpenWriter(ctx context.Context, tree URI, docID string, appendMode bool) (io.WriteCloser, error)
}
