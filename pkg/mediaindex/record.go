// Package mediaindex implements the structured media index: a catalog of
// shared media rows addressed by category and numeric id rather than by
// path.
//
// The Store interface persists rows. The Provider couples a Store with the
// filesystem holding the row payloads and is what the rest of the module
// talks to.
package mediaindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category is one of the shared media collections.
type Category string

const (
	CategoryDownloads Category = "downloads"
	CategoryImages    Category = "images"
	CategoryAudio     Category = "audio"
	CategoryVideo     Category = "video"
)

// Categories lists every supported category in a stable order.
var Categories = []Category{CategoryDownloads, CategoryImages, CategoryAudio, CategoryVideo}

// ParseCategory converts a case-insensitive category name.
func ParseCategory(name string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown media category %q", name)
}

func (c Category) String() string {
	return string(c)
}

var (
	// ErrRecordNotFound is returned when no row has the requested id.
	ErrRecordNotFound = errors.New("media record not found")

	// ErrInvalidRecord is returned when a row misses mandatory fields.
	ErrInvalidRecord = errors.New("invalid media record")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("media index store closed")
)

// Record is one row of the media index.
type Record struct {
	// ID is assigned by the store on insert and never reused.
	ID int64 `json:"id"`

	Category    Category `json:"category"`
	DisplayName string   `json:"display_name"`
	MimeType    string   `json:"mime_type"`

	// RelativePath is the directory of the payload below the primary volume
	// root, always with a trailing separator (e.g. "Download/app/").
	RelativePath string `json:"relative_path"`

	Size         int64     `json:"size"`
	DateAdded    time.Time `json:"date_added"`
	DateModified time.Time `json:"date_modified"`
	OwnerPackage string    `json:"owner_package"`

	// Pending rows are hidden from queries until published.
	Pending bool `json:"pending"`
}

// Validate checks the mandatory fields of a row about to be stored.
func (r Record) Validate() error {
	if r.DisplayName == "" {
		return fmt.Errorf("%w: empty display name", ErrInvalidRecord)
	}
	if _, err := ParseCategory(string(r.Category)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// Filter selects rows within a category. Empty fields match everything.
type Filter struct {
	// RelativePath must equal the row's relative path exactly.
	RelativePath string

	// DisplayName must equal the row's display name exactly.
	DisplayName string

	// NamePrefix must prefix the row's display name.
	NamePrefix string

	// IncludePending also returns rows that are not yet published.
	IncludePending bool
}

// Matches reports whether r satisfies f.
func (f Filter) Matches(r Record) bool {
	if r.Pending && !f.IncludePending {
		return false
	}
	if f.RelativePath != "" && r.RelativePath != f.RelativePath {
		return false
	}
	if f.DisplayName != "" && r.DisplayName != f.DisplayName {
		return false
	}
	if f.NamePrefix != "" && !strings.HasPrefix(r.DisplayName, f.NamePrefix) {
		return false
	}
	return true
}

// Store persists media rows.
//
// Rows are returned ordered by ascending id. Implementations must be safe
// for concurrent use.
type Store interface {
	// Insert assigns a fresh id to rec and stores it.
	Insert(ctx context.Context, rec Record) (Record, error)

	// Get returns the row with the given id or ErrRecordNotFound.
	Get(ctx context.Context, id int64) (Record, error)

	// Update replaces an existing row. The id must exist.
	Update(ctx context.Context, rec Record) error

	// Delete removes a row. Deleting a missing id returns ErrRecordNotFound.
	Delete(ctx context.Context, id int64) error

	// Query returns the rows of a category matching f.
	Query(ctx context.Context, category Category, f Filter) ([]Record, error)

	// Close releases the resources held by the store.
	Close() error
}

// WithTrailingSeparator returns p ending with exactly one "/". The empty
// string stays empty.
func WithTrailingSeparator(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
