package file

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/marmos91/scopedfs/pkg/document"
	"github.com/marmos91/scopedfs/pkg/mediaindex"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// ErrorKind classifies failures surfaced across the public boundary.
type ErrorKind int

const (
	// UnknownIOError is the catch-all for unexpected I/O failures.
	UnknownIOError ErrorKind = iota

	// AccessDenied means no grant, no legacy permission and no full-disk
	// access cover the location.
	AccessDenied

	SourceNotFound
	TargetFolderNotFound
	SameSourceTargetPath

	// NoSpaceOnTarget means the free-space check rejected the transfer.
	NoSpaceOnTarget

	// CannotCreateInTarget means materialization failed after the
	// permission checks passed.
	CannotCreateInTarget

	Canceled
	NotFound
	InvalidPath
	NotSupported
)

var kindNames = map[ErrorKind]string{
	UnknownIOError:       "UnknownIOError",
	AccessDenied:         "AccessDenied",
	SourceNotFound:       "SourceNotFound",
	TargetFolderNotFound: "TargetFolderNotFound",
	SameSourceTargetPath: "SameSourceTargetPath",
	NoSpaceOnTarget:      "NoSpaceOnTarget",
	CannotCreateInTarget: "CannotCreateInTarget",
	Canceled:             "Canceled",
	NotFound:             "NotFound",
	InvalidPath:          "InvalidPath",
	NotSupported:         "NotSupported",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Sentinels for errors.Is. Any *Error matches the sentinel of its kind.
var (
	ErrAccessDenied         = &Error{Kind: AccessDenied}
	ErrSourceNotFound       = &Error{Kind: SourceNotFound}
	ErrTargetFolderNotFound = &Error{Kind: TargetFolderNotFound}
	ErrSameSourceTargetPath = &Error{Kind: SameSourceTargetPath}
	ErrNoSpaceOnTarget      = &Error{Kind: NoSpaceOnTarget}
	ErrCannotCreateInTarget = &Error{Kind: CannotCreateInTarget}
	ErrCanceled             = &Error{Kind: Canceled}
	ErrUnknownIO            = &Error{Kind: UnknownIOError}
	ErrNotFound             = &Error{Kind: NotFound}
	ErrInvalidPath          = &Error{Kind: InvalidPath}
	ErrNotSupported         = &Error{Kind: NotSupported}
)

// Recovery names the location the caller has to request access to before
// retrying.
type Recovery struct {
	Volume   storagepath.VolumeID
	BasePath string
}

// Error is the typed failure returned by lookup, creation and transfer.
type Error struct {
	Kind    ErrorKind
	Message string

	// Path is the location the operation failed on, in compact or device
	// form.
	Path string

	// Err is the underlying cause, if any.
	Err error

	// Recovery is set for AccessDenied errors that an explicit access
	// request can fix.
	Recovery *Recovery
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError creates an *Error.
func NewError(kind ErrorKind, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. An err that already is an *Error keeps its
// own kind.
func Wrap(kind ErrorKind, path string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: kind, Path: path, Err: err}
}

// KindOf returns the kind of err, classifying foreign errors first.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(Classify(err, ""), &fe) {
		return fe.Kind
	}
	return UnknownIOError
}

// Classify maps backend errors onto the taxonomy.
//
// Security denials from a document provider become AccessDenied with a
// Recovery pointing at the tree to request. nil stays nil.
func Classify(err error, path string) error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return err
	}

	var sec *document.SecurityError
	switch {
	case errors.As(err, &sec):
		return &Error{
			Kind:     AccessDenied,
			Path:     path,
			Err:      err,
			Recovery: &Recovery{Volume: sec.Volume, BasePath: sec.BasePath},
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: Canceled, Path: path, Err: err}
	case errors.Is(err, os.ErrPermission):
		return &Error{Kind: AccessDenied, Path: path, Err: err}
	case errors.Is(err, os.ErrNotExist),
		errors.Is(err, document.ErrDocumentNotFound),
		errors.Is(err, mediaindex.ErrRecordNotFound):
		return &Error{Kind: NotFound, Path: path, Err: err}
	case errors.Is(err, storagepath.ErrInvalidPath), errors.Is(err, document.ErrInvalidURI):
		return &Error{Kind: InvalidPath, Path: path, Err: err}
	case errors.Is(err, document.ErrUnsupported),
		errors.Is(err, document.ErrIsDirectory),
		errors.Is(err, document.ErrNotDirectory):
		return &Error{Kind: NotSupported, Path: path, Err: err}
	default:
		return &Error{Kind: UnknownIOError, Path: path, Err: err}
	}
}
