package platform

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// Permissions reports the process-wide privileges granted by the user.
type Permissions interface {
	// HasLegacyBlanketPermission reports whether the legacy read/write
	// external storage permission is held.
	HasLegacyBlanketPermission() bool

	// HasManageAllFiles reports whether the "manage all files" privilege
	// is held.
	HasManageAllFiles() bool
}

// StaticPermissions is a Permissions value that can be flipped at runtime.
type StaticPermissions struct {
	legacy    atomic.Bool
	manageAll atomic.Bool
}

// NewStaticPermissions returns permissions with the given initial state.
func NewStaticPermissions(legacy, manageAll bool) *StaticPermissions {
	p := &StaticPermissions{}
	p.legacy.Store(legacy)
	p.manageAll.Store(manageAll)
	return p
}

func (p *StaticPermissions) HasLegacyBlanketPermission() bool { return p.legacy.Load() }
func (p *StaticPermissions) HasManageAllFiles() bool          { return p.manageAll.Load() }

// SetLegacy changes the legacy blanket permission.
func (p *StaticPermissions) SetLegacy(granted bool) { p.legacy.Store(granted) }

// SetManageAllFiles changes the "manage all files" privilege.
func (p *StaticPermissions) SetManageAllFiles(granted bool) { p.manageAll.Store(granted) }

// ErrPickerCanceled is returned by a Picker when the user dismisses it.
var ErrPickerCanceled = errors.New("document tree picker canceled")

// Picker launches the OS document-tree picker and returns the tree URI the
// user approved.
type Picker interface {
	LaunchDocumentTreePicker(ctx context.Context, hint storagepath.Path) (string, error)
}

// PickerFunc adapts a function to the Picker interface.
type PickerFunc func(ctx context.Context, hint storagepath.Path) (string, error)

func (f PickerFunc) LaunchDocumentTreePicker(ctx context.Context, hint storagepath.Path) (string, error) {
	return f(ctx, hint)
}
