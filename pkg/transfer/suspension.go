package transfer

import "github.com/marmos91/scopedfs/pkg/file"

// Suspension is a point where a transfer hands control back to its caller.
// The concrete types are ValidateHook, PrepareHook, ParentConflicts,
// FreeSpaceCheck, ContentConflicts and Done.
type Suspension interface {
	suspension()
}

// ValidateHook follows successful validation. Abort cancels the transfer.
type ValidateHook struct {
	Sources []file.File
	Target  file.File
}

// PrepareHook announces that the transfer is about to start.
type PrepareHook struct {
	Sources []file.File
	Target  file.File
}

// ParentConflict is a source whose name is already taken in the target
// directory.
type ParentConflict struct {
	Source   file.File
	Existing file.File

	// SourceIsDir tells whether Merge is allowed.
	SourceIsDir bool

	// Resolution is set by the caller. Merge on a file source means Skip.
	Resolution Resolution

	root *root
}

// ParentConflicts lists the top-level name conflicts. Empty directories in
// the way are merged without asking.
type ParentConflicts struct {
	Conflicts []ParentConflict
}

// FreeSpaceCheck asks whether the remaining bytes fit the target. Abort
// fails the transfer with NoSpaceOnTarget before anything is written.
type FreeSpaceCheck struct {
	Free     uint64
	Required uint64
}

// Fits is the default answer.
func (c *FreeSpaceCheck) Fits() bool {
	return c.Free >= c.Required
}

// ContentConflict is a file whose destination already has content.
type ContentConflict struct {
	Source file.File
	Target file.File

	// Path is the destination path relative to the target directory.
	Path string

	Size int64

	// Resolution is set by the caller. Merge means Skip.
	Resolution Resolution

	entry *entry
}

// ContentConflicts lists every content conflict of the transfer at once.
type ContentConflicts struct {
	Conflicts []ContentConflict
}

// Done carries the final result. Next keeps returning it.
type Done struct {
	Result Result
}

func (*ValidateHook) suspension()     {}
func (*PrepareHook) suspension()      {}
func (*ParentConflicts) suspension()  {}
func (*FreeSpaceCheck) suspension()   {}
func (*ContentConflicts) suspension() {}
func (*Done) suspension()             {}
