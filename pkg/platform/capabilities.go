// Package platform describes the host OS surface the storage layer runs on:
// which access rules apply at a given OS level, and the collaborators that
// answer permission, picker, free-space and mount questions.
//
// Every branch that depends on the OS version reads a Capabilities value
// computed once at startup. Tests inject synthetic values instead of
// faking version numbers.
package platform

import "fmt"

// OS API levels at which the shared-storage rules changed.
const (
	// SDKScopedStorage introduced scoped storage and the structured media
	// index for shared collections. Apps could still opt out.
	SDKScopedStorage = 29

	// SDKScopedStorageEnforced removed the opt-out and introduced the
	// "manage all files" privilege.
	SDKScopedStorageEnforced = 30

	// SDKMinimum is the oldest supported level.
	SDKMinimum = 21
)

// Capabilities is the strategy table keyed by OS level.
type Capabilities struct {
	// SDKLevel is the OS API level the flags were derived from.
	SDKLevel int

	// ScopedStorageEnforced means direct paths on shared volumes need a
	// tree grant or full-disk access, legacy permission is not enough.
	ScopedStorageEnforced bool

	// MediaIndexRequired means new shared media must be created through
	// the structured media index rather than raw paths.
	MediaIndexRequired bool

	// StructuredDownloadsIndex means the downloads collection is exposed
	// by the media index.
	StructuredDownloadsIndex bool

	// ManageAllFilesSupported means the OS offers a full-disk-access
	// privilege.
	ManageAllFilesSupported bool
}

// CapabilitiesFor derives the capability flags for an OS level.
//
// legacyExternalStorage is the app-level opt-out honoured only on the
// first scoped-storage release.
func CapabilitiesFor(sdkLevel int, legacyExternalStorage bool) Capabilities {
	return Capabilities{
		SDKLevel:                 sdkLevel,
		ScopedStorageEnforced:    sdkLevel >= SDKScopedStorageEnforced || (sdkLevel == SDKScopedStorage && !legacyExternalStorage),
		MediaIndexRequired:       sdkLevel >= SDKScopedStorage,
		StructuredDownloadsIndex: sdkLevel >= SDKScopedStorage,
		ManageAllFilesSupported:  sdkLevel >= SDKScopedStorageEnforced,
	}
}

// Validate checks that the level is supported.
func (c Capabilities) Validate() error {
	if c.SDKLevel < SDKMinimum {
		return fmt.Errorf("sdk level %d is below the minimum supported level %d", c.SDKLevel, SDKMinimum)
	}
	return nil
}

func (c Capabilities) String() string {
	return fmt.Sprintf("sdk=%d enforced=%t media_index=%t manage_all=%t",
		c.SDKLevel, c.ScopedStorageEnforced, c.MediaIndexRequired, c.ManageAllFilesSupported)
}
