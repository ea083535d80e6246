// Package storagepath implements the two path notations used to address
// shared storage: the OS-absolute form (/storage/emulated/0/Download/a.txt)
// and the compact form (primary:Download/a.txt).
//
// Both notations decompose into a (VolumeID, base path) pair. The base path
// is always relative, has no leading or trailing separator, no duplicate
// separators and no colon, so re-joining it with its volume reconstructs an
// equivalent path.
package storagepath

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// VolumeID identifies a storage volume.
type VolumeID string

const (
	// VolumeData is the app-private internal volume.
	VolumeData VolumeID = "data"

	// VolumePrimary is the primary shared volume.
	VolumePrimary VolumeID = "primary"
)

// Separator is the only path separator used by both notations.
const Separator = "/"

// ErrInvalidPath is returned when a symbolic path matches no known volume.
var ErrInvalidPath = errors.New("invalid storage path")

var removableIDPattern = regexp.MustCompile(`^[0-9A-Za-z]{4}-[0-9A-Za-z]{4}$`)

// IsRemovable reports whether v is a hardware-assigned removable volume token.
func (v VolumeID) IsRemovable() bool {
	return removableIDPattern.MatchString(string(v))
}

// Valid reports whether v is one of the three accepted forms.
func (v VolumeID) Valid() bool {
	return v == VolumeData || v == VolumePrimary || v.IsRemovable()
}

func (v VolumeID) String() string {
	return string(v)
}

// Path is a decomposed symbolic path.
type Path struct {
	Volume VolumeID
	Base   string
}

// New builds a Path, normalizing base.
func New(volume VolumeID, base string) Path {
	return Path{Volume: volume, Base: Normalize(base)}
}

// Compact renders the compact notation "<volume>:<base>".
func (p Path) Compact() string {
	return string(p.Volume) + ":" + p.Base
}

func (p Path) String() string {
	return p.Compact()
}

// IsRoot reports whether p denotes the volume root.
func (p Path) IsRoot() bool {
	return p.Base == ""
}

// Name returns the last segment of the base path, or "" for a volume root.
func (p Path) Name() string {
	if p.Base == "" {
		return ""
	}
	return path.Base(p.Base)
}

// Parent returns the parent directory. ok is false for a volume root.
func (p Path) Parent() (parent Path, ok bool) {
	if p.Base == "" {
		return p, false
	}
	return Path{Volume: p.Volume, Base: Parent(p.Base)}, true
}

// Child appends a single name. The name is sanitized first.
func (p Path) Child(name string) Path {
	return Path{Volume: p.Volume, Base: Join(p.Base, SanitizeName(name))}
}

// Segments splits the base path into its components.
func (p Path) Segments() []string {
	return Segments(p.Base)
}

// Contains reports whether other is p itself or lies below it on the same volume.
func (p Path) Contains(other Path) bool {
	return p.Volume == other.Volume && IsDescendant(p.Base, other.Base, false)
}

// Layout maps volumes to their absolute roots on a device.
type Layout struct {
	// InternalRoot is the absolute root of the app-private volume.
	InternalRoot string

	// PrimaryRoot is the absolute root of the primary shared volume.
	PrimaryRoot string

	// RemovableMountPrefix is the directory under which removable volumes
	// are mounted, one sub-directory per volume ID.
	RemovableMountPrefix string
}

// DefaultLayout returns the conventional device layout for an app package.
func DefaultLayout(packageName string) Layout {
	return Layout{
		InternalRoot:         "/data/user/0/" + packageName,
		PrimaryRoot:          "/storage/emulated/0",
		RemovableMountPrefix: "/storage",
	}
}

// Parse decomposes an absolute or compact path into its volume and base path.
//
// Absolute paths are matched against the primary and internal roots, longest
// root first. When neither matches, the segment following the removable
// mount prefix is taken as the volume ID. Compact paths split on the first
// colon.
func (l Layout) Parse(symbolic string) (Path, error) {
	if symbolic == "" {
		return Path{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	if !strings.HasPrefix(symbolic, Separator) {
		return ParseCompact(symbolic)
	}

	abs := Separator + collapse(symbolic)

	type candidate struct {
		root   string
		volume VolumeID
	}
	candidates := []candidate{
		{root: clean(l.PrimaryRoot), volume: VolumePrimary},
		{root: clean(l.InternalRoot), volume: VolumeData},
	}
	if len(candidates[1].root) > len(candidates[0].root) {
		candidates[0], candidates[1] = candidates[1], candidates[0]
	}

	for _, c := range candidates {
		if c.root == Separator {
			continue
		}
		if rest, ok := trimRoot(abs, c.root); ok {
			return Path{Volume: c.volume, Base: Normalize(rest)}, nil
		}
	}

	if rest, ok := trimRoot(abs, clean(l.RemovableMountPrefix)); ok && rest != "" {
		volume, base, _ := strings.Cut(rest, Separator)
		id := VolumeID(volume)
		if id.IsRemovable() {
			return Path{Volume: id, Base: Normalize(base)}, nil
		}
	}

	return Path{}, fmt.Errorf("%w: %q is not under a known volume", ErrInvalidPath, symbolic)
}

// ParseCompact parses the compact notation only. It needs no layout.
func ParseCompact(symbolic string) (Path, error) {
	volume, base, found := strings.Cut(symbolic, ":")
	if !found {
		return Path{}, fmt.Errorf("%w: %q has no volume separator", ErrInvalidPath, symbolic)
	}

	id := VolumeID(volume)
	if !id.Valid() {
		return Path{}, fmt.Errorf("%w: unknown volume %q", ErrInvalidPath, volume)
	}

	return Path{Volume: id, Base: Normalize(base)}, nil
}

// VolumeRoot returns the absolute root directory of a volume.
func (l Layout) VolumeRoot(volume VolumeID) string {
	switch volume {
	case VolumeData:
		return clean(l.InternalRoot)
	case VolumePrimary:
		return clean(l.PrimaryRoot)
	default:
		return path.Join(clean(l.RemovableMountPrefix), string(volume))
	}
}

// Absolute joins the volume root with the base path.
func (l Layout) Absolute(p Path) string {
	root := l.VolumeRoot(p.Volume)
	if p.Base == "" {
		return root
	}
	return path.Join(root, p.Base)
}

// Join is the string form of Absolute.
func (l Layout) Join(volume VolumeID, base string) string {
	return l.Absolute(New(volume, base))
}

// ToAbsolute converts either notation to the absolute form.
func (l Layout) ToAbsolute(symbolic string) (string, error) {
	p, err := l.Parse(symbolic)
	if err != nil {
		return "", err
	}
	return l.Absolute(p), nil
}

// ToCompact converts either notation to the compact form.
func (l Layout) ToCompact(symbolic string) (string, error) {
	p, err := l.Parse(symbolic)
	if err != nil {
		return "", err
	}
	return p.Compact(), nil
}

// VolumeIDOf returns the volume a symbolic path belongs to.
func (l Layout) VolumeIDOf(symbolic string) (VolumeID, error) {
	p, err := l.Parse(symbolic)
	if err != nil {
		return "", err
	}
	return p.Volume, nil
}

func trimRoot(abs, root string) (string, bool) {
	if abs == root {
		return "", true
	}
	if strings.HasPrefix(abs, root+Separator) {
		return abs[len(root)+1:], true
	}
	return "", false
}

func clean(root string) string {
	return Separator + collapse(root)
}

// collapse removes duplicate and surrounding separators.
func collapse(p string) string {
	parts := strings.Split(p, Separator)
	kept := parts[:0]
	for _, s := range parts {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, Separator)
}
