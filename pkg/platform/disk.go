package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/disk"
)

// SpaceProvider reports free space for a device path.
type SpaceProvider interface {
	FreeSpace(devicePath string) (uint64, error)
}

// MountResolver maps a device path to the mount point holding it.
type MountResolver interface {
	MountPoint(devicePath string) (string, error)
}

// DiskSpace queries the host filesystem. Device paths are interpreted
// relative to HostRoot.
type DiskSpace struct {
	HostRoot string
}

// FreeSpace returns the bytes available to unprivileged users on the
// filesystem holding devicePath. Missing paths are resolved against their
// nearest existing ancestor.
func (d DiskSpace) FreeSpace(devicePath string) (uint64, error) {
	host := existingAncestor(filepath.Join(d.HostRoot, filepath.FromSlash(devicePath)))
	usage, err := disk.Usage(host)
	if err != nil {
		return 0, fmt.Errorf("disk usage for %s: %w", host, err)
	}
	return usage.Free, nil
}

// StaticSpace reports a fixed amount of free space.
type StaticSpace uint64

func (s StaticSpace) FreeSpace(string) (uint64, error) {
	return uint64(s), nil
}

// DiskMounts resolves mount points from the host partition table.
type DiskMounts struct {
	HostRoot string
}

// MountPoint picks the partition with the longest mount point prefix.
func (d DiskMounts) MountPoint(devicePath string) (string, error) {
	partitions, err := disk.Partitions(true)
	if err != nil {
		return "", fmt.Errorf("list partitions: %w", err)
	}

	host := filepath.Clean(filepath.Join(d.HostRoot, filepath.FromSlash(devicePath)))
	best := ""
	for _, p := range partitions {
		mp := filepath.Clean(p.Mountpoint)
		if hasPathPrefix(host, mp) && len(mp) > len(best) {
			best = mp
		}
	}
	if best == "" {
		return "", fmt.Errorf("mount point not found for path: %s", host)
	}
	return best, nil
}

// StaticMounts resolves mount points from a fixed list of device paths.
// Paths outside every listed mount resolve to "/".
type StaticMounts []string

func (m StaticMounts) MountPoint(devicePath string) (string, error) {
	mounts := append([]string(nil), m...)
	sort.Slice(mounts, func(i, j int) bool { return len(mounts[i]) > len(mounts[j]) })

	p := filepath.ToSlash(filepath.Clean(devicePath))
	for _, mp := range mounts {
		mp = filepath.ToSlash(filepath.Clean(mp))
		if hasPathPrefix(p, mp) {
			return mp, nil
		}
	}
	return "/", nil
}

// SameMount reports whether two device paths live on the same mount.
func SameMount(r MountResolver, a, b string) bool {
	ma, err := r.MountPoint(a)
	if err != nil {
		return false
	}
	mb, err := r.MountPoint(b)
	if err != nil {
		return false
	}
	return ma == mb
}

func hasPathPrefix(p, prefix string) bool {
	if prefix == "/" || p == prefix {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(prefix, "/")+"/")
}

func existingAncestor(p string) string {
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
