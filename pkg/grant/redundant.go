package grant

import (
	"github.com/marmos91/scopedfs/pkg/document"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// FindRedundant returns the grants that are provably subsumed by another
// grant in the set.
//
// Only read/write grants on the external-storage provider take part: a
// grant is redundant when another one on the same volume has a base path
// that is a strict ancestor of it. Downloads grants and partial grants are
// never released because no other grant is guaranteed to replace them.
func FindRedundant(grants []Grant) []Grant {
	candidates := make([]Grant, 0, len(grants))
	for _, g := range grants {
		u, err := g.TreeURI()
		if err != nil || u.Authority != document.ExternalStorageAuthority {
			continue
		}
		if g.Read && g.Write {
			candidates = append(candidates, g)
		}
	}

	var redundant []Grant
	for _, g := range candidates {
		for _, other := range candidates {
			if other.URI == g.URI || other.VolumeID != g.VolumeID {
				continue
			}
			if storagepath.IsDescendant(other.BasePath, g.BasePath, true) {
				redundant = append(redundant, g)
				break
			}
		}
	}
	return redundant
}
