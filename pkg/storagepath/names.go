package storagepath

import (
	"path"
	"sort"
	"strings"
)

// Normalize brings a base path into canonical form: every colon becomes an
// underscore, repeated separators collapse and the result has no leading or
// trailing separator. The empty string is the volume root.
func Normalize(base string) string {
	return collapse(strings.ReplaceAll(base, ":", "_"))
}

// forbiddenNameChars cannot appear in a single path segment.
const forbiddenNameChars = `\/:*?"<>|`

// SanitizeName replaces characters that are illegal in a file name with an
// underscore and trims surrounding whitespace.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.TrimSpace(name) {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(forbiddenNameChars, r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SplitExt splits "a.tar.gz" into "a.tar" and ".gz". Names starting with a
// dot and names ending with one have no extension.
func SplitExt(name string) (base, ext string) {
	ext = path.Ext(name)
	if ext == name || ext == "." {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// Join concatenates base path fragments and normalizes the result.
func Join(elems ...string) string {
	return Normalize(strings.Join(elems, Separator))
}

// Segments splits a base path into its non-empty components.
func Segments(base string) []string {
	base = Normalize(base)
	if base == "" {
		return nil
	}
	return strings.Split(base, Separator)
}

// Parent returns the parent of a base path, "" for top-level entries.
func Parent(base string) string {
	base = Normalize(base)
	i := strings.LastIndex(base, Separator)
	if i < 0 {
		return ""
	}
	return base[:i]
}

// IsDescendant reports whether child lies below parent. With strict unset,
// a path is also considered a descendant of itself. The empty parent
// contains every path.
func IsDescendant(parent, child string, strict bool) bool {
	parent = collapse(parent)
	child = collapse(child)
	if parent == child {
		return !strict
	}
	if parent == "" {
		return true
	}
	return strings.HasPrefix(child, parent+Separator)
}

// Relative returns child expressed relative to parent.
func Relative(parent, child string) (string, bool) {
	parent = collapse(parent)
	child = collapse(child)
	if !IsDescendant(parent, child, false) {
		return "", false
	}
	if parent == "" {
		return child, true
	}
	return strings.TrimPrefix(strings.TrimPrefix(child, parent), Separator), true
}

// FindUniqueParents drops every path that is a descendant of (or equal to)
// another path in the set. Input order is preserved.
//
//	{/s/X, /s/X/Y, /s/Z} -> {/s/X, /s/Z}
func FindUniqueParents(paths []string) []string {
	return filterPaths(paths, func(candidate, other string) bool {
		return IsDescendant(other, candidate, true)
	})
}

// FindUniqueDeepestSubFolders drops every path that is an ancestor of
// another path in the set. Creating the survivors recursively creates all
// of the input directories.
//
//	{/s/X, /s/X/Y, /s/Z} -> {/s/X/Y, /s/Z}
func FindUniqueDeepestSubFolders(paths []string) []string {
	return filterPaths(paths, func(candidate, other string) bool {
		return IsDescendant(candidate, other, true)
	})
}

func filterPaths(paths []string, redundant func(candidate, other string) bool) []string {
	seen := make(map[string]struct{}, len(paths))
	unique := make([]string, 0, len(paths))
	for _, p := range paths {
		key := collapse(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, p)
	}

	result := make([]string, 0, len(unique))
	for _, candidate := range unique {
		drop := false
		for _, other := range unique {
			if redundant(candidate, other) {
				drop = true
				break
			}
		}
		if !drop {
			result = append(result, candidate)
		}
	}
	return result
}

// SortByDepth orders base paths so that parents precede their children.
func SortByDepth(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		return strings.Count(collapse(paths[i]), Separator) < strings.Count(collapse(paths[j]), Separator)
	})
}
