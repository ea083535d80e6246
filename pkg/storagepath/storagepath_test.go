package storagepath

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLayout = DefaultLayout("com.example.app")

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Path
	}{
		{
			name:     "absolute primary",
			input:    "/storage/emulated/0/Download/app/db.json",
			expected: Path{Volume: VolumePrimary, Base: "Download/app/db.json"},
		},
		{
			name:     "absolute removable",
			input:    "/storage/9016-4EF8/Download/app/db.json",
			expected: Path{Volume: "9016-4EF8", Base: "Download/app/db.json"},
		},
		{
			name:     "compact primary",
			input:    "primary:Download/app/db.json",
			expected: Path{Volume: VolumePrimary, Base: "Download/app/db.json"},
		},
		{
			name:     "compact removable",
			input:    "9016-4EF8:Download/app/db.json",
			expected: Path{Volume: "9016-4EF8", Base: "Download/app/db.json"},
		},
		{
			name:     "internal volume",
			input:    "/data/user/0/com.example.app/files/cache.db",
			expected: Path{Volume: VolumeData, Base: "files/cache.db"},
		},
		{
			name:     "primary root",
			input:    "/storage/emulated/0",
			expected: Path{Volume: VolumePrimary, Base: ""},
		},
		{
			name:     "compact root",
			input:    "primary:",
			expected: Path{Volume: VolumePrimary, Base: ""},
		},
		{
			name:     "duplicate separators",
			input:    "//storage//emulated/0///Music//a.mp3/",
			expected: Path{Volume: VolumePrimary, Base: "Music/a.mp3"},
		},
		{
			name:     "colon in compact base",
			input:    "primary:Download/a:b",
			expected: Path{Volume: VolumePrimary, Base: "Download/a_b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := testLayout.Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{
		"",
		"Download/a.txt",
		"usb:Download",
		"/mnt/media/a.txt",
		"/storage/emulated/10/a.txt",
		"/storage",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := testLayout.Parse(input)
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	inputs := []string{
		"/storage/emulated/0/Download/app/db.json",
		"/storage/9016-4EF8/DCIM/Camera/IMG_1.jpg",
		"primary:Music//Albums/",
		"data:files/x:y",
		"9016-4EF8:",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			first, err := testLayout.Parse(input)
			require.NoError(t, err)

			second, err := testLayout.Parse(first.Compact())
			require.NoError(t, err)
			assert.Equal(t, first, second)

			third, err := testLayout.Parse(testLayout.Absolute(first))
			require.NoError(t, err)
			assert.Equal(t, first, third)
		})
	}
}

func TestAbsoluteAndCompactAgree(t *testing.T) {
	abs, err := testLayout.ToAbsolute("9016-4EF8:Download/app/db.json")
	require.NoError(t, err)
	assert.Equal(t, "/storage/9016-4EF8/Download/app/db.json", abs)

	compact, err := testLayout.ToCompact("/storage/emulated/0/Download/app/db.json")
	require.NoError(t, err)
	assert.Equal(t, "primary:Download/app/db.json", compact)

	volume, err := testLayout.VolumeIDOf("/data/user/0/com.example.app")
	require.NoError(t, err)
	assert.Equal(t, VolumeData, volume)

	assert.Equal(t, "/storage/emulated/0/Download", testLayout.Join(VolumePrimary, "/Download/"))
}

func TestNormalize(t *testing.T) {
	inputs := []string{"a:b", ":", "x/y:z/:w", "::/::", "no-colon"}
	for _, in := range inputs {
		out := Normalize(in)
		assert.NotContains(t, out, ":")
		assert.Equal(t, strings.Count(in, ":"), strings.Count(out, "_")-strings.Count(in, "_"))
		assert.False(t, strings.HasPrefix(out, "/") || strings.HasSuffix(out, "/"))
	}

	assert.Equal(t, "a/b/c", Normalize("//a///b/c//"))
	assert.Equal(t, "", Normalize("///"))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "a_b_c_d", SanitizeName(`a/b:c?d`))
	assert.Equal(t, "report _1_.pdf", SanitizeName(" report <1>.pdf "))
	assert.Equal(t, "tab_name", SanitizeName("tab\tname"))
}

func TestPathHelpers(t *testing.T) {
	p := New(VolumePrimary, "Download/app/db.json")

	assert.Equal(t, "db.json", p.Name())
	parent, ok := p.Parent()
	require.True(t, ok)
	assert.Equal(t, "Download/app", parent.Base)

	root := New(VolumePrimary, "")
	_, ok = root.Parent()
	assert.False(t, ok)
	assert.True(t, root.Contains(p))
	assert.False(t, New("9016-4EF8", "").Contains(p))

	assert.Equal(t, "Download/a_b", New(VolumePrimary, "Download").Child("a:b").Base)
	assert.Equal(t, []string{"Download", "app", "db.json"}, p.Segments())
}

func TestIsDescendantAndRelative(t *testing.T) {
	assert.True(t, IsDescendant("Download", "Download/a", true))
	assert.False(t, IsDescendant("Download", "Downloads/a", false))
	assert.True(t, IsDescendant("Download", "Download", false))
	assert.False(t, IsDescendant("Download", "Download", true))
	assert.True(t, IsDescendant("", "anything", true))

	rel, ok := Relative("Download", "Download/app/db.json")
	require.True(t, ok)
	assert.Equal(t, "app/db.json", rel)

	_, ok = Relative("Music", "Download/app")
	assert.False(t, ok)
}

func TestFindUniqueParents(t *testing.T) {
	got := FindUniqueParents([]string{"/s/X", "/s/X/Y", "/s/Z"})
	assert.Equal(t, []string{"/s/X", "/s/Z"}, got)

	got = FindUniqueParents([]string{"/s/X/Y", "/s/X", "/s/X"})
	assert.Equal(t, []string{"/s/X"}, got)
}

func TestFindUniqueDeepestSubFolders(t *testing.T) {
	got := FindUniqueDeepestSubFolders([]string{"/s/X", "/s/X/Y", "/s/Z", "/s/Z"})
	assert.Equal(t, []string{"/s/X/Y", "/s/Z"}, got)
}

func TestSortByDepth(t *testing.T) {
	paths := []string{"a/b/c", "a", "a/b"}
	SortByDepth(paths)
	assert.Equal(t, []string{"a", "a/b", "a/b/c"}, paths)
}
