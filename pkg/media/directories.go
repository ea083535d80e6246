package media

import (
	"fmt"
	"strings"

	"github.com/marmos91/scopedfs/pkg/mediaindex"
)

// Well-known top-level directories of the primary volume.
const (
	DirDownload      = "Download"
	DirPictures      = "Pictures"
	DirDCIM          = "DCIM"
	DirMusic         = "Music"
	DirPodcasts      = "Podcasts"
	DirRingtones     = "Ringtones"
	DirAlarms        = "Alarms"
	DirNotifications = "Notifications"
	DirAudiobooks    = "Audiobooks"
	DirMovies        = "Movies"
)

// categoryDirectories lists where each category keeps its files. DCIM holds
// both camera pictures and videos.
var categoryDirectories = map[mediaindex.Category][]string{
	mediaindex.CategoryDownloads: {DirDownload},
	mediaindex.CategoryImages:    {DirPictures, DirDCIM},
	mediaindex.CategoryAudio:     {DirMusic, DirPodcasts, DirRingtones, DirAlarms, DirNotifications, DirAudiobooks},
	mediaindex.CategoryVideo:     {DirMovies, DirDCIM},
}

// directoryCategories maps every directory to the one category new files
// created in it belong to.
var directoryCategories = map[string]mediaindex.Category{}

func init() {
	for _, entry := range []struct {
		dir      string
		category mediaindex.Category
	}{
		{DirDownload, mediaindex.CategoryDownloads},
		{DirPictures, mediaindex.CategoryImages},
		{DirDCIM, mediaindex.CategoryImages},
		{DirMusic, mediaindex.CategoryAudio},
		{DirPodcasts, mediaindex.CategoryAudio},
		{DirRingtones, mediaindex.CategoryAudio},
		{DirAlarms, mediaindex.CategoryAudio},
		{DirNotifications, mediaindex.CategoryAudio},
		{DirAudiobooks, mediaindex.CategoryAudio},
		{DirMovies, mediaindex.CategoryVideo},
	} {
		registerDirectory(directoryCategories, entry.dir, entry.category)
	}
}

// registerDirectory adds a directory mapping. Mapping a directory twice is
// a programming error.
func registerDirectory(table map[string]mediaindex.Category, dir string, category mediaindex.Category) {
	key := strings.ToLower(dir)
	if existing, dup := table[key]; dup {
		panic(fmt.Sprintf("media: directory %q mapped to both %s and %s", dir, existing, category))
	}
	table[key] = category
}

// Directories returns the well-known directories of a category.
func Directories(category mediaindex.Category) []string {
	return append([]string(nil), categoryDirectories[category]...)
}

// CategoryForDirectory returns the category owning a top-level directory,
// matched case-insensitively.
func CategoryForDirectory(dir string) (mediaindex.Category, bool) {
	c, ok := directoryCategories[strings.ToLower(strings.Trim(dir, "/"))]
	return c, ok
}

// AllowsDirectory reports whether files of category may live under dir.
func AllowsDirectory(category mediaindex.Category, dir string) bool {
	for _, d := range categoryDirectories[category] {
		if strings.EqualFold(d, dir) {
			return true
		}
	}
	return false
}
