// Package media creates and finds shared media files.
//
// On platforms that require the structured media index, files of the four
// shared categories are rows of the index. Elsewhere they are ordinary
// files under the category's well-known directories, created through the
// materializer.
package media

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/pkg/access"
	"github.com/marmos91/scopedfs/pkg/file"
	"github.com/marmos91/scopedfs/pkg/materializer"
	"github.com/marmos91/scopedfs/pkg/mediaindex"
	"github.com/marmos91/scopedfs/pkg/platform"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// FileDescription describes a media file to create.
type FileDescription struct {
	// Name is the display name. It gets the canonical extension of
	// MimeType when it has none.
	Name string

	// SubFolder is created below the category directory.
	SubFolder string

	MimeType string
}

// Adapter routes media operations to the index or to the filesystem.
type Adapter struct {
	caps         platform.Capabilities
	provider     *mediaindex.Provider
	materializer *materializer.Materializer
	resolver     *access.Resolver
}

// NewAdapter creates an Adapter.
func NewAdapter(caps platform.Capabilities, provider *mediaindex.Provider, m *materializer.Materializer, resolver *access.Resolver) *Adapter {
	return &Adapter{caps: caps, provider: provider, materializer: m, resolver: resolver}
}

// UsesIndex reports whether files of category go through the index.
func (a *Adapter) UsesIndex(category mediaindex.Category) bool {
	if !a.caps.MediaIndexRequired {
		return false
	}
	return category != mediaindex.CategoryDownloads || a.caps.StructuredDownloadsIndex
}

// CreateFile creates a media file under directory, one of the category's
// well-known directories.
//
// Through the index, an existing row with the same relative path and
// display name is reused when its payload is empty. Otherwise mode
// applies, with "name (n)" suffixes computed from the index rows.
func (a *Adapter) CreateFile(ctx context.Context, category mediaindex.Category, directory string, desc FileDescription, mode materializer.Mode) (file.File, error) {
	if !AllowsDirectory(category, directory) {
		return nil, file.NewError(file.InvalidPath, directory, "not a %s directory", category)
	}
	name := materializer.WithExtension(storagepath.SanitizeName(desc.Name), desc.MimeType)
	if name == "" {
		return nil, file.NewError(file.InvalidPath, directory, "empty file name")
	}
	relativePath := storagepath.Join(directory, desc.SubFolder)

	if !a.UsesIndex(category) {
		return a.materializer.CreateFile(ctx, storagepath.VolumePrimary, storagepath.Join(relativePath, name), desc.MimeType, mode)
	}

	existing, err := a.query(ctx, category, relativePath, name)
	if err != nil {
		return nil, err
	}

	if len(existing) > 0 {
		rec, err := a.provider.Get(ctx, existing[0].ID)
		if err != nil {
			return nil, file.Classify(err, relativePath)
		}
		switch {
		case rec.Size == 0, mode == materializer.ModeReuse:
			return file.NewMedia(a.provider, rec), nil
		case mode == materializer.ModeReplace:
			for _, r := range existing {
				if err := a.provider.Delete(ctx, r.ID); err != nil && !errors.Is(err, mediaindex.ErrRecordNotFound) {
					return nil, file.Classify(err, relativePath)
				}
			}
		default:
			siblings, err := a.query(ctx, category, relativePath, "")
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(siblings))
			for _, s := range siblings {
				names = append(names, s.DisplayName)
			}
			name = materializer.NextAvailableName(names, name)
		}
	}

	rec, err := a.provider.Insert(ctx, mediaindex.Record{
		Category:     category,
		DisplayName:  name,
		MimeType:     desc.MimeType,
		RelativePath: relativePath,
	})
	if err != nil {
		if errors.Is(err, mediaindex.ErrInvalidRecord) {
			return nil, &file.Error{Kind: file.InvalidPath, Path: relativePath, Err: err}
		}
		return nil, &file.Error{Kind: file.CannotCreateInTarget, Path: relativePath, Err: err}
	}
	logger.Debug("Inserted media row %d: %s%s", rec.ID, rec.RelativePath, rec.DisplayName)
	return file.NewMedia(a.provider, rec), nil
}

// Find returns the media file named name in relativePath.
func (a *Adapter) Find(ctx context.Context, category mediaindex.Category, relativePath, name string) (file.File, error) {
	if !a.UsesIndex(category) {
		return a.resolver.Find(ctx, storagepath.VolumePrimary, storagepath.Join(relativePath, name), false)
	}

	recs, err := a.query(ctx, category, relativePath, name)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, file.NewError(file.NotFound, storagepath.Join(relativePath, name), "no %s row", category)
	}
	return file.NewMedia(a.provider, recs[0]), nil
}

// FindAll returns the media files directly in relativePath. An empty
// relativePath covers every well-known directory of the category.
func (a *Adapter) FindAll(ctx context.Context, category mediaindex.Category, relativePath string) ([]file.File, error) {
	if !a.UsesIndex(category) {
		return a.listDirectories(ctx, category, relativePath)
	}

	var recs []mediaindex.Record
	var err error
	if storagepath.Normalize(relativePath) == "" {
		recs, err = a.provider.Query(ctx, category, mediaindex.Filter{})
		if err != nil {
			return nil, file.Classify(err, string(category))
		}
	} else {
		recs, err = a.query(ctx, category, relativePath, "")
		if err != nil {
			return nil, err
		}
	}

	files := make([]file.File, 0, len(recs))
	for _, r := range recs {
		files = append(files, file.NewMedia(a.provider, r))
	}
	return files, nil
}

// query matches rows on relative path in both its slash-terminated and
// bare forms, ordered by id.
func (a *Adapter) query(ctx context.Context, category mediaindex.Category, relativePath, name string) ([]mediaindex.Record, error) {
	suffixed := mediaindex.WithTrailingSeparator(relativePath)
	forms := []string{suffixed}
	if bare := strings.TrimSuffix(suffixed, "/"); bare != "" {
		forms = append(forms, bare)
	}

	seen := make(map[int64]struct{})
	var recs []mediaindex.Record
	for _, rel := range forms {
		found, err := a.provider.Query(ctx, category, mediaindex.Filter{
			RelativePath:   rel,
			DisplayName:    name,
			IncludePending: true,
		})
		if err != nil {
			return nil, file.Classify(err, relativePath)
		}
		for _, r := range found {
			if _, dup := seen[r.ID]; !dup {
				seen[r.ID] = struct{}{}
				recs = append(recs, r)
			}
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

// listDirectories enumerates files on disk when there is no index.
func (a *Adapter) listDirectories(ctx context.Context, category mediaindex.Category, relativePath string) ([]file.File, error) {
	dirs := []string{storagepath.Normalize(relativePath)}
	if dirs[0] == "" {
		dirs = Directories(category)
	}

	var files []file.File
	for _, dir := range dirs {
		d, err := a.resolver.Find(ctx, storagepath.VolumePrimary, dir, false)
		if errors.Is(err, file.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		children, err := d.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			info, err := c.Stat(ctx)
			if err == nil && !info.IsDir {
				files = append(files, c)
			}
		}
	}
	return files, nil
}
