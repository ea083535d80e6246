package file

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/scopedfs/pkg/mediaindex"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// Media is a handle on a media index row. Rows are always files.
type Media struct {
	provider *mediaindex.Provider
	rec      mediaindex.Record
}

// NewMedia creates a handle on rec.
func NewMedia(provider *mediaindex.Provider, rec mediaindex.Record) *Media {
	return &Media{provider: provider, rec: rec}
}

func (m *Media) sealed() {}

// Record returns the row as it was when the handle was resolved.
func (m *Media) Record() mediaindex.Record {
	return m.rec
}

// ID returns the row id.
func (m *Media) ID() int64 {
	return m.rec.ID
}

func (m *Media) location() storagepath.Path {
	return storagepath.New(storagepath.VolumePrimary, strings.TrimSuffix(m.rec.RelativePath, "/")).Child(m.rec.DisplayName)
}

func (m *Media) Kind() Kind {
	return KindMedia
}

func (m *Media) Name() string {
	return m.rec.DisplayName
}

func (m *Media) URI() string {
	return fmt.Sprintf("content://media/external/%s/%d", m.rec.Category, m.rec.ID)
}

func (m *Media) Stat(ctx context.Context) (Info, error) {
	rec, err := m.provider.Get(ctx, m.rec.ID)
	if err != nil {
		return Info{}, Classify(err, m.URI())
	}
	return Info{
		Name:     rec.DisplayName,
		Size:     rec.Size,
		ModTime:  rec.DateModified,
		MimeType: rec.MimeType,
	}, nil
}

func (m *Media) Exists(ctx context.Context) bool {
	_, err := m.Stat(ctx)
	return err == nil
}

func (m *Media) notSupported(op string) error {
	return NewError(NotSupported, m.URI(), "%s on a media row", op)
}

func (m *Media) List(context.Context) ([]File, error) {
	return nil, m.notSupported("list")
}

func (m *Media) Child(context.Context, string) (File, error) {
	return nil, m.notSupported("child lookup")
}

func (m *Media) CreateDir(context.Context, string) (File, error) {
	return nil, m.notSupported("create directory")
}

func (m *Media) CreateFile(context.Context, string, string) (File, error) {
	return nil, m.notSupported("create file")
}

func (m *Media) OpenReader(ctx context.Context) (io.ReadCloser, error) {
	r, err := m.provider.OpenReader(ctx, m.rec.ID)
	if err != nil {
		return nil, Classify(err, m.URI())
	}
	return r, nil
}

func (m *Media) OpenWriter(ctx context.Context, appendMode bool) (io.WriteCloser, error) {
	w, err := m.provider.OpenWriter(ctx, m.rec.ID, appendMode)
	if err != nil {
		return nil, Classify(err, m.URI())
	}
	return w, nil
}

func (m *Media) Delete(ctx context.Context) error {
	return Classify(m.provider.Delete(ctx, m.rec.ID), m.URI())
}

func (m *Media) Rename(ctx context.Context, name string) (File, error) {
	rec, err := m.provider.Rename(ctx, m.rec.ID, storagepath.SanitizeName(name))
	if err != nil {
		return nil, Classify(err, m.URI())
	}
	return NewMedia(m.provider, rec), nil
}

// Parent always fails: the index has no directory rows.
func (m *Media) Parent() (File, bool) {
	return nil, false
}
