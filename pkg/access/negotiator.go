package access

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/pkg/document"
	"github.com/marmos91/scopedfs/pkg/file"
	"github.com/marmos91/scopedfs/pkg/grant"
	"github.com/marmos91/scopedfs/pkg/metrics"
	"github.com/marmos91/scopedfs/pkg/platform"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

// ErrWrongVolume is returned when the user picked a tree on another volume
// than the one access was requested for.
var ErrWrongVolume = errors.New("granted tree is on another volume")

// Negotiator runs the explicit access request flow. Nothing in the module
// calls it implicitly.
type Negotiator struct {
	picker  platform.Picker
	grants  grant.Store
	metrics metrics.GrantMetrics
	now     func() time.Time
}

// NewNegotiator creates a Negotiator. A nil m disables metrics.
func NewNegotiator(picker platform.Picker, grants grant.Store, m metrics.GrantMetrics) *Negotiator {
	if m == nil {
		m = metrics.NewNoopGrantMetrics()
	}
	return &Negotiator{picker: picker, grants: grants, metrics: m, now: time.Now}
}

// RequestAccess launches the picker at (volume, initialBasePath), checks
// that the approved tree is on the requested volume and persists a
// read/write grant for it.
//
// When the grant table is full, redundant grants are released and the
// grant is persisted again once.
func (n *Negotiator) RequestAccess(ctx context.Context, volume storagepath.VolumeID, initialBasePath string) (grant.Grant, error) {
	hint := storagepath.New(volume, initialBasePath)

	raw, err := n.picker.LaunchDocumentTreePicker(ctx, hint)
	if err != nil {
		if errors.Is(err, platform.ErrPickerCanceled) {
			n.metrics.RecordAccessRequest("canceled")
			return grant.Grant{}, &file.Error{Kind: file.Canceled, Path: hint.Compact(), Err: err}
		}
		n.metrics.RecordAccessRequest("error")
		return grant.Grant{}, file.Classify(err, hint.Compact())
	}

	uri, err := document.ParseURI(raw)
	if err != nil {
		n.metrics.RecordAccessRequest("error")
		return grant.Grant{}, file.Classify(err, raw)
	}
	g, err := grant.New(uri, true, true, n.now())
	if err != nil {
		n.metrics.RecordAccessRequest("error")
		return grant.Grant{}, file.Classify(err, raw)
	}
	if g.VolumeID != volume {
		n.metrics.RecordAccessRequest("wrong_volume")
		return grant.Grant{}, &file.Error{
			Kind:     file.AccessDenied,
			Path:     g.Location().Compact(),
			Err:      ErrWrongVolume,
			Recovery: &file.Recovery{Volume: volume, BasePath: hint.Base},
		}
	}

	err = n.grants.Persist(ctx, g)
	if errors.Is(err, grant.ErrGrantLimit) {
		logger.Info("Grant table full, releasing redundant grants before persisting %s", g.URI)
		sweeper := grant.NewSweeper(n.grants, grant.SweepConfig{}, n.metrics)
		if _, sweepErr := sweeper.RunNow(ctx); sweepErr != nil {
			logger.Warn("Redundant grant sweep failed: %v", sweepErr)
		}
		err = n.grants.Persist(ctx, g)
	}
	if err != nil {
		n.metrics.RecordAccessRequest("error")
		return grant.Grant{}, file.Wrap(file.UnknownIOError, g.URI, err)
	}

	logger.Info("Access granted to %s (%s)", g.Location(), g.URI)
	n.metrics.RecordAccessRequest("granted")
	return g, nil
}
