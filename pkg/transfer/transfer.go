// Package transfer copies and moves files, directory trees and
// heterogeneous file sets between resolved handles.
//
// A transfer is a state machine. Next runs it until the next point where
// the caller has to look at something or decide something, and returns
// that point as a Suspension value. The caller answers with Resume or
// Abort and calls Next again, until Next returns *Done. Drive does this
// loop on behalf of callers that prefer callbacks.
//
// States, in order:
//
//	Validate -> Prepare -> ParentConflict -> Counting -> FastRename ->
//	CheckFreeSpace -> Transferring -> ContentConflict -> Finalize
//
// ending in Completed or Failed.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/internal/ratelimiter"
	"github.com/marmos91/scopedfs/pkg/file"
	"github.com/marmos91/scopedfs/pkg/metrics"
	"github.com/marmos91/scopedfs/pkg/platform"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

const (
	// DefaultChunkSize is the streaming buffer size.
	DefaultChunkSize = 64 * 1024

	// ProgressThreshold is the total size above which progress is reported.
	ProgressThreshold = 10 * 1024 * 1024
)

// ErrNotSuspended is returned by Resume and Abort when the transfer is not
// waiting for an answer.
var ErrNotSuspended = errors.New("transfer is not suspended")

// Resolution decides the fate of a conflicting entry.
type Resolution int

const (
	// Skip leaves the existing entry alone and does not transfer the source.
	Skip Resolution = iota

	// Replace deletes the existing entry first.
	Replace

	// CreateNew transfers under the next free "name (n)".
	CreateNew

	// Merge recurses into an existing directory. Directory sources only.
	Merge
)

func (r Resolution) String() string {
	switch r {
	case Skip:
		return "skip"
	case Replace:
		return "replace"
	case CreateNew:
		return "create_new"
	case Merge:
		return "merge"
	default:
		return fmt.Sprintf("Resolution(%d)", int(r))
	}
}

// State is a step of the transfer state machine.
type State int

const (
	StateValidate State = iota
	StatePrepare
	StateParentConflict
	StateCounting
	StateFastRename
	StateCheckFreeSpace
	StateTransferring
	StateContentConflict
	StateFinalize
	StateCompleted
	StateFailed
)

var stateNames = [...]string{
	"validate", "prepare", "parent_conflict", "counting", "fast_rename",
	"check_free_space", "transferring", "content_conflict", "finalize",
	"completed", "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options tune a transfer.
type Options struct {
	// DeleteSource gives move semantics: sources are deleted once they
	// have been transferred.
	DeleteSource bool

	// SkipEmptyFiles leaves zero-length files out of the transfer.
	SkipEmptyFiles bool

	// Exclude lists doublestar patterns matched against paths relative to
	// each source root, e.g. "**/*.tmp" or "cache/**".
	Exclude []string

	// ChunkSize is the streaming buffer size. Zero means DefaultChunkSize.
	ChunkSize int

	// ProgressInterval is the minimum delay between progress reports.
	// Zero reports after every chunk; a negative value disables reporting.
	ProgressInterval time.Duration

	// BytesPerSecond caps the streaming throughput. Zero is unlimited.
	BytesPerSecond uint64
}

// Request describes what to transfer where.
type Request struct {
	// Sources are files or directories, transferred under their own names.
	Sources []file.File

	// Target is the destination directory.
	Target file.File

	Options Options
}

// Progress is a periodic report of a running transfer.
type Progress struct {
	Percent        float64
	BytesMoved     int64
	TotalBytes     int64
	BytesPerSecond float64
	FilesDone      int
	TotalFiles     int
}

// Result is the outcome of a finished transfer.
type Result struct {
	// Target is the transferred entry for a single source, the target
	// directory otherwise.
	Target file.File

	TotalFiles       int
	TransferredFiles int
	SkippedFiles     int
	Bytes            int64

	// Success is true when every counted file was either transferred or
	// deliberately skipped.
	Success bool

	// Err is the *file.Error that ended the transfer early, if any.
	Err error
}

// Engine creates transfers sharing the same platform collaborators.
type Engine struct {
	layout  storagepath.Layout
	space   platform.SpaceProvider
	mounts  platform.MountResolver
	metrics metrics.TransferMetrics
}

// NewEngine creates an Engine.
//
// Parameters:
//   - layout: Maps handles to device paths for mount and space lookups
//   - space: Free space oracle. Nil skips the free space check
//   - mounts: Mount table. Nil disables the rename fast path
//   - m: Transfer metrics. Nil means no-op
func NewEngine(layout storagepath.Layout, space platform.SpaceProvider, mounts platform.MountResolver, m metrics.TransferMetrics) *Engine {
	if m == nil {
		m = metrics.NewNoopTransferMetrics()
	}
	return &Engine{layout: layout, space: space, mounts: mounts, metrics: m}
}

// Transfer is one running copy or move. It is not safe for concurrent use.
type Transfer struct {
	id     string
	engine *Engine
	req    Request
	state  State

	pending Suspension
	aborted bool

	roots   []*root
	entries []*entry
	dirs    map[string]file.File

	conflicts         []ContentConflict
	conflictsAnswered bool

	result   Result
	limiter  *ratelimiter.RateLimiter
	progress func(Progress)

	started time.Time
}

// NewTransfer prepares a transfer. Nothing happens until Next is called.
func (e *Engine) NewTransfer(req Request) *Transfer {
	if req.Options.ChunkSize <= 0 {
		req.Options.ChunkSize = DefaultChunkSize
	}
	return &Transfer{
		id:      uuid.NewString(),
		engine:  e,
		req:     req,
		state:   StateValidate,
		dirs:    make(map[string]file.File),
		limiter: ratelimiter.New(req.Options.BytesPerSecond, 0),
	}
}

// ID returns the unique transfer identifier.
func (t *Transfer) ID() string {
	return t.id
}

// State returns the current state.
func (t *Transfer) State() State {
	return t.state
}

// OnProgress registers the progress listener. It is called on the goroutine
// running Next.
func (t *Transfer) OnProgress(fn func(Progress)) {
	t.progress = fn
}

func (t *Transfer) op() string {
	if t.req.Options.DeleteSource {
		return "move"
	}
	return "copy"
}

// Next runs the transfer up to the next suspension. While a suspension is
// unanswered, Next returns it again.
func (t *Transfer) Next(ctx context.Context) Suspension {
	if t.aborted && t.state != StateCompleted && t.state != StateFailed {
		if err := ctx.Err(); err != nil {
			return t.fail(file.Classify(err, uri(t.req.Target)))
		}
		return t.fail(t.abortError())
	}
	if t.pending != nil {
		return t.pending
	}
	if t.started.IsZero() {
		t.started = time.Now()
		t.engine.metrics.RecordTransferStart(t.op())
		logger.Info("Transfer %s: %s of %d source(s) to %s", t.id, t.op(), len(t.req.Sources), uri(t.req.Target))
	}

	for {
		switch t.state {
		case StateCompleted, StateFailed:
			return &Done{Result: t.result}
		}

		s, err := t.step(ctx)
		if err != nil {
			return t.fail(err)
		}
		if s != nil {
			t.pending = s
			logger.Debug("Transfer %s: suspended in %s", t.id, t.state)
			return s
		}
	}
}

// Resume accepts the pending suspension, including any resolutions the
// caller wrote into it.
func (t *Transfer) Resume() error {
	switch s := t.pending.(type) {
	case nil, *Done:
		return ErrNotSuspended
	case *ParentConflicts:
		t.applyParentResolutions(s.Conflicts)
		t.state++
	case *ContentConflicts:
		t.conflicts = s.Conflicts
		t.conflictsAnswered = true
	default:
		t.state++
	}
	t.pending = nil
	return nil
}

// Abort rejects the pending suspension, ending the transfer.
func (t *Transfer) Abort() error {
	switch t.pending.(type) {
	case nil, *Done:
		return ErrNotSuspended
	}
	t.aborted = true
	return nil
}

func (t *Transfer) abortError() error {
	s := t.pending
	t.pending = nil
	if _, ok := s.(*FreeSpaceCheck); ok {
		return file.NewError(file.NoSpaceOnTarget, uri(t.req.Target), "not enough free space")
	}
	return file.NewError(file.Canceled, uri(t.req.Target), "aborted in %s", t.state)
}

// step runs the current state. It returns a suspension to hand to the
// caller, or nil after moving to the next state.
func (t *Transfer) step(ctx context.Context) (Suspension, error) {
	switch t.state {
	case StateValidate:
		if err := t.validate(ctx); err != nil {
			return nil, err
		}
		return &ValidateHook{Sources: t.req.Sources, Target: t.req.Target}, nil

	case StatePrepare:
		return &PrepareHook{Sources: t.req.Sources, Target: t.req.Target}, nil

	case StateParentConflict:
		conflicts, err := t.findParentConflicts(ctx)
		if err != nil {
			return nil, err
		}
		if len(conflicts) == 0 {
			t.state++
			return nil, nil
		}
		t.engine.metrics.RecordConflicts(t.op(), "parent", len(conflicts))
		return &ParentConflicts{Conflicts: conflicts}, nil

	case StateCounting:
		if err := t.count(ctx); err != nil {
			return nil, err
		}

	case StateFastRename:
		if err := t.fastRename(ctx); err != nil {
			return nil, err
		}

	case StateCheckFreeSpace:
		check, err := t.checkFreeSpace()
		if err != nil {
			return nil, err
		}
		if check != nil {
			return check, nil
		}

	case StateTransferring:
		if err := t.transfer(ctx); err != nil {
			return nil, err
		}

	case StateContentConflict:
		if len(t.conflicts) > 0 && !t.conflictsAnswered {
			t.engine.metrics.RecordConflicts(t.op(), "content", len(t.conflicts))
			return &ContentConflicts{Conflicts: t.conflicts}, nil
		}
		if err := t.resolveContentConflicts(ctx); err != nil {
			return nil, err
		}

	case StateFinalize:
		t.finalize(ctx)
		return nil, t.complete()

	default:
		return nil, fmt.Errorf("transfer in unexpected state %s", t.state)
	}

	t.state++
	return nil, nil
}

func (t *Transfer) complete() error {
	r := &t.result
	r.Target = t.resultTarget()
	r.Success = r.TransferredFiles+r.SkippedFiles == r.TotalFiles
	t.state = StateCompleted

	outcome := "success"
	if !r.Success {
		outcome = "partial"
	}
	t.engine.metrics.RecordTransferEnd(t.op(), outcome, r.TransferredFiles, r.Bytes, time.Since(t.started))
	logger.Info("Transfer %s: %s, %d/%d file(s), %d byte(s) in %s",
		t.id, outcome, r.TransferredFiles, r.TotalFiles, r.Bytes, time.Since(t.started))
	return nil
}

func (t *Transfer) fail(err error) Suspension {
	var fe *file.Error
	if !errors.As(err, &fe) {
		err = file.Classify(err, uri(t.req.Target))
	}
	t.pending = nil
	t.result.Err = err
	t.result.Success = false
	if t.result.Target == nil {
		t.result.Target = t.req.Target
	}
	t.state = StateFailed

	kind := file.KindOf(err)
	t.engine.metrics.RecordTransferEnd(t.op(), kind.String(), t.result.TransferredFiles, t.result.Bytes, time.Since(t.started))
	if kind == file.Canceled {
		logger.Info("Transfer %s: canceled after %d file(s)", t.id, t.result.TransferredFiles)
	} else {
		logger.Warn("Transfer %s failed: %v", t.id, err)
	}
	return &Done{Result: t.result}
}

func (t *Transfer) excluded(rel string) bool {
	for _, pattern := range t.req.Options.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func uri(f file.File) string {
	if f == nil {
		return ""
	}
	return f.URI()
}
