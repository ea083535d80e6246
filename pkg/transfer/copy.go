package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/pkg/file"
	"github.com/marmos91/scopedfs/pkg/materializer"
)

// sniffLen is how much of a source is read to detect its type.
const sniffLen = 3072

const octetStream = "application/octet-stream"

// copyEntry creates the destination of e with mode and streams the source
// into it. With ModeReuse a destination that already has content is not
// touched and comes back as a conflict.
func (t *Transfer) copyEntry(ctx context.Context, e *entry, mode materializer.Mode, rep *reporter) (*ContentConflict, error) {
	parent, err := t.ensureDir(ctx, path.Dir(e.key()))
	if err != nil {
		return nil, err
	}

	rc, mimeType, err := t.openSource(ctx, e)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	dst, created, err := materializer.EnsureFile(ctx, parent, path.Base(e.key()), mimeType, mode)
	if err != nil {
		return nil, err
	}
	if mode == materializer.ModeReuse {
		info, err := dst.Stat(ctx)
		if err != nil {
			return nil, err
		}
		if info.Size > 0 {
			logger.Debug("Transfer %s: %s already has content", t.id, dst.URI())
			return &ContentConflict{
				Source:     e.src,
				Target:     dst,
				Path:       e.key(),
				Size:       e.size,
				Resolution: Skip,
				entry:      e,
			}, nil
		}
	}

	if err := t.stream(ctx, e, rc, dst, created, rep); err != nil {
		return nil, err
	}
	if e.rel == "" {
		e.root.target = dst
	}
	return nil, nil
}

// replace overwrites the conflicting destination of c.
func (t *Transfer) replace(ctx context.Context, c ContentConflict, rep *reporter) error {
	rc, _, err := t.openSource(ctx, c.entry)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := t.stream(ctx, c.entry, rc, c.Target, true, rep); err != nil {
		return err
	}
	if c.entry.rel == "" {
		c.entry.root.target = c.Target
	}
	return nil
}

// openSource opens e for reading. When its type is unknown the first bytes
// are sniffed and replayed in front of the rest of the stream.
func (t *Transfer) openSource(ctx context.Context, e *entry) (io.ReadCloser, string, error) {
	rc, err := e.src.OpenReader(ctx)
	if err != nil {
		return nil, "", withKind(err, file.NotFound, file.SourceNotFound, e.src.URI())
	}
	if e.mime != "" && e.mime != octetStream {
		return rc, e.mime, nil
	}

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		_ = rc.Close()
		return nil, "", file.Classify(err, e.src.URI())
	}
	header = header[:n]
	detected, _, _ := strings.Cut(mimetype.Detect(header).String(), ";")

	return struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(header), rc), rc}, strings.TrimSpace(detected), nil
}

// stream copies r into dst chunk by chunk. On failure or cancellation a
// partially written dst is deleted when owned, otherwise it is truncated
// back to the empty file it was.
func (t *Transfer) stream(ctx context.Context, e *entry, r io.Reader, dst file.File, owned bool, rep *reporter) error {
	w, err := dst.OpenWriter(ctx, false)
	if err != nil {
		return err
	}

	abort := func(cause error) error {
		_ = w.Close()
		if owned {
			if err := dst.Delete(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Transfer %s: failed to remove partial file %s: %v", t.id, dst.URI(), err)
			}
			return cause
		}
		if err := truncate(context.WithoutCancel(ctx), dst); err != nil {
			logger.Warn("Transfer %s: failed to truncate partial file %s: %v", t.id, dst.URI(), err)
		}
		return cause
	}

	buf := make([]byte, t.req.Options.ChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return abort(file.Classify(err, dst.URI()))
		}

		n, rerr := r.Read(buf)
		if n > 0 {
			if err := t.limiter.WaitN(ctx, n); err != nil {
				return abort(file.Classify(err, dst.URI()))
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return abort(file.Classify(err, dst.URI()))
			}
			written += int64(n)
			rep.add(int64(n))
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return abort(file.Classify(rerr, e.src.URI()))
		}
	}

	if err := w.Close(); err != nil {
		return abort(file.Classify(err, dst.URI()))
	}

	e.done = true
	t.result.TransferredFiles++
	t.result.Bytes += written
	rep.fileDone()
	return nil
}

func truncate(ctx context.Context, f file.File) error {
	w, err := f.OpenWriter(ctx, false)
	if err != nil {
		return err
	}
	return w.Close()
}

// reporter emits Progress at most once per interval. It stays silent for
// transfers up to ProgressThreshold bytes.
type reporter struct {
	emit     func(Progress)
	interval time.Duration

	total      int64
	moved      int64
	files      int
	totalFiles int

	last      time.Time
	lastMoved int64
}

func (t *Transfer) newReporter(total int64, totalFiles int) *reporter {
	rep := &reporter{
		interval:   t.req.Options.ProgressInterval,
		total:      total,
		totalFiles: totalFiles,
		last:       time.Now(),
	}
	if t.progress != nil && rep.interval >= 0 && total > ProgressThreshold {
		rep.emit = t.progress
	}
	return rep
}

func (r *reporter) add(n int64) {
	r.moved += n
	if r.emit == nil {
		return
	}
	now := time.Now()
	elapsed := now.Sub(r.last)
	if elapsed < r.interval {
		return
	}

	speed := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		speed = float64(r.moved-r.lastMoved) / secs
	}
	r.last = now
	r.lastMoved = r.moved
	r.emit(Progress{
		Percent:        float64(r.moved) * 100 / float64(r.total),
		BytesMoved:     r.moved,
		TotalBytes:     r.total,
		BytesPerSecond: speed,
		FilesDone:      r.files,
		TotalFiles:     r.totalFiles,
	})
}

func (r *reporter) fileDone() {
	r.files++
}
