package grant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/pkg/metrics"
)

// Sweeper periodically releases redundant grants.
//
// The sweep takes no lock on the grant table. It only releases grants
// subsumed by another grant, so running it concurrently with itself or
// with new grants being persisted is safe: a second run finds nothing left
// to do, and a grant that vanished in between is simply skipped.
//
// Thread Safety: Safe for concurrent use.
type Sweeper struct {
	store    Store
	config   SweepConfig
	metrics  metrics.GrantMetrics
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool
	mu       sync.Mutex
}

// SweepConfig contains configuration for the redundant-grant sweep.
type SweepConfig struct {
	// Enabled controls whether the periodic sweep runs (default: true)
	Enabled bool

	// Interval is how often to sweep (default: 1h)
	Interval time.Duration

	// DryRun logs what would be released without releasing anything
	DryRun bool
}

// NewSweeper creates a sweeper. Call Start to begin periodic sweeps.
func NewSweeper(store Store, config SweepConfig, m metrics.GrantMetrics) *Sweeper {
	if config.Interval == 0 {
		config.Interval = time.Hour
	}
	if m == nil {
		m = metrics.NewNoopGrantMetrics()
	}
	return &Sweeper{
		store:   store,
		config:  config,
		metrics: m,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the background worker. Subsequent calls are no-ops.
func (s *Sweeper) Start() {
	if !s.config.Enabled {
		logger.Info("Grant sweep disabled")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	logger.Info("Starting grant sweeper: interval=%s dry_run=%v", s.config.Interval, s.config.DryRun)
	go s.worker()
}

// Stop signals the worker and waits for it to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	s.stopOnce.Do(func() { close(s.stopCh) })

	select {
	case <-s.doneCh:
		logger.Info("Grant sweeper stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Grant sweeper shutdown timeout")
		return ctx.Err()
	}
}

// RunNow performs one sweep and blocks until it completes.
func (s *Sweeper) RunNow(ctx context.Context) (*SweepStats, error) {
	logger.Debug("Running grant sweep (manual trigger)")
	return s.sweep(ctx)
}

func (s *Sweeper) worker() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			stats, err := s.sweep(ctx)
			cancel()

			if err != nil {
				logger.Error("Grant sweep failed: %v", err)
			} else {
				logger.Debug("Grant sweep completed: %s", stats.Summary())
			}

		case <-s.stopCh:
			return
		}
	}
}

// sweep runs one pass:
//  1. List the grant table
//  2. Find grants subsumed by another grant
//  3. Release them one by one
func (s *Sweeper) sweep(ctx context.Context) (*SweepStats, error) {
	stats := &SweepStats{StartTime: time.Now()}
	defer func() {
		stats.EndTime = time.Now()
		s.metrics.RecordSweep(int(stats.ReleasedCount), int(stats.FailedCount), stats.Duration())
	}()

	grants, err := s.store.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list grants: %w", err)
	}
	stats.GrantCount = uint64(len(grants))

	redundant := FindRedundant(grants)
	stats.RedundantCount = uint64(len(redundant))
	if len(redundant) == 0 {
		s.metrics.SetGrantCount(len(grants))
		return stats, nil
	}

	if s.config.DryRun {
		for _, g := range redundant {
			logger.Info("Grant sweep: DRY RUN - would release %s", g.URI)
		}
		s.metrics.SetGrantCount(len(grants))
		return stats, nil
	}

	for _, g := range redundant {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		err := s.store.Release(ctx, g.URI)
		switch {
		case err == nil:
			stats.ReleasedCount++
			logger.Debug("Grant sweep: released %s (%s:%s)", g.URI, g.VolumeID, g.BasePath)
		case errors.Is(err, ErrGrantNotFound):
			// Released concurrently.
		default:
			stats.FailedCount++
			logger.Warn("Grant sweep: failed to release %s: %v", g.URI, err)
		}
	}

	s.metrics.SetGrantCount(len(grants) - int(stats.ReleasedCount))
	return stats, nil
}

// SweepStats contains statistics from a sweep run.
type SweepStats struct {
	StartTime      time.Time
	EndTime        time.Time
	GrantCount     uint64 // Grants held when the sweep started
	RedundantCount uint64 // Grants found subsumed by another grant
	ReleasedCount  uint64 // Grants released
	FailedCount    uint64 // Grants that failed to release
}

// Duration returns how long the sweep took.
func (s *SweepStats) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a one-line description of the run.
func (s *SweepStats) Summary() string {
	return fmt.Sprintf("grants=%d redundant=%d released=%d failed=%d duration=%s",
		s.GrantCount, s.RedundantCount, s.ReleasedCount, s.FailedCount, s.Duration())
}
