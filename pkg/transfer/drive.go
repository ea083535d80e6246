package transfer

import (
	"context"
	"sync"
)

// Dispatcher runs caller-visible callbacks on the caller's execution
// context, for instance a UI loop.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

func (f DispatcherFunc) Dispatch(fn func()) {
	f(fn)
}

// Inline runs callbacks on the goroutine driving the transfer.
var Inline Dispatcher = DispatcherFunc(func(fn func()) { fn() })

// SerialDispatcher runs callbacks one at a time on its own goroutine, in
// submission order.
type SerialDispatcher struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

// NewSerialDispatcher starts a dispatcher with a queue of the given size.
func NewSerialDispatcher(buffer int) *SerialDispatcher {
	d := &SerialDispatcher{
		queue: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		for fn := range d.queue {
			fn()
		}
	}()
	return d
}

// Dispatch queues fn. It must not be called after Close.
func (d *SerialDispatcher) Dispatch(fn func()) {
	d.queue <- fn
}

// Close waits for the queued callbacks to run and stops the dispatcher.
func (d *SerialDispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	<-d.done
}

// Callbacks answer the suspensions of a driven transfer. Every field is
// optional. The defaults proceed through hooks, skip every conflict, accept
// the free space check when the data fits and ignore progress.
type Callbacks struct {
	// OnValidate returns false to cancel the transfer.
	OnValidate func(*ValidateHook) bool

	OnPrepare func(*PrepareHook)

	// OnParentConflicts sets the Resolution of each conflict in place.
	OnParentConflicts func([]ParentConflict)

	// OnFreeSpace returns false to fail with NoSpaceOnTarget.
	OnFreeSpace func(*FreeSpaceCheck) bool

	// OnContentConflicts sets the Resolution of each conflict in place.
	OnContentConflicts func([]ContentConflict)

	// OnProgress must not block. It is dispatched without waiting.
	OnProgress func(Progress)

	OnDone func(Result)
}

// Drive runs t to completion. Every callback runs through d while the
// transfer waits for its answer. A nil d means Inline.
func Drive(ctx context.Context, t *Transfer, cb Callbacks, d Dispatcher) Result {
	if d == nil {
		d = Inline
	}
	if cb.OnProgress != nil {
		t.OnProgress(func(p Progress) {
			d.Dispatch(func() { cb.OnProgress(p) })
		})
	}

	for {
		var proceed bool
		switch s := t.Next(ctx).(type) {
		case *Done:
			if cb.OnDone != nil {
				await(ctx, d, func() bool { cb.OnDone(s.Result); return true })
			}
			return s.Result

		case *ValidateHook:
			proceed = cb.OnValidate == nil || await(ctx, d, func() bool { return cb.OnValidate(s) })

		case *PrepareHook:
			proceed = cb.OnPrepare == nil || await(ctx, d, func() bool { cb.OnPrepare(s); return true })

		case *ParentConflicts:
			proceed = cb.OnParentConflicts == nil ||
				await(ctx, d, func() bool { cb.OnParentConflicts(s.Conflicts); return true })

		case *FreeSpaceCheck:
			if cb.OnFreeSpace == nil {
				proceed = s.Fits()
			} else {
				proceed = await(ctx, d, func() bool { return cb.OnFreeSpace(s) })
			}

		case *ContentConflicts:
			proceed = cb.OnContentConflicts == nil ||
				await(ctx, d, func() bool { cb.OnContentConflicts(s.Conflicts); return true })
		}

		if proceed && ctx.Err() == nil {
			_ = t.Resume()
		} else {
			_ = t.Abort()
		}
	}
}

// await hands fn to d and blocks until it answers or ctx is done.
func await(ctx context.Context, d Dispatcher, fn func() bool) bool {
	answer := make(chan bool, 1)
	d.Dispatch(func() { answer <- fn() })
	select {
	case v := <-answer:
		return v
	case <-ctx.Done():
		return false
	}
}
