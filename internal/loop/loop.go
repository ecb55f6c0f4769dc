// Package loop serialises all preview engine state onto one goroutine.
// Network calls and timers run elsewhere and post their continuations back.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var ErrStopped = errors.New("loop stopped")

const defaultQueueSize = 256

type Loop struct {
	queue   chan func()
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	pending atomic.Int64
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		queue:   make(chan func(), defaultQueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// Run processes posted functions until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case fn := <-l.queue:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("loop task panic",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}

// Stop ends Run. Functions still queued are dropped.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

// Post queues fn. It reports false when the loop has been stopped.
// Post must not be called from the loop goroutine while the queue is full.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	case <-l.stopped:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	case <-l.stopped:
		return false
	}
}

// Call runs fn on the loop and waits for it. It must not be called from
// the loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrStopped
	}
}

// Go runs work on its own goroutine and delivers its result to done on the
// loop. done is skipped when the loop stops first.
func Go[T any](l *Loop, work func() (T, error), done func(T, error)) {
	l.pending.Add(1)
	go func() {
		var (
			v   T
			err error
		)
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("loop work panic: %v", rec)
				}
			}()
			v, err = work()
		}()
		if !l.Post(func() {
			defer l.pending.Add(-1)
			done(v, err)
		}) {
			l.pending.Add(-1)
		}
	}()
}

// Pending reports how many Go continuations have not run yet.
func (l *Loop) Pending() int64 {
	return l.pending.Load()
}

// AfterFunc posts fn to the loop after d. The returned cancel prevents fn
// from running even if the timer already fired and fn is queued.
func (l *Loop) AfterFunc(d time.Duration, fn func()) (cancel func()) {
	var cancelled atomic.Bool
	timer := time.AfterFunc(d, func() {
		l.Post(func() {
			if cancelled.Load() {
				return
			}
			fn()
		})
	})
	return func() {
		cancelled.Store(true)
		timer.Stop()
	}
}

// Flush blocks until every Go continuation started so far, and any started
// by those continuations, has run on the loop.
func (l *Loop) Flush(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if l.pending.Load() == 0 {
			if err := l.Call(ctx, func() {}); err != nil {
				return err
			}
			if l.pending.Load() == 0 {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopped:
			return ErrStopped
		case <-ticker.C:
		}
	}
}
