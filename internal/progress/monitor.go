// Package progress implements the progress/cancellation monitor that the
// recognizer polls once per word.
package progress

import (
	"context"
	"sync/atomic"
	"time"
)

// Monitor combines a context, an optional wall-clock deadline and an
// optional cancel predicate. It is safe for concurrent use.
type Monitor struct {
	ctx        context.Context
	deadline   time.Time
	cancelFn   func(done, total int) bool
	onProgress func(int)
	progress   atomic.Int32
}

// Option configures a Monitor
type Option func(*Monitor)

// WithDeadline trips the monitor at t
func WithDeadline(t time.Time) Option {
	return func(m *Monitor) { m.deadline = t }
}

// WithTimeout trips the monitor d after construction
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.deadline = time.Now().Add(d) }
}

// WithCancelFunc installs a predicate consulted with the words done so far
// and the words in the pass.
func WithCancelFunc(fn func(done, total int) bool) Option {
	return func(m *Monitor) { m.cancelFn = fn }
}

// WithProgressFunc observes every progress update
func WithProgressFunc(fn func(int)) Option {
	return func(m *Monitor) { m.onProgress = fn }
}

// New creates a monitor bound to ctx
func New(ctx context.Context, opts ...Option) *Monitor {
	if ctx == nil {
		ctx = context.Background()
	}
	m := &Monitor{ctx: ctx}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DeadlineExceeded reports whether the wall-clock deadline or the context
// deadline has passed.
func (m *Monitor) DeadlineExceeded() bool {
	if !m.deadline.IsZero() && time.Now().After(m.deadline) {
		return true
	}
	return m.ctx.Err() == context.DeadlineExceeded
}

// Cancel reports whether the caller asked to stop
func (m *Monitor) Cancel(done, total int) bool {
	if m.ctx.Err() != nil {
		return true
	}
	return m.cancelFn != nil && m.cancelFn(done, total)
}

// SetProgress records a percentage, clamped to 0..100
func (m *Monitor) SetProgress(p int) {
	p = min(max(p, 0), 100)
	m.progress.Store(int32(p))
	if m.onProgress != nil {
		m.onProgress(p)
	}
}

// Progress returns the last recorded percentage
func (m *Monitor) Progress() int {
	return int(m.progress.Load())
}
