// Package ratelimit caps inbound stream messages per connection with a fixed window.
package ratelimit

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v4"
)

const (
	DefaultLimit  = 60
	DefaultWindow = 60 * time.Second
)

type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks one window per connection id. Safe for concurrent use by
// every connection's read loop.
type Limiter struct {
	limit   int
	window  time.Duration
	clock   clockwork.Clock
	windows *xsync.Map[uuid.UUID, window]
}

func New(limit int, length time.Duration, clock clockwork.Clock) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if length <= 0 {
		length = DefaultWindow
	}
	return &Limiter{
		limit:   limit,
		window:  length,
		clock:   clock,
		windows: xsync.NewMap[uuid.UUID, window](),
	}
}

// Allow counts one message. The first message opens a window; once the cap
// is reached every further message is refused until the window resets.
func (l *Limiter) Allow(id uuid.UUID) bool {
	now := l.clock.Now()
	allowed := true

	l.windows.Compute(id, func(w window, loaded bool) (window, xsync.ComputeOp) {
		if !loaded || !now.Before(w.resetAt) {
			return window{count: 1, resetAt: now.Add(l.window)}, xsync.UpdateOp
		}
		if w.count >= l.limit {
			allowed = false
			return w, xsync.CancelOp
		}
		w.count++
		return w, xsync.UpdateOp
	})

	return allowed
}

// Forget drops the connection's window on disconnect.
func (l *Limiter) Forget(id uuid.UUID) {
	l.windows.Delete(id)
}

// Sweep removes expired windows and returns how many were dropped.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()
	removed := 0
	l.windows.Range(func(id uuid.UUID, _ window) bool {
		l.windows.Compute(id, func(w window, loaded bool) (window, xsync.ComputeOp) {
			if loaded && !now.Before(w.resetAt) {
				removed++
				return w, xsync.DeleteOp
			}
			return w, xsync.CancelOp
		})
		return true
	})
	return removed
}

// Len returns the number of tracked windows.
func (l *Limiter) Len() int {
	return l.windows.Size()
}
