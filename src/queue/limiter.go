package queue

import (
	"context"
	"sync"
	"time"
)

// WindowLimiter admits at most limit starts in any rolling window.
// It keeps the start times inside the current window. A limit <= 0 disables it.
type WindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	starts []time.Time
	now    func() time.Time
}

func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{limit: limit, window: window, now: time.Now}
}

// TryAcquire records a start if the window has room.
func (l *WindowLimiter) TryAcquire() bool {
	_, ok := l.reserve()
	return ok
}

// Wait blocks until a start is admitted or ctx is done.
func (l *WindowLimiter) Wait(ctx context.Context) error {
	for {
		retryIn, ok := l.reserve()
		if ok {
			return nil
		}

		timer := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InWindow returns how many starts fall inside the current window.
func (l *WindowLimiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.starts)
}

// reserve records a start, or reports how long until the oldest start leaves the window.
func (l *WindowLimiter) reserve() (time.Duration, bool) {
	if l.limit <= 0 {
		return 0, true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if len(l.starts) < l.limit {
		l.starts = append(l.starts, now)
		return 0, true
	}
	wait := l.starts[0].Add(l.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// prune must be called with mu held.
func (l *WindowLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.starts) && !l.starts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.starts = append(l.starts[:0], l.starts[i:]...)
	}
}
