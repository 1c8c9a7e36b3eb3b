package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter enforces at most maxCalls upstream calls within any trailing window.
// This is a true sliding window over recorded call timestamps, not a bucket
// that resets at fixed boundaries. All fetch paths share one Limiter.
//
// Waiters are served in FIFO order: each Acquire joins a queue and only the
// head of the queue sleeps on the window, so a burst of late arrivals cannot
// starve an earlier caller.
type Limiter struct {
	mu       sync.Mutex
	maxCalls int
	window   time.Duration
	calls    []time.Time     // timestamps within the trailing window, oldest first
	queue    []chan struct{} // FIFO waiters; queue[0] holds the turn
}

// New creates a Limiter. maxCalls and window must be positive.
func New(maxCalls int, window time.Duration) (*Limiter, error) {
	if maxCalls <= 0 {
		return nil, fmt.Errorf("ratelimit: max calls must be positive, got %d", maxCalls)
	}
	if window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", window)
	}
	return &Limiter{
		maxCalls: maxCalls,
		window:   window,
		calls:    make([]time.Time, 0, maxCalls),
	}, nil
}

// Acquire blocks until one call may be made, then records it. It returns
// ctx.Err() if the context is cancelled while waiting and no other error.
// The recorded timestamp is taken after the wait completes.
func (l *Limiter) Acquire(ctx context.Context) error {
	turn := make(chan struct{})
	l.mu.Lock()
	l.queue = append(l.queue, turn)
	if len(l.queue) == 1 {
		close(turn)
	}
	l.mu.Unlock()

	select {
	case <-turn:
	case <-ctx.Done():
		l.abandon(turn)
		return ctx.Err()
	}

	// Head of the queue. Sleep until the oldest recorded call leaves the
	// window, then record and pass the turn on.
	for {
		l.mu.Lock()
		now := time.Now()
		l.prune(now)
		if len(l.calls) < l.maxCalls {
			l.calls = append(l.calls, now)
			l.advance()
			l.mu.Unlock()
			return nil
		}
		wait := l.window - now.Sub(l.calls[0])
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			l.abandon(turn)
			return ctx.Err()
		}
	}
}

// InWindow returns how many recorded calls currently fall inside the window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())
	return len(l.calls)
}

// prune drops timestamps older than now-window. Caller holds l.mu.
func (l *Limiter) prune(now time.Time) {
	cut := 0
	for cut < len(l.calls) && now.Sub(l.calls[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		l.calls = append(l.calls[:0], l.calls[cut:]...)
	}
}

// advance pops the head waiter and wakes the next one. Caller holds l.mu.
func (l *Limiter) advance() {
	l.queue = l.queue[1:]
	if len(l.queue) > 0 {
		close(l.queue[0])
	}
}

// abandon removes a cancelled waiter from the queue. If the waiter already
// held the turn, the turn passes to the next in line.
func (l *Limiter) abandon(turn chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, ch := range l.queue {
		if ch == turn {
			if i == 0 {
				l.advance()
			} else {
				l.queue = append(l.queue[:i], l.queue[i+1:]...)
			}
			return
		}
	}
}
