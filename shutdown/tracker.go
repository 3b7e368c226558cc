// Package shutdown coordinates graceful termination of the bot: it stops
// admitting new requests, waits for the ones in flight and then runs the
// registered cleanup hooks in priority order.
package shutdown

import (
	"context"
	"errors"
	"sync"
)

// ErrShuttingDown is returned when work is refused because shutdown has
// started.
var ErrShuttingDown = errors.New("shutdown: service is shutting down")

// Tracker counts in-flight requests. Once closed it refuses new ones and
// Wait returns when the last running request finishes.
type Tracker struct {
	mu     sync.Mutex
	active int
	peak   int
	closed bool
	idle   chan struct{}
}

func NewTracker() *Tracker {
	idle := make(chan struct{})
	close(idle)
	return &Tracker{idle: idle}
}

// Start registers one request. It reports false after Close; the caller
// must not call Done in that case.
func (t *Tracker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if t.active == 0 {
		t.idle = make(chan struct{})
	}
	t.active++
	if t.active > t.peak {
		t.peak = t.active
	}
	return true
}

// Done finishes a request started with Start.
func (t *Tracker) Done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == 0 {
		panic("shutdown: Tracker.Done without Start")
	}
	t.active--
	if t.active == 0 {
		close(t.idle)
	}
}

// Close refuses further Start calls. Running requests are unaffected.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Wait blocks until no request is running or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Peak is the highest number of concurrent requests seen.
func (t *Tracker) Peak() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak
}

func (t *Tracker) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
