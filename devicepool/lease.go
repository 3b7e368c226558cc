package devicepool

import (
	"sync/atomic"
	"time"
)

// Lease is an exclusive claim on one device. Release is idempotent.
type Lease[A any] struct {
	pool       *Pool[A]
	deviceID   string
	artifact   A
	acquiredAt time.Time
	released   atomic.Bool
}

// DeviceID returns the leased device.
func (l *Lease[A]) DeviceID() string { return l.deviceID }

// Artifact returns the model loaded on the leased device. It must not be
// used after Release.
func (l *Lease[A]) Artifact() A { return l.artifact }

// Held reports how long the lease has been held.
func (l *Lease[A]) Held() time.Duration { return time.Since(l.acquiredAt) }

// Release reclaims device memory and returns the device to the pool. Only
// the first call has an effect.
func (l *Lease[A]) Release() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	l.pool.release(l)
}
