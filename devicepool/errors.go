package devicepool

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDevices is returned by New when no device ids are configured.
	ErrNoDevices = errors.New("devicepool: no device ids configured")

	// ErrNilLoader is returned by New when Config.Load is nil.
	ErrNilLoader = errors.New("devicepool: load function is required")

	// ErrDuplicateDevice is returned by New when a device id repeats.
	ErrDuplicateDevice = errors.New("devicepool: duplicate device id")

	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("devicepool: pool is closed")

	// ErrAcquireTimeout is returned by AcquireWithin when no device freed
	// up in time.
	ErrAcquireTimeout = errors.New("devicepool: timed out waiting for a device")
)

// LoadError records why a device was excluded during initialization.
type LoadError struct {
	DeviceID string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("devicepool: load on %s: %v", e.DeviceID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
