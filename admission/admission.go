// Package admission gates new requests on the backlog of the image pool.
//
// The check is a watermark: when the number of callers already waiting
// for a device reaches the configured maximum, the request is refused
// with ErrAllDevicesBusy instead of joining the queue. Below the maximum
// the request proceeds to Acquire and waits there for as long as it takes.
package admission

import (
	"errors"
	"fmt"
	"sync/atomic"

	"birthday_bot/logging"

	"go.uber.org/zap"
)

var (
	// ErrAllDevicesBusy means the backlog is at capacity. Callers should
	// tell the user to try again later; it is never retried here.
	ErrAllDevicesBusy = errors.New("admission: all devices busy")

	ErrInvalidMaxQueueSize = errors.New("admission: max queue size must be at least 1")
)

// BacklogSource reports how many callers are waiting for a device.
type BacklogSource interface {
	Backlog() int
}

// BacklogFunc adapts a function to BacklogSource.
type BacklogFunc func() int

func (f BacklogFunc) Backlog() int { return f() }

// Controller performs the admission check. It holds no queue of its own.
type Controller struct {
	sources      []BacklogSource
	maxQueueSize int
	logger       *logging.Logger
	onReject     func(backlog int)

	admitted atomic.Int64
	rejected atomic.Int64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithRejectHook is called with the observed backlog on every rejection.
func WithRejectHook(fn func(backlog int)) Option {
	return func(c *Controller) { c.onReject = fn }
}

// New builds a Controller comparing the summed backlog of sources against
// maxQueueSize.
func New(maxQueueSize int, sources []BacklogSource, opts ...Option) (*Controller, error) {
	if maxQueueSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMaxQueueSize, maxQueueSize)
	}
	c := &Controller{
		sources:      append([]BacklogSource(nil), sources...),
		maxQueueSize: maxQueueSize,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("admission")
	return c, nil
}

// Backlog sums the current backlog of every source.
func (c *Controller) Backlog() int {
	n := 0
	for _, s := range c.sources {
		n += s.Backlog()
	}
	return n
}

// MaxQueueSize returns the configured watermark.
func (c *Controller) MaxQueueSize() int { return c.maxQueueSize }

// Admit returns ErrAllDevicesBusy when backlog >= max queue size and nil
// otherwise. It is a point-in-time read: two callers racing at the
// boundary may both be admitted.
func (c *Controller) Admit() error {
	backlog := c.Backlog()
	if backlog >= c.maxQueueSize {
		c.rejected.Add(1)
		c.logger.Warn("Request rejected, all devices busy",
			zap.Int("backlog", backlog), zap.Int("max_queue_size", c.maxQueueSize))
		if c.onReject != nil {
			c.onReject(backlog)
		}
		return fmt.Errorf("%w: %d requests waiting", ErrAllDevicesBusy, backlog)
	}
	c.admitted.Add(1)
	return nil
}

// Stats is a snapshot of the controller.
type Stats struct {
	Backlog      int   `json:"backlog"`
	MaxQueueSize int   `json:"max_queue_size"`
	Admitted     int64 `json:"admitted"`
	Rejected     int64 `json:"rejected"`
}

func (c *Controller) Stats() Stats {
	return Stats{
		Backlog:      c.Backlog(),
		MaxQueueSize: c.maxQueueSize,
		Admitted:     c.admitted.Load(),
		Rejected:     c.rejected.Load(),
	}
}
