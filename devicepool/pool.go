package devicepool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"birthday_bot/logging"

	"go.uber.org/zap"
)

// LoadFunc puts the model onto one device and returns the handle used by
// leases. It runs once per device.
type LoadFunc[A any] func(ctx context.Context, deviceID string) (A, error)

// ReclaimFunc frees per-device memory after a lease. Errors are logged and
// never reach the caller.
type ReclaimFunc func(deviceID string) error

// UnloadFunc releases a loaded artifact when the pool closes.
type UnloadFunc[A any] func(deviceID string, artifact A) error

// NoopReclaim is the default ReclaimFunc.
func NoopReclaim(string) error { return nil }

// Hooks observe lease traffic. Both fields are optional.
type Hooks struct {
	Acquired func(deviceID string, waited time.Duration)
	Released func(deviceID string, held time.Duration)
}

// Config describes a pool. Name and DeviceIDs are fixed for the pool's
// lifetime.
type Config[A any] struct {
	Name      string
	DeviceIDs []string
	Load      LoadFunc[A]
	Reclaim   ReclaimFunc
	Unload    UnloadFunc[A]
	Hooks     Hooks
	Logger    *logging.Logger
}

// Pool hands out exclusive leases on loaded devices.
type Pool[A any] struct {
	name      string
	deviceIDs []string
	load      LoadFunc[A]
	reclaim   ReclaimFunc
	unload    UnloadFunc[A]
	hooks     Hooks
	logger    *logging.Logger

	initOnce   sync.Once
	initDone   chan struct{}
	loadCtx    context.Context
	cancelLoad context.CancelFunc

	// mu guards artifacts, failures and closed, and is held while an id is
	// pushed onto available so Close cannot miss it.
	mu        sync.RWMutex
	artifacts map[string]A
	failures  map[string]*LoadError
	closed    bool

	available chan string
	closing   chan struct{}

	initialized     atomic.Bool
	leased          atomic.Int64
	waiting         atomic.Int64
	acquires        atomic.Int64
	reclaimFailures atomic.Int64
}

// New validates cfg and returns an uninitialized pool. Nothing is loaded
// until Initialize or the first Acquire.
func New[A any](cfg Config[A]) (*Pool[A], error) {
	if len(cfg.DeviceIDs) == 0 {
		return nil, ErrNoDevices
	}
	if cfg.Load == nil {
		return nil, ErrNilLoader
	}
	seen := make(map[string]bool, len(cfg.DeviceIDs))
	for _, id := range cfg.DeviceIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDevice, id)
		}
		seen[id] = true
	}

	reclaim := cfg.Reclaim
	if reclaim == nil {
		reclaim = NoopReclaim
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = "pool"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[A]{
		name:       name,
		deviceIDs:  append([]string(nil), cfg.DeviceIDs...),
		load:       cfg.Load,
		reclaim:    reclaim,
		unload:     cfg.Unload,
		hooks:      cfg.Hooks,
		logger:     logger.Named("devicepool").With(logging.Pool(name)),
		initDone:   make(chan struct{}),
		loadCtx:    ctx,
		cancelLoad: cancel,
		artifacts:  make(map[string]A, len(cfg.DeviceIDs)),
		failures:   make(map[string]*LoadError),
		available:  make(chan string, len(cfg.DeviceIDs)),
		closing:    make(chan struct{}),
	}, nil
}

// Name returns the pool name used in logs and status.
func (p *Pool[A]) Name() string { return p.name }

// DeviceIDs returns the configured ids in construction order.
func (p *Pool[A]) DeviceIDs() []string {
	return append([]string(nil), p.deviceIDs...)
}

// Initialize loads every device once. The load runs in its own goroutine
// and is not tied to ctx: a caller that gives up only stops waiting.
// Returns nil once loading has finished, even if every device failed.
func (p *Pool[A]) Initialize(ctx context.Context) error {
	p.initOnce.Do(func() { go p.loadAll() })
	select {
	case <-p.initDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Initialized reports whether the one-time load has completed.
func (p *Pool[A]) Initialized() bool {
	return p.initialized.Load()
}

// LoadFailure returns the *LoadError recorded for id, or nil if the
// device loaded or has not been tried yet.
func (p *Pool[A]) LoadFailure(id string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if le, ok := p.failures[id]; ok {
		return le
	}
	return nil
}

func (p *Pool[A]) loadAll() {
	defer close(p.initDone)

	start := time.Now()
	p.logger.Info("Loading models onto devices", zap.Strings("devices", p.deviceIDs))
	for _, id := range p.deviceIDs {
		p.loadDevice(id)
	}
	p.initialized.Store(true)

	st := p.Status()
	switch {
	case st.Loaded == 0:
		p.logger.Error("No device loaded, pool cannot serve requests",
			zap.Int("configured", st.Total), logging.Elapsed(start))
	case st.Failed > 0:
		p.logger.Warn("Pool running with reduced capacity",
			zap.Int("loaded", st.Loaded), zap.Int("failed", st.Failed), logging.Elapsed(start))
	default:
		p.logger.Info("All devices loaded", zap.Int("loaded", st.Loaded), logging.Elapsed(start))
	}
}

func (p *Pool[A]) loadDevice(id string) {
	start := time.Now()
	artifact, err := p.safeLoad(id)
	if err != nil {
		p.mu.Lock()
		p.failures[id] = &LoadError{DeviceID: id, Err: err}
		p.mu.Unlock()
		p.logger.Error("Device load failed, excluding device",
			logging.Device(id), zap.Error(err), logging.Elapsed(start))
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.unloadDevice(id, artifact)
		return
	}
	p.artifacts[id] = artifact
	p.available <- id
	p.mu.Unlock()

	p.logger.Info("Device loaded", logging.Device(id), logging.Elapsed(start))
}

func (p *Pool[A]) safeLoad(id string) (artifact A, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during load: %v", r)
		}
	}()
	artifact, err = p.load(p.loadCtx, id)
	return artifact, err
}

// Acquire initializes the pool if needed and blocks until a device is free
// or ctx is done. There is no timeout beyond ctx. On a pool where every
// load failed Acquire waits until ctx ends.
func (p *Pool[A]) Acquire(ctx context.Context) (*Lease[A], error) {
	select {
	case <-p.closing:
		return nil, ErrPoolClosed
	default:
	}
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	select {
	case id := <-p.available:
		return p.grant(id, start)
	default:
	}

	p.waiting.Add(1)
	defer p.waiting.Add(-1)
	p.logger.Debug("All devices busy, waiting", zap.Int64("waiting", p.waiting.Load()))

	select {
	case id := <-p.available:
		return p.grant(id, start)
	case <-p.closing:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AcquireWithin is Acquire bounded by timeout. Zero or negative means no
// bound. Running out of time yields ErrAcquireTimeout; ctx's own
// cancellation is returned unchanged.
func (p *Pool[A]) AcquireWithin(ctx context.Context, timeout time.Duration) (*Lease[A], error) {
	if timeout <= 0 {
		return p.Acquire(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	lease, err := p.Acquire(actx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, timeout)
	}
	return lease, err
}

func (p *Pool[A]) grant(id string, start time.Time) (*Lease[A], error) {
	p.mu.RLock()
	artifact := p.artifacts[id]
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		p.unloadDevice(id, artifact)
		return nil, ErrPoolClosed
	}

	p.leased.Add(1)
	p.acquires.Add(1)
	waited := time.Since(start)
	if p.hooks.Acquired != nil {
		p.hooks.Acquired(id, waited)
	}
	p.logger.Debug("Device leased", logging.Device(id), zap.Duration("waited", waited))
	return &Lease[A]{pool: p, deviceID: id, artifact: artifact, acquiredAt: time.Now()}, nil
}

// With runs fn under a lease and releases the device however fn exits.
// fn's error is returned unchanged.
func (p *Pool[A]) With(ctx context.Context, fn func(ctx context.Context, lease *Lease[A]) error) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(ctx, lease)
}

func (p *Pool[A]) release(l *Lease[A]) {
	p.reclaimDevice(l.deviceID)

	p.mu.Lock()
	closed := p.closed
	if !closed {
		// Never blocks: capacity equals the number of device ids and an id
		// is either leased or queued, never both.
		p.available <- l.deviceID
	}
	p.mu.Unlock()
	p.leased.Add(-1)

	held := time.Since(l.acquiredAt)
	if closed {
		p.unloadDevice(l.deviceID, l.artifact)
	}
	if p.hooks.Released != nil {
		p.hooks.Released(l.deviceID, held)
	}
	p.logger.Debug("Device released", logging.Device(l.deviceID), zap.Duration("held", held))
}

func (p *Pool[A]) reclaimDevice(id string) {
	defer func() {
		if r := recover(); r != nil {
			p.reclaimFailures.Add(1)
			p.logger.Warn("Memory reclaim panicked", logging.Device(id), zap.Any("panic", r))
		}
	}()
	if err := p.reclaim(id); err != nil {
		p.reclaimFailures.Add(1)
		p.logger.Warn("Memory reclaim failed", logging.Device(id), zap.Error(err))
	}
}

func (p *Pool[A]) unloadDevice(id string, artifact A) error {
	if p.unload == nil {
		return nil
	}
	if err := p.unload(id, artifact); err != nil {
		p.logger.Warn("Unload failed", logging.Device(id), zap.Error(err))
		return fmt.Errorf("unload %s: %w", id, err)
	}
	return nil
}

// Backlog is the number of callers blocked in Acquire waiting for a device.
func (p *Pool[A]) Backlog() int {
	return int(p.waiting.Load())
}

// Close stops handing out leases, wakes waiting callers with ErrPoolClosed
// and unloads idle devices. Leased devices are unloaded when released.
func (p *Pool[A]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closing)
	p.cancelLoad()

	idle := make(map[string]A)
	for {
		select {
		case id := <-p.available:
			idle[id] = p.artifacts[id]
			continue
		default:
		}
		break
	}
	p.mu.Unlock()

	var errs []error
	for _, id := range p.deviceIDs {
		if a, ok := idle[id]; ok {
			if err := p.unloadDevice(id, a); err != nil {
				errs = append(errs, err)
			}
		}
	}
	p.logger.Info("Pool closed", zap.Int("unloaded", len(idle)), zap.Int64("leased", p.leased.Load()))
	return errors.Join(errs...)
}
