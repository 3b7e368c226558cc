package shutdown

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"birthday_bot/core"
	"birthday_bot/logging"

	"go.uber.org/zap"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 60 * time.Second

// minHookTime is the least time left for hooks after draining requests.
const minHookTime = time.Second

// Manager ties a root context to OS signals. The first SIGINT or SIGTERM
// cancels the context; a second one exits the process immediately.
//
//	m := shutdown.NewManager(logger)
//	m.Register("http", shutdown.PriorityServer, srv.Shutdown)
//	m.Start()
//	<-m.Context().Done()
//	err := m.Shutdown()
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration
	exit    func(code int)

	ctx    context.Context
	cancel context.CancelFunc

	tracker *Tracker
	hooks   Hooks

	mu       sync.Mutex
	started  bool
	finished bool
	received os.Signal
	signals  int
	sigCh    chan os.Signal
}

type Option func(*Manager)

// WithTimeout bounds draining plus hooks. Defaults to DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithExit replaces os.Exit for the forced exit on a repeated signal.
func WithExit(fn func(code int)) Option {
	return func(m *Manager) { m.exit = fn }
}

func NewManager(logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:  logger.Named("shutdown"),
		timeout: DefaultTimeout,
		exit:    os.Exit,
		ctx:     ctx,
		cancel:  cancel,
		tracker: NewTracker(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context is cancelled when shutdown is requested.
func (m *Manager) Context() context.Context { return m.ctx }

func (m *Manager) Tracker() *Tracker { return m.tracker }

// Register adds a cleanup hook. Lower priorities run first.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	if !m.hooks.Add(name, priority, fn) {
		m.logger.Warn("Shutdown hook registered too late, ignored", zap.String("hook", name))
		return
	}
	m.logger.Debug("Registered shutdown hook", zap.String("hook", name), zap.Int("priority", priority))
}

// Hooks lists the registered hook names in execution order.
func (m *Manager) Hooks() []string { return m.hooks.Names() }

// Start listens for Signals. Calling it more than once has no effect.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.sigCh = make(chan os.Signal, 2)
	signal.Notify(m.sigCh, Signals...)
	go func() {
		for sig := range m.sigCh {
			m.handle(sig)
		}
	}()
}

func (m *Manager) handle(sig os.Signal) {
	m.mu.Lock()
	m.signals++
	n := m.signals
	if m.received == nil {
		m.received = sig
	}
	m.mu.Unlock()

	if n == 1 {
		m.logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		m.cancel()
		return
	}
	m.logger.Warn("Received second signal, exiting immediately", zap.String("signal", sig.String()))
	_ = m.logger.Sync()
	m.exit(ExitCodeForSignal(sig))
}

// Trigger cancels the context without a signal, for example when the
// HTTP listener fails.
func (m *Manager) Trigger(reason string) {
	m.logger.Info("Shutdown requested", zap.String("reason", reason))
	m.cancel()
}

// Signal returns the first signal received, or nil.
func (m *Manager) Signal() os.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

// ExitCode picks the process exit code: the signal code when shutdown was
// signalled, otherwise the code for err.
func (m *Manager) ExitCode(err error) int {
	if sig := m.Signal(); sig != nil && (err == nil || errors.Is(err, context.Canceled)) {
		return ExitCodeForSignal(sig)
	}
	return core.ExitCodeFor(err)
}

// Track runs fn as an in-flight operation. It returns ErrShuttingDown
// without calling fn once Shutdown has begun.
func (m *Manager) Track(ctx context.Context, name string, fn func(context.Context) error) error {
	if !m.tracker.Start() {
		m.logger.Debug("Operation refused during shutdown", zap.String("operation", name))
		return ErrShuttingDown
	}
	defer m.tracker.Done()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Middleware tracks every request and answers 503 once Shutdown has begun.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.tracker.Start() {
			w.Header().Set("Connection", "close")
			w.Header().Set("Retry-After", "5")
			http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
			return
		}
		defer m.tracker.Done()
		next.ServeHTTP(w, r)
	})
}

// ShuttingDown reports whether Shutdown has begun.
func (m *Manager) ShuttingDown() bool { return m.tracker.Closed() }

// Shutdown refuses new work, waits for in-flight operations and then runs
// every hook with whatever time is left, never less than a second. It is
// safe to call more than once; later calls return nil.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return nil
	}
	m.finished = true
	m.mu.Unlock()

	start := time.Now()
	m.cancel()
	m.tracker.Close()
	m.logger.Info("Shutting down",
		zap.Duration("timeout", m.timeout),
		zap.Int("in_flight", m.tracker.Active()),
		zap.Strings("hooks", m.hooks.Names()),
	)

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), m.timeout)
	err := m.tracker.Wait(drainCtx)
	cancelDrain()
	if err != nil {
		m.logger.Warn("In-flight operations did not finish in time",
			zap.Int("remaining", m.tracker.Active()),
			logging.Elapsed(start),
		)
	}

	remaining := m.timeout - time.Since(start)
	if remaining < minHookTime {
		remaining = minHookTime
	}
	hookCtx, cancelHooks := context.WithTimeout(context.Background(), remaining)
	defer cancelHooks()

	var errs []error
	for _, res := range m.hooks.Run(hookCtx) {
		if res.Err != nil {
			errs = append(errs, res.Err)
			m.logger.Error("Shutdown hook failed", zap.String("hook", res.Name), zap.Duration("took", res.Duration), zap.Error(res.Err))
			continue
		}
		m.logger.Debug("Shutdown hook done", zap.String("hook", res.Name), zap.Duration("took", res.Duration))
	}

	m.mu.Lock()
	if m.sigCh != nil {
		signal.Stop(m.sigCh)
		close(m.sigCh)
		m.sigCh = nil
	}
	m.mu.Unlock()

	if len(errs) > 0 {
		m.logger.Error("Shutdown finished with errors", zap.Int("errors", len(errs)), logging.Elapsed(start))
		return errors.Join(errs...)
	}
	m.logger.Info("Shutdown complete", logging.Elapsed(start))
	return nil
}
