package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"birthday_bot/core"
)

// Hook priorities. Lower values run first.
const (
	PriorityAbort   = 5  // cancel work that outlived the drain
	PriorityServer  = 10 // stop accepting connections
	PriorityWorkers = 20 // janitor, retention, samplers
	PriorityPools   = 30 // history writer, device pools
	PriorityFiles   = 40 // temp uploads
	PriorityLogs    = 90 // final flush
)

type hook struct {
	name     string
	priority int
	seq      int
	fn       core.ShutdownFunc
}

// HookResult reports one executed hook.
type HookResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Hooks is an ordered set of cleanup functions. Hooks with equal priority
// run in registration order.
type Hooks struct {
	mu    sync.Mutex
	hooks []hook
	ran   bool
}

// Add registers fn. It reports false once Run has been called.
func (h *Hooks) Add(name string, priority int, fn core.ShutdownFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ran {
		return false
	}
	h.hooks = append(h.hooks, hook{name: name, priority: priority, seq: len(h.hooks), fn: fn})
	return true
}

func (h *Hooks) sorted() []hook {
	out := append([]hook(nil), h.hooks...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Names lists the hooks in execution order.
func (h *Hooks) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	sorted := h.sorted()
	names := make([]string, len(sorted))
	for i, hk := range sorted {
		names[i] = hk.name
	}
	return names
}

func (h *Hooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hooks)
}

// Run executes every hook once, in order, even when earlier ones fail or
// ctx expires; each hook decides how to honor ctx. A panicking hook is
// reported as an error. Second and later calls return nil.
func (h *Hooks) Run(ctx context.Context) []HookResult {
	h.mu.Lock()
	if h.ran {
		h.mu.Unlock()
		return nil
	}
	h.ran = true
	sorted := h.sorted()
	h.mu.Unlock()

	results := make([]HookResult, 0, len(sorted))
	for _, hk := range sorted {
		start := time.Now()
		err := runHook(ctx, hk)
		results = append(results, HookResult{Name: hk.name, Duration: time.Since(start), Err: err})
	}
	return results
}

func runHook(ctx context.Context, hk hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", hk.name, r)
		}
	}()
	if err := hk.fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", hk.name, err)
	}
	return nil
}
