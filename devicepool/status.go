package devicepool

// Health summarizes whether a pool can serve requests at full capacity.
type Health string

const (
	HealthInitializing Health = "initializing"
	HealthHealthy      Health = "healthy"
	HealthDegraded     Health = "degraded"
	HealthUnavailable  Health = "unavailable"
)

// Status is a point-in-time snapshot of a pool.
//
// Total is the configured device count. Busy is Total minus Available, so
// it counts leased devices and devices excluded by a failed load; Leased
// and Failed split the two.
type Status struct {
	Name        string            `json:"name"`
	Devices     []string          `json:"devices"`
	Total       int               `json:"total"`
	Available   int               `json:"available"`
	Busy        int               `json:"busy"`
	Initialized bool              `json:"initialized"`
	Loaded      int               `json:"loaded"`
	Leased      int               `json:"leased"`
	Failed      int               `json:"failed"`
	Waiting     int               `json:"waiting"`
	Degraded    bool              `json:"degraded"`
	Health      Health            `json:"health"`
	Failures    map[string]string `json:"failures,omitempty"`

	Acquires        int64 `json:"acquires"`
	ReclaimFailures int64 `json:"reclaim_failures"`
}

// Status reads the pool without side effects. Safe to call concurrently
// with Acquire and Release.
func (p *Pool[A]) Status() Status {
	p.mu.RLock()
	loaded := len(p.artifacts)
	var failures map[string]string
	if len(p.failures) > 0 {
		failures = make(map[string]string, len(p.failures))
		for id, le := range p.failures {
			failures[id] = le.Err.Error()
		}
	}
	p.mu.RUnlock()

	total := len(p.deviceIDs)
	available := len(p.available)
	initialized := p.initialized.Load()

	st := Status{
		Name:            p.name,
		Devices:         p.DeviceIDs(),
		Total:           total,
		Available:       available,
		Busy:            total - available,
		Initialized:     initialized,
		Loaded:          loaded,
		Leased:          int(p.leased.Load()),
		Failed:          len(failures),
		Waiting:         int(p.waiting.Load()),
		Failures:        failures,
		Acquires:        p.acquires.Load(),
		ReclaimFailures: p.reclaimFailures.Load(),
	}

	switch {
	case !initialized:
		st.Health = HealthInitializing
	case loaded == 0:
		st.Health = HealthUnavailable
		st.Degraded = true
	case st.Failed > 0:
		st.Health = HealthDegraded
		st.Degraded = true
	default:
		st.Health = HealthHealthy
	}
	return st
}
