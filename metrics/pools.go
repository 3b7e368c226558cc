package metrics

import (
	"sync"

	"birthday_bot/devicepool"

	"github.com/prometheus/client_golang/prometheus"
)

var healthValues = []devicepool.Health{
	devicepool.HealthInitializing,
	devicepool.HealthHealthy,
	devicepool.HealthDegraded,
	devicepool.HealthUnavailable,
}

// poolCollector reads pool status at scrape time.
type poolCollector struct {
	mu    sync.RWMutex
	pools []StatusSource

	devices   *prometheus.Desc
	waiting   *prometheus.Desc
	acquires  *prometheus.Desc
	reclaimed *prometheus.Desc
	health    *prometheus.Desc
}

func newPoolCollector(pools []StatusSource) *poolCollector {
	return &poolCollector{
		pools: pools,
		devices: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "devices"),
			"Devices per pool by state",
			[]string{"pool", "state"}, nil),
		waiting: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "waiting"),
			"Callers waiting for a device",
			[]string{"pool"}, nil),
		acquires: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "acquires_total"),
			"Leases granted",
			[]string{"pool"}, nil),
		reclaimed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "reclaim_failures_total"),
			"Reclaim callbacks that returned an error",
			[]string{"pool"}, nil),
		health: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "health"),
			"1 for the pool's current health value",
			[]string{"pool", "health"}, nil),
	}
}

func (c *poolCollector) add(pools ...StatusSource) {
	c.mu.Lock()
	c.pools = append(c.pools, pools...)
	c.mu.Unlock()
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.devices
	ch <- c.waiting
	ch <- c.acquires
	ch <- c.reclaimed
	ch <- c.health
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	pools := append([]StatusSource(nil), c.pools...)
	c.mu.RUnlock()
	for _, p := range pools {
		st := p.Status()
		for state, n := range map[string]int{
			"total":     st.Total,
			"available": st.Available,
			"busy":      st.Busy,
			"leased":    st.Leased,
			"failed":    st.Failed,
		} {
			ch <- prometheus.MustNewConstMetric(c.devices, prometheus.GaugeValue, float64(n), st.Name, state)
		}
		ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(st.Waiting), st.Name)
		ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(st.Acquires), st.Name)
		ch <- prometheus.MustNewConstMetric(c.reclaimed, prometheus.CounterValue, float64(st.ReclaimFailures), st.Name)
		for _, h := range healthValues {
			v := 0.0
			if st.Health == h {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.health, prometheus.GaugeValue, v, st.Name, string(h))
		}
	}
}
