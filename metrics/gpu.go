package metrics

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"birthday_bot/logging"

	"go.uber.org/zap"
)

// GPUSample is one nvidia-smi reading for one device.
type GPUSample struct {
	DeviceID    string  `json:"device_id"`
	Utilization float64 `json:"utilization"`
	Temperature float64 `json:"temperature"`
	MemoryUsed  int64   `json:"memory_used"`
	MemoryTotal int64   `json:"memory_total"`
}

// GPUReader reads the current state of every GPU.
type GPUReader interface {
	ReadGPUs(ctx context.Context) ([]GPUSample, error)
}

// NvidiaSMIReader queries nvidia-smi. Path defaults to "nvidia-smi".
type NvidiaSMIReader struct {
	Path string
}

func (r NvidiaSMIReader) ReadGPUs(ctx context.Context) ([]GPUSample, error) {
	path := r.Path
	if path == "" {
		path = "nvidia-smi"
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, path,
		"--query-gpu=index,utilization.gpu,temperature.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("nvidia-smi failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return parseGPUSamples(stdout.String())
}

func parseGPUSamples(output string) ([]GPUSample, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, fmt.Errorf("empty nvidia-smi output")
	}
	r := csv.NewReader(strings.NewReader(output))
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse nvidia-smi output: %w", err)
	}

	const mib = 1024 * 1024
	out := make([]GPUSample, 0, len(records))
	for _, rec := range records {
		if len(rec) < 5 {
			return nil, fmt.Errorf("unexpected field count: got %d, expected 5", len(rec))
		}
		var vals [5]float64
		for i := range vals {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("parse field %d %q: %w", i, rec[i], err)
			}
			vals[i] = v
		}
		out = append(out, GPUSample{
			DeviceID:    "cuda:" + strconv.Itoa(int(vals[0])),
			Utilization: vals[1],
			Temperature: vals[2],
			MemoryUsed:  int64(vals[3] * mib),
			MemoryTotal: int64(vals[4] * mib),
		})
	}
	return out, nil
}

// GPUSampler polls a GPUReader and publishes the readings as gauges.
type GPUSampler struct {
	reader   GPUReader
	metrics  *Metrics
	interval time.Duration
	logger   *logging.Logger

	mu      sync.RWMutex
	latest  []GPUSample
	lastErr error
}

// NewGPUSampler samples every interval (minimum one second).
func NewGPUSampler(reader GPUReader, m *Metrics, interval time.Duration, logger *logging.Logger) *GPUSampler {
	if interval < time.Second {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GPUSampler{reader: reader, metrics: m, interval: interval, logger: logger.Named("gpu")}
}

// Run samples immediately, then on every tick until ctx ends.
func (s *GPUSampler) Run(ctx context.Context) {
	s.SampleOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SampleOnce(ctx)
		}
	}
}

// SampleOnce reads the GPUs once. On error the previous readings stay
// published.
func (s *GPUSampler) SampleOnce(ctx context.Context) {
	samples, err := s.reader.ReadGPUs(ctx)

	s.mu.Lock()
	first := s.lastErr == nil && err != nil
	s.lastErr = err
	if err == nil {
		s.latest = samples
	}
	s.mu.Unlock()

	if err != nil {
		if first {
			s.logger.Warn("GPU sampling failed", zap.Error(err))
		}
		return
	}
	if s.metrics == nil {
		return
	}
	for _, g := range samples {
		s.metrics.gpuUtilization.WithLabelValues(g.DeviceID).Set(g.Utilization)
		s.metrics.gpuTemperature.WithLabelValues(g.DeviceID).Set(g.Temperature)
		s.metrics.gpuMemoryUsed.WithLabelValues(g.DeviceID).Set(float64(g.MemoryUsed))
		s.metrics.gpuMemoryTotal.WithLabelValues(g.DeviceID).Set(float64(g.MemoryTotal))
	}
}

// Latest returns the last successful readings and the last error.
func (s *GPUSampler) Latest() ([]GPUSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]GPUSample(nil), s.latest...), s.lastErr
}
