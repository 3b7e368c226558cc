package devices

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// GPU is one accelerator reported by the driver.
type GPU struct {
	Index       int
	Name        string
	MemoryTotal int64 // bytes
}

// DeviceID returns the pool device id for the GPU.
func (g GPU) DeviceID() string {
	return "cuda:" + strconv.Itoa(g.Index)
}

// Detector lists the GPUs visible to this host.
type Detector interface {
	Detect(ctx context.Context) ([]GPU, error)
}

// NvidiaSMI detects CUDA devices by running nvidia-smi.
type NvidiaSMI struct {
	// Path defaults to "nvidia-smi" on PATH.
	Path    string
	Timeout time.Duration
}

func (n NvidiaSMI) Detect(ctx context.Context) ([]GPU, error) {
	path := n.Path
	if path == "" {
		path = "nvidia-smi"
	}
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path,
		"--query-gpu=index,name,memory.total",
		"--format=csv,noheader,nounits")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("nvidia-smi failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return parseNvidiaSMI(stdout.String())
}

func parseNvidiaSMI(output string) ([]GPU, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, nil
	}
	r := csv.NewReader(strings.NewReader(output))
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse nvidia-smi output: %w", err)
	}

	gpus := make([]GPU, 0, len(records))
	for _, rec := range records {
		if len(rec) < 3 {
			return nil, fmt.Errorf("unexpected field count: got %d, expected 3", len(rec))
		}
		idx, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("parse gpu index: %w", err)
		}
		memMiB, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("parse gpu memory: %w", err)
		}
		gpus = append(gpus, GPU{
			Index:       idx,
			Name:        strings.TrimSpace(rec[1]),
			MemoryTotal: int64(memMiB * 1024 * 1024),
		})
	}
	return gpus, nil
}

// StaticDetector returns a fixed GPU list. Useful for tests and for hosts
// where the driver tools are not installed.
type StaticDetector []GPU

func (s StaticDetector) Detect(context.Context) ([]GPU, error) {
	return []GPU(s), nil
}
