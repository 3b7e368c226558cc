// Package devices names the compute units a pool can bind models to and
// resolves the configured device lists into concrete assignments.
//
// A device id is an opaque string to the pools. This package gives it just
// enough structure to pick loading parameters: "cuda:N" and "mps" are
// accelerators, "cpu" is the fallback.
package devices

import (
	"runtime/debug"
	"strconv"
	"strings"
)

// Class is the kind of hardware behind a device id.
type Class string

const (
	CUDA Class = "cuda"
	MPS  Class = "mps"
	CPU  Class = "cpu"
)

// Precision is the weight format a backend should load for a device class.
type Precision string

const (
	FP16 Precision = "fp16"
	BF16 Precision = "bf16"
	FP32 Precision = "fp32"
)

// Auto expands to every detected GPU, or to CPU when none is found.
const Auto = "auto"

// ClassOf classifies id. Unknown ids are treated as CPU.
func ClassOf(id string) Class {
	id = strings.ToLower(strings.TrimSpace(id))
	switch {
	case id == "cuda" || strings.HasPrefix(id, "cuda:"):
		return CUDA
	case id == "mps":
		return MPS
	default:
		return CPU
	}
}

// IsAccelerator reports whether id names a GPU-class device.
func IsAccelerator(id string) bool {
	return ClassOf(id) != CPU
}

// Index returns N for "cuda:N", 0 for a bare "cuda" or "mps", and -1 for
// CPU or malformed ids.
func Index(id string) int {
	switch ClassOf(id) {
	case CUDA:
		_, n, ok := strings.Cut(id, ":")
		if !ok {
			return 0
		}
		i, err := strconv.Atoi(n)
		if err != nil || i < 0 {
			return -1
		}
		return i
	case MPS:
		return 0
	default:
		return -1
	}
}

// PrecisionFor picks the load precision for a device. FLUX checkpoints are
// published in bf16 and are loaded that way on accelerators.
func PrecisionFor(id string, flux bool) Precision {
	if !IsAccelerator(id) {
		return FP32
	}
	if flux && ClassOf(id) == CUDA {
		return BF16
	}
	return FP16
}

// FreeOSMemory returns freed heap to the OS. It is the reclaim hook for CPU
// devices, where decoded images and request buffers live in this process.
func FreeOSMemory(string) error {
	debug.FreeOSMemory()
	return nil
}

// ReclaimFor returns the reclaim hook for a device, or nil when the device
// needs none. Accelerator memory is owned by the backend process.
func ReclaimFor(id string) func(string) error {
	if IsAccelerator(id) {
		return nil
	}
	return FreeOSMemory
}

// Reclaim runs the reclaim hook for id, if it has one.
func Reclaim(id string) error {
	if fn := ReclaimFor(id); fn != nil {
		return fn(id)
	}
	return nil
}
