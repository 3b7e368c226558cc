package imagegen

import (
	"strings"
	"time"

	"birthday_bot/devices"
)

// Family groups models that share loading and timing behaviour.
type Family string

const (
	FamilyFLUX Family = "flux"
	FamilyXL   Family = "xl"
	FamilySD   Family = "sd"
)

// FamilyOf classifies a model identifier by name.
func FamilyOf(model string) Family {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "flux"):
		return FamilyFLUX
	case strings.Contains(m, "xl"):
		return FamilyXL
	default:
		return FamilySD
	}
}

// SupportsNegativePrompt is false for FLUX pipelines.
func (f Family) SupportsNegativePrompt() bool { return f != FamilyFLUX }

type secondsPair struct{ accel, cpu float64 }

var (
	generationBase = map[Family]secondsPair{
		FamilyFLUX: {12, 50},
		FamilyXL:   {8, 45},
		FamilySD:   {5, 30},
	}
	loadBase = map[Family]secondsPair{
		FamilyFLUX: {15, 40},
		FamilyXL:   {30, 90},
		FamilySD:   {20, 60},
	}
)

func (p secondsPair) pick(deviceID string) float64 {
	if devices.IsAccelerator(deviceID) {
		return p.accel
	}
	return p.cpu
}

// ExpectedGenerationTime estimates a batch: per-image base scaled by
// steps/20 and by the number of images.
func ExpectedGenerationTime(model, deviceID string, steps, numImages int) time.Duration {
	base := generationBase[FamilyOf(model)].pick(deviceID)
	secs := base * (float64(steps) / 20) * float64(numImages)
	return time.Duration(secs * float64(time.Second))
}

// ExpectedLoadTime estimates the one-time model load on deviceID.
func ExpectedLoadTime(model, deviceID string) time.Duration {
	return time.Duration(loadBase[FamilyOf(model)].pick(deviceID) * float64(time.Second))
}
