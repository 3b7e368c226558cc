package imagegen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
)

// GenerateParams is one text-to-image request.
type GenerateParams struct {
	Prompt         string
	NegativePrompt string  // ignored for FLUX models
	Width          int     // 128-2048, divisible by 8
	Height         int     // 128-2048, divisible by 8
	Steps          int     // 1-100
	GuidanceScale  float64 // 1-30
	Seed           int64   // negative means a fresh seed per request
	NumImages      int     // 1-8
}

const (
	MinImageSize      = 128
	MaxImageSize      = 2048
	ImageSizeMultiple = 8

	MinSteps = 1
	MaxSteps = 100

	MinGuidanceScale = 1.0
	MaxGuidanceScale = 30.0

	MinNumImages = 1
	MaxNumImages = 8

	MaxPromptLength = 1000
)

// ValidateParams checks p against the supported ranges.
func ValidateParams(p GenerateParams) error {
	if err := ValidatePrompt(p.Prompt); err != nil {
		return err
	}
	if err := checkDimension("width", p.Width); err != nil {
		return err
	}
	if err := checkDimension("height", p.Height); err != nil {
		return err
	}
	if p.Steps < MinSteps || p.Steps > MaxSteps {
		return fmt.Errorf("%w: steps %d must be between %d and %d",
			ErrInvalidParams, p.Steps, MinSteps, MaxSteps)
	}
	if p.GuidanceScale < MinGuidanceScale || p.GuidanceScale > MaxGuidanceScale {
		return fmt.Errorf("%w: guidance scale %.2f must be between %.1f and %.1f",
			ErrInvalidParams, p.GuidanceScale, MinGuidanceScale, MaxGuidanceScale)
	}
	if p.NumImages < MinNumImages || p.NumImages > MaxNumImages {
		return fmt.Errorf("%w: num images %d must be between %d and %d",
			ErrInvalidParams, p.NumImages, MinNumImages, MaxNumImages)
	}
	if len(p.NegativePrompt) > MaxPromptLength {
		return fmt.Errorf("%w: negative prompt length %d exceeds maximum %d",
			ErrInvalidParams, len(p.NegativePrompt), MaxPromptLength)
	}
	return nil
}

func checkDimension(name string, v int) error {
	if v < MinImageSize || v > MaxImageSize {
		return fmt.Errorf("%w: %s %d must be between %d and %d",
			ErrInvalidParams, name, v, MinImageSize, MaxImageSize)
	}
	if v%ImageSizeMultiple != 0 {
		return fmt.Errorf("%w: %s %d must be divisible by %d",
			ErrInvalidParams, name, v, ImageSizeMultiple)
	}
	return nil
}

// ValidatePrompt rejects empty, oversized and NUL-carrying prompts.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("%w: prompt is empty", ErrInvalidPrompt)
	}
	if len(prompt) > MaxPromptLength {
		return fmt.Errorf("%w: prompt length %d exceeds maximum %d",
			ErrInvalidPrompt, len(prompt), MaxPromptLength)
	}
	if strings.ContainsRune(prompt, 0) {
		return fmt.Errorf("%w: prompt contains NUL byte", ErrInvalidPrompt)
	}
	return nil
}

// SanitizePrompt trims whitespace and drops control characters other
// than newline and tab.
func SanitizePrompt(prompt string) string {
	prompt = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		if r == 0x7f {
			return -1
		}
		return r
	}, prompt)
	return strings.TrimSpace(prompt)
}

// RandomSeed returns a seed in the 32-bit range backends accept.
func RandomSeed() int64 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 42
	}
	return int64(binary.LittleEndian.Uint32(buf[:]))
}

// resolveSeed picks a concrete seed so the result can be reproduced.
func resolveSeed(seed int64) int64 {
	if seed < 0 {
		return RandomSeed()
	}
	return seed
}
