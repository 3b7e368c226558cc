package imagegen

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"birthday_bot/devices"
)

// Batch is the output of one generation call.
type Batch struct {
	Images   []image.Image
	Seed     int64
	DeviceID string
	Duration time.Duration
	// Skipped counts images the backend returned that could not be decoded.
	Skipped int
}

// Pipeline is the artifact a device lease carries.
type Pipeline interface {
	Generate(ctx context.Context, p GenerateParams) (*Batch, error)
}

// Backend is the subset of Client a remote pipeline needs.
type Backend interface {
	Txt2Img(ctx context.Context, p GenerateParams) ([]string, int64, error)
}

// RemotePipeline runs generation on a device endpoint that already has
// the checkpoint loaded.
type RemotePipeline struct {
	DeviceID  string
	Model     string
	Family    Family
	Precision devices.Precision
	Backend   Backend
}

// Generate implements Pipeline.
func (r *RemotePipeline) Generate(ctx context.Context, p GenerateParams) (*Batch, error) {
	start := time.Now()
	if !r.Family.SupportsNegativePrompt() {
		p.NegativePrompt = ""
	}
	p.Seed = resolveSeed(p.Seed)

	encoded, seed, err := r.Backend.Txt2Img(ctx, p)
	if err != nil {
		return nil, err
	}

	batch := &Batch{Seed: seed, DeviceID: r.DeviceID}
	var decodeErrs []error
	for i, b64 := range encoded {
		img, err := DecodeImage(b64)
		if err != nil {
			batch.Skipped++
			decodeErrs = append(decodeErrs, fmt.Errorf("image %d: %w", i+1, err))
			continue
		}
		batch.Images = append(batch.Images, FitSize(img, p.Width, p.Height))
	}
	if len(batch.Images) == 0 {
		return nil, fmt.Errorf("%w: %d returned: %w", ErrNoImages, len(encoded), errors.Join(decodeErrs...))
	}
	batch.Duration = time.Since(start)
	return batch, nil
}
