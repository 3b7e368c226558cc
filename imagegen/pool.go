package imagegen

import (
	"context"
	"fmt"
	"time"

	"birthday_bot/devicepool"
	"birthday_bot/devices"
	"birthday_bot/logging"

	"go.uber.org/zap"
)

// PoolConfig describes the image pool: one checkpoint served by a set of
// devices, each reached at its own endpoint.
type PoolConfig struct {
	Model   string
	Devices []devices.Assignment
	Client  ClientConfig
	Hooks   devicepool.Hooks
	Logger  *logging.Logger
}

// Pool is the image device pool.
type Pool struct {
	model  string
	pool   *devicepool.Pool[Pipeline]
	logger *logging.Logger
}

// NewPool builds a pool whose loader switches each device endpoint to the
// configured checkpoint.
func NewPool(cfg PoolConfig) (*Pool, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	endpoints := make(map[string]string, len(cfg.Devices))
	for _, d := range cfg.Devices {
		endpoints[d.ID] = d.Endpoint
	}
	load := func(ctx context.Context, id string) (Pipeline, error) {
		endpoint := endpoints[id]
		if endpoint == "" {
			return nil, fmt.Errorf("%w: %s", devices.ErrNoEndpoint, id)
		}
		family := FamilyOf(cfg.Model)
		precision := devices.PrecisionFor(id, family == FamilyFLUX)
		logger.Info("Loading image model",
			logging.Device(id),
			zap.String("model", cfg.Model),
			zap.String("precision", string(precision)),
			zap.String("endpoint", endpoint))

		client := NewClient(endpoint, cfg.Client)
		if err := client.LoadCheckpoint(ctx, cfg.Model); err != nil {
			return nil, err
		}
		return &RemotePipeline{
			DeviceID:  id,
			Model:     cfg.Model,
			Family:    family,
			Precision: precision,
			Backend:   client,
		}, nil
	}
	return NewPoolWithLoader(cfg.Model, devices.IDs(cfg.Devices), load, cfg.Hooks, logger)
}

// NewPoolWithLoader builds a pool around an arbitrary loader.
func NewPoolWithLoader(model string, ids []string, load devicepool.LoadFunc[Pipeline], hooks devicepool.Hooks, logger *logging.Logger) (*Pool, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	p, err := devicepool.New(devicepool.Config[Pipeline]{
		Name:      "image",
		DeviceIDs: ids,
		Load:      load,
		Reclaim:   devices.Reclaim,
		Hooks:     hooks,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("image pool: %w", err)
	}
	return &Pool{model: model, pool: p, logger: logger.Named("imagegen")}, nil
}

// Model returns the checkpoint the pool serves.
func (p *Pool) Model() string { return p.model }

func (p *Pool) Initialize(ctx context.Context) error { return p.pool.Initialize(ctx) }

func (p *Pool) Initialized() bool { return p.pool.Initialized() }

func (p *Pool) Status() devicepool.Status { return p.pool.Status() }

func (p *Pool) Backlog() int { return p.pool.Backlog() }

func (p *Pool) Close() error { return p.pool.Close() }

// ExpectedLoadTime estimates initialization using the first device.
func (p *Pool) ExpectedLoadTime() time.Duration {
	return ExpectedLoadTime(p.model, p.firstDevice())
}

// ExpectedGenerationTime estimates one batch on the first device.
func (p *Pool) ExpectedGenerationTime(steps, numImages int) time.Duration {
	return ExpectedGenerationTime(p.model, p.firstDevice(), steps, numImages)
}

func (p *Pool) firstDevice() string {
	ids := p.pool.DeviceIDs()
	if len(ids) == 0 {
		return string(devices.CPU)
	}
	return ids[0]
}

// Generate validates params, waits for a device and runs one batch on it.
// The device goes back to the pool on every return path.
func (p *Pool) Generate(ctx context.Context, params GenerateParams) (*Batch, error) {
	return p.GenerateWithin(ctx, params, 0)
}

// GenerateWithin is Generate with the wait for a device bounded by
// acquireTimeout. The generation itself is bounded only by ctx.
func (p *Pool) GenerateWithin(ctx context.Context, params GenerateParams, acquireTimeout time.Duration) (*Batch, error) {
	params.Prompt = SanitizePrompt(params.Prompt)
	if err := ValidateParams(params); err != nil {
		return nil, err
	}

	lease, err := p.pool.AcquireWithin(ctx, acquireTimeout)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	batch, err := lease.Artifact().Generate(ctx, params)
	if err != nil {
		p.logger.Error("Image generation failed", logging.Device(lease.DeviceID()), zap.Error(err))
		return nil, err
	}
	batch.DeviceID = lease.DeviceID()
	p.logger.Info("Images generated",
		logging.Device(batch.DeviceID),
		zap.Int("count", len(batch.Images)),
		zap.Int("skipped", batch.Skipped),
		zap.Int64("seed", batch.Seed),
		zap.Duration("duration", batch.Duration))
	return batch, nil
}
