package speech

import (
	"context"
	"fmt"

	"birthday_bot/aiclient"
	"birthday_bot/devicepool"
	"birthday_bot/devices"
	"birthday_bot/logging"
)

// PoolConfig describes the transcription pool.
type PoolConfig struct {
	Model   string
	Devices []devices.Assignment
	Client  aiclient.Config
	Hooks   devicepool.Hooks
	Logger  *logging.Logger
}

// Pool is the transcription device pool.
type Pool struct {
	model string
	pool  *devicepool.Pool[Model]
}

// NewPool builds a pool whose loader connects each device endpoint and
// checks it serves cfg.Model.
func NewPool(cfg PoolConfig) (*Pool, error) {
	endpoints := make(map[string]string, len(cfg.Devices))
	for _, d := range cfg.Devices {
		endpoints[d.ID] = d.Endpoint
	}
	load := func(ctx context.Context, id string) (Model, error) {
		endpoint := endpoints[id]
		if endpoint == "" {
			return nil, fmt.Errorf("%w: %s", devices.ErrNoEndpoint, id)
		}
		m := NewWhisperModel(aiclient.New(endpoint, cfg.Client), cfg.Model)
		if err := m.CheckModel(ctx); err != nil {
			return nil, err
		}
		return m, nil
	}
	return NewPoolWithLoader(cfg.Model, devices.IDs(cfg.Devices), load, cfg.Hooks, cfg.Logger)
}

// NewPoolWithLoader builds a pool around an arbitrary loader.
func NewPoolWithLoader(model string, ids []string, load devicepool.LoadFunc[Model], hooks devicepool.Hooks, logger *logging.Logger) (*Pool, error) {
	p, err := devicepool.New(devicepool.Config[Model]{
		Name:      "transcription",
		DeviceIDs: ids,
		Load:      load,
		Reclaim:   devices.Reclaim,
		Hooks:     hooks,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription pool: %w", err)
	}
	return &Pool{model: model, pool: p}, nil
}

func (p *Pool) Model() string { return p.model }

func (p *Pool) Initialize(ctx context.Context) error { return p.pool.Initialize(ctx) }

func (p *Pool) Initialized() bool { return p.pool.Initialized() }

func (p *Pool) Status() devicepool.Status { return p.pool.Status() }

func (p *Pool) Backlog() int { return p.pool.Backlog() }

func (p *Pool) Close() error { return p.pool.Close() }

func (p *Pool) firstDevice() string {
	if ids := p.pool.DeviceIDs(); len(ids) > 0 {
		return ids[0]
	}
	return string(devices.CPU)
}

// Transcribe leases a device and returns the raw transcript together
// with the device that produced it.
func (p *Pool) Transcribe(ctx context.Context, audioPath, language string) (text, deviceID string, err error) {
	err = p.pool.With(ctx, func(ctx context.Context, lease *devicepool.Lease[Model]) error {
		deviceID = lease.DeviceID()
		var terr error
		text, terr = lease.Artifact().Transcribe(ctx, audioPath, language)
		return terr
	})
	return text, deviceID, err
}
