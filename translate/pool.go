package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"birthday_bot/aiclient"
	"birthday_bot/devicepool"
	"birthday_bot/devices"
	"birthday_bot/logging"

	"go.uber.org/zap"
)

// PoolConfig describes the translation pool.
type PoolConfig struct {
	Model   string
	Devices []devices.Assignment
	Client  aiclient.Config
	Hooks   devicepool.Hooks
	Logger  *logging.Logger
}

// Pool is the translation device pool.
type Pool struct {
	model  string
	pool   *devicepool.Pool[Model]
	logger *logging.Logger
}

// NewPool builds a pool whose loader connects each device endpoint and
// checks that it serves cfg.Model.
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
		m := NewChatModel(aiclient.New(endpoint, cfg.Client), cfg.Model)
		if err := m.CheckModel(ctx); err != nil {
			return nil, err
		}
		return m, nil
	}
	return NewPoolWithLoader(cfg.Model, devices.IDs(cfg.Devices), load, cfg.Hooks, cfg.Logger)
}

// NewPoolWithLoader builds a pool around an arbitrary loader.
func NewPoolWithLoader(model string, ids []string, load devicepool.LoadFunc[Model], hooks devicepool.Hooks, logger *logging.Logger) (*Pool, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	p, err := devicepool.New(devicepool.Config[Model]{
		Name:      "translation",
		DeviceIDs: ids,
		Load:      load,
		Reclaim:   devices.Reclaim,
		Hooks:     hooks,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("translation pool: %w", err)
	}
	return &Pool{model: model, pool: p, logger: logger.Named("translate")}, nil
}

func (p *Pool) Model() string { return p.model }

func (p *Pool) Initialize(ctx context.Context) error { return p.pool.Initialize(ctx) }

func (p *Pool) Initialized() bool { return p.pool.Initialized() }

func (p *Pool) Status() devicepool.Status { return p.pool.Status() }

func (p *Pool) Backlog() int { return p.pool.Backlog() }

func (p *Pool) Close() error { return p.pool.Close() }

// Translate leases a device and translates text. Blank text is returned
// unchanged without touching the pool.
func (p *Pool) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	var out string
	err := p.pool.With(ctx, func(ctx context.Context, lease *devicepool.Lease[Model]) error {
		start := time.Now()
		translated, err := lease.Artifact().Translate(ctx, text)
		if err != nil {
			return err
		}
		p.logger.Debug("Translated",
			logging.Device(lease.DeviceID()),
			zap.Int("chars", len(text)),
			logging.Elapsed(start))
		out = translated
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	return out, nil
}
