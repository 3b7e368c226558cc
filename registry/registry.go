// Package registry owns the device pools and everything built on them.
// One Registry is created per process and passed to the HTTP layer and
// the CLI; there are no package-level pools.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"birthday_bot/admission"
	"birthday_bot/aiclient"
	"birthday_bot/core"
	"birthday_bot/devicepool"
	"birthday_bot/devices"
	"birthday_bot/generation"
	"birthday_bot/history"
	"birthday_bot/imagegen"
	"birthday_bot/logging"
	"birthday_bot/metrics"
	"birthday_bot/speech"
	"birthday_bot/translate"

	"go.uber.org/zap"
)

// ErrPoolUnavailable means a pool finished loading with no usable device.
var ErrPoolUnavailable = errors.New("registry: no device loaded")

// Pools are the three device pools a registry serves.
type Pools struct {
	Images        *imagegen.Pool
	Translation   *translate.Pool
	Transcription *speech.Pool
}

// Options tune registry construction. All fields are optional.
type Options struct {
	Logger *logging.Logger
	// Detector expands "auto" device lists. Defaults to nvidia-smi.
	Detector devices.Detector
	// Preparer converts voice messages. Defaults to ffmpeg.
	Preparer speech.AudioPreparer
	Metrics  *metrics.Metrics
}

type Registry struct {
	cfg    *core.Config
	logger *logging.Logger

	pools        Pools
	admission    *admission.Controller
	orchestrator *generation.Orchestrator
	speech       *speech.Service
	metrics      *metrics.Metrics

	history *history.Store
	writer  *history.Writer

	closeOnce sync.Once
	closeErr  error
}

// New resolves device lists, builds the pools against their backend
// endpoints and assembles the registry. Models are not loaded until
// Warmup or the first request.
func New(ctx context.Context, cfg *core.Config, opts Options) (*Registry, error) {
	opts = opts.withDefaults()
	m := opts.Metrics

	imageDevs, err := resolve(ctx, "diffusion", cfg.Diffusion.Devices, cfg.Diffusion.Endpoint, opts.Detector)
	if err != nil {
		return nil, err
	}
	translationDevs, err := resolve(ctx, "translation", cfg.Translation.Devices, cfg.Translation.Endpoint, opts.Detector)
	if err != nil {
		return nil, err
	}
	speechDevs, err := resolve(ctx, "speech", cfg.Speech.Devices, cfg.Speech.Endpoint, opts.Detector)
	if err != nil {
		return nil, err
	}

	backend := cfg.Backend
	aiCfg := aiclient.Config{
		APIKey:          backend.APIKey,
		Timeout:         backend.Timeout.Std(),
		AllowSelfSigned: backend.AllowSelfSignedCerts,
	}

	var pools Pools
	pools.Images, err = imagegen.NewPool(imagegen.PoolConfig{
		Model:   cfg.Diffusion.Model,
		Devices: imageDevs,
		Client: imagegen.ClientConfig{
			Timeout:    backend.Timeout.Std(),
			APIKey:     backend.APIKey,
			RetryCount: backend.RetryCount,
		},
		Hooks:  waitHooks(m, "image"),
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	pools.Translation, err = translate.NewPool(translate.PoolConfig{
		Model:   cfg.Translation.Model,
		Devices: translationDevs,
		Client:  aiCfg,
		Hooks:   waitHooks(m, "translation"),
		Logger:  opts.Logger,
	})
	if err != nil {
		pools.Images.Close()
		return nil, err
	}
	pools.Transcription, err = speech.NewPool(speech.PoolConfig{
		Model:   cfg.Speech.Model,
		Devices: speechDevs,
		Client:  aiCfg,
		Hooks:   waitHooks(m, "transcription"),
		Logger:  opts.Logger,
	})
	if err != nil {
		pools.Images.Close()
		pools.Translation.Close()
		return nil, err
	}

	r, err := Assemble(cfg, pools, opts)
	if err != nil {
		pools.close()
		return nil, err
	}
	return r, nil
}

// Assemble builds a registry around existing pools. The registry takes
// ownership of them.
func Assemble(cfg *core.Config, pools Pools, opts Options) (*Registry, error) {
	opts = opts.withDefaults()
	if pools.Images == nil || pools.Translation == nil || pools.Transcription == nil {
		return nil, errors.New("registry: all three pools are required")
	}
	r := &Registry{
		cfg:     cfg,
		logger:  opts.Logger.Named("registry"),
		pools:   pools,
		metrics: opts.Metrics,
	}
	r.metrics.WatchPools(pools.Images, pools.Translation, pools.Transcription)

	var err error
	r.admission, err = admission.New(cfg.Diffusion.MaxQueueSize,
		[]admission.BacklogSource{pools.Images},
		admission.WithLogger(opts.Logger),
		admission.WithRejectHook(r.metrics.ObserveRejection))
	if err != nil {
		return nil, err
	}

	genOpts := []generation.Option{
		generation.WithLogger(opts.Logger),
		generation.WithObserver(r.metrics),
	}
	if cfg.History.Path != "" {
		r.history, err = history.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		r.writer = history.NewWriter(r.history, 0, opts.Logger)
		genOpts = append(genOpts, generation.WithHistory(r.writer))
	}

	r.orchestrator, err = generation.New(pools.Images, pools.Translation, r.admission, GenerationConfig(cfg), genOpts...)
	if err != nil {
		r.closeHistory(context.Background())
		return nil, err
	}

	r.speech = speech.NewService(pools.Transcription, opts.Preparer, speech.ServiceConfig{
		Language: cfg.Speech.Language,
		Limits: speech.Limits{
			Formats:     cfg.Speech.Formats,
			MaxDuration: cfg.Speech.MaxDuration.Std(),
			MaxFileSize: cfg.Speech.MaxFileSize,
		},
		WorkDir: cfg.Paths.AudioDir,
		Logger:  opts.Logger,
	})
	return r, nil
}

// GenerationConfig maps configuration to orchestrator settings.
func GenerationConfig(cfg *core.Config) generation.Config {
	d := cfg.Diffusion
	p := cfg.Prompts
	return generation.Config{
		Params: imagegen.GenerateParams{
			NegativePrompt: d.NegativePrompt,
			Width:          d.Width,
			Height:         d.Height,
			Steps:          d.Steps,
			GuidanceScale:  d.GuidanceScale,
			Seed:           d.Seed,
			NumImages:      d.NumImages,
		},
		Prompts: imagegen.PromptTemplates{
			Picture:   p.Picture,
			Style:     p.Style,
			Subject:   p.Subject,
			WithStyle: p.Template,
			NoStyle:   p.TemplateNoStyle,
		},
		ImagesDir:      cfg.Paths.ImagesDir,
		AcquireTimeout: d.AcquireTimeout.Std(),
	}
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	if o.Detector == nil {
		o.Detector = devices.NvidiaSMI{}
	}
	if o.Preparer == nil {
		o.Preparer = speech.NewFFmpeg("")
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	return o
}

func resolve(ctx context.Context, pool, list, endpoint string, detect devices.Detector) ([]devices.Assignment, error) {
	parsed, err := devices.ParseAssignments(list)
	if err != nil {
		return nil, fmt.Errorf("%s devices: %w", pool, err)
	}
	resolved, err := devices.Resolve(ctx, parsed, endpoint, detect)
	if err != nil {
		return nil, fmt.Errorf("%s devices: %w", pool, err)
	}
	return resolved, nil
}

func waitHooks(m *metrics.Metrics, pool string) devicepool.Hooks {
	if m == nil {
		return devicepool.Hooks{}
	}
	return devicepool.Hooks{
		Acquired: func(_ string, waited time.Duration) { m.ObserveWait(pool, waited) },
	}
}

func (r *Registry) Config() *core.Config { return r.cfg }

func (r *Registry) Pools() Pools { return r.pools }

func (r *Registry) Admission() *admission.Controller { return r.admission }

func (r *Registry) Orchestrator() *generation.Orchestrator { return r.orchestrator }

func (r *Registry) Speech() *speech.Service { return r.speech }

func (r *Registry) Metrics() *metrics.Metrics { return r.metrics }

// History returns nil when the history store is disabled.
func (r *Registry) History() *history.Store { return r.history }

// Status aggregates every pool and the admission controller.
type Status struct {
	Healthy       bool              `json:"healthy"`
	Images        devicepool.Status `json:"images"`
	Translation   devicepool.Status `json:"translation"`
	Transcription devicepool.Status `json:"transcription"`
	Admission     admission.Stats   `json:"admission"`
	Model         string            `json:"model"`
}

// Status never blocks on initialization. Healthy is false only when a
// pool finished loading with no usable device.
func (r *Registry) Status() Status {
	st := Status{
		Images:        r.pools.Images.Status(),
		Translation:   r.pools.Translation.Status(),
		Transcription: r.pools.Transcription.Status(),
		Admission:     r.admission.Stats(),
		Model:         r.pools.Images.Model(),
	}
	st.Healthy = true
	for _, p := range []devicepool.Status{st.Images, st.Translation, st.Transcription} {
		if p.Health == devicepool.HealthUnavailable {
			st.Healthy = false
		}
	}
	return st
}

// Warmup loads all three pools concurrently. It returns once every pool
// has finished loading, reporting pools that ended with no device.
func (r *Registry) Warmup(ctx context.Context) error {
	type initer interface {
		Initialize(context.Context) error
		Status() devicepool.Status
	}
	pools := []initer{r.pools.Images, r.pools.Translation, r.pools.Transcription}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range pools {
		wg.Add(1)
		go func(p initer) {
			defer wg.Done()
			start := time.Now()
			err := p.Initialize(ctx)
			st := p.Status()
			if err == nil && st.Loaded == 0 {
				err = fmt.Errorf("%w: %s", ErrPoolUnavailable, st.Name)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			r.logger.Info("Pool warmed up", logging.Pool(st.Name),
				zap.Int("loaded", st.Loaded), zap.Int("failed", st.Failed), logging.Elapsed(start))
		}(p)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close drains history writes and closes every pool. Safe to call more
// than once.
func (r *Registry) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		errs := []error{r.closeHistory(ctx), r.pools.close()}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

func (r *Registry) closeHistory(ctx context.Context) error {
	var errs []error
	if r.writer != nil {
		if err := r.writer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain history: %w", err))
		}
	}
	if r.history != nil {
		if err := r.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (p Pools) close() error {
	var errs []error
	for _, c := range []interface{ Close() error }{p.Images, p.Translation, p.Transcription} {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
