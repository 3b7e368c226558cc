// Package generation drives one birthday card request from user text to
// saved images: admission, translation, prompt, image lease, save.
package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"birthday_bot/core"
	"birthday_bot/devicepool"
	"birthday_bot/imagegen"
	"birthday_bot/logging"
	"birthday_bot/progress"
	"birthday_bot/translate"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ImagePool is what the orchestrator needs from the image pool.
type ImagePool interface {
	Initialized() bool
	Initialize(ctx context.Context) error
	Status() devicepool.Status
	ExpectedLoadTime() time.Duration
	ExpectedGenerationTime(steps, numImages int) time.Duration
	GenerateWithin(ctx context.Context, p imagegen.GenerateParams, acquireTimeout time.Duration) (*imagegen.Batch, error)
}

// Translator translates user text to English.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Admitter is the backlog check run before any work starts.
type Admitter interface {
	Admit() error
}

// Config holds the read-only generation settings.
type Config struct {
	// Params carries everything but the prompt.
	Params         imagegen.GenerateParams
	Prompts        imagegen.PromptTemplates
	ImagesDir      string
	AcquireTimeout time.Duration
}

// Orchestrator is safe for concurrent use; all shared state lives in the
// pools.
type Orchestrator struct {
	images     ImagePool
	translator Translator
	admission  Admitter
	cfg        Config

	logger   *logging.Logger
	history  HistoryRecorder
	observer Observer
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *logging.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithHistory records one entry per request.
func WithHistory(h HistoryRecorder) Option { return func(o *Orchestrator) { o.history = h } }

// WithObserver receives stage timings and outcomes.
func WithObserver(ob Observer) Option { return func(o *Orchestrator) { o.observer = ob } }

func withClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New builds an orchestrator. translator and admission may be nil, in
// which case text is never translated and every request is admitted.
func New(images ImagePool, translator Translator, admission Admitter, cfg Config, opts ...Option) (*Orchestrator, error) {
	if images == nil {
		return nil, errors.New("generation: image pool is required")
	}
	if cfg.ImagesDir == "" {
		return nil, errors.New("generation: images dir is required")
	}
	o := &Orchestrator{
		images:     images,
		translator: translator,
		admission:  admission,
		cfg:        cfg,
		logger:     logging.NewNop(),
		history:    nopHistory{},
		observer:   nopObserver{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("generation")
	return o, nil
}

// Request is one user message to turn into cards.
type Request struct {
	Text     string
	UserID   int64
	Progress progress.Notifier
}

// Result describes a successful request.
type Result struct {
	RequestID    string        `json:"request_id"`
	Directory    string        `json:"directory"`
	Paths        []string      `json:"paths"`
	OriginalText string        `json:"original_text"`
	UsedContent  string        `json:"used_content"`
	Translated   bool          `json:"translated"`
	Prompt       string        `json:"prompt"`
	DeviceID     string        `json:"device_id"`
	Seed         int64         `json:"seed"`
	SaveFailures int           `json:"save_failures"`
	Duration     time.Duration `json:"duration"`
}

// Generate runs the full pipeline for req. Busy rejections wrap
// admission.ErrAllDevicesBusy. On any error no request directory is left
// behind.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	start := o.now()
	res := &Result{RequestID: uuid.NewString(), OriginalText: req.Text}
	logger := o.logger.With(logging.RequestID(res.RequestID), logging.UserID(req.UserID))
	notify := progress.OrNop(req.Progress)

	err := o.run(ctx, req, res, notify, logger)
	res.Duration = o.now().Sub(start)

	outcome := outcomeOf(err)
	o.observer.ObserveOutcome(outcome)
	o.history.Record(Entry{
		RequestID:    res.RequestID,
		UserID:       req.UserID,
		OriginalText: req.Text,
		UsedContent:  res.UsedContent,
		Translated:   res.Translated,
		DeviceID:     res.DeviceID,
		NumImages:    o.cfg.Params.NumImages,
		SavedImages:  len(res.Paths),
		Outcome:      outcome,
		Err:          err,
		Duration:     res.Duration,
		CreatedAt:    start,
	})
	if err != nil {
		logger.Warn("Generation request failed", zap.String("outcome", outcome), zap.Error(err), zap.Duration("duration", res.Duration))
		return nil, err
	}
	logger.Info("Generation request finished",
		zap.String("directory", res.Directory),
		zap.Int("images", len(res.Paths)),
		zap.Bool("translated", res.Translated),
		logging.Device(res.DeviceID),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request, res *Result, notify progress.Notifier, logger *logging.Logger) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return ErrEmptyText
	}
	if o.admission != nil {
		if err := o.admission.Admit(); err != nil {
			return err
		}
	}

	res.UsedContent, res.Translated = o.translate(ctx, text, notify, logger)
	var truncated bool
	res.Prompt, truncated = o.cfg.Prompts.BuildWithin(res.UsedContent, imagegen.MaxPromptLength)
	if truncated {
		logger.Warn("Content truncated to fit the prompt limit",
			zap.Int("content_bytes", len(res.UsedContent)),
			zap.Int("limit", imagegen.MaxPromptLength))
	}
	logger.Debug("Prompt built", zap.String("prompt", res.Prompt))

	if err := o.ensureLoaded(ctx, notify, logger); err != nil {
		return err
	}

	params := o.cfg.Params
	params.Prompt = res.Prompt
	expected := o.images.ExpectedGenerationTime(params.Steps, params.NumImages)
	notify.Notify(progress.ImageGenerationStart, progress.Fields{
		progress.ExpectedTime: int(expected.Seconds()),
		progress.NumImages:    params.NumImages,
	})
	genStart := o.now()
	batch, err := o.images.GenerateWithin(ctx, params, o.cfg.AcquireTimeout)
	if err != nil {
		return fmt.Errorf("generate images: %w", err)
	}
	genTime := o.now().Sub(genStart)
	o.observer.ObserveStage("image_generation", genTime)
	notify.Notify(progress.ImageGenerationDone, progress.Fields{
		progress.ActualTime: progress.Elapsed(genTime),
		progress.NumImages:  len(batch.Images),
	})
	res.DeviceID = batch.DeviceID
	res.Seed = batch.Seed

	return o.save(req.UserID, batch, res, logger)
}

// translate never fails: on error the original text is used.
func (o *Orchestrator) translate(ctx context.Context, text string, notify progress.Notifier, logger *logging.Logger) (string, bool) {
	notify.Notify(progress.TranslationStart, progress.Fields{
		progress.ExpectedTime: int(translate.ExpectedTime.Seconds()),
	})
	start := o.now()
	used, translated := text, false

	if o.translator != nil && translate.NeedsTranslation(text) {
		out, err := o.translator.Translate(ctx, text)
		switch {
		case err != nil:
			logger.Warn("Translation failed, using original text", zap.Error(err))
		case strings.TrimSpace(out) == "":
			logger.Warn("Translation was empty, using original text")
		default:
			used, translated = out, true
		}
	}

	elapsed := o.now().Sub(start)
	o.observer.ObserveStage("translation", elapsed)
	notify.Notify(progress.TranslationDone, progress.Fields{
		progress.ActualTime: progress.Elapsed(elapsed),
		progress.Translated: translated,
	})
	return used, translated
}

// ensureLoaded reports model loading around the pool's one-time init.
func (o *Orchestrator) ensureLoaded(ctx context.Context, notify progress.Notifier, logger *logging.Logger) error {
	if !o.images.Initialized() {
		notify.Notify(progress.ModelLoadingStart, progress.Fields{
			progress.ExpectedTime: int(o.images.ExpectedLoadTime().Seconds()),
		})
		start := o.now()
		if err := o.images.Initialize(ctx); err != nil {
			return fmt.Errorf("load image model: %w", err)
		}
		elapsed := o.now().Sub(start)
		o.observer.ObserveStage("model_loading", elapsed)
		notify.Notify(progress.ModelLoadingDone, progress.Fields{
			progress.ActualTime: progress.Elapsed(elapsed),
		})
	}
	if st := o.images.Status(); st.Loaded == 0 {
		logger.Error("No image device is loaded; request will wait until its deadline",
			zap.Any("failures", st.Failures))
	}
	return nil
}

// save writes every image, tolerating individual failures. With nothing
// saved the directory is removed and ErrNoImagesSaved returned.
func (o *Orchestrator) save(userID int64, batch *imagegen.Batch, res *Result, logger *logging.Logger) error {
	dir, err := core.NewRequestDir(o.cfg.ImagesDir, userID, o.now())
	if err != nil {
		return err
	}
	for i, img := range batch.Images {
		path := filepath.Join(dir, core.ArtifactName(i+1))
		if err := imagegen.SavePNG(path, img); err != nil {
			res.SaveFailures++
			logger.Error("Failed to save image", zap.String("path", path), zap.Error(err))
			continue
		}
		res.Paths = append(res.Paths, path)
	}
	if len(res.Paths) == 0 {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("Failed to remove empty request dir", zap.String("dir", dir), zap.Error(err))
		}
		return fmt.Errorf("%w: %d attempted", ErrNoImagesSaved, len(batch.Images))
	}
	res.Directory = dir
	return nil
}
