package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"time"

	"birthday_bot/core"
	"birthday_bot/generation"
	"birthday_bot/history"
	"birthday_bot/logging"
	"birthday_bot/registry"
	"birthday_bot/shutdown"
	"birthday_bot/speech"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const closeTimeout = 30 * time.Second

// withRegistry builds a registry for a one-shot command and closes it
// afterwards. SIGINT and SIGTERM cancel the command context.
func (o *rootOptions) withRegistry(parent context.Context, fn func(ctx context.Context, cfg *core.Config, reg *registry.Registry) error) error {
	cfg, logger, err := o.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, shutdown.Signals...)
	defer stop()

	if err := cfg.Paths.EnsureDirs(); err != nil {
		return err
	}
	reg, err := registry.New(ctx, cfg, registry.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := reg.Close(closeCtx); err != nil {
			logger.Warn("Registry close failed", zap.Error(err))
		}
	}()
	return fn(ctx, cfg, reg)
}

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:     "generate <text>",
		Short:   "Generate birthday cards locally and print the saved paths",
		Args:    cobra.MinimumNArgs(1),
		Example: "  birthday_bot generate --user 42 \"торт со свечами\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return opts.withRegistry(cmd.Context(), func(ctx context.Context, cfg *core.Config, reg *registry.Registry) error {
				res, err := reg.Orchestrator().Generate(ctx, generation.Request{
					Text:     text,
					UserID:   userID,
					Progress: newConsoleProgress(opts.stderr),
				})
				if err != nil {
					return err
				}
				printGeneration(opts, res)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id the request directory is named after")
	return cmd
}

func printGeneration(opts *rootOptions, res *generation.Result) {
	if res.Translated {
		dimColor.Fprintf(opts.stderr, "translated: %s\n", res.UsedContent)
	}
	for _, p := range res.Paths {
		fprintf(opts.stdout, "%s\n", p)
	}
	if res.SaveFailures > 0 {
		warnColor.Fprintf(opts.stderr, "%d image(s) could not be saved\n", res.SaveFailures)
	}
	okColor.Fprintf(opts.stderr, "%d card(s) on %s in %s\n", len(res.Paths), res.DeviceID, res.Duration.Round(time.Millisecond))
}

func newTranscribeCmd(opts *rootOptions) *cobra.Command {
	var (
		userID   int64
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe a voice message locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRegistry(cmd.Context(), func(ctx context.Context, cfg *core.Config, reg *registry.Registry) error {
				res, err := reg.Speech().Transcribe(ctx, speech.Request{
					AudioPath: args[0],
					UserID:    userID,
					Duration:  duration,
					Progress:  newConsoleProgress(opts.stderr),
				})
				if err != nil {
					return err
				}
				fprintf(opts.stdout, "%s\n", res.Text)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id for logging")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Reported audio duration; probed with ffprobe when zero")
	return cmd
}

func newCleanupCmd(opts *rootOptions) *cobra.Command {
	var (
		maxAge   time.Duration
		pruneAge time.Duration
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired request directories and prune history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if maxAge <= 0 {
				maxAge = cfg.Paths.CleanupMaxAge.Std()
			}
			if pruneAge <= 0 {
				pruneAge = cfg.History.Retention.Std()
			}
			return cleanup(cmd.Context(), cfg, logger, opts, maxAge, pruneAge)
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Remove request directories older than this, defaults to paths.cleanup_max_age")
	cmd.Flags().DurationVar(&pruneAge, "history-retention", 0, "Prune history rows older than this, defaults to history.retention")
	return cmd
}

func cleanup(ctx context.Context, cfg *core.Config, logger *logging.Logger, opts *rootOptions, maxAge, pruneAge time.Duration) error {
	now := time.Now()
	st, err := core.CleanupOld([]string{cfg.Paths.ImagesDir, cfg.Paths.AudioDir}, maxAge, now)
	fprintf(opts.stdout, "temp: removed %d, kept %d, errors %d\n", st.Removed, st.Kept, st.Errors)
	if err != nil {
		logger.Warn("Temp cleanup had errors", zap.Error(err))
	}
	if cfg.History.Path == "" || pruneAge <= 0 {
		return err
	}
	store, openErr := history.Open(cfg.History.Path)
	if openErr != nil {
		return openErr
	}
	defer store.Close()
	n, pruneErr := store.Prune(ctx, now.Add(-pruneAge))
	if pruneErr != nil {
		return fmt.Errorf("prune history: %w", pruneErr)
	}
	fprintf(opts.stdout, "history: pruned %d row(s)\n", n)
	return err
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := core.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(opts.stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg.Redacted())
		},
	}, &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := core.LoadConfig(opts.configPath); err != nil {
				return err
			}
			okColor.Fprintln(opts.stdout, "configuration is valid")
			return nil
		},
	})
	return cmd
}
