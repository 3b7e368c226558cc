package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"birthday_bot/core"
	"birthday_bot/history"
	"birthday_bot/httpapi"
	"birthday_bot/logging"
	"birthday_bot/metrics"
	"birthday_bot/registry"
	"birthday_bot/shutdown"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	gpuSampleInterval  = 15 * time.Second
	retentionInterval  = time.Hour
	uploadPattern      = "upload_*"
	defaultStopTimeout = shutdown.DefaultTimeout
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr        string
		stopTimeout time.Duration
		noGPU       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(cmd.Context(), cfg, logger, serveOptions{
				stopTimeout: stopTimeout,
				gpuMetrics:  !noGPU,
				signals:     true,
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.addr")
	cmd.Flags().DurationVar(&stopTimeout, "shutdown-timeout", defaultStopTimeout, "Time allowed for in-flight requests and cleanup")
	cmd.Flags().BoolVar(&noGPU, "no-gpu-metrics", false, "Do not poll nvidia-smi for GPU gauges")
	return cmd
}

type serveOptions struct {
	stopTimeout time.Duration
	gpuMetrics  bool
	// signals makes the process handle SIGINT and SIGTERM itself. The
	// service runner leaves them to the service manager and cancels ctx.
	signals bool
	// ready, when set, receives the bound address once listening.
	ready func(addr string)
}

// serve runs the bot until ctx is cancelled or a signal arrives, then
// drains in-flight requests and releases every resource.
func serve(ctx context.Context, cfg *core.Config, logger *logging.Logger, so serveOptions) error {
	mgr := shutdown.NewManager(logger, shutdown.WithTimeout(so.stopTimeout))
	if so.signals {
		mgr.Start()
	}
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() { mgr.Trigger("stop requested") })
		defer stop()
	}
	mgr.Register("logger", shutdown.PriorityLogs, func(context.Context) error {
		_ = logger.Sync()
		return nil
	})

	logger.Info("Starting birthday_bot",
		zap.String("addr", cfg.Server.Addr),
		zap.String("model", cfg.Diffusion.Model),
		zap.String("image_devices", cfg.Diffusion.Devices),
		zap.Int("max_queue_size", cfg.Diffusion.MaxQueueSize),
		zap.Bool("history", cfg.History.Path != ""),
	)

	if err := cfg.Paths.EnsureDirs(); err != nil {
		return withExitCode(core.ExitCodeError, errors.Join(err, mgr.Shutdown()))
	}

	reg, err := registry.New(mgr.Context(), cfg, registry.Options{Logger: logger})
	if err != nil {
		return withExitCode(core.ExitCodeFor(err), errors.Join(err, mgr.Shutdown()))
	}
	mgr.Register("registry", shutdown.PriorityPools, reg.Close)
	startWorkers(mgr, cfg, reg, logger, so)

	// work outlives the first signal so that draining can finish; the
	// abort hook cancels whatever is still running after the drain.
	work, abort := context.WithCancel(context.Background())
	mgr.Register("abort-requests", shutdown.PriorityAbort, func(context.Context) error {
		abort()
		return nil
	})

	router := httpapi.NewRouter(httpapi.FromRegistry(reg, logger), httpapi.Options{
		UploadDir:      cfg.Paths.AudioDir,
		RequestTimeout: cfg.Diffusion.RequestTimeout.Std(),
		CORSOrigins:    cfg.Server.CORSOrigins,
		BaseContext:    work,
	})
	srv := httpapi.NewServer(cfg.Server.Addr, mgr.Middleware(router), work)
	mgr.Register("http-server", shutdown.PriorityServer, srv.Shutdown)
	mgr.Register("uploads", shutdown.PriorityFiles, shutdown.RemoveMatching(logger, cfg.Paths.AudioDir, uploadPattern))

	ln, err := listen(cfg.Server.Addr)
	if err != nil {
		return withExitCode(core.ExitCodeError, errors.Join(err, mgr.Shutdown()))
	}
	logger.Info("HTTP API listening", zap.String("addr", ln.Addr().String()))
	if so.ready != nil {
		so.ready(ln.Addr().String())
	}

	serveErr := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			serveErr <- err
			mgr.Trigger("http server failed")
			return
		}
		serveErr <- nil
	}()

	<-mgr.Context().Done()
	shutdownErr := mgr.Shutdown()
	runErr := <-serveErr
	err = errors.Join(runErr, shutdownErr)
	return withExitCode(mgr.ExitCode(err), err)
}

// startWorkers launches the background loops and registers their stop
// hooks.
func startWorkers(mgr *shutdown.Manager, cfg *core.Config, reg *registry.Registry, logger *logging.Logger, so serveOptions) {
	ctx := mgr.Context()

	if cfg.Server.Warmup {
		mgr.Register("warmup", shutdown.PriorityWorkers, shutdown.Go(ctx, func(ctx context.Context) {
			if err := reg.Warmup(ctx); err != nil {
				logger.Error("Warmup incomplete", zap.Error(err))
			}
		}))
	}

	dirs := []string{cfg.Paths.ImagesDir, cfg.Paths.AudioDir}
	janitorLog := logger.Named("janitor")
	mgr.Register("janitor", shutdown.PriorityWorkers, shutdown.Go(ctx, func(ctx context.Context) {
		core.RunJanitor(ctx, dirs, cfg.Paths.CleanupMaxAge.Std(), cfg.Paths.CleanupInterval.Std(), func(st core.CleanupStats, err error) {
			if err != nil {
				janitorLog.Warn("Temp cleanup had errors", zap.Int("errors", st.Errors), zap.Error(err))
			}
			if st.Removed > 0 {
				janitorLog.Info("Removed expired request directories", zap.Int("removed", st.Removed), zap.Int("kept", st.Kept))
			}
		})
	}))

	if store := reg.History(); store != nil {
		mgr.Register("history-retention", shutdown.PriorityWorkers, shutdown.Go(ctx, func(ctx context.Context) {
			history.RunRetention(ctx, store, cfg.History.Retention.Std(), retentionInterval, logger.Named("history"))
		}))
	}

	if so.gpuMetrics {
		sampler := metrics.NewGPUSampler(metrics.NvidiaSMIReader{}, reg.Metrics(), gpuSampleInterval, logger)
		mgr.Register("gpu-sampler", shutdown.PriorityWorkers, shutdown.Go(ctx, sampler.Run))
	}
}

func listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}
