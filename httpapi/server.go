// Package httpapi is the HTTP surface of the bot core: status, health,
// generation with optional NDJSON progress, transcription, history and
// metrics.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"birthday_bot/generation"
	"birthday_bot/history"
	"birthday_bot/logging"
	"birthday_bot/metrics"
	"birthday_bot/registry"
	"birthday_bot/speech"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Generator runs one generation request.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Result, error)
}

// Transcriber runs one voice message through the speech pipeline.
type Transcriber interface {
	Transcribe(ctx context.Context, req speech.Request) (*speech.Result, error)
}

// StatusReporter reports the aggregated pool status.
type StatusReporter interface {
	Status() registry.Status
}

// HistoryReader lists past generations.
type HistoryReader interface {
	ListByUser(ctx context.Context, userID int64, limit int) ([]history.Generation, error)
}

// Deps are the services the router dispatches to. History and Metrics
// may be nil.
type Deps struct {
	Generator   Generator
	Transcriber Transcriber
	Status      StatusReporter
	History     HistoryReader
	Metrics     *metrics.Metrics
	Logger      *logging.Logger
}

// Options tune request handling.
type Options struct {
	// MaxBodyBytes bounds JSON bodies. Default 1 MiB.
	MaxBodyBytes int64
	// MaxUploadBytes bounds multipart uploads. Default 25 MiB.
	MaxUploadBytes int64
	// UploadDir receives uploaded audio while it is transcribed.
	UploadDir string
	// RequestTimeout bounds a generation request. Zero means none.
	RequestTimeout time.Duration
	CORSOrigins    []string
	// BaseContext is cancelled on shutdown and cancels in-flight work.
	BaseContext context.Context
}

func (o Options) withDefaults() Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 25 << 20
	}
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	return o
}

// FromRegistry wires Deps to a registry.
func FromRegistry(r *registry.Registry, logger *logging.Logger) Deps {
	d := Deps{
		Generator:   r.Orchestrator(),
		Transcriber: r.Speech(),
		Status:      r,
		Metrics:     r.Metrics(),
		Logger:      logger,
	}
	if h := r.History(); h != nil {
		d.History = h
	}
	return d
}

type server struct {
	deps   Deps
	opts   Options
	logger *logging.Logger
}

// NewRouter builds the chi router.
func NewRouter(deps Deps, opts Options) http.Handler {
	opts = opts.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &server{deps: deps, opts: opts, logger: logger.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.ready)
	r.Get("/status", s.status)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/generations", s.generate)
		r.Post("/transcriptions", s.transcribe)
		r.Get("/users/{userID}/generations", s.listGenerations)
	})
	return r
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		writeJSONError(w, http.StatusNotFound, "status not available")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Status.Status())
}

// ready is 200 once the image pool has at least one loaded device.
func (s *server) ready(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "status not available")
		return
	}
	st := s.deps.Status.Status()
	if st.Images.Initialized && st.Images.Loaded > 0 {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte(string(st.Images.Health)))
}

// requestContext derives the work context: cancelled by the client, by
// server shutdown, or by timeout.
func (s *server) requestContext(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(s.opts.BaseContext, cancel)
	if timeout > 0 {
		tctx, tcancel := context.WithTimeout(ctx, timeout)
		return tctx, func() {
			tcancel()
			stop()
			cancel()
		}
	}
	return ctx, func() {
		stop()
		cancel()
	}
}

func wantsNDJSON(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "application/x-ndjson")
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			logging.Elapsed(start),
		}
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			fields = append(fields, zap.String("http_request_id", rid))
		}
		if ww.Status() >= http.StatusInternalServerError {
			s.logger.Warn("HTTP request failed", fields...)
			return
		}
		s.logger.Debug("HTTP request", fields...)
	})
}

// NewServer returns an http.Server for handler. There is no write
// timeout: generation responses can take minutes.
func NewServer(addr string, handler http.Handler, base context.Context) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	if base != nil {
		srv.BaseContext = func(net.Listener) context.Context { return base }
	}
	return srv
}
