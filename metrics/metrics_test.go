package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"birthday_bot/devicepool"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type staticStatus devicepool.Status

func (s staticStatus) Status() devicepool.Status { return devicepool.Status(s) }

func TestObservers(t *testing.T) {
	m := New()
	m.ObserveOutcome("success")
	m.ObserveOutcome("success")
	m.ObserveOutcome("rejected")
	m.ObserveRejection(10)
	m.ObserveTranscription("failure")
	m.ObserveStage("translation", 1500*time.Millisecond)

	if got := testutil.ToFloat64(m.generations.WithLabelValues("success")); got != 2 {
		t.Errorf("generations{success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.rejections); got != 1 {
		t.Errorf("rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.transcriptions.WithLabelValues("failure")); got != 1 {
		t.Errorf("transcriptions{failure} = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.stageDuration); n != 1 {
		t.Errorf("stage histogram series = %d, want 1", n)
	}
}

func TestPoolCollector(t *testing.T) {
	m := New(staticStatus{
		Name: "image", Total: 3, Available: 1, Busy: 2, Leased: 1, Failed: 1,
		Waiting: 4, Acquires: 9, Health: devicepool.HealthDegraded,
	})

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`birthday_bot_pool_devices{pool="image",state="available"} 1`,
		`birthday_bot_pool_devices{pool="image",state="failed"} 1`,
		`birthday_bot_pool_waiting{pool="image"} 4`,
		`birthday_bot_pool_acquires_total{pool="image"} 9`,
		`birthday_bot_pool_health{health="degraded",pool="image"} 1`,
		`birthday_bot_pool_health{health="healthy",pool="image"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/users/{userID}/generations", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/"+id+"/generations", nil))
	}

	got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/v1/users/{userID}/generations", "GET", "418"))
	if got != 2 {
		t.Errorf("requests_total for route pattern = %v, want 2", got)
	}
	if v := testutil.ToFloat64(m.httpInflight); v != 0 {
		t.Errorf("inflight = %v after requests, want 0", v)
	}
}

func TestParseGPUSamples(t *testing.T) {
	got, err := parseGPUSamples("0, 35, 61, 2048, 24576\n1, 0, 40, 0, 24576\n")
	if err != nil {
		t.Fatalf("parseGPUSamples() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d samples, want 2", len(got))
	}
	if got[0].DeviceID != "cuda:0" || got[0].Utilization != 35 || got[0].MemoryUsed != 2048*1024*1024 {
		t.Errorf("sample[0] = %+v", got[0])
	}
	if got[1].DeviceID != "cuda:1" || got[1].Temperature != 40 {
		t.Errorf("sample[1] = %+v", got[1])
	}

	for _, bad := range []string{"", "0, 1, 2", "0, x, 2, 3, 4"} {
		if _, err := parseGPUSamples(bad); err == nil {
			t.Errorf("parseGPUSamples(%q) error = nil", bad)
		}
	}
}

type fakeGPUReader struct {
	samples []GPUSample
	err     error
}

func (f *fakeGPUReader) ReadGPUs(context.Context) ([]GPUSample, error) { return f.samples, f.err }

func TestGPUSampler(t *testing.T) {
	m := New()
	reader := &fakeGPUReader{samples: []GPUSample{{DeviceID: "cuda:0", Utilization: 80, MemoryTotal: 100}}}
	s := NewGPUSampler(reader, m, time.Second, nil)

	s.SampleOnce(context.Background())
	if got := testutil.ToFloat64(m.gpuUtilization.WithLabelValues("cuda:0")); got != 80 {
		t.Errorf("utilization = %v, want 80", got)
	}

	reader.err = errors.New("driver gone")
	s.SampleOnce(context.Background())
	latest, err := s.Latest()
	if err == nil || len(latest) != 1 || latest[0].Utilization != 80 {
		t.Errorf("Latest() = %+v, %v; want previous reading and error", latest, err)
	}
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(h)
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestWatchPoolsAndWait(t *testing.T) {
	m := New()
	m.WatchPools(staticStatus{Name: "translation", Total: 1, Available: 1, Health: devicepool.HealthHealthy})
	m.ObserveWait("translation", 200*time.Millisecond)

	body := scrape(t, m.Handler())
	if !strings.Contains(body, `birthday_bot_pool_devices{pool="translation",state="total"} 1`) {
		t.Error("watched pool missing from scrape")
	}
	if !strings.Contains(body, `birthday_bot_pool_acquire_wait_seconds_count{pool="translation"} 1`) {
		t.Error("acquire wait histogram missing from scrape")
	}
}
