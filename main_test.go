package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"birthday_bot/admission"
	"birthday_bot/core"
	"birthday_bot/devicepool"
	"birthday_bot/logging"
	"birthday_bot/progress"
	"birthday_bot/registry"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, core.ExitCodeSuccess},
		{"plain", errors.New("x"), core.ExitCodeError},
		{"config", &core.ConfigError{Code: core.ErrCodeInvalidValue, Message: "bad"}, core.ExitCodeConfig},
		{"signal", &exitError{code: core.ExitCodeSIGTERM}, core.ExitCodeSIGTERM},
		{"wrapped signal", withExitCode(core.ExitCodeSIGINT, context.Canceled), core.ExitCodeSIGINT},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
	if withExitCode(core.ExitCodeSuccess, nil) != nil {
		t.Error("withExitCode(success, nil) != nil")
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"nope"}, &stdout, &stderr); code != core.ExitCodeError {
		t.Errorf("run() = %d, want %d", code, core.ExitCodeError)
	}
	if !strings.Contains(stderr.String(), "unknown command") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd(io.Discard, io.Discard)
	for _, path := range [][]string{
		{"serve"}, {"status"}, {"generate"}, {"transcribe"}, {"cleanup"},
		{"config", "show"}, {"config", "validate"},
		{"service", "install"}, {"service", "run"}, {"service", "status"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) = %v, %v", path, cmd, err)
		}
	}
}

func TestBaseURL(t *testing.T) {
	tests := map[string]string{
		":8080":          "http://127.0.0.1:8080",
		"0.0.0.0:9000":   "http://127.0.0.1:9000",
		"10.0.0.5:8080":  "http://10.0.0.5:8080",
		"localhost:8080": "http://localhost:8080",
	}
	for addr, want := range tests {
		if got := baseURL(addr); got != want {
			t.Errorf("baseURL(%q) = %q, want %q", addr, got, want)
		}
	}
}

func sampleStatus() registry.Status {
	return registry.Status{
		Healthy: true,
		Model:   "stabilityai/stable-diffusion-xl-base-1.0",
		Images: devicepool.Status{
			Name: "image", Devices: []string{"cuda:0", "cuda:1"}, Total: 2, Loaded: 1, Available: 1,
			Failed: 1, Health: devicepool.HealthDegraded, Failures: map[string]string{"cuda:1": "out of memory"},
		},
		Translation:   devicepool.Status{Name: "translation", Devices: []string{"cpu"}, Total: 1, Loaded: 1, Available: 1, Health: devicepool.HealthHealthy},
		Transcription: devicepool.Status{Name: "transcription", Devices: []string{"cpu"}, Total: 1, Health: devicepool.HealthInitializing},
		Admission:     admission.Stats{Backlog: 2, MaxQueueSize: 10, Admitted: 7, Rejected: 1},
	}
}

func TestStatusCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sampleStatus())
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"status", "--url", srv.URL}, &stdout, &stderr)
	if code != core.ExitCodeSuccess {
		t.Fatalf("run() = %d, stderr = %s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"image", "degraded", "1/2", "cuda:0,cuda:1", "queue: 2/10 waiting", "cuda:1: out of memory"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusCmd_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"status", "--url", srv.URL}, &stdout, &stderr); code != core.ExitCodeError {
		t.Errorf("run() = %d, want %d", code, core.ExitCodeError)
	}
	if !strings.Contains(stderr.String(), "503") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestConsoleProgress(t *testing.T) {
	var buf bytes.Buffer
	p := newConsoleProgress(&buf)
	p.Notify(progress.TranslationStart, progress.Fields{progress.ExpectedTime: 2})
	p.Notify(progress.TranslationDone, progress.Fields{progress.ActualTime: 0.42})
	p.Notify(progress.SendingImages, nil)

	out := buf.String()
	for _, want := range []string{"translation start (about 2s)", "translation done in 0.4s", "sending images"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigShow_Redacts(t *testing.T) {
	path := writeConfig(t, "backend:\n  api_key: sk-secret-value\ndiffusion:\n  devices: cpu\n")
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"config", "show", "--config", path}, &stdout, &stderr); code != core.ExitCodeSuccess {
		t.Fatalf("run() = %d, stderr = %s", code, stderr.String())
	}
	if strings.Contains(stdout.String(), "sk-secret-value") {
		t.Error("api key printed in clear")
	}
	if !strings.Contains(stdout.String(), "[REDACTED]") {
		t.Errorf("output lacks redaction marker:\n%s", stdout.String())
	}
}

func TestConfigValidate_Invalid(t *testing.T) {
	path := writeConfig(t, "diffusion:\n  devices: cpu\n  steps: -3\n")
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"config", "validate", "--config", path}, &stdout, &stderr); code != core.ExitCodeConfig {
		t.Errorf("run() = %d, want %d (stderr %s)", code, core.ExitCodeConfig, stderr.String())
	}
}

func TestCleanupCmd(t *testing.T) {
	root := t.TempDir()
	images := filepath.Join(root, "images")
	old := filepath.Join(images, "birthday_cards_1_1")
	if err := os.MkdirAll(old, 0o755); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, "diffusion:\n  devices: cpu\npaths:\n  temp_dir: "+root+
		"\n  images_dir: "+images+"\n  audio_dir: "+filepath.Join(root, "audio")+"\nlog:\n  file: \"\"\n")

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"cleanup", "--config", path, "--max-age", "24h"}, &stdout, &stderr); code != core.ExitCodeSuccess {
		t.Fatalf("run() = %d, stderr = %s", code, stderr.String())
	}
	if _, err := os.Stat(old); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expired dir still present: %v", err)
	}
	if !strings.Contains(stdout.String(), "removed 1") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestServe_StartsAndStops(t *testing.T) {
	cfg := core.Default()
	dir := t.TempDir()
	cfg.Diffusion.Devices = "cpu"
	cfg.Paths.TempDir = dir
	cfg.Paths.ImagesDir = filepath.Join(dir, "images")
	cfg.Paths.AudioDir = filepath.Join(dir, "audio")
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Log.File = ""

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, cfg, logging.NewNop(), serveOptions{
			stopTimeout: 5 * time.Second,
			ready:       func(addr string) { addrCh <- addr },
		})
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-errCh:
		t.Fatalf("serve() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get("http://" + addr + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz before load = %d, want 503", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("serve() = %v, want nil after cancel", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve() did not return after cancel")
	}
}

func TestWorkDir(t *testing.T) {
	if got := workDir(filepath.Join("srv", "bot", "conf", "config.yaml")); got != filepath.Join("srv", "bot") {
		t.Errorf("workDir(conf/...) = %q", got)
	}
	if got := workDir(filepath.Join("etc", "bot.yaml")); got != "etc" {
		t.Errorf("workDir(etc/bot.yaml) = %q", got)
	}
}
