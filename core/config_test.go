package core

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", envMap(nil))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	d := cfg.Diffusion
	if d.Width != 1024 || d.Height != 1024 || d.Steps != 28 || d.GuidanceScale != 7.5 ||
		d.Seed != -1 || d.NumImages != 4 || d.MaxQueueSize != 10 {
		t.Errorf("diffusion defaults = %+v", d)
	}
	if cfg.Translation.Model != "Helsinki-NLP/opus-mt-ru-en" {
		t.Errorf("translation model = %q", cfg.Translation.Model)
	}
	if cfg.Speech.MaxDuration.Std() != time.Minute || cfg.Speech.MaxFileSize != 20<<20 || cfg.Speech.Language != "ru" {
		t.Errorf("speech defaults = %+v", cfg.Speech)
	}
	if cfg.Paths.CleanupMaxAge.Std() != 24*time.Hour {
		t.Errorf("cleanup max age = %v", cfg.Paths.CleanupMaxAge)
	}
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), envMap(nil)); err != nil {
		t.Errorf("Load(missing) error = %v", err)
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FileFormats(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"config.yaml", `
diffusion:
  model: black-forest-labs/FLUX.1-schnell
  devices: cuda:0,cuda:1
  steps: 4
  acquire_timeout: 45s
speech:
  formats: [ogg, .MP3]
`},
		{"config.toml", `
[diffusion]
model = "black-forest-labs/FLUX.1-schnell"
devices = "cuda:0,cuda:1"
steps = 4
acquire_timeout = "45s"

[speech]
formats = ["ogg", ".MP3"]
`},
		{"config.json", `{
  "diffusion": {"model": "black-forest-labs/FLUX.1-schnell", "devices": "cuda:0,cuda:1", "steps": 4, "acquire_timeout": "45s"},
  "speech": {"formats": ["ogg", ".MP3"]}
}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, tt.name, tt.body), envMap(nil))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			d := cfg.Diffusion
			if d.Model != "black-forest-labs/FLUX.1-schnell" || d.Devices != "cuda:0,cuda:1" || d.Steps != 4 {
				t.Errorf("diffusion = %+v", d)
			}
			if d.AcquireTimeout.Std() != 45*time.Second {
				t.Errorf("acquire_timeout = %v", d.AcquireTimeout)
			}
			if d.Width != 1024 {
				t.Errorf("width = %d, default should survive", d.Width)
			}
			if want := []string{".ogg", ".mp3"}; !reflect.DeepEqual(cfg.Speech.Formats, want) {
				t.Errorf("formats = %v, want %v", cfg.Speech.Formats, want)
			}
		})
	}
}

func TestLoad_BadFile(t *testing.T) {
	for name, body := range map[string]string{
		"broken.yaml": "diffusion: [",
		"config.ini":  "x=1",
	} {
		_, err := Load(writeFile(t, name, body), envMap(nil))
		if ErrorCode(err) != ErrCodeConfigFile {
			t.Errorf("Load(%s) error = %v, want %s", name, err, ErrCodeConfigFile)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := Load("", envMap(map[string]string{
		"DIFFUSION_GPU_DEVICES":     "cuda:0=http://gpu0:7860, cuda:1",
		"DIFFUSION_STEPS":           "30",
		"DIFFUSION_GUIDANCE_SCALE":  "5.5",
		"DIFFUSION_SEED":            "1234",
		"DIFFUSION_MAX_QUEUE_SIZE":  "3",
		"DIFFUSION_ACQUIRE_TIMEOUT": "90",
		"MAX_VOICE_DURATION":        "2m",
		"ALLOW_SELF_SIGNED_CERTS":   "yes",
		"TEMP_DIR":                  "/var/tmp/bot",
		"DEV_MODE":                  "on",
		"CORS_ORIGINS":              "https://a.example, ,https://b.example",
		"LOG_LEVEL":                 "warn",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	d := cfg.Diffusion
	if d.Devices != "cuda:0=http://gpu0:7860, cuda:1" || d.Steps != 30 || d.GuidanceScale != 5.5 || d.Seed != 1234 || d.MaxQueueSize != 3 {
		t.Errorf("diffusion = %+v", d)
	}
	if d.AcquireTimeout.Std() != 90*time.Second || cfg.Speech.MaxDuration.Std() != 2*time.Minute {
		t.Errorf("durations = %v / %v", d.AcquireTimeout, cfg.Speech.MaxDuration)
	}
	if !cfg.Backend.AllowSelfSignedCerts {
		t.Error("ALLOW_SELF_SIGNED_CERTS not applied")
	}
	if cfg.Paths.ImagesDir != filepath.Join("/var/tmp/bot", "images") || cfg.Paths.AudioDir != filepath.Join("/var/tmp/bot", "audio") {
		t.Errorf("paths = %+v", cfg.Paths)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("DEV_MODE should force debug, got %q", cfg.Log.Level)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.Server.CORSOrigins, want) {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
}

func TestLoad_InvalidEnvIsReported(t *testing.T) {
	_, err := Load("", envMap(map[string]string{
		"DIFFUSION_STEPS": "many",
		"DEV_MODE":        "perhaps",
	}))
	if ErrorCode(err) != ErrCodeInvalidValue {
		t.Fatalf("Load() error = %v, want %s", err, ErrCodeInvalidValue)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   string
	}{
		{"width not multiple of 8", func(c *Config) { c.Diffusion.Width = 1001 }, ErrCodeOutOfRange},
		{"steps too high", func(c *Config) { c.Diffusion.Steps = 101 }, ErrCodeOutOfRange},
		{"guidance too low", func(c *Config) { c.Diffusion.GuidanceScale = 0.5 }, ErrCodeOutOfRange},
		{"zero queue", func(c *Config) { c.Diffusion.MaxQueueSize = 0 }, ErrCodeOutOfRange},
		{"no devices", func(c *Config) { c.Translation.Devices = " , " }, ErrCodeNoDevices},
		{"template without content", func(c *Config) { c.Prompts.Template = "<picture>{picture}</picture>" }, ErrCodeTemplate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil")
			}
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Code != tt.code {
				t.Errorf("Validate() error = %v, want code %s", err, tt.code)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Backend.APIKey = "sk-live"
	if got := cfg.Redacted().Backend.APIKey; got != "[REDACTED]" {
		t.Errorf("Redacted APIKey = %q", got)
	}
	if cfg.Backend.APIKey != "sk-live" {
		t.Error("Redacted modified the original")
	}
}

func TestParseDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"":     0,
		"30":   30 * time.Second,
		"1.5":  1500 * time.Millisecond,
		"2m":   2 * time.Minute,
		"1h5m": time.Hour + 5*time.Minute,
	}
	for in, want := range tests {
		got, err := ParseDuration(in)
		if err != nil || got != want {
			t.Errorf("ParseDuration(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseDuration("soon"); err == nil {
		t.Error("ParseDuration(soon) error = nil")
	}
}

func TestExitCodeFor(t *testing.T) {
	if got := ExitCodeFor(nil); got != ExitCodeSuccess {
		t.Errorf("nil = %d", got)
	}
	if got := ExitCodeFor(errors.Join(errors.New("x"), &ConfigError{Code: ErrCodeTemplate})); got != ExitCodeConfig {
		t.Errorf("config error = %d", got)
	}
	if got := ExitCodeFor(errors.New("boom")); got != ExitCodeError {
		t.Errorf("plain error = %d", got)
	}
	if ExitCodeName(ExitCodeSIGTERM) != "terminated (SIGTERM)" {
		t.Error("ExitCodeName(143)")
	}
}
