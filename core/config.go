package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"birthday_bot/devices"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when no --config flag is given. A missing
// file at this path is not an error.
const DefaultConfigPath = "conf/config.yaml"

type DiffusionConfig struct {
	Model          string   `yaml:"model" toml:"model" json:"model"`
	Devices        string   `yaml:"devices" toml:"devices" json:"devices"`
	Endpoint       string   `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	Width          int      `yaml:"width" toml:"width" json:"width"`
	Height         int      `yaml:"height" toml:"height" json:"height"`
	Steps          int      `yaml:"steps" toml:"steps" json:"steps"`
	GuidanceScale  float64  `yaml:"guidance_scale" toml:"guidance_scale" json:"guidance_scale"`
	Seed           int64    `yaml:"seed" toml:"seed" json:"seed"`
	NumImages      int      `yaml:"num_images" toml:"num_images" json:"num_images"`
	NegativePrompt string   `yaml:"negative_prompt" toml:"negative_prompt" json:"negative_prompt"`
	MaxQueueSize   int      `yaml:"max_queue_size" toml:"max_queue_size" json:"max_queue_size"`
	AcquireTimeout Duration `yaml:"acquire_timeout" toml:"acquire_timeout" json:"acquire_timeout"`
	RequestTimeout Duration `yaml:"request_timeout" toml:"request_timeout" json:"request_timeout"`
}

type TranslationConfig struct {
	Model    string `yaml:"model" toml:"model" json:"model"`
	Devices  string `yaml:"devices" toml:"devices" json:"devices"`
	Endpoint string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
}

type SpeechConfig struct {
	Model       string   `yaml:"model" toml:"model" json:"model"`
	Language    string   `yaml:"language" toml:"language" json:"language"`
	Devices     string   `yaml:"devices" toml:"devices" json:"devices"`
	Endpoint    string   `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	Formats     []string `yaml:"formats" toml:"formats" json:"formats"`
	MaxDuration Duration `yaml:"max_duration" toml:"max_duration" json:"max_duration"`
	MaxFileSize int64    `yaml:"max_file_size" toml:"max_file_size" json:"max_file_size"`
	FFmpegPath  string   `yaml:"ffmpeg_path" toml:"ffmpeg_path" json:"ffmpeg_path"`
}

type PromptsConfig struct {
	Picture         string `yaml:"picture" toml:"picture" json:"picture"`
	Style           string `yaml:"style" toml:"style" json:"style"`
	Subject         string `yaml:"subject" toml:"subject" json:"subject"`
	Template        string `yaml:"template" toml:"template" json:"template"`
	TemplateNoStyle string `yaml:"template_no_style" toml:"template_no_style" json:"template_no_style"`
}

type BackendConfig struct {
	APIKey               string   `yaml:"api_key" toml:"api_key" json:"-"`
	Timeout              Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
	AllowSelfSignedCerts bool     `yaml:"allow_self_signed_certs" toml:"allow_self_signed_certs" json:"allow_self_signed_certs"`
	RetryCount           int      `yaml:"retry_count" toml:"retry_count" json:"retry_count"`
}

type PathsConfig struct {
	TempDir         string   `yaml:"temp_dir" toml:"temp_dir" json:"temp_dir"`
	ImagesDir       string   `yaml:"images_dir" toml:"images_dir" json:"images_dir"`
	AudioDir        string   `yaml:"audio_dir" toml:"audio_dir" json:"audio_dir"`
	CleanupMaxAge   Duration `yaml:"cleanup_max_age" toml:"cleanup_max_age" json:"cleanup_max_age"`
	CleanupInterval Duration `yaml:"cleanup_interval" toml:"cleanup_interval" json:"cleanup_interval"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr" toml:"addr" json:"addr"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins" json:"cors_origins"`
	Warmup      bool     `yaml:"warmup" toml:"warmup" json:"warmup"`
}

// HistoryConfig enables the generation history store. An empty Path
// disables it.
type HistoryConfig struct {
	Path      string   `yaml:"path" toml:"path" json:"path"`
	Retention Duration `yaml:"retention" toml:"retention" json:"retention"`
}

type LogConfig struct {
	Level   string `yaml:"level" toml:"level" json:"level"`
	File    string `yaml:"file" toml:"file" json:"file"`
	DevMode bool   `yaml:"dev_mode" toml:"dev_mode" json:"dev_mode"`
}

// Config is the whole service configuration. It is read once at startup
// and treated as read-only afterwards.
type Config struct {
	Diffusion   DiffusionConfig   `yaml:"diffusion" toml:"diffusion" json:"diffusion"`
	Translation TranslationConfig `yaml:"translation" toml:"translation" json:"translation"`
	Speech      SpeechConfig      `yaml:"speech" toml:"speech" json:"speech"`
	Prompts     PromptsConfig     `yaml:"prompts" toml:"prompts" json:"prompts"`
	Backend     BackendConfig     `yaml:"backend" toml:"backend" json:"backend"`
	Paths       PathsConfig       `yaml:"paths" toml:"paths" json:"paths"`
	Server      ServerConfig      `yaml:"server" toml:"server" json:"server"`
	History     HistoryConfig     `yaml:"history" toml:"history" json:"history"`
	Log         LogConfig         `yaml:"log" toml:"log" json:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Diffusion: DiffusionConfig{
			Model:          "stabilityai/stable-diffusion-xl-base-1.0",
			Devices:        devices.Auto,
			Endpoint:       "http://127.0.0.1:786{index}",
			Width:          1024,
			Height:         1024,
			Steps:          28,
			GuidanceScale:  7.5,
			Seed:           -1,
			NumImages:      4,
			NegativePrompt: "blurry, low quality, distorted, deformed, ugly, bad anatomy, watermark, signature",
			MaxQueueSize:   10,
		},
		Translation: TranslationConfig{
			Model:    "Helsinki-NLP/opus-mt-ru-en",
			Devices:  "cpu",
			Endpoint: "http://127.0.0.1:8001",
		},
		Speech: SpeechConfig{
			Model:       "small",
			Language:    "ru",
			Devices:     "cpu",
			Endpoint:    "http://127.0.0.1:8002",
			Formats:     []string{".ogg", ".mp3", ".wav", ".m4a", ".flac"},
			MaxDuration: Duration(60 * time.Second),
			MaxFileSize: 20 << 20,
		},
		Prompts: PromptsConfig{
			Picture:         "cartoon image, fun, joyful, happy",
			Style:           "digital art, professional, masterpiece, best quality",
			Subject:         "young girl named Evelina, dark long hair, big eyes",
			Template:        "<picture>{picture}</picture>, <style>{style}</style>, <subject>{subject}</subject>, <content>{content}</content>",
			TemplateNoStyle: "<picture>{picture}</picture>, <subject>{subject}</subject>, <content>{content}</content>",
		},
		Backend: BackendConfig{
			Timeout:    Duration(10 * time.Minute),
			RetryCount: 2,
		},
		Paths: PathsConfig{
			TempDir:         "temp",
			ImagesDir:       filepath.Join("temp", "images"),
			AudioDir:        filepath.Join("temp", "audio"),
			CleanupMaxAge:   Duration(24 * time.Hour),
			CleanupInterval: Duration(time.Hour),
		},
		Server:  ServerConfig{Addr: ":8080"},
		History: HistoryConfig{Retention: Duration(30 * 24 * time.Hour)},
		Log:     LogConfig{Level: "info", File: filepath.Join("logs", "birthday_bot.log")},
	}
}

// LoadConfig builds the configuration from defaults, the optional config
// file at path, a .env file in the working directory and the process
// environment, in that order, then validates it.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errConfigFile(".env", err)
	}
	return Load(path, os.LookupEnv)
}

// Load is LoadConfig without the .env step and with an explicit
// environment.
func Load(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errConfigFile(path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, c)
	case ".toml":
		err = toml.Unmarshal(b, c)
	case ".json":
		err = json.Unmarshal(b, c)
	default:
		err = fmt.Errorf("unsupported config extension %q", ext)
	}
	if err != nil {
		return errConfigFile(path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	env := newEnvReader(lookup)

	env.String("DIFFUSION_MODEL", &c.Diffusion.Model)
	env.String("DIFFUSION_GPU_DEVICES", &c.Diffusion.Devices)
	env.String("DIFFUSION_ENDPOINT", &c.Diffusion.Endpoint)
	env.Int("DIFFUSION_WIDTH", &c.Diffusion.Width)
	env.Int("DIFFUSION_HEIGHT", &c.Diffusion.Height)
	env.Int("DIFFUSION_STEPS", &c.Diffusion.Steps)
	env.Float("DIFFUSION_GUIDANCE_SCALE", &c.Diffusion.GuidanceScale)
	env.Int64("DIFFUSION_SEED", &c.Diffusion.Seed)
	env.Int("DIFFUSION_NUM_IMAGES", &c.Diffusion.NumImages)
	env.String("DIFFUSION_NEGATIVE_PROMPT", &c.Diffusion.NegativePrompt)
	env.Int("DIFFUSION_MAX_QUEUE_SIZE", &c.Diffusion.MaxQueueSize)
	env.Duration("DIFFUSION_ACQUIRE_TIMEOUT", &c.Diffusion.AcquireTimeout)
	env.Duration("DIFFUSION_REQUEST_TIMEOUT", &c.Diffusion.RequestTimeout)

	env.String("TRANSLATION_MODEL", &c.Translation.Model)
	env.String("TRANSLATION_DEVICES", &c.Translation.Devices)
	env.String("TRANSLATION_ENDPOINT", &c.Translation.Endpoint)

	env.String("WHISPER_MODEL", &c.Speech.Model)
	env.String("WHISPER_LANGUAGE", &c.Speech.Language)
	env.String("WHISPER_GPU_DEVICES", &c.Speech.Devices)
	env.String("WHISPER_ENDPOINT", &c.Speech.Endpoint)
	env.List("WHISPER_FORMATS", &c.Speech.Formats)
	env.Duration("MAX_VOICE_DURATION", &c.Speech.MaxDuration)
	env.Int64("MAX_FILE_SIZE", &c.Speech.MaxFileSize)
	env.String("FFMPEG_PATH", &c.Speech.FFmpegPath)

	env.String("PROMPT_PICTURE", &c.Prompts.Picture)
	env.String("PROMPT_STYLE", &c.Prompts.Style)
	env.String("PROMPT_SUBJECT", &c.Prompts.Subject)
	env.String("PROMPT_TEMPLATE", &c.Prompts.Template)
	env.String("PROMPT_TEMPLATE_NO_STYLE", &c.Prompts.TemplateNoStyle)

	env.String("BACKEND_API_KEY", &c.Backend.APIKey)
	env.Duration("BACKEND_TIMEOUT", &c.Backend.Timeout)
	env.Bool("ALLOW_SELF_SIGNED_CERTS", &c.Backend.AllowSelfSignedCerts)
	env.Int("BACKEND_RETRY_COUNT", &c.Backend.RetryCount)

	if v, ok := env.get("TEMP_DIR"); ok {
		c.Paths.TempDir = v
		c.Paths.ImagesDir = filepath.Join(v, "images")
		c.Paths.AudioDir = filepath.Join(v, "audio")
	}
	env.Duration("CLEANUP_MAX_AGE", &c.Paths.CleanupMaxAge)
	env.Duration("CLEANUP_INTERVAL", &c.Paths.CleanupInterval)

	env.String("SERVER_ADDR", &c.Server.Addr)
	env.List("CORS_ORIGINS", &c.Server.CORSOrigins)
	env.Bool("WARMUP", &c.Server.Warmup)
	env.String("HISTORY_DB_PATH", &c.History.Path)
	env.Duration("HISTORY_RETENTION", &c.History.Retention)

	env.String("LOG_LEVEL", &c.Log.Level)
	env.String("LOG_FILE", &c.Log.File)
	env.Bool("DEV_MODE", &c.Log.DevMode)

	return env.Err()
}

func (c *Config) normalize() {
	for i, f := range c.Speech.Formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" && !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		c.Speech.Formats[i] = f
	}
	if c.Log.DevMode {
		c.Log.Level = "debug"
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, err *ConfigError) {
		if !ok {
			errs = append(errs, err)
		}
	}
	d := c.Diffusion
	check(d.Model != "", &ConfigError{Code: ErrCodeInvalidValue, Message: "diffusion.model is empty", Action: "Set DIFFUSION_MODEL"})
	check(d.Width >= 128 && d.Width <= 2048 && d.Width%8 == 0, errOutOfRange("diffusion.width", d.Width, "128", "2048 (divisible by 8)"))
	check(d.Height >= 128 && d.Height <= 2048 && d.Height%8 == 0, errOutOfRange("diffusion.height", d.Height, "128", "2048 (divisible by 8)"))
	check(d.Steps >= 1 && d.Steps <= 100, errOutOfRange("diffusion.steps", d.Steps, 1, 100))
	check(d.GuidanceScale >= 1 && d.GuidanceScale <= 30, errOutOfRange("diffusion.guidance_scale", d.GuidanceScale, 1, 30))
	check(d.NumImages >= 1 && d.NumImages <= 8, errOutOfRange("diffusion.num_images", d.NumImages, 1, 8))
	check(d.MaxQueueSize >= 1, errOutOfRange("diffusion.max_queue_size", d.MaxQueueSize, 1, "any"))
	check(d.AcquireTimeout >= 0, errOutOfRange("diffusion.acquire_timeout", d.AcquireTimeout, 0, "any"))

	for _, dl := range []struct{ name, list string }{
		{"diffusion.devices", d.Devices},
		{"translation.devices", c.Translation.Devices},
		{"speech.devices", c.Speech.Devices},
	} {
		if _, err := devices.ParseAssignments(dl.list); err != nil {
			errs = append(errs, &ConfigError{
				Code:    ErrCodeNoDevices,
				Message: fmt.Sprintf("%s: %v", dl.name, err),
				Action:  `Use a comma separated list such as "cuda:0,cuda:1", "cpu" or "auto"`,
			})
		}
	}

	check(strings.Contains(c.Prompts.Template, "{content}"), &ConfigError{
		Code: ErrCodeTemplate, Message: "prompts.template has no {content} placeholder", Action: "Add {content} to the template",
	})
	check(strings.Contains(c.Prompts.TemplateNoStyle, "{content}"), &ConfigError{
		Code: ErrCodeTemplate, Message: "prompts.template_no_style has no {content} placeholder", Action: "Add {content} to the template",
	})

	check(len(c.Speech.Formats) > 0, &ConfigError{Code: ErrCodeInvalidValue, Message: "speech.formats is empty", Action: "List at least one audio extension"})
	check(c.Speech.MaxDuration > 0, errOutOfRange("speech.max_duration", c.Speech.MaxDuration, "1s", "any"))
	check(c.Paths.ImagesDir != "" && c.Paths.AudioDir != "", &ConfigError{Code: ErrCodeInvalidValue, Message: "temp directories are empty", Action: "Set TEMP_DIR"})

	return errors.Join(errs...)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	if out.Backend.APIKey != "" {
		out.Backend.APIKey = "[REDACTED]"
	}
	return out
}
