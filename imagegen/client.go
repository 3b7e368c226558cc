package imagegen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ClientConfig configures the HTTP client used against a device endpoint.
type ClientConfig struct {
	Timeout     time.Duration // per txt2img call
	LoadTimeout time.Duration // checkpoint switch, can take minutes
	APIKey      string
	RetryCount  int
	RetryWait   time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Minute
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 15 * time.Minute
	}
	if c.RetryWait <= 0 {
		c.RetryWait = 2 * time.Second
	}
	return c
}

// Client talks to one Stable Diffusion WebUI compatible endpoint
// (/sdapi/v1/...).
type Client struct {
	endpoint string
	http     *resty.Client
	cfg      ClientConfig
}

// NewClient builds a client for endpoint. Gateway errors and connection
// failures are retried RetryCount times.
func NewClient(endpoint string, cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	rc := resty.New().
		SetBaseURL(strings.TrimRight(endpoint, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)
	if cfg.APIKey != "" {
		rc.SetAuthToken(cfg.APIKey)
	}
	if cfg.RetryCount > 0 {
		rc.SetRetryCount(cfg.RetryCount).
			SetRetryWaitTime(cfg.RetryWait).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				switch r.StatusCode() {
				case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
					return true
				}
				return false
			})
	}
	return &Client{endpoint: endpoint, http: rc, cfg: cfg}
}

// Endpoint returns the base URL the client was built with.
func (c *Client) Endpoint() string { return c.endpoint }

type sdModel struct {
	Title     string `json:"title"`
	ModelName string `json:"model_name"`
}

// ListModels returns the checkpoint titles known to the endpoint.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var models []sdModel
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&models).
		ForceContentType("application/json").
		Get("/sdapi/v1/sd-models")
	if err != nil {
		return nil, fmt.Errorf("list models at %s: %w", c.endpoint, err)
	}
	if resp.IsError() {
		return nil, backendError("list models", resp)
	}
	out := make([]string, 0, len(models)*2)
	for _, m := range models {
		out = append(out, m.Title, m.ModelName)
	}
	return out, nil
}

// LoadCheckpoint switches the endpoint to model. An empty model list is
// treated as "cannot tell" and the switch is attempted anyway.
func (c *Client) LoadCheckpoint(ctx context.Context, model string) error {
	known, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	if len(known) > 0 && !containsModel(known, model) {
		return fmt.Errorf("%w: %q at %s", ErrModelNotFound, model, c.endpoint)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.LoadTimeout)
	defer cancel()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"sd_model_checkpoint": model}).
		Post("/sdapi/v1/options")
	if err != nil {
		return fmt.Errorf("load checkpoint %q at %s: %w", model, c.endpoint, err)
	}
	if resp.IsError() {
		return backendError("load checkpoint", resp)
	}
	return nil
}

func containsModel(known []string, model string) bool {
	want := strings.ToLower(model)
	base := want
	if i := strings.LastIndex(want, "/"); i >= 0 {
		base = want[i+1:]
	}
	for _, k := range known {
		k = strings.ToLower(k)
		if k == want || strings.Contains(k, base) {
			return true
		}
	}
	return false
}

type txt2imgRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"cfg_scale"`
	Seed           int64   `json:"seed"`
	BatchSize      int     `json:"batch_size"`
	NIter          int     `json:"n_iter"`
	SendImages     bool    `json:"send_images"`
	SaveImages     bool    `json:"save_images"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

// Txt2Img runs one batch and returns the base64 encoded images together
// with the seed reported by the backend (or the requested seed when the
// info block is missing).
func (c *Client) Txt2Img(ctx context.Context, p GenerateParams) ([]string, int64, error) {
	req := txt2imgRequest{
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Width:          p.Width,
		Height:         p.Height,
		Steps:          p.Steps,
		CFGScale:       p.GuidanceScale,
		Seed:           p.Seed,
		BatchSize:      p.NumImages,
		NIter:          1,
		SendImages:     true,
	}
	var out txt2imgResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/sdapi/v1/txt2img")
	if err != nil {
		return nil, 0, fmt.Errorf("txt2img at %s: %w", c.endpoint, err)
	}
	if resp.IsError() {
		return nil, 0, backendError("txt2img", resp)
	}
	return out.Images, seedFromInfo(out.Info, p.Seed), nil
}

func seedFromInfo(info string, fallback int64) int64 {
	if info == "" {
		return fallback
	}
	var parsed struct {
		Seed *int64 `json:"seed"`
	}
	if err := json.Unmarshal([]byte(info), &parsed); err != nil || parsed.Seed == nil {
		return fallback
	}
	return *parsed.Seed
}

func backendError(op string, resp *resty.Response) error {
	body := strings.TrimSpace(resp.String())
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Errorf("%w: %s: %s: %s", ErrBackend, op, resp.Status(), body)
}
