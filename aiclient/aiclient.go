// Package aiclient builds go-openai clients for OpenAI-compatible device
// endpoints (vLLM, LocalAI, whisper servers and the like).
package aiclient

import (
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds what every backend client needs.
type Config struct {
	APIKey          string
	Timeout         time.Duration
	AllowSelfSigned bool
}

// HTTPClient returns a client with timeout and, if asked, TLS
// verification disabled for self-signed lab endpoints.
func HTTPClient(timeout time.Duration, allowSelfSigned bool) *http.Client {
	client := &http.Client{Timeout: timeout}
	if allowSelfSigned {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}

// BaseURL normalizes endpoint to the /v1 root go-openai expects.
func BaseURL(endpoint string) string {
	endpoint = strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(endpoint, "/v1") {
		return endpoint
	}
	return endpoint + "/v1"
}

// New creates a client for endpoint.
func New(endpoint string, cfg Config) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if endpoint != "" {
		oc.BaseURL = BaseURL(endpoint)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	oc.HTTPClient = HTTPClient(timeout, cfg.AllowSelfSigned)
	return openai.NewClientWithConfig(oc)
}
