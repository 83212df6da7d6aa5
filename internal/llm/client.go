package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Veraticus/notesync/internal/common"
)

// Client defines the interface for LLM providers.
type Client interface {
	// Complete sends prompt to the model and returns its raw text answer.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config configures a provider client and the Transformer wrapping it.
type Config struct {
	Provider       string
	APIKey         string
	Model          string
	BaseURL        string
	ClaudeCodePath string
	SystemPrompt   string
	Timeout        time.Duration
	RetryDelay     time.Duration
	MaxRetries     int
	RateLimit      int
	Temperature    float64
	MaxTokens      int
}

// DefaultSystemPrompt frames every completion request.
const DefaultSystemPrompt = "You are a clinical documentation assistant. " +
	"Rewrite the note exactly as instructed and respond with the note text only, " +
	"without commentary or markdown formatting."

// ErrEmptyResponse is returned when a provider answers with no usable text.
var ErrEmptyResponse = errors.New("empty response from model")

func (cfg Config) systemPrompt() string {
	if cfg.SystemPrompt != "" {
		return cfg.SystemPrompt
	}
	return DefaultSystemPrompt
}

func (cfg Config) timeout() time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return 60 * time.Second
}

func (cfg Config) temperature() float64 {
	if cfg.Temperature == 0 {
		return 0.3
	}
	return cfg.Temperature
}

func (cfg Config) maxTokens() int {
	if cfg.MaxTokens == 0 {
		return 4000
	}
	return cfg.MaxTokens
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// statusError classifies a non-200 provider response. Rate limits and server
// errors are worth retrying; other client errors are not.
func statusError(provider string, status int, body []byte) error {
	err := fmt.Errorf("%s API error (status %d): %s", provider, status, string(body))
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	case status >= http.StatusInternalServerError:
		return &common.RetryableError{Err: err, Retryable: true}
	default:
		return common.Permanent(err)
	}
}
