package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/service"
)

// Transformer runs note rewriting prompts through a Client.
type Transformer struct {
	client  Client
	limiter *rateLimiter
	logger  *slog.Logger
	retry   service.RetryOptions
	timeout time.Duration
}

// NewTransformer wraps client with rate limiting, per-call timeouts and
// retries configured by cfg.
func NewTransformer(client Client, cfg Config, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}

	retry := service.DefaultRetryOptions()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	if cfg.RetryDelay > 0 {
		retry.InitialDelay = cfg.RetryDelay
	}

	return &Transformer{
		client:  client,
		limiter: newRateLimiter(cfg.RateLimit),
		logger:  logger,
		retry:   retry,
		timeout: cfg.timeout(),
	}
}

// Transform returns the model's answer to prompt. Every failure, including an
// empty answer, is reported as common.ErrAIProcessing.
func (t *Transformer) Transform(ctx context.Context, prompt string) (string, error) {
	var out string
	attempt := 0

	err := common.WithRetry(ctx, func() error {
		attempt++
		if err := t.limiter.wait(ctx); err != nil {
			return common.Permanent(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		text, err := t.client.Complete(callCtx, prompt)
		if err != nil {
			t.logger.Warn("AI completion attempt failed", "attempt", attempt, "error", err)
			return err
		}

		text = stripCodeFence(text)
		if text == "" {
			return common.Permanent(ErrEmptyResponse)
		}
		out = text
		return nil
	}, t.retry)
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrAIProcessing, err)
	}

	t.logger.Debug("AI completion succeeded", "attempt", attempt, "chars", len(out))
	return out, nil
}

// stripCodeFence removes a markdown code fence the model wrapped its answer in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	body := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	// Drop a language tag on the opening line.
	if i := strings.IndexByte(body, '\n'); i >= 0 && !strings.ContainsAny(body[:i], " \t") {
		body = body[i+1:]
	}
	return strings.TrimSpace(body)
}
