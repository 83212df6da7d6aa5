package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/notesync/internal/common"
)

func TestNewOpenAIClient(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid config", config: Config{APIKey: "test-key"}},
		{name: "missing API key", config: Config{}, wantErr: true},
		{name: "custom settings", config: Config{APIKey: "k", Model: "gpt-4", Temperature: 0.5, MaxTokens: 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := newOpenAIClient(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestOpenAIClient_Complete(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Cleaned note"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client, err := newOpenAIClient(Config{APIKey: "test-key", BaseURL: server.URL, Model: "gpt-test"})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "clean this")
	require.NoError(t, err)
	assert.Equal(t, "Cleaned note", out)

	assert.Equal(t, "gpt-test", gotBody["model"])
	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, DefaultSystemPrompt, messages[0].(map[string]any)["content"])
	assert.Equal(t, "clean this", messages[1].(map[string]any)["content"])
}

func TestOpenAIClient_Errors(t *testing.T) {
	tests := []struct {
		check     func(t *testing.T, err error)
		name      string
		body      string
		status    int
		retryable bool
	}{
		{
			name:      "server error is retryable",
			status:    http.StatusBadGateway,
			body:      `{"error":"upstream"}`,
			retryable: true,
		},
		{
			name:      "rate limit is retryable",
			status:    http.StatusTooManyRequests,
			body:      `{"error":"slow down"}`,
			retryable: true,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, common.ErrRateLimit)
			},
		},
		{
			name:   "bad request is permanent",
			status: http.StatusBadRequest,
			body:   `{"error":"bad"}`,
		},
		{
			name:      "no choices",
			status:    http.StatusOK,
			body:      `{"choices":[]}`,
			retryable: true,
		},
		{
			name:      "truncated output",
			status:    http.StatusOK,
			body:      `{"choices":[{"message":{"content":"half a no"},"finish_reason":"length"}]}`,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := newOpenAIClient(Config{APIKey: "k", BaseURL: server.URL})
			require.NoError(t, err)

			_, err = client.Complete(context.Background(), "p")
			require.Error(t, err)
			assert.Equal(t, tt.retryable, isRetryable(err))
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

// isRetryable mirrors how common.WithRetry decides whether to try again.
func isRetryable(err error) bool {
	var re *common.RetryableError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return true
}
