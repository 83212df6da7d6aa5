package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/notesync/internal/common"
)

func newViper(t *testing.T, overrides map[string]any) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v
}

func TestLoad_Defaults(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	s, err := Load(newViper(t, nil))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".local/share/notesync/notesync.db"), s.Database)
	assert.Equal(t, 4, s.Pipeline.Workers)
	assert.Equal(t, 3, s.Pipeline.MaxAttempts)
	assert.Equal(t, 4, s.Upload.Concurrency)
	assert.Equal(t, 3, s.Upload.Retry.MaxAttempts)
	assert.InDelta(t, 0.5, s.Matcher.Weights.Name, 1e-9)
	assert.Equal(t, 30, s.Matcher.DateWindowDays)
	assert.Equal(t, "openai", s.LLM.Provider)
	assert.Equal(t, 60*time.Second, s.LLM.Timeout)
	assert.Equal(t, 30*time.Second, s.Destination.Timeout)
}

func TestLoad_Overrides(t *testing.T) {
	s, err := Load(newViper(t, map[string]any{
		"database.path":          "/tmp/notes.db",
		"pipeline.workers":       8,
		"matcher.weights.name":   0.6,
		"upload.retry.max_delay": "2s",
		"destination.url":        "https://emr.example.test",
		"llm.provider":           "Anthropic",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/notes.db", s.Database)
	assert.Equal(t, 8, s.Pipeline.Workers)
	assert.InDelta(t, 0.6, s.Matcher.Weights.Name, 1e-9)
	assert.Equal(t, 2*time.Second, s.Upload.Retry.MaxDelay)
	assert.Equal(t, "https://emr.example.test", s.Destination.URL)
	assert.Equal(t, "anthropic", s.LLM.Provider)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		overrides map[string]any
		name      string
	}{
		{name: "zero workers", overrides: map[string]any{"pipeline.workers": 0}},
		{name: "zero attempts", overrides: map[string]any{"pipeline.max_attempts": 0}},
		{name: "zero upload concurrency", overrides: map[string]any{"upload.concurrency": 0}},
		{name: "negative weight", overrides: map[string]any{"matcher.weights.date": -1}},
		{name: "no date window", overrides: map[string]any{"matcher.date_window_days": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newViper(t, tt.overrides))
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestResolveLLM(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "env-key")

	tests := []struct {
		overrides map[string]any
		name      string
		wantKey   string
		wantModel string
		wantErr   bool
	}{
		{
			name:      "openai key from config",
			overrides: map[string]any{"llm.openai_api_key": "cfg-key"},
			wantKey:   "cfg-key",
			wantModel: "gpt-4o",
		},
		{
			name:    "openai without key",
			wantErr: true,
		},
		{
			name:      "anthropic key from environment",
			overrides: map[string]any{"llm.provider": "anthropic", "llm.model": "claude-x"},
			wantKey:   "env-key",
			wantModel: "claude-x",
		},
		{
			name:      "claude code needs no key",
			overrides: map[string]any{"llm.provider": "claudecode"},
			wantModel: "sonnet",
		},
		{
			name:      "unknown provider",
			overrides: map[string]any{"llm.provider": "parrot"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper(t, tt.overrides)
			s, err := Load(v)
			require.NoError(t, err)

			cfg, err := s.ResolveLLM(v)
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, cfg.APIKey)
			assert.Equal(t, tt.wantModel, cfg.Model)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("NOTESYNC_TEST_DIR", "/data")

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "notes.db"), ExpandPath("~/notes.db"))
	assert.Equal(t, "/data/notes.db", ExpandPath("$NOTESYNC_TEST_DIR/notes.db"))
}
