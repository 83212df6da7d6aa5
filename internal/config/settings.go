package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/llm"
	"github.com/Veraticus/notesync/internal/matcher"
	"github.com/Veraticus/notesync/internal/service"
)

// DefaultDatabasePath is used when database.path is unset.
const DefaultDatabasePath = "$HOME/.local/share/notesync/notesync.db"

// Settings is the resolved runtime configuration.
type Settings struct {
	Destination DestinationSettings
	Source      SourceSettings
	Database    string
	CatalogPath string
	LLM         llm.Config
	Matcher     matcher.Config
	Upload      UploadSettings
	Pipeline    PipelineSettings
}

// PipelineSettings sizes the processing worker pool.
type PipelineSettings struct {
	Workers      int
	MaxAttempts  int
	MatchWorkers int
}

// UploadSettings tunes the upload orchestrator.
type UploadSettings struct {
	Retry       service.RetryOptions
	Concurrency int
}

// SourceSettings locates the source system export.
type SourceSettings struct {
	File string
}

// DestinationSettings selects the destination connector. URL wins over File.
type DestinationSettings struct {
	URL     string
	Token   string
	File    string
	Outbox  string
	Timeout time.Duration
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	matcherDefaults := matcher.DefaultConfig()
	retry := service.DefaultRetryOptions()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", time.Second)
	v.SetDefault("llm.rate_limit", 60)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.match_workers", 4)

	v.SetDefault("matcher.weights.name", matcherDefaults.Weights.Name)
	v.SetDefault("matcher.weights.date", matcherDefaults.Weights.Date)
	v.SetDefault("matcher.weights.content", matcherDefaults.Weights.Content)
	v.SetDefault("matcher.name_distance", matcherDefaults.NameDistance)
	v.SetDefault("matcher.date_window_days", matcherDefaults.DateWindowDays)
	v.SetDefault("matcher.tie_epsilon", matcherDefaults.TieEpsilon)

	v.SetDefault("upload.concurrency", 4)
	v.SetDefault("upload.retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("upload.retry.initial_delay", retry.InitialDelay)
	v.SetDefault("upload.retry.max_delay", retry.MaxDelay)
	v.SetDefault("upload.retry.multiplier", retry.Multiplier)

	v.SetDefault("destination.timeout", 30*time.Second)
}

// Load resolves settings from v. Provider API keys fall back to the
// conventional environment variables (OPENAI_API_KEY, ANTHROPIC_API_KEY).
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		Database:    ExpandPath(v.GetString("database.path")),
		CatalogPath: ExpandPath(v.GetString("catalog.path")),
		Pipeline: PipelineSettings{
			Workers:      v.GetInt("pipeline.workers"),
			MaxAttempts:  v.GetInt("pipeline.max_attempts"),
			MatchWorkers: v.GetInt("pipeline.match_workers"),
		},
		Matcher: matcher.Config{
			Weights: matcher.Weights{
				Name:    v.GetFloat64("matcher.weights.name"),
				Date:    v.GetFloat64("matcher.weights.date"),
				Content: v.GetFloat64("matcher.weights.content"),
			},
			NameDistance:   v.GetInt("matcher.name_distance"),
			DateWindowDays: v.GetInt("matcher.date_window_days"),
			TieEpsilon:     v.GetFloat64("matcher.tie_epsilon"),
		},
		Upload: UploadSettings{
			Concurrency: v.GetInt("upload.concurrency"),
			Retry: service.RetryOptions{
				MaxAttempts:  v.GetInt("upload.retry.max_attempts"),
				InitialDelay: v.GetDuration("upload.retry.initial_delay"),
				MaxDelay:     v.GetDuration("upload.retry.max_delay"),
				Multiplier:   v.GetFloat64("upload.retry.multiplier"),
			},
		},
		Source: SourceSettings{
			File: ExpandPath(v.GetString("source.file")),
		},
		Destination: DestinationSettings{
			URL:     v.GetString("destination.url"),
			Token:   v.GetString("destination.token"),
			File:    ExpandPath(v.GetString("destination.file")),
			Outbox:  ExpandPath(v.GetString("destination.outbox")),
			Timeout: v.GetDuration("destination.timeout"),
		},
		LLM: llm.Config{
			Provider:       strings.ToLower(v.GetString("llm.provider")),
			Model:          v.GetString("llm.model"),
			BaseURL:        v.GetString("llm.base_url"),
			ClaudeCodePath: v.GetString("llm.claude_code_path"),
			SystemPrompt:   v.GetString("llm.system_prompt"),
			Temperature:    v.GetFloat64("llm.temperature"),
			MaxTokens:      v.GetInt("llm.max_tokens"),
			MaxRetries:     v.GetInt("llm.max_retries"),
			RetryDelay:     v.GetDuration("llm.retry_delay"),
			RateLimit:      v.GetInt("llm.rate_limit"),
			Timeout:        v.GetDuration("llm.timeout"),
		},
	}

	if s.Destination.Token == "" {
		s.Destination.Token = os.Getenv("NOTESYNC_DESTINATION_TOKEN")
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ResolveLLM fills in the provider API key and default model. It is separate
// from Load so commands that never call a model do not need a key.
func (s *Settings) ResolveLLM(v *viper.Viper) (llm.Config, error) {
	cfg := s.LLM
	switch cfg.Provider {
	case "openai":
		cfg.APIKey = firstNonEmpty(v.GetString("llm.openai_api_key"), os.Getenv("OPENAI_API_KEY"))
		if cfg.APIKey == "" {
			return cfg, common.NewUserError("OpenAI API key not found in config or OPENAI_API_KEY environment variable", common.ErrInvalidConfig)
		}
		if cfg.Model == "" {
			cfg.Model = "gpt-4o"
		}
	case "anthropic":
		cfg.APIKey = firstNonEmpty(v.GetString("llm.anthropic_api_key"), os.Getenv("ANTHROPIC_API_KEY"))
		if cfg.APIKey == "" {
			return cfg, common.NewUserError("anthropic API key not found in config or ANTHROPIC_API_KEY environment variable", common.ErrInvalidConfig)
		}
		if cfg.Model == "" {
			cfg.Model = "claude-3-5-sonnet-latest"
		}
	case "claudecode":
		if cfg.Model == "" {
			cfg.Model = "sonnet"
		}
	default:
		return cfg, fmt.Errorf("%w: unsupported LLM provider %q", common.ErrInvalidConfig, cfg.Provider)
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (s *Settings) Validate() error {
	if s.Database == "" {
		return fmt.Errorf("%w: database.path is empty", common.ErrInvalidConfig)
	}
	if s.Pipeline.Workers <= 0 {
		return fmt.Errorf("%w: pipeline.workers must be positive, got %d", common.ErrInvalidConfig, s.Pipeline.Workers)
	}
	if s.Pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("%w: pipeline.max_attempts must be positive, got %d", common.ErrInvalidConfig, s.Pipeline.MaxAttempts)
	}
	if s.Upload.Concurrency <= 0 {
		return fmt.Errorf("%w: upload.concurrency must be positive, got %d", common.ErrInvalidConfig, s.Upload.Concurrency)
	}
	if s.Upload.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("%w: upload.retry.max_attempts must be positive", common.ErrInvalidConfig)
	}
	if err := s.Matcher.Validate(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
