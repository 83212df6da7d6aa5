package llm

import (
	"fmt"
	"strings"

	"github.com/Veraticus/notesync/internal/common"
)

var providers = map[string]func(Config) (Client, error){
	"openai":     newOpenAIClient,
	"anthropic":  newAnthropicClient,
	"claudecode": newClaudeCodeClient,
}

// NewClient builds the completion client named by cfg.Provider.
func NewClient(cfg Config) (Client, error) {
	build, ok := providers[strings.ToLower(strings.TrimSpace(cfg.Provider))]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported LLM provider %q", common.ErrInvalidConfig, cfg.Provider)
	}
	return build(cfg)
}
