package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// claudeCodeClient implements the Client interface by shelling out to the Claude CLI.
type claudeCodeClient struct {
	model        string
	cliPath      string
	systemPrompt string
	timeout      time.Duration
}

// newClaudeCodeClient creates a new Claude CLI client.
func newClaudeCodeClient(cfg Config) (Client, error) {
	cliPath := cfg.ClaudeCodePath
	if cliPath == "" {
		cliPath = "claude"
	}
	if _, err := exec.LookPath(cliPath); err != nil {
		return nil, fmt.Errorf("claude CLI not found at %s: %w", cliPath, err)
	}

	model := cfg.Model
	if model == "" {
		model = "sonnet"
	}

	return &claudeCodeClient{
		model:        model,
		cliPath:      cliPath,
		systemPrompt: cfg.systemPrompt(),
		timeout:      cfg.timeout(),
	}, nil
}

// Complete runs a single-turn prompt through the CLI.
func (c *claudeCodeClient) Complete(ctx context.Context, prompt string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := []string{
		"-p", c.systemPrompt + "\n\n" + prompt,
		"--output-format", "json",
		"--model", c.model,
		"--max-turns", "1",
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.cliPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return "", fmt.Errorf("claude code error: %s", strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("failed to execute claude: %w", err)
	}

	var response claudeCodeResponse
	if err := json.Unmarshal(stdout.Bytes(), &response); err != nil {
		// Older CLI versions print plain text.
		return strings.TrimSpace(stdout.String()), nil
	}
	if response.IsError {
		return "", fmt.Errorf("claude code error in response: %s", response.Result)
	}
	return response.Result, nil
}

// claudeCodeResponse represents the JSON response from the Claude CLI.
type claudeCodeResponse struct {
	Result    string  `json:"result"`
	Type      string  `json:"type"`
	SessionID string  `json:"session_id"`
	IsError   bool    `json:"is_error"`
	TotalCost float64 `json:"total_cost_usd"`
}
