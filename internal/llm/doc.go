// Package llm provides the AI provider clients used to clean clinical notes.
// It supports OpenAI, Anthropic and the Claude CLI, with rate limiting,
// per-call timeouts and retry of transient failures.
package llm
