package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	claudeagent "github.com/roasbeef/claude-agent-sdk-go"
)

// Config holds tunables for the agent-backed summarizer.
type Config struct {
	// Model is the default model for summarization requests.
	Model string

	// MaxConcurrent bounds in-flight model calls across all workers.
	MaxConcurrent int
}

// DefaultConfig returns the default agent summarizer configuration.
func DefaultConfig() Config {
	return Config{
		Model:         DefaultModel,
		MaxConcurrent: 4,
	}
}

// AgentSummarizer produces summaries by calling a Claude model via the
// Go Agent SDK. Safe for concurrent use; a semaphore caps in-flight
// calls.
type AgentSummarizer struct {
	cfg Config
	log *slog.Logger

	// sem limits concurrent model calls.
	sem chan struct{}
}

// NewAgentSummarizer creates a summarizer backed by the agent SDK.
func NewAgentSummarizer(cfg Config, log *slog.Logger) *AgentSummarizer {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	return &AgentSummarizer{
		cfg: cfg,
		log: log.With("component", "summarizer"),
		sem: make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Summarize sends the text to the model and returns the summary text.
// Errors are classified into the package's error classes where
// recognizable.
func (a *AgentSummarizer) Summarize(
	ctx context.Context, text string, opts Options,
) (string, error) {

	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-a.sem }()

	model := a.cfg.Model
	if opts.Model != "" {
		model = opts.Model
	}
	systemPrompt := defaultSystemPrompt
	if opts.CustomPrompt != "" {
		systemPrompt = opts.CustomPrompt
	}

	summary, err := a.callModel(ctx, text, model, systemPrompt)
	if err != nil {
		return "", ClassifyError(err)
	}

	a.log.DebugContext(ctx, "summary generated",
		"model", model,
		"input_chars", len(text),
		"output_chars", len(summary))

	return summary, nil
}

// callModel performs a single one-shot model query with all tools and
// session persistence disabled.
func (a *AgentSummarizer) callModel(
	ctx context.Context, text, model, systemPrompt string,
) (string, error) {
	// Create a temp config dir for isolation.
	tmpDir, err := os.MkdirTemp("", "condenser-summary-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	configDir := filepath.Join(tmpDir, ".claude")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}

	clientOpts := []claudeagent.Option{
		claudeagent.WithModel(model),
		claudeagent.WithSystemPrompt(systemPrompt),
		claudeagent.WithMaxTurns(1),
		claudeagent.WithConfigDir(configDir),
		claudeagent.WithSettingSources(nil),
		claudeagent.WithSkillsDisabled(),
		claudeagent.WithNoSessionPersistence(),
		claudeagent.WithCanUseTool(denyAllToolPolicy),
	}

	client, err := claudeagent.NewClient(clientOpts...)
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	var responseText strings.Builder

	for msg := range client.Query(ctx, buildUserPrompt(text)) {
		switch m := msg.(type) {
		case claudeagent.AssistantMessage:
			if t := m.ContentText(); t != "" {
				responseText.WriteString(t)
			}

		case claudeagent.ResultMessage:
			// Terminal message.

		default:
			// UserMessage or other types — skip.
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	// An empty or truncated response is returned as-is; the caller
	// decides whether to fall back to an extractive summary.
	return strings.TrimSpace(responseText.String()), nil
}

// denyAllToolPolicy denies all tool access — summarization is pure
// text-in/text-out with no tools needed.
func denyAllToolPolicy(
	_ context.Context, _ claudeagent.ToolPermissionRequest,
) claudeagent.PermissionResult {
	return claudeagent.PermissionDeny{
		Reason: "Tool use not permitted for summarization",
	}
}
