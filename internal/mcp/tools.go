package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/condenser-ai/condenser/internal/artifact"
	"github.com/condenser-ai/condenser/internal/pipeline"
	"github.com/condenser-ai/condenser/internal/queue"
	"github.com/condenser-ai/condenser/internal/summarizer"
)

// SubmitTextArgs are the arguments for the submit_text tool.
type SubmitTextArgs struct {
	// UserID identifies the submitting user for caching and billing.
	UserID string `json:"user_id" jsonschema:"ID of the submitting user"`

	// Text is the content to summarize.
	Text string `json:"text" jsonschema:"Text to summarize"`

	// Model optionally overrides the default model.
	Model string `json:"model,omitempty" jsonschema:"Optional model override"`

	// CustomPrompt optionally replaces the default summarization prompt.
	CustomPrompt string `json:"custom_prompt,omitempty" jsonschema:"Optional custom system prompt"`
}

// SubmitResult is the result of the submit tools. CreditsRemaining is
// omitted in the rare case the balance could not be read on a cache hit.
type SubmitResult struct {
	FromCache        bool            `json:"from_cache"`
	JobID            string          `json:"job_id,omitempty"`
	Summary          *ArtifactResult `json:"summary,omitempty"`
	CreditsRemaining *int64          `json:"credits_remaining,omitempty"`
}

// ArtifactResult is a completed summary.
type ArtifactResult struct {
	SummaryText       string  `json:"summary_text"`
	OriginalWordCount int     `json:"original_word_count"`
	SummaryWordCount  int     `json:"summary_word_count"`
	CompressionRatio  float64 `json:"compression_ratio"`
	ProcessingTimeMs  int64   `json:"processing_time_ms"`
	Model             string  `json:"model"`
	IsFallback        bool    `json:"is_fallback"`
}

func artifactResult(a artifact.Artifact) *ArtifactResult {
	return &ArtifactResult{
		SummaryText:       a.SummaryText,
		OriginalWordCount: a.OriginalWordCount,
		SummaryWordCount:  a.SummaryWordCount,
		CompressionRatio:  a.CompressionRatio,
		ProcessingTimeMs:  a.ProcessingTime.Milliseconds(),
		Model:             a.Model,
		IsFallback:        a.IsFallback,
	}
}

func (s *Server) handleSubmitText(ctx context.Context,
	req *mcp.CallToolRequest, args SubmitTextArgs) (*mcp.CallToolResult, SubmitResult, error) {

	res, err := s.pipeline.Submit(ctx, args.UserID, args.Text,
		summarizer.Options{
			Model:        args.Model,
			CustomPrompt: args.CustomPrompt,
		})
	if err != nil {
		return nil, SubmitResult{}, err
	}

	return nil, submitResult(res), nil
}

// SubmitFileTextArgs are the arguments for the submit_file_text tool.
type SubmitFileTextArgs struct {
	UserID string `json:"user_id" jsonschema:"ID of the submitting user"`

	// Text is the plain text already extracted from the file.
	Text string `json:"text" jsonschema:"Plain text extracted from the file"`

	// FileName is the original file name, kept for status display.
	FileName string `json:"file_name" jsonschema:"Original file name"`

	Model        string `json:"model,omitempty" jsonschema:"Optional model override"`
	CustomPrompt string `json:"custom_prompt,omitempty" jsonschema:"Optional custom system prompt"`
}

func (s *Server) handleSubmitFileText(ctx context.Context,
	req *mcp.CallToolRequest, args SubmitFileTextArgs) (*mcp.CallToolResult, SubmitResult, error) {

	res, err := s.pipeline.SubmitFile(
		ctx, args.UserID, args.Text, args.FileName,
		summarizer.Options{
			Model:        args.Model,
			CustomPrompt: args.CustomPrompt,
		})
	if err != nil {
		return nil, SubmitResult{}, err
	}

	return nil, submitResult(res), nil
}

func submitResult(res pipeline.SubmitResult) SubmitResult {
	out := SubmitResult{
		FromCache: res.FromCache,
		JobID:     res.JobID.UnwrapOr(""),
	}
	res.CreditsRemaining.WhenSome(func(balance int64) {
		out.CreditsRemaining = &balance
	})
	res.Artifact.WhenSome(func(a artifact.Artifact) {
		out.Summary = artifactResult(a)
	})

	return out
}

// JobStatusArgs are the arguments for the job_status tool.
type JobStatusArgs struct {
	JobID string `json:"job_id" jsonschema:"ID of the job to poll"`
}

// JobStatusResult is the result of the job_status tool.
type JobStatusResult struct {
	JobID         string          `json:"job_id"`
	Class         string          `json:"class"`
	State         string          `json:"state"`
	Progress      int             `json:"progress"`
	Attempts      int             `json:"attempts"`
	Summary       *ArtifactResult `json:"summary,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     string          `json:"created_at"`
	StartedAt     string          `json:"started_at,omitempty"`
	FinishedAt    string          `json:"finished_at,omitempty"`
}

func (s *Server) handleJobStatus(ctx context.Context,
	req *mcp.CallToolRequest, args JobStatusArgs) (*mcp.CallToolResult, JobStatusResult, error) {

	status, err := s.pipeline.Status(ctx, args.JobID)
	if err != nil {
		return nil, JobStatusResult{}, err
	}

	out := JobStatusResult{
		JobID:         status.JobID,
		Class:         string(status.Class),
		State:         string(status.State),
		Progress:      status.Progress,
		Attempts:      status.Attempts,
		FailureReason: status.FailureReason.UnwrapOr(""),
		CreatedAt:     status.CreatedAt.Format(time.RFC3339),
	}
	status.Artifact.WhenSome(func(a artifact.Artifact) {
		out.Summary = artifactResult(a)
	})
	status.StartedAt.WhenSome(func(t time.Time) {
		out.StartedAt = t.Format(time.RFC3339)
	})
	status.FinishedAt.WhenSome(func(t time.Time) {
		out.FinishedAt = t.Format(time.RFC3339)
	})

	return nil, out, nil
}

// QueueStatsArgs are the arguments for the queue_stats tool.
type QueueStatsArgs struct {
	// Class is the job class to inspect (text or file).
	Class string `json:"class" jsonschema:"Job class: text or file"`
}

// QueueStatsResult is the result of the queue_stats tool.
type QueueStatsResult struct {
	Class     string `json:"class"`
	Waiting   int64  `json:"waiting"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Delayed   int64  `json:"delayed"`
	Total     int64  `json:"total"`
}

func (s *Server) handleQueueStats(ctx context.Context,
	req *mcp.CallToolRequest, args QueueStatsArgs) (*mcp.CallToolResult, QueueStatsResult, error) {

	class := queue.Class(args.Class)
	if !class.Valid() {
		return nil, QueueStatsResult{}, fmt.Errorf(
			"unknown job class %q", args.Class,
		)
	}

	stats, err := s.pipeline.QueueStats(ctx, class)
	if err != nil {
		return nil, QueueStatsResult{}, err
	}

	return nil, QueueStatsResult{
		Class:     args.Class,
		Waiting:   stats.Waiting,
		Active:    stats.Active,
		Completed: stats.Completed,
		Failed:    stats.Failed,
		Delayed:   stats.Delayed,
		Total:     stats.Total(),
	}, nil
}

// InvalidateCacheArgs are the arguments for the invalidate_cache tool.
type InvalidateCacheArgs struct {
	UserID string `json:"user_id" jsonschema:"User whose cached summaries to drop"`
}

// InvalidateCacheResult is the result of the invalidate_cache tool.
type InvalidateCacheResult struct {
	Dropped int64 `json:"dropped"`
}

func (s *Server) handleInvalidateCache(ctx context.Context,
	req *mcp.CallToolRequest, args InvalidateCacheArgs) (*mcp.CallToolResult, InvalidateCacheResult, error) {

	dropped, err := s.pipeline.InvalidateCache(ctx, args.UserID)
	if err != nil {
		return nil, InvalidateCacheResult{}, err
	}

	return nil, InvalidateCacheResult{Dropped: dropped}, nil
}

// GrantCreditsArgs are the arguments for the grant_credits tool.
type GrantCreditsArgs struct {
	UserID string `json:"user_id" jsonschema:"User to credit"`
	Amount int64  `json:"amount" jsonschema:"Number of credits to add"`
}

// BalanceResult is the result of the credit tools.
type BalanceResult struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

func (s *Server) handleGrantCredits(ctx context.Context,
	req *mcp.CallToolRequest, args GrantCreditsArgs) (*mcp.CallToolResult, BalanceResult, error) {

	balance, err := s.pipeline.GrantCredits(
		ctx, args.UserID, args.Amount,
	)
	if err != nil {
		return nil, BalanceResult{}, err
	}

	return nil, BalanceResult{
		UserID:  args.UserID,
		Balance: balance,
	}, nil
}

// CreditBalanceArgs are the arguments for the credit_balance tool.
type CreditBalanceArgs struct {
	UserID string `json:"user_id" jsonschema:"User to look up"`
}

func (s *Server) handleCreditBalance(ctx context.Context,
	req *mcp.CallToolRequest, args CreditBalanceArgs) (*mcp.CallToolResult, BalanceResult, error) {

	balance, err := s.pipeline.CreditBalance(ctx, args.UserID)
	if err != nil {
		return nil, BalanceResult{}, err
	}

	return nil, BalanceResult{
		UserID:  args.UserID,
		Balance: balance,
	}, nil
}
