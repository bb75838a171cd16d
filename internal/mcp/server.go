// Package mcp exposes the summarization pipeline over the Model Context
// Protocol. Tools cover the full request lifecycle: submit, poll, queue
// introspection, cache invalidation, and credit administration.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/condenser-ai/condenser/internal/pipeline"
)

// Server wraps the MCP server with pipeline dependencies.
type Server struct {
	server   *mcp.Server
	pipeline *pipeline.Service
}

// NewServer creates an MCP server with all summarization tools
// registered.
func NewServer(svc *pipeline.Service) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "condenser",
		Version: "0.1.0",
	}, nil)

	s := &Server{
		server:   mcpServer,
		pipeline: svc,
	}
	s.registerTools()

	return s
}

// Run starts the MCP server on the given transport.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

func (s *Server) registerTools() {
	// Submission tools.
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "submit_text",
		Description: "Submit text for summarization; returns the " +
			"cached summary immediately or a job ID to poll",
	}, s.handleSubmitText)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "submit_file_text",
		Description: "Submit text extracted from a file for " +
			"summarization on the file queue",
	}, s.handleSubmitFileText)

	// Polling and introspection.
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "job_status",
		Description: "Get the current state and progress of a job",
	}, s.handleJobStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "queue_stats",
		Description: "Get aggregate queue counts for a job class",
	}, s.handleQueueStats)

	// Cache administration.
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "invalidate_cache",
		Description: "Drop all cached summaries for a user",
	}, s.handleInvalidateCache)

	// Credit administration.
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "grant_credits",
		Description: "Add credits to a user's balance",
	}, s.handleGrantCredits)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "credit_balance",
		Description: "Get a user's current credit balance",
	}, s.handleCreditBalance)
}
