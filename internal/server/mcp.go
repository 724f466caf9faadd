package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/recursive-vibe/smart-fork/internal/orchestrator"
)

// Searcher is the subset of internal/orchestrator.Orchestrator the
// server needs.
type Searcher interface {
	Search(ctx context.Context, q orchestrator.Query) ([]orchestrator.SessionSearchResult, error)
}

// SearchInput is the single tool's input schema, spec §4.9's query.
type SearchInput struct {
	Query   string `json:"query" jsonschema:"natural-language description of the prior work to find"`
	TopN    int    `json:"top_n,omitempty" jsonschema:"maximum number of sessions to return"`
	Project string `json:"project,omitempty" jsonschema:"restrict results to this project"`
}

// SearchOutput is the single tool's output: one rendered text blob,
// per spec §6.3's "search(query, top_n?, project?) -> text".
type SearchOutput struct {
	Text string `json:"text" jsonschema:"ranked prior sessions, rendered as text"`
}

// MCPServer adapts the search orchestrator to the Model Context
// Protocol, grounded on internal/mcp/server.go's tool-registration
// pattern (mcp.NewServer + mcp.AddTool + a typed handler).
type MCPServer struct {
	mcp      *mcp.Server
	searcher Searcher
	logger   *slog.Logger
}

// NewMCPServer builds an MCPServer and registers its one tool.
func NewMCPServer(searcher Searcher, name, version string) *MCPServer {
	s := &MCPServer{
		searcher: searcher,
		logger:   slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Finds prior conversational sessions whose content is relevant to a natural-language query, ranked by similarity, recency, and reuse signal.",
	}, s.handleSearch)
	s.logger.Debug("registered MCP tool", slog.String("name", "search"))

	return s
}

func (s *MCPServer) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	results, err := s.searcher.Search(ctx, orchestrator.Query{
		Text:    input.Query,
		TopN:    input.TopN,
		Project: input.Project,
	})
	if err != nil {
		return nil, SearchOutput{}, errors.New(orchestrator.FormatFailure(err))
	}
	return nil, SearchOutput{Text: FormatResults(input.Query, results)}, nil
}

// Serve runs the MCP server over stdio until ctx is cancelled.
func (s *MCPServer) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}
