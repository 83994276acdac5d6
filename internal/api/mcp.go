package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fundlens/fundlens/internal/retrieval"
	"github.com/fundlens/fundlens/internal/storage"
)

// MCPSearcher abstracts semantic search for the MCP layer.
type MCPSearcher interface {
	Search(ctx context.Context, query string, topK int, filter retrieval.Filter) []retrieval.ScoredRecord
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Query    QueryEngine
	Metrics  MetricsEngine
	Searcher MCPSearcher
}

// NewMCPServer creates an MCP server exposing fund question answering,
// metrics, and document search as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"fundlens",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("fundlens answers questions about private equity fund documents and computes fund performance metrics from ingested transactions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_fund",
			mcp.WithDescription("Ask a natural-language question about a fund's documents and transactions."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("fund_id", mcp.Description("Fund to scope the answer to")),
			mcp.WithNumber("top_k", mcp.Description("How many document chunks to retrieve (default 3)")),
		),
		mcpAskFund(deps),
	)

	s.AddTool(
		mcp.NewTool("fund_metrics",
			mcp.WithDescription("Compute performance metrics (PIC, DPI, RVPI, TVPI, IRR) for a fund from its transaction history."),
			mcp.WithString("fund_id", mcp.Description("Fund to compute metrics for"), mcp.Required()),
		),
		mcpFundMetrics(deps),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search indexed fund document chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("fund_id", mcp.Description("Restrict results to one fund")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchDocuments(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"fundlens://funds",
			"Funds",
			mcp.WithResourceDescription("All known funds with commitment and NAV"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceFunds(deps),
	)

	return s
}

func mcpAskFund(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		fundID := req.GetString("fund_id", "")
		topK := req.GetInt("top_k", 0)

		res := deps.Query.Ask(ctx, question, fundID, nil, topK)

		type answer struct {
			Answer  string             `json:"answer"`
			Intent  string             `json:"intent"`
			Sources []string           `json:"sources,omitempty"`
			Metrics map[string]float64 `json:"metrics,omitempty"`
		}
		out := answer{Answer: res.Answer, Intent: string(res.Intent), Metrics: res.Metrics}
		for _, s := range res.Sources {
			out.Sources = append(out.Sources, s.Content)
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpFundMetrics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fundID, err := req.RequireString("fund_id")
		if err != nil {
			return mcpError("fund_id is required"), nil
		}

		metrics, err := deps.Metrics.CalculateAllMetrics(ctx, fundID)
		if err != nil {
			return mcpError(fmt.Sprintf("metrics calculation failed: %v", err)), nil
		}

		b, err := json.Marshal(metrics)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal metrics: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		fundID := req.GetString("fund_id", "")

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		chunks := deps.Searcher.Search(ctx, query, limit, retrieval.Filter{FundID: fundID})
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			ID         string  `json:"id"`
			DocumentID string  `json:"document_id"`
			FundID     string  `json:"fund_id"`
			Content    string  `json:"content"`
			Score      float32 `json:"score"`
		}

		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{
				ID:         c.ID,
				DocumentID: c.DocumentID,
				FundID:     c.FundID,
				Content:    c.Content,
				Score:      c.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceFunds(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		funds, err := deps.Store.ListFunds()
		if err != nil {
			return nil, fmt.Errorf("failed to list funds: %w", err)
		}

		views := make([]fundView, len(funds))
		for i, f := range funds {
			views[i] = fundView{
				ID:         f.ID,
				Name:       f.Name,
				Commitment: f.Commitment.String(),
				NAV:        f.NAV.String(),
			}
		}

		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal funds: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
