package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/hybridrec/internal/ingest"
	"github.com/kalambet/hybridrec/internal/lineage"
	"github.com/kalambet/hybridrec/internal/retrieval"
)

// RunsResourceURI is the MCP resource listing recent pipeline runs.
const RunsResourceURI = "pipeline://runs"

// NewMCPServer creates an MCP server with the recommendation and ingestion
// tools and the runs resource registered.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"hybridrec",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("hybridrec: campaign recommendations from conversation history."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("recommend_campaigns",
			mcp.WithDescription("Recommend campaigns for a user based on similar users and historical engagement."),
			mcp.WithString("user_id", mcp.Description("User to recommend for"), mcp.Required()),
			mcp.WithNumber("top", mcp.Description("Maximum number of campaigns (default 5, max 20)")),
		),
		mcpRecommend(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_conversations",
			mcp.WithDescription("Queue a JSON document of conversation messages for a pipeline run."),
			mcp.WithString("document", mcp.Description(`JSON array of {user_id, message, timestamp?, message_id?} objects, or {"conversations": [...]}`), mcp.Required()),
			mcp.WithString("run_id", mcp.Description("Optional run id; generated when empty")),
		),
		mcpIngest(deps),
	)

	s.AddResource(
		mcp.NewResource(
			RunsResourceURI,
			"Pipeline Runs",
			mcp.WithResourceDescription("Last 10 pipeline runs with latency and detected anomalies"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRuns(deps),
	)

	return s
}

func mcpRecommend(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		top := req.GetInt("top", retrieval.DefaultTop)

		recs, err := recommend(ctx, deps, userID, top)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		b, err := json.Marshal(RecommendationsResponse{UserID: userID, Recommendations: recs})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpIngest(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		document, err := req.RequireString("document")
		if err != nil {
			return mcpError("document is required"), nil
		}

		runID, jobID, err := ingest.Enqueue(deps.Jobs, []byte(document), req.GetString("run_id", ""), "mcp")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue run: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued run %s (job %s)", runID, jobID)), nil
	}
}

func mcpResourceRuns(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		report, err := deps.Runs.Report(ctx, lineage.DefaultSummaryLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to load runs: %w", err)
		}

		b, err := json.Marshal(report)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal runs: %w", err)
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
