package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/reqai/internal/backlog"
	"github.com/kalambet/reqai/internal/results"
)

// ExtractionResultsURI names the latest extraction snapshot resource.
const ExtractionResultsURI = "reqai://extraction-results"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Results ResultsLoader
	Backlog BacklogService
}

// NewMCPServer creates an MCP server with all reqai tools and resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"reqai",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("reqai turns uploaded requirement documents into a Jira-style backlog of epics, stories, tasks and sub-tasks."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_extraction_results",
			mcp.WithDescription("Return the text extracted from the most recently uploaded documents, keyed by file name."),
		),
		mcpGetExtractionResults(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_backlog",
			mcp.WithDescription("Structure requirement text into epics, stories, tasks and sub-tasks. Without text the latest extraction results are used."),
			mcp.WithString("text", mcp.Description("Requirement text to structure")),
		),
		mcpGenerateBacklog(deps),
	)

	s.AddTool(
		mcp.NewTool("export_backlog",
			mcp.WithDescription("Export the most recently generated backlog."),
			mcp.WithString("view", mcp.Description("flat (default), raw or tree")),
			mcp.WithString("format", mcp.Description("json (default) or yaml")),
		),
		mcpExportBacklog(deps),
	)

	s.AddResource(
		mcp.NewResource(
			ExtractionResultsURI,
			"Extraction Results",
			mcp.WithResourceDescription("Latest extraction results as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceExtractionResults(deps),
	)

	return s
}

func mcpGetExtractionResults(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Results.Load()
		if errors.Is(err, results.ErrNotFound) {
			return mcpError("no extraction has been performed yet"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load extraction results: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGenerateBacklog(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text := req.GetString("text", "")

		set, err := deps.Backlog.GenerateBacklog(ctx, text)
		if errors.Is(err, backlog.ErrNoInput) {
			return mcpError("text is required when no extraction results are available"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("backlog generation failed: %v", err)), nil
		}

		b, err := json.Marshal(struct {
			Counts backlog.Counts `json:"counts"`
			Items  []backlog.Item `json:"items"`
		}{set.Counts(), set.Items})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal backlog: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpExportBacklog(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		view, err := backlog.ParseView(req.GetString("view", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		format, err := backlog.ParseFormat(req.GetString("format", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		set, err := deps.Backlog.LatestBacklog()
		if err != nil {
			return mcpError(fmt.Sprintf("no backlog to export: %v", err)), nil
		}

		var buf bytes.Buffer
		if err := backlog.Export(&buf, set, view, format); err != nil {
			return mcpError(fmt.Sprintf("export failed: %v", err)), nil
		}
		return mcpText(buf.String()), nil
	}
}

func mcpResourceExtractionResults(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		res, err := deps.Results.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load extraction results: %w", err)
		}

		b, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal extraction results: %w", err)
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
