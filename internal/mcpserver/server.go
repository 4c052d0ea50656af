// Package mcpserver exposes the exam-ingestion tools over the Model Context
// Protocol so external agent frontends can parse question sheets and marking
// guides with the same parsers the pipeline uses.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gradr-ai/gradr/internal/tools"
)

// Server wraps an MCP server with the grading tool set registered.
type Server struct {
	server *server.MCPServer
	logger *slog.Logger
}

// New builds the MCP server and registers the tools.
func New(version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		server: server.NewMCPServer(
			"gradr",
			version,
			server.WithToolCapabilities(true),
		),
		logger: logger.With("component", "mcpserver"),
	}
	s.registerTools()
	return s
}

// ServeStdio blocks serving the MCP protocol over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.server)
}

func (s *Server) registerTools() {
	parseQuestions := mcp.NewTool("parse_questions",
		mcp.WithDescription("Parse raw question-sheet text into a structured question list"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Raw question sheet, one 'Qn. ...' heading per question"),
		),
	)
	s.server.AddTool(parseQuestions, s.handleParseQuestions)

	parseGuide := mcp.NewTool("parse_marking_guide",
		mcp.WithDescription("Parse marking-guide text into a rubric with per-item points and a max score"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Raw marking guide, items annotated like 'Definition (2 marks)'"),
		),
	)
	s.server.AddTool(parseGuide, s.handleParseMarkingGuide)

	normalize := mcp.NewTool("normalize_answers",
		mcp.WithDescription("Normalize a student answer: lowercase, collapse whitespace, strip control characters"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Raw student answer text"),
		),
	)
	s.server.AddTool(normalize, s.handleNormalizeAnswers)
}

func (s *Server) handleParseQuestions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	questions, err := tools.ParseQuestions(text)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("parse questions: %v", err)), nil
	}
	s.logger.DebugContext(ctx, "parsed questions", "count", len(questions))
	return jsonResult(map[string]any{
		"ok":        true,
		"questions": questions,
		"count":     len(questions),
	})
}

func (s *Server) handleParseMarkingGuide(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rubric, err := tools.ParseMarkingGuide(text)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("parse marking guide: %v", err)), nil
	}
	s.logger.DebugContext(ctx, "parsed marking guide", "items", len(rubric.Items), "max_score", rubric.MaxScore)
	return jsonResult(map[string]any{
		"ok":     true,
		"rubric": rubric,
	})
}

func (s *Server) handleNormalizeAnswers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"ok":         true,
		"normalized": tools.NormalizeAnswer(text),
	})
}

func jsonResult(payload map[string]any) (*mcp.CallToolResult, error) {
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}
