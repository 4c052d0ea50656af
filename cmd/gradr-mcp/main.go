// Command gradr-mcp serves the exam-ingestion tools (question parsing,
// marking-guide parsing, answer normalization) over the Model Context
// Protocol on stdin/stdout.
package main

import (
	"log/slog"
	"os"

	"github.com/gradr-ai/gradr/internal/mcpserver"
)

const version = "0.1.0"

func main() {
	// MCP owns stdout; diagnostics go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	srv := mcpserver.New(version, logger)
	if err := srv.ServeStdio(); err != nil {
		logger.Error("mcp server exited", "error", err)
		os.Exit(1)
	}
}
