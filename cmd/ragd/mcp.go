package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fyrsmithlabs/ragd/internal/mcp"
)

// runMCP serves the RAG tools on stdio until ctx is cancelled or the client
// disconnects. Logs go to stderr since the transport owns stdout.
func runMCP(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// A nil *ingest.Redactor must not become a non-nil Scrubber.
	var scrubber mcp.Scrubber
	if a.redactor != nil {
		scrubber = a.redactor
	}

	server, err := mcp.NewServer(&mcp.Config{
		Name:    "ragd",
		Version: version,
		Logger:  a.logger.Underlying(),
	}, a.rag, a.jobs, scrubber)
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}

	fmt.Fprintf(os.Stderr, "ragd %s serving MCP on stdio\n", version)
	return server.Run(ctx)
}
