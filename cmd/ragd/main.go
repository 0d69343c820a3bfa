// Ragd is a retrieval augmented generation daemon.
//
// It stores uploaded documents per project, splits them into chunks, embeds
// the chunks into a vector collection and answers questions from the
// retrieved context, over HTTP or as MCP tools on stdio.
//
// Configuration is loaded from ~/.config/ragd/config.yaml and RAGD_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the HTTP API
//	ragd
//
//	# Serve MCP tools on stdio
//	ragd mcp
//
//	# Use an explicit config file
//	ragd -config /etc/ragd/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/ragd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	runFn := run
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		case "mcp":
			runFn = runMCP
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  ragd           Start the HTTP API\n")
			fmt.Fprintf(os.Stderr, "  ragd mcp       Serve MCP tools on stdio\n")
			fmt.Fprintf(os.Stderr, "  ragd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := runFn(ctx, *configPath); err != nil {
		log.Fatalf("ragd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("ragd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the HTTP API and blocks until ctx is cancelled.
//
// Initialization order:
//  1. Load configuration
//  2. Logger and telemetry
//  3. Providers, vector store and metadata store
//  4. RAG pipeline, ingest processor and job registry
//  5. HTTP server, shut down gracefully on cancellation
func run(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.http.Start()
	}()

	a.logger.Info(ctx, "ragd started",
		zap.String("version", version),
		zap.String("addr", fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)),
		zap.String("vectordb", a.cfg.VectorDB.Backend),
		zap.Bool("nats", a.nats != nil))

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.jobs.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("jobs shutdown: %w", err))
	}
	a.logger.Info(shutdownCtx, "ragd stopped")
	return errors.Join(errs...)
}
