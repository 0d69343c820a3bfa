// Package main implements ragctl, a command-line client for the ragd HTTP API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/ragd/internal/http"
)

// version information
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	server  string
	timeout time.Duration
	json    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "ragctl",
		Short: "CLI for the ragd HTTP API",
		Long: `ragctl uploads documents to ragd, processes them into chunks, indexes
them into a project's vector collection and queries the index.

Examples:
  # Full round trip for project "docs"
  ragctl upload docs handbook.pdf
  ragctl process docs
  ragctl push docs --reset
  ragctl answer docs "How many vacation days do I get?"`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("RAGD_URL", "http://localhost:8000"), "ragd server URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON responses")

	root.AddCommand(
		newHealthCmd(opts),
		newUploadCmd(opts),
		newProcessCmd(opts),
		newPushCmd(opts),
		newInfoCmd(opts),
		newSearchCmd(opts),
		newAnswerCmd(opts),
		newJobCmd(opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// apiError is a non-2xx response decoded from the server's error body.
type apiError struct {
	Status int
	Signal httpapi.Signal
	Msg    string
}

func (e *apiError) Error() string {
	if e.Signal == "" {
		return fmt.Sprintf("server returned status %d: %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("%s (status %d): %s", e.Signal, e.Status, e.Msg)
}

// client issues requests against a ragd server.
type client struct {
	base string
	http *http.Client
}

func newClient(opts *options) *client {
	return &client{
		base: strings.TrimRight(opts.server, "/"),
		http: &http.Client{Timeout: opts.timeout},
	}
}

// postJSON sends body as JSON and decodes the reply into out.
func (c *client) postJSON(ctx context.Context, path string, body, out any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(payload), out)
}

func (c *client) get(ctx context.Context, path string, out any) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, "", nil, out)
}

// do returns the raw response body alongside the decoded value so callers
// can print either.
func (c *client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) ([]byte, error) {
	url := c.base + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(raw))}
		var er httpapi.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Signal != "" {
			apiErr.Signal = er.Signal
			apiErr.Msg = er.Error
		}
		return raw, apiErr
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return raw, nil
}

// printRaw writes indented JSON for --json output.
func printRaw(w io.Writer, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = w.Write(raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check ragd server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp httpapi.HealthResponse
			raw, err := newClient(opts).get(cmd.Context(), "/health", &resp)
			if err != nil {
				return err
			}
			if opts.json {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "Server Version: %s\n", resp.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", opts.server)
			return nil
		},
	}
}
