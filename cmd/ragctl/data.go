package main

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/ragd/internal/http"
)

func newUploadCmd(opts *options) *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "upload <project-id> <file>",
		Short: "Upload a document to a project",
		Long: `Upload a document to a project. The MIME type is guessed from the file
extension, then from the content; --type overrides it.

Examples:
  ragctl upload docs handbook.pdf
  ragctl upload docs notes --type text/plain`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, path := args[0], args[1]
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read file %s: %w", path, err)
			}
			if contentType == "" {
				contentType = detectType(path, content)
			}

			body, formType, err := multipartBody(filepath.Base(path), contentType, content)
			if err != nil {
				return err
			}

			var resp httpapi.UploadResponse
			raw, err := newClient(opts).do(cmd.Context(), http.MethodPost,
				"/api/v1/data/upload/"+url.PathEscape(projectID), formType, body, &resp)
			if err != nil {
				return err
			}
			if opts.json {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as %s (%d bytes)\n", path, resp.FileID, resp.Size)
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "", "MIME type of the file")
	return cmd
}

// detectType guesses a MIME type without parameters.
func detectType(path string, content []byte) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if t == "" {
		t = http.DetectContentType(content)
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

func multipartBody(name, contentType string, content []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", fmt.Errorf("failed to build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to build upload: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// processRequest mirrors the server's process body. Nil sizes take the
// server defaults.
type processRequest struct {
	FileID      string `json:"file_id,omitempty"`
	ChunkSize   *int   `json:"chunk_size,omitempty"`
	OverlapSize *int   `json:"overlap_size,omitempty"`
	DoReset     bool   `json:"do_reset"`
}

func newProcessCmd(opts *options) *cobra.Command {
	var (
		fileID  string
		size    int
		overlap int
		reset   bool
	)
	cmd := &cobra.Command{
		Use:   "process <project-id>",
		Short: "Split a project's uploaded files into chunks",
		Long: `Split a project's uploaded files into chunks and store them.

Examples:
  # Process every file with the server's chunk settings
  ragctl process docs

  # Re-chunk a single file, replacing the project's existing chunks
  ragctl process docs --file 3f9a1c_handbook.pdf --chunk-size 500 --overlap 50 --reset`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := processRequest{FileID: fileID, DoReset: reset}
			if cmd.Flags().Changed("chunk-size") {
				req.ChunkSize = &size
			}
			if cmd.Flags().Changed("overlap") {
				req.OverlapSize = &overlap
			}

			var resp httpapi.ProcessResponse
			raw, err := newClient(opts).postJSON(cmd.Context(), "/api/v1/data/process/"+url.PathEscape(args[0]), req, &resp)
			if err != nil {
				return err
			}
			if opts.json {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			if resp.ProcessResult == nil {
				return fmt.Errorf("empty process result")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %d file(s) into %d chunk(s)\n",
				resp.ProcessedFiles, resp.InsertedChunks)
			for _, name := range resp.SkippedFiles {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped: %s\n", name)
			}
			if resp.Redactions > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "redacted %d secret(s)\n", resp.Redactions)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fileID, "file", "", "process only this file id")
	cmd.Flags().IntVar(&size, "chunk-size", 0, "chunk size in characters (server default when unset)")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "chunk overlap in characters (server default when unset)")
	cmd.Flags().BoolVar(&reset, "reset", false, "delete the project's existing chunks first")
	return cmd
}
