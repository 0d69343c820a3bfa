// Package ingest turns uploaded files into stored chunks.
//
// Files are validated and written under a per-project directory with a
// random prefix, recorded as assets, then loaded by extension, split into
// overlapping chunks, optionally scrubbed of secrets and saved to the chunk
// store for indexing.
package ingest

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Sentinel errors for ingestion.
var (
	ErrUnsupportedType = errors.New("file type is not supported")
	ErrFileTooLarge    = errors.New("file size exceeded")
	ErrInvalidFileName = errors.New("invalid file name")
	ErrFileNotFound    = errors.New("file not found in project")
	ErrNoFiles         = errors.New("no files in project")
	ErrUnsupportedFile = errors.New("unsupported file extension")
)

const (
	bytesPerMB   = 1 << 20
	keyAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
	keyLength    = 12
	maxNameTries = 16
)

var unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N}_.]`)

// FileStore keeps uploaded files on local disk, one directory per project.
type FileStore struct {
	dir      string
	maxBytes int64
	allowed  map[string]struct{}
}

// NewFileStore returns a FileStore rooted at dir. maxSizeMB caps uploads and
// allowedTypes lists the accepted MIME types.
func NewFileStore(dir string, maxSizeMB int, allowedTypes []string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("files directory is required")
	}
	if maxSizeMB <= 0 {
		return nil, fmt.Errorf("max file size must be positive, got %d", maxSizeMB)
	}
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[normaliseType(t)] = struct{}{}
	}
	return &FileStore{dir: dir, maxBytes: int64(maxSizeMB) * bytesPerMB, allowed: allowed}, nil
}

// Dir is the root directory.
func (f *FileStore) Dir() string { return f.dir }

// Validate checks an upload's declared content type and size.
func (f *FileStore) Validate(contentType string, size int64) error {
	if _, ok := f.allowed[normaliseType(contentType)]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	if size > f.maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, size, f.maxBytes)
	}
	return nil
}

// Save writes r to a new file named <random12>_<clean name> in the project's
// directory and returns the stored name and byte count. Content beyond the
// size limit fails the upload and removes the partial file.
func (f *FileStore) Save(projectID, originalName string, r io.Reader) (string, int64, error) {
	clean := CleanFileName(originalName)
	if clean == "" || strings.Trim(clean, ".") == "" {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidFileName, originalName)
	}
	projectDir := f.ProjectDir(projectID)
	if err := os.MkdirAll(projectDir, 0o750); err != nil {
		return "", 0, fmt.Errorf("creating project directory: %w", err)
	}

	for range maxNameTries {
		key, err := randomKey(keyLength)
		if err != nil {
			return "", 0, err
		}
		name := key + "_" + clean
		out, err := os.OpenFile(filepath.Join(projectDir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", 0, fmt.Errorf("creating %s: %w", name, err)
		}

		n, err := io.Copy(out, io.LimitReader(r, f.maxBytes+1))
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err == nil && n > f.maxBytes {
			err = fmt.Errorf("%w: limit %d bytes", ErrFileTooLarge, f.maxBytes)
		}
		if err != nil {
			_ = os.Remove(out.Name())
			return "", 0, fmt.Errorf("writing %s: %w", name, err)
		}
		return name, n, nil
	}
	return "", 0, fmt.Errorf("no free file name for %q after %d attempts", clean, maxNameTries)
}

// ProjectDir is the directory holding a project's files.
func (f *FileStore) ProjectDir(projectID string) string {
	return filepath.Join(f.dir, projectID)
}

// Path resolves a stored file name. Names that would escape the project
// directory are rejected.
func (f *FileStore) Path(projectID, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return filepath.Join(f.ProjectDir(projectID), name), nil
}

// CleanFileName drops every character except letters, digits, underscore and
// dot.
func CleanFileName(name string) string {
	return unsafeNameChars.ReplaceAllString(strings.TrimSpace(name), "")
}

func randomKey(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	limit := big.NewInt(int64(len(keyAlphabet)))
	for range n {
		i, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generating file key: %w", err)
		}
		b.WriteByte(keyAlphabet[i.Int64()])
	}
	return b.String(), nil
}

func normaliseType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}
