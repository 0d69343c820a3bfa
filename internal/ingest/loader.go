package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// Chunking defaults.
const (
	DefaultChunkSize    = 100
	DefaultChunkOverlap = 20
)

// LoadFile reads a stored file into documents, choosing the loader by
// extension: .txt and .md as plain text, .pdf page by page. Every document
// carries the file name under "source".
func LoadFile(ctx context.Context, path string) ([]schema.Document, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var loader documentloaders.Loader
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt", ".md", ".markdown":
		loader = documentloaders.NewText(f)
	case ".pdf":
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", filepath.Base(path), err)
		}
		loader = documentloaders.NewPDF(f, info.Size())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFile, ext)
	}

	docs, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", filepath.Base(path), err)
	}
	source := filepath.Base(path)
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
		docs[i].Metadata["source"] = source
	}
	return docs, nil
}

// Split cuts documents into chunks of at most size characters with overlap
// characters shared between neighbours. Metadata is copied to every chunk.
func Split(docs []schema.Document, size, overlap int) ([]schema.Document, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)
	chunks, err := textsplitter.SplitDocuments(splitter, docs)
	if err != nil {
		return nil, fmt.Errorf("splitting documents: %w", err)
	}
	return chunks, nil
}
