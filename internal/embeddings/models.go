// Package embeddings provides the local FastEmbed (ONNX) embedding backend.
//
// The provider runs BGE and MiniLM models in-process, so indexing and search
// work without any hosted embedding API. It requires a cgo build and the ONNX
// runtime shared library (ONNX_PATH); non-cgo builds return
// ErrFastEmbedNotAvailable from the constructor.
package embeddings

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedModel is returned for model ids outside the known table.
	ErrUnsupportedModel = errors.New("unsupported fastembed model")

	// ErrFastEmbedNotAvailable is returned by builds without cgo.
	ErrFastEmbedNotAvailable = errors.New("fastembed: not available (binary built without cgo)")
)

// DefaultModel is used when no model id is configured.
const DefaultModel = "BAAI/bge-small-en-v1.5"

// modelInfo describes a supported model by its fastembed name.
type modelInfo struct {
	name      string
	dimension int
}

var knownModels = map[string]modelInfo{
	"baai/bge-small-en-v1.5":                 {"fast-bge-small-en-v1.5", 384},
	"baai/bge-small-en":                      {"fast-bge-small-en", 384},
	"baai/bge-base-en-v1.5":                  {"fast-bge-base-en-v1.5", 768},
	"baai/bge-base-en":                       {"fast-bge-base-en", 768},
	"baai/bge-small-zh-v1.5":                 {"fast-bge-small-zh-v1.5", 512},
	"sentence-transformers/all-minilm-l6-v2": {"fast-all-MiniLM-L6-v2", 384},
}

// resolveModel accepts either the Hugging Face id or the fastembed name.
func resolveModel(id string) (modelInfo, error) {
	if id == "" {
		id = DefaultModel
	}
	key := strings.ToLower(id)
	if info, ok := knownModels[key]; ok {
		return info, nil
	}
	for _, info := range knownModels {
		if strings.EqualFold(info.name, id) {
			return info, nil
		}
	}
	return modelInfo{}, fmt.Errorf("%w: %q", ErrUnsupportedModel, id)
}

// ModelDimension returns the output dimension of a supported model.
func ModelDimension(id string) (int, error) {
	info, err := resolveModel(id)
	if err != nil {
		return 0, err
	}
	return info.dimension, nil
}

// Config configures the FastEmbed provider.
type Config struct {
	Model                string
	CacheDir             string
	MaxLength            int
	ShowDownloadProgress bool
}
