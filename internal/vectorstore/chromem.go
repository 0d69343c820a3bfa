package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/collections"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	chromemBackend = "chromem"
	memoryBackend  = "memory"

	metaDimension = "dimension"

	// dimensionsFile sits next to chromem's collection directories and
	// records each collection's vector size across restarts.
	dimensionsFile = "ragd_dimensions.json"
)

// errNoEmbedder is returned if chromem ever tries to embed on its own; every
// record and query arrives with a precomputed vector.
var errNoEmbedder = errors.New("chromem: vectors must be precomputed")

// ChromemConfig holds configuration for the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool

	// Distance must be cosine; chromem supports nothing else.
	Distance Distance

	// InsertConcurrency bounds concurrent sub-batches. Default: 4
	InsertConcurrency int
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	d, err := ParseDistance(string(c.Distance))
	if err != nil {
		return err
	}
	if d != DistanceCosine {
		return fmt.Errorf("%w: chromem supports cosine distance only, got %q", ErrInvalidConfig, c.Distance)
	}
	return nil
}

// ChromemStore is a Store backed by chromem-go, an embeddable pure-Go
// vector database. With a Path it persists to gob files; otherwise it lives
// in memory for the lifetime of the process.
type ChromemStore struct {
	config  ChromemConfig
	logger  *zap.Logger
	backend string

	mu sync.RWMutex
	db *chromem.DB

	// dims holds each collection's vector size; dimsPath persists it when
	// the store is on disk.
	dimMu    sync.Mutex
	dims     map[string]int
	dimsPath string
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore validates config. The database opens on Connect.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Distance == "" {
		config.Distance = DistanceCosine
	}
	if config.InsertConcurrency == 0 {
		config.InsertConcurrency = DefaultInsertConcurrency
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	backend := chromemBackend
	if config.Path == "" {
		backend = memoryBackend
	}
	return &ChromemStore{config: config, logger: logger, backend: backend}, nil
}

// Connect opens (or creates) the database.
func (s *ChromemStore) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	if s.config.Path == "" {
		s.db = chromem.NewDB()
		s.setDims(map[string]int{}, "")
		s.logger.Info("chromem store initialized in memory")
		return nil
	}

	path, err := expandPath(s.config.Path)
	if err != nil {
		return opError(s.backend, "connect", "", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return opError(s.backend, "connect", "", fmt.Errorf("creating directory %s: %w", path, err))
	}
	db, err := chromem.NewPersistentDB(path, s.config.Compress)
	if err != nil {
		return opError(s.backend, "connect", "", err)
	}
	dimsPath := filepath.Join(path, dimensionsFile)
	dims, err := loadDimensions(dimsPath)
	if err != nil {
		return opError(s.backend, "connect", "", err)
	}
	s.db = db
	s.setDims(dims, dimsPath)
	s.logger.Info("chromem store initialized",
		zap.String("path", path),
		zap.Bool("compress", s.config.Compress))
	return nil
}

// Disconnect drops the handle. Persistent data stays on disk.
func (s *ChromemStore) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = nil
	return nil
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *ChromemStore) database() (*chromem.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotConnected
	}
	return s.db, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	if err := collections.Validate(name); err != nil {
		return nil, err
	}
	db, err := s.database()
	if err != nil {
		return nil, err
	}
	c := db.GetCollection(name, noEmbedding)
	if c == nil {
		return nil, ErrCollectionNotFound
	}
	return c, nil
}

// CollectionExists checks if a collection exists.
func (s *ChromemStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, span := tracer.Start(ctx, "ChromemStore.CollectionExists",
		trace.WithAttributes(attribute.String("collection", name)))
	_, err := s.collection(name)
	switch {
	case err == nil:
		endSpan(span, nil)
		return true, nil
	case errors.Is(err, ErrCollectionNotFound):
		endSpan(span, nil)
		return false, nil
	default:
		endSpan(span, err)
		return false, opError(s.backend, "collection_exists", name, err)
	}
}

// ListCollections returns collection names in no particular order.
func (s *ChromemStore) ListCollections(context.Context) ([]string, error) {
	db, err := s.database()
	if err != nil {
		return nil, opError(s.backend, "list_collections", "", err)
	}
	all := db.ListCollections()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	return names, nil
}

// CreateCollection creates a collection, dropping it first when reset is set.
func (s *ChromemStore) CreateCollection(ctx context.Context, name string, dimension int, reset bool) (created bool, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ChromemStore.CreateCollection", trace.WithAttributes(
		attribute.String("collection", name),
		attribute.Int("vector_size", dimension),
		attribute.Bool("reset", reset),
	))
	defer func() {
		observe(s.backend, "create_collection", start, err)
		endSpan(span, err)
	}()

	if err := collections.Validate(name); err != nil {
		return false, err
	}
	if dimension <= 0 {
		return false, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dimension)
	}
	if reset {
		if _, err := s.DeleteCollection(ctx, name); err != nil {
			return false, err
		}
	}

	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		// A collection created before dimensions were recorded adopts the
		// requested size.
		known, err := s.claimDimension(name, dimension)
		if err != nil {
			return false, opError(s.backend, "create_collection", name, err)
		}
		if known != dimension {
			return false, opError(s.backend, "create_collection", name,
				fmt.Errorf("%w: collection has %d, requested %d", ErrDimensionMismatch, known, dimension))
		}
		return false, nil
	}

	db, err := s.database()
	if err != nil {
		return false, opError(s.backend, "create_collection", name, err)
	}
	meta := map[string]string{metaDimension: strconv.Itoa(dimension)}
	if _, err := db.CreateCollection(name, meta, noEmbedding); err != nil {
		return false, opError(s.backend, "create_collection", name, err)
	}
	if err := s.storeDimension(name, dimension); err != nil {
		return false, opError(s.backend, "create_collection", name, err)
	}
	s.logger.Debug("created chromem collection", zap.String("collection", name), zap.Int("vector_size", dimension))
	return true, nil
}

// DeleteCollection drops a collection and its persisted documents.
func (s *ChromemStore) DeleteCollection(ctx context.Context, name string) (bool, error) {
	_, span := tracer.Start(ctx, "ChromemStore.DeleteCollection",
		trace.WithAttributes(attribute.String("collection", name)))

	_, err := s.collection(name)
	if errors.Is(err, ErrCollectionNotFound) {
		endSpan(span, nil)
		return false, nil
	}
	if err == nil {
		var db *chromem.DB
		if db, err = s.database(); err == nil {
			err = db.DeleteCollection(name)
		}
	}
	endSpan(span, err)
	if err != nil {
		return false, opError(s.backend, "delete_collection", name, err)
	}
	if err := s.storeDimension(name, 0); err != nil {
		return true, opError(s.backend, "delete_collection", name, err)
	}
	return true, nil
}

func (s *ChromemStore) setDims(dims map[string]int, path string) {
	s.dimMu.Lock()
	s.dims, s.dimsPath = dims, path
	s.dimMu.Unlock()
}

func (s *ChromemStore) dimension(name string) int {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	return s.dims[name]
}

// claimDimension returns the recorded size of name, recording dim first
// when none is known yet.
func (s *ChromemStore) claimDimension(name string, dim int) (int, error) {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	if known := s.dims[name]; known > 0 || dim <= 0 {
		return known, nil
	}
	if err := s.writeDimsLocked(name, dim); err != nil {
		return 0, err
	}
	return dim, nil
}

// storeDimension records dim for name; zero forgets the collection.
func (s *ChromemStore) storeDimension(name string, dim int) error {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	return s.writeDimsLocked(name, dim)
}

func (s *ChromemStore) writeDimsLocked(name string, dim int) error {
	if s.dims == nil {
		s.dims = map[string]int{}
	}
	if dim > 0 {
		s.dims[name] = dim
	} else {
		delete(s.dims, name)
	}
	if s.dimsPath == "" {
		return nil
	}
	data, err := json.Marshal(s.dims)
	if err != nil {
		return err
	}
	tmp := s.dimsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing collection dimensions: %w", err)
	}
	if err := os.Rename(tmp, s.dimsPath); err != nil {
		return fmt.Errorf("writing collection dimensions: %w", err)
	}
	return nil
}

func loadDimensions(path string) (map[string]int, error) {
	dims := map[string]int{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return dims, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading collection dimensions: %w", err)
	}
	if err := json.Unmarshal(data, &dims); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return dims, nil
}

// GetCollectionInfo returns the point count and known dimension.
func (s *ChromemStore) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	_, span := tracer.Start(ctx, "ChromemStore.GetCollectionInfo",
		trace.WithAttributes(attribute.String("collection", name)))
	c, err := s.collection(name)
	endSpan(span, err)
	if err != nil {
		return nil, opError(s.backend, "get_collection_info", name, err)
	}
	return &CollectionInfo{
		Name:       name,
		PointCount: c.Count(),
		VectorSize: s.dimension(name),
		Distance:   DistanceCosine,
		Status:     "green",
	}, nil
}

// InsertOne upserts a single record.
func (s *ChromemStore) InsertOne(ctx context.Context, name string, record Record) error {
	return s.InsertMany(ctx, name, []Record{record}, 1)
}

// InsertMany upserts records. A record whose id already exists replaces it.
func (s *ChromemStore) InsertMany(ctx context.Context, name string, records []Record, batchSize int) (err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ChromemStore.InsertMany", trace.WithAttributes(
		attribute.String("collection", name),
		attribute.Int("record_count", len(records)),
		attribute.Int("batch_size", batchSize),
	))
	defer func() {
		observe(s.backend, "insert_many", start, err)
		endSpan(span, err)
	}()

	c, err := s.collection(name)
	if err != nil {
		return opError(s.backend, "insert_many", name, err)
	}
	if len(records) == 0 {
		return nil
	}

	dim, err := s.claimDimension(name, len(records[0].Vector))
	if err != nil {
		return opError(s.backend, "insert_many", name, err)
	}
	if err := checkDimension(records, dim); err != nil {
		return opError(s.backend, "insert_many", name, err)
	}

	err = insertBatches(ctx, records, batchSize, s.config.InsertConcurrency, func(ctx context.Context, batch []Record) error {
		docs := make([]chromem.Document, len(batch))
		for i, r := range batch {
			docs[i] = chromem.Document{
				ID:        r.ID.String(),
				Content:   r.Text,
				Metadata:  metadataToStrings(r.Metadata),
				Embedding: r.Vector,
			}
		}
		return c.AddDocuments(ctx, docs, 1)
	})
	if err != nil {
		return opError(s.backend, "insert_many", name, err)
	}
	PointsInserted.WithLabelValues(s.backend).Add(float64(len(records)))
	return nil
}

// SearchByVector returns the nearest documents by cosine similarity.
func (s *ChromemStore) SearchByVector(ctx context.Context, name string, vector []float32, limit int) (docs []RetrievedDocument, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ChromemStore.SearchByVector", trace.WithAttributes(
		attribute.String("collection", name),
		attribute.Int("limit", limit),
	))
	defer func() {
		observe(s.backend, "search", start, err)
		endSpan(span, err)
	}()

	c, err := s.collection(name)
	if err != nil {
		return nil, opError(s.backend, "search", name, err)
	}

	// chromem rejects nResults above the document count.
	n := min(limit, c.Count())
	if n <= 0 {
		return []RetrievedDocument{}, nil
	}
	if dim := s.dimension(name); dim > 0 && len(vector) != dim {
		return nil, opError(s.backend, "search", name,
			fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(vector), dim))
	}

	results, err := c.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, opError(s.backend, "search", name, err)
	}

	docs = make([]RetrievedDocument, len(results))
	for i, r := range results {
		docs[i] = RetrievedDocument{
			Text:     r.Content,
			Score:    float64(r.Similarity),
			Metadata: metadataFromStrings(r.Metadata),
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(docs)))
	return docs, nil
}

func metadataToStrings(md map[string]any) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

func metadataFromStrings(md map[string]string) map[string]any {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
