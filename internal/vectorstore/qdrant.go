package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/collections"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const qdrantBackend = "qdrant"

var tracer = otel.Tracer("ragd.vectorstore")

// Payload keys written next to every point.
const (
	payloadText     = "text"
	payloadMetadata = "metadata"
)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost"
	Host string

	// Port is the gRPC port, not the REST port. Default: 6334
	Port int

	APIKey string
	UseTLS bool

	Distance Distance

	// Timeout bounds every backend call. Default: 30s
	Timeout time.Duration

	// MaxRetries applies to transient gRPC failures. Default: 3
	MaxRetries int

	// RetryBackoff doubles on each retry. Default: 1s
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC message limit in bytes. Default: 50MB
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of consecutive transient
	// failures that opens the breaker. Default: 5
	CircuitBreakerThreshold int

	// CircuitBreakerCooldown is how long the breaker stays open. Default: 30s
	CircuitBreakerCooldown time.Duration

	// InsertConcurrency bounds concurrent upsert sub-batches. Default: 4
	InsertConcurrency int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Distance == "" {
		c.Distance = DistanceCosine
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerCooldown == 0 {
		c.CircuitBreakerCooldown = 30 * time.Second
	}
	if c.InsertConcurrency == 0 {
		c.InsertConcurrency = DefaultInsertConcurrency
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if _, err := ParseDistance(string(c.Distance)); err != nil {
		return err
	}
	return nil
}

func (d Distance) qdrant() qdrant.Distance {
	switch d {
	case DistanceEuclidean:
		return qdrant.Distance_Euclid
	case DistanceDot:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

func distanceFromQdrant(d qdrant.Distance) Distance {
	switch d {
	case qdrant.Distance_Euclid:
		return DistanceEuclidean
	case qdrant.Distance_Dot:
		return DistanceDot
	default:
		return DistanceCosine
	}
}

// IsTransientError reports whether a gRPC failure is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// qdrantAPI is the subset of *qdrant.Client the store uses.
type qdrantAPI interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, name string) error
	GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// QdrantStore is a Store backed by Qdrant's native gRPC API.
type QdrantStore struct {
	config QdrantConfig
	logger *zap.Logger
	dial   func(*qdrant.Config) (qdrantAPI, error)

	mu     sync.RWMutex
	client qdrantAPI

	breaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore validates config. No connection is made until Connect.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &QdrantStore{
		config: config,
		logger: logger,
		dial: func(cfg *qdrant.Config) (qdrantAPI, error) {
			return qdrant.NewClient(cfg)
		},
	}, nil
}

// Connect dials Qdrant and performs a health check.
func (s *QdrantStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}

	if !s.config.UseTLS {
		s.logger.Warn("qdrant gRPC using plaintext (TLS disabled)",
			zap.String("host", s.config.Host), zap.Int("port", s.config.Port))
	}

	client, err := s.dial(&qdrant.Config{
		Host:   s.config.Host,
		Port:   s.config.Port,
		APIKey: s.config.APIKey,
		UseTLS: s.config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(s.config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(s.config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return opError(qdrantBackend, "connect", "", err)
	}

	hctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return opError(qdrantBackend, "health_check", "", err)
	}

	s.client = client
	s.logger.Info("connected to qdrant",
		zap.String("host", s.config.Host),
		zap.Int("port", s.config.Port),
		zap.String("distance", string(s.config.Distance)))
	return nil
}

// Disconnect closes the gRPC connection.
func (s *QdrantStore) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *QdrantStore) conn() (qdrantAPI, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

// call runs op with a per-attempt timeout, retrying transient failures with
// exponential backoff while the breaker is closed.
func (s *QdrantStore) call(ctx context.Context, name, collection string, op func(context.Context, qdrantAPI) error) error {
	start := time.Now()
	client, err := s.conn()
	if err != nil {
		return opError(qdrantBackend, name, collection, err)
	}

	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		if s.isCircuitOpen() {
			err = ErrCircuitOpen
			break
		}

		actx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		err = op(actx, client)
		cancel()
		if err == nil {
			s.resetCircuitBreaker()
			break
		}
		if !IsTransientError(err) {
			break
		}
		s.recordFailure()
		if attempt >= s.config.MaxRetries {
			err = fmt.Errorf("after %d retries: %w", s.config.MaxRetries, err)
			break
		}

		s.logger.Debug("retrying qdrant operation",
			zap.String("operation", name), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			continue
		}
		break
	}

	observe(qdrantBackend, name, start, err)
	return opError(qdrantBackend, name, collection, err)
}

func (s *QdrantStore) recordFailure() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures++
	s.breaker.lastFail = time.Now()
	if s.breaker.failures >= s.config.CircuitBreakerThreshold {
		CircuitBreakerOpen.WithLabelValues(qdrantBackend).Set(1)
	}
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures = 0
	CircuitBreakerOpen.WithLabelValues(qdrantBackend).Set(0)
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	if s.breaker.failures < s.config.CircuitBreakerThreshold {
		return false
	}
	if time.Since(s.breaker.lastFail) > s.config.CircuitBreakerCooldown {
		s.breaker.failures = 0
		CircuitBreakerOpen.WithLabelValues(qdrantBackend).Set(0)
		return false
	}
	return true
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// CollectionExists checks if a collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (exists bool, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.CollectionExists",
		trace.WithAttributes(attribute.String("collection", name)))
	defer func() { endSpan(span, err) }()

	if err := collections.Validate(name); err != nil {
		return false, err
	}
	err = s.call(ctx, "collection_exists", name, func(ctx context.Context, c qdrantAPI) error {
		var cerr error
		exists, cerr = c.CollectionExists(ctx, name)
		return cerr
	})
	return exists, err
}

// ListCollections returns all collection names.
func (s *QdrantStore) ListCollections(ctx context.Context) (names []string, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.ListCollections")
	defer func() { endSpan(span, err) }()

	err = s.call(ctx, "list_collections", "", func(ctx context.Context, c qdrantAPI) error {
		var lerr error
		names, lerr = c.ListCollections(ctx)
		return lerr
	})
	if names == nil && err == nil {
		names = []string{}
	}
	return names, err
}

// CreateCollection creates a collection with the store's distance metric.
func (s *QdrantStore) CreateCollection(ctx context.Context, name string, dimension int, reset bool) (created bool, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.CreateCollection", trace.WithAttributes(
		attribute.String("collection", name),
		attribute.Int("vector_size", dimension),
		attribute.Bool("reset", reset),
	))
	defer func() { endSpan(span, err) }()

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
		info, err := s.GetCollectionInfo(ctx, name)
		if err != nil {
			return false, err
		}
		if info.VectorSize > 0 && info.VectorSize != dimension {
			return false, opError(qdrantBackend, "create_collection", name,
				fmt.Errorf("%w: collection has %d, requested %d", ErrDimensionMismatch, info.VectorSize, dimension))
		}
		return false, nil
	}

	err = s.call(ctx, "create_collection", name, func(ctx context.Context, c qdrantAPI) error {
		return c.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: s.config.Distance.qdrant(),
			}),
		})
	})
	if err != nil {
		return false, err
	}
	s.logger.Info("created qdrant collection", zap.String("collection", name), zap.Int("vector_size", dimension))
	return true, nil
}

// DeleteCollection drops a collection.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) (deleted bool, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteCollection",
		trace.WithAttributes(attribute.String("collection", name)))
	defer func() { endSpan(span, err) }()

	exists, err := s.CollectionExists(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	err = s.call(ctx, "delete_collection", name, func(ctx context.Context, c qdrantAPI) error {
		return c.DeleteCollection(ctx, name)
	})
	return err == nil, err
}

// GetCollectionInfo returns point count, vector size, distance and status.
func (s *QdrantStore) GetCollectionInfo(ctx context.Context, name string) (info *CollectionInfo, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.GetCollectionInfo",
		trace.WithAttributes(attribute.String("collection", name)))
	defer func() { endSpan(span, err) }()

	if err := collections.Validate(name); err != nil {
		return nil, err
	}

	err = s.call(ctx, "get_collection_info", name, func(ctx context.Context, c qdrantAPI) error {
		ci, gerr := c.GetCollectionInfo(ctx, name)
		if gerr != nil {
			if isNotFound(gerr) {
				return ErrCollectionNotFound
			}
			return gerr
		}
		info = collectionInfoFromQdrant(name, ci)
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("point_count", info.PointCount))
	return info, nil
}

func collectionInfoFromQdrant(name string, ci *qdrant.CollectionInfo) *CollectionInfo {
	info := &CollectionInfo{
		Name:   name,
		Status: ci.GetStatus().String(),
	}
	if ci.PointsCount != nil {
		info.PointCount = int(*ci.PointsCount)
	}
	if params := ci.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		info.VectorSize = int(params.GetSize())
		info.Distance = distanceFromQdrant(params.GetDistance())
	}
	return info
}

// InsertOne upserts a single record.
func (s *QdrantStore) InsertOne(ctx context.Context, name string, record Record) error {
	return s.InsertMany(ctx, name, []Record{record}, 1)
}

// InsertMany upserts records in concurrent sub-batches.
func (s *QdrantStore) InsertMany(ctx context.Context, name string, records []Record, batchSize int) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.InsertMany", trace.WithAttributes(
		attribute.String("collection", name),
		attribute.Int("record_count", len(records)),
		attribute.Int("batch_size", batchSize),
	))
	defer func() { endSpan(span, err) }()

	if err := collections.Validate(name); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	err = insertBatches(ctx, records, batchSize, s.config.InsertConcurrency, func(ctx context.Context, batch []Record) error {
		points := make([]*qdrant.PointStruct, len(batch))
		for i, r := range batch {
			points[i] = toPoint(r)
		}
		return s.call(ctx, "upsert", name, func(ctx context.Context, c qdrantAPI) error {
			_, uerr := c.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: name,
				Wait:           qdrant.PtrOf(true),
				Points:         points,
			})
			return uerr
		})
	})
	if err != nil {
		return opError(qdrantBackend, "insert_many", name, err)
	}
	PointsInserted.WithLabelValues(qdrantBackend).Add(float64(len(records)))
	return nil
}

func toPoint(r Record) *qdrant.PointStruct {
	var id *qdrant.PointId
	if r.ID.IsUUID() {
		id = qdrant.NewIDUUID(r.ID.UUID())
	} else {
		id = qdrant.NewIDNum(r.ID.Num())
	}
	payload := map[string]*qdrant.Value{
		payloadText: qdrant.NewValueString(r.Text),
	}
	if len(r.Metadata) > 0 {
		fields := make(map[string]*qdrant.Value, len(r.Metadata))
		for k, v := range r.Metadata {
			if qv := toValue(v); qv != nil {
				fields[k] = qv
			}
		}
		payload[payloadMetadata] = &qdrant.Value{
			Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: fields}},
		}
	}
	return &qdrant.PointStruct{
		Id:      id,
		Vectors: qdrant.NewVectors(r.Vector...),
		Payload: payload,
	}
}

func toValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return qdrant.NewValueString(val)
	case int:
		return qdrant.NewValueInt(int64(val))
	case int64:
		return qdrant.NewValueInt(val)
	case uint64:
		return qdrant.NewValueInt(int64(val))
	case float32:
		return qdrant.NewValueDouble(float64(val))
	case float64:
		return qdrant.NewValueDouble(val)
	case bool:
		return qdrant.NewValueBool(val)
	case nil:
		return qdrant.NewValueNull()
	default:
		return qdrant.NewValueString(fmt.Sprint(val))
	}
}

func fromValue(v *qdrant.Value) any {
	switch val := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_StructValue:
		m := make(map[string]any, len(val.StructValue.GetFields()))
		for k, f := range val.StructValue.GetFields() {
			m[k] = fromValue(f)
		}
		return m
	case *qdrant.Value_ListValue:
		list := make([]any, 0, len(val.ListValue.GetValues()))
		for _, item := range val.ListValue.GetValues() {
			list = append(list, fromValue(item))
		}
		return list
	default:
		return nil
	}
}

// SearchByVector queries the collection with a dense vector.
func (s *QdrantStore) SearchByVector(ctx context.Context, name string, vector []float32, limit int) (docs []RetrievedDocument, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.SearchByVector", trace.WithAttributes(
		attribute.String("collection", name),
		attribute.Int("limit", limit),
	))
	defer func() { endSpan(span, err) }()

	if err := collections.Validate(name); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []RetrievedDocument{}, nil
	}

	var points []*qdrant.ScoredPoint
	err = s.call(ctx, "search", name, func(ctx context.Context, c qdrantAPI) error {
		res, qerr := c.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if qerr != nil {
			if isNotFound(qerr) {
				return ErrCollectionNotFound
			}
			return qerr
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	docs = make([]RetrievedDocument, 0, len(points))
	for _, p := range points {
		docs = append(docs, fromScoredPoint(p))
	}
	span.SetAttributes(attribute.Int("results_count", len(docs)))
	return docs, nil
}

func fromScoredPoint(p *qdrant.ScoredPoint) RetrievedDocument {
	doc := RetrievedDocument{Score: float64(p.GetScore())}
	payload := p.GetPayload()
	doc.Text = payload[payloadText].GetStringValue()
	if md, ok := fromValue(payload[payloadMetadata]).(map[string]any); ok {
		doc.Metadata = md
	}
	return doc
}
