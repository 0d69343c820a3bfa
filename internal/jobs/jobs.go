// Package jobs runs project indexing off the request path.
//
// A Registry tracks index jobs in memory and publishes every state change as
// a JSON event. With a NATS connection events go to subjects
//
//	<prefix>.<project_id>.<job_id>.<event>
//
// where event is one of created, started, completed or failed and prefix
// defaults to "ragd.jobs". Without a publisher jobs still run and can be
// polled through Get.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/store"
)

// DefaultSubjectPrefix is used when Config.SubjectPrefix is empty.
const DefaultSubjectPrefix = "ragd.jobs"

// Status is a job lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Event names used in subjects.
const (
	EventCreated   = "created"
	EventStarted   = "started"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

var (
	// ErrJobNotFound is returned for unknown or expired job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("job registry closed")
)

// Job is a snapshot of one index run.
type Job struct {
	ID         string           `json:"job_id"`
	ProjectID  string           `json:"project_id"`
	DoReset    bool             `json:"do_reset"`
	Status     Status           `json:"status"`
	Result     *rag.IndexResult `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	TraceID    string           `json:"trace_id,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// Indexer is the indexing capability jobs run.
type Indexer interface {
	IndexProject(ctx context.Context, projectID string, doReset bool) (*rag.IndexResult, error)
}

// indexGuard is implemented by indexers that track in-flight runs, such as
// *rag.Service. SubmitIndex consults it so a synchronous run already holding
// the project rejects the job up front.
type indexGuard interface {
	Indexing(projectID string) bool
}

// Publisher sends event payloads. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config tunes a Registry.
type Config struct {
	// SubjectPrefix prefixes event subjects (default: ragd.jobs).
	SubjectPrefix string

	// Retention is how long finished jobs stay queryable (default: 1h).
	Retention time.Duration
}

// Registry submits and tracks index jobs.
type Registry struct {
	indexer   Indexer
	publisher Publisher
	prefix    string
	retention time.Duration
	logger    *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*Job
	active map[string]string // project id -> running job id
	closed bool
}

// NewRegistry returns a Registry running jobs through indexer. publisher may
// be nil.
func NewRegistry(indexer Indexer, publisher Publisher, cfg Config, logger *logging.Logger) *Registry {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		indexer:   indexer,
		publisher: publisher,
		prefix:    cfg.SubjectPrefix,
		retention: cfg.Retention,
		logger:    logger.Named("jobs"),
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*Job),
		active:    make(map[string]string),
	}
}

// Subject returns the event subject for a job event.
func (r *Registry) Subject(projectID, jobID, event string) string {
	return fmt.Sprintf("%s.%s.%s.%s", r.prefix, projectID, jobID, event)
}

// SubmitIndex queues an index run and returns its pending snapshot. A project
// with a job still pending or running, or with an index run already held by
// the indexer, is rejected with rag.ErrIndexInProgress.
func (r *Registry) SubmitIndex(ctx context.Context, projectID string, doReset bool) (*Job, error) {
	projectID = strings.TrimSpace(projectID)
	if err := store.ValidateProjectID(projectID); err != nil {
		return nil, fmt.Errorf("%w: %v", rag.ErrInvalidProject, err)
	}
	now := time.Now()
	job := &Job{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		DoReset:   doReset,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		job.TraceID = sc.TraceID().String()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if running, busy := r.active[projectID]; busy {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (job %s)", rag.ErrIndexInProgress, projectID, running)
	}
	if g, ok := r.indexer.(indexGuard); ok && g.Indexing(projectID) {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", rag.ErrIndexInProgress, projectID)
	}
	r.jobs[job.ID] = job
	r.active[projectID] = job.ID
	snapshot := *job
	r.wg.Add(1)
	r.mu.Unlock()

	r.publish(EventCreated, &snapshot)

	// The job outlives the submitting request but not the registry.
	runCtx := logging.WithProjectID(r.ctx, projectID)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		runCtx = trace.ContextWithRemoteSpanContext(runCtx, sc)
	}
	go r.run(runCtx, job.ID)

	return &snapshot, nil
}

func (r *Registry) run(ctx context.Context, jobID string) {
	defer r.wg.Done()

	started := r.update(jobID, func(j *Job) { j.Status = StatusRunning })
	r.publish(EventStarted, started)
	r.logger.Info(ctx, "index job started", zap.String("job_id", jobID))

	result, err := r.indexer.IndexProject(ctx, started.ProjectID, started.DoReset)

	finished := r.update(jobID, func(j *Job) {
		now := time.Now()
		j.FinishedAt = &now
		if err != nil {
			j.Status = StatusFailed
			j.Error = err.Error()
			var ierr *rag.IndexingError
			if errors.As(err, &ierr) && ierr.Inserted > 0 {
				j.Result = &rag.IndexResult{Inserted: ierr.Inserted, Pages: max(ierr.Page-1, 0)}
			}
			return
		}
		j.Status = StatusCompleted
		j.Result = result
	})

	r.mu.Lock()
	delete(r.active, started.ProjectID)
	r.mu.Unlock()

	if err != nil {
		r.logger.Error(ctx, "index job failed", zap.String("job_id", jobID), zap.Error(err))
		r.publish(EventFailed, finished)
	} else {
		r.logger.Info(ctx, "index job completed",
			zap.String("job_id", jobID), zap.Int("inserted", result.Inserted))
		r.publish(EventCompleted, finished)
	}

	time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		delete(r.jobs, jobID)
		r.mu.Unlock()
	})
}

// update applies fn to the stored job and returns a snapshot.
func (r *Registry) update(jobID string, fn func(*Job)) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[jobID]
	fn(job)
	job.UpdatedAt = time.Now()
	snapshot := *job
	return &snapshot
}

// Get returns a snapshot of a job.
func (r *Registry) Get(jobID string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	snapshot := *job
	return &snapshot, nil
}

// Close stops accepting jobs, cancels running ones and waits for them to
// finish or for ctx to expire.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
}

func (r *Registry) publish(event string, job *Job) {
	if r.publisher == nil {
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		r.logger.Warn(r.ctx, "marshal job event failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	subject := r.Subject(job.ProjectID, job.ID, event)
	if err := r.publisher.Publish(subject, data); err != nil {
		r.logger.Warn(r.ctx, "publish job event failed", zap.String("subject", subject), zap.Error(err))
	}
}

// Connect dials NATS with reconnect handling suited to a long-running daemon.
func Connect(url string, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("ragd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return nc, nil
}
