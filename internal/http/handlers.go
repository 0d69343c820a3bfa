package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/jobs"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// UploadResponse is returned by POST /api/v1/data/upload/:project_id.
type UploadResponse struct {
	Signal Signal `json:"signal"`
	FileID string `json:"file_id"`
	Size   int64  `json:"size"`
}

func (s *Server) handleUpload(c echo.Context) error {
	projectID := c.Param("project_id")

	fh, err := c.FormFile("file")
	if err != nil {
		return failure(http.StatusBadRequest, SignalFileUploadFailed, fmt.Errorf("multipart field \"file\": %w", err))
	}
	f, err := fh.Open()
	if err != nil {
		return failure(http.StatusBadRequest, SignalFileUploadFailed, err)
	}
	defer f.Close()

	asset, err := s.deps.Ingest.Upload(c.Request().Context(), projectID, ingest.Upload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		return classify(err, SignalFileUploadFailed)
	}
	return c.JSON(http.StatusOK, UploadResponse{
		Signal: SignalFileUploadSuccess,
		FileID: asset.Name,
		Size:   asset.Size,
	})
}

// ProcessRequest is the body of POST /api/v1/data/process/:project_id.
// Omitted chunking parameters take the server defaults.
type ProcessRequest struct {
	FileID      string `json:"file_id"`
	ChunkSize   *int   `json:"chunk_size"`
	OverlapSize *int   `json:"overlap_size"`
	DoReset     flag   `json:"do_reset"`
}

// ProcessResponse is returned by a successful process request.
type ProcessResponse struct {
	Signal Signal `json:"signal"`
	*ingest.ProcessResult
}

func (s *Server) handleProcess(c echo.Context) error {
	var req ProcessRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	pr := ingest.ProcessRequest{
		ProjectID:    c.Param("project_id"),
		FileID:       strings.TrimSpace(req.FileID),
		ChunkSize:    s.config.ChunkSize,
		ChunkOverlap: s.config.ChunkOverlap,
		DoReset:      bool(req.DoReset),
	}
	if req.ChunkSize != nil {
		pr.ChunkSize = *req.ChunkSize
	}
	if req.OverlapSize != nil {
		pr.ChunkOverlap = *req.OverlapSize
	}
	if pr.ChunkSize <= 0 || pr.ChunkOverlap < 0 || pr.ChunkOverlap >= pr.ChunkSize {
		return failure(http.StatusBadRequest, SignalInvalidRequest,
			fmt.Errorf("chunk_size must be positive and overlap_size in [0, chunk_size), got %d/%d", pr.ChunkSize, pr.ChunkOverlap))
	}

	result, err := s.deps.Ingest.Process(c.Request().Context(), pr)
	if err != nil {
		return classify(err, SignalProcessingFailed)
	}
	return c.JSON(http.StatusOK, ProcessResponse{Signal: SignalProcessingSuccess, ProcessResult: result})
}

// PushRequest is the body of POST /api/v1/nlp/index/push/:project_id.
type PushRequest struct {
	DoReset flag `json:"do_reset"`
	Async   flag `json:"async"`
}

// PushResponse reports a synchronous index run, or the job accepted for an
// async one.
type PushResponse struct {
	Signal             Signal    `json:"signal"`
	InsertedItemsCount int       `json:"inserted_items_count"`
	JobID              string    `json:"job_id,omitempty"`
	Job                *jobs.Job `json:"job,omitempty"`
}

func (s *Server) handlePush(c echo.Context) error {
	var req PushRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	projectID := c.Param("project_id")

	if req.Async {
		if s.deps.Jobs == nil {
			return failure(http.StatusBadRequest, SignalJobsUnavailable, errors.New("async indexing is not enabled"))
		}
		job, err := s.deps.Jobs.SubmitIndex(ctx, projectID, bool(req.DoReset))
		if err != nil {
			return classify(err, SignalInsertError)
		}
		return c.JSON(http.StatusAccepted, PushResponse{Signal: SignalIndexJobAccepted, JobID: job.ID, Job: job})
	}

	result, err := s.deps.Pipeline.IndexProject(ctx, projectID, bool(req.DoReset))
	if err != nil {
		var ierr *rag.IndexingError
		if errors.As(err, &ierr) && ierr.Inserted > 0 {
			s.logger.Warn(ctx, "index push partially applied", zap.Int("inserted", ierr.Inserted))
		}
		return classify(err, SignalInsertError)
	}
	return c.JSON(http.StatusOK, PushResponse{Signal: SignalInsertSuccess, InsertedItemsCount: result.Inserted})
}

// InfoResponse is returned by GET /api/v1/nlp/index/info/:project_id.
type InfoResponse struct {
	Signal         Signal                      `json:"signal"`
	CollectionInfo *vectorstore.CollectionInfo `json:"collection_info"`
}

func (s *Server) handleInfo(c echo.Context) error {
	info, err := s.deps.Pipeline.CollectionInfo(c.Request().Context(), c.Param("project_id"))
	if err != nil {
		return classify(err, SignalCollectionInfoError)
	}
	return c.JSON(http.StatusOK, InfoResponse{Signal: SignalCollectionRetrieved, CollectionInfo: info})
}

// SearchRequest is the body of the search and answer endpoints. A zero limit
// means the server default.
type SearchRequest struct {
	Text  string `json:"text"`
	Limit int    `json:"limit"`
}

func (r SearchRequest) validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return failure(http.StatusBadRequest, SignalInvalidRequest, errors.New("text is required"))
	}
	if r.Limit < 0 {
		return failure(http.StatusBadRequest, SignalInvalidRequest, errors.New("limit must not be negative"))
	}
	return nil
}

// SearchResponse is returned by POST /api/v1/nlp/index/search/:project_id.
type SearchResponse struct {
	Signal  Signal                          `json:"signal"`
	Results []vectorstore.RetrievedDocument `json:"results"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	docs, err := s.deps.Pipeline.Search(c.Request().Context(), c.Param("project_id"), req.Text, req.Limit)
	if err != nil {
		return classify(err, SignalSearchError)
	}
	return c.JSON(http.StatusOK, SearchResponse{Signal: SignalSearchSuccess, Results: docs})
}

// AnswerResponse is returned by POST /api/v1/nlp/index/answer/:project_id.
type AnswerResponse struct {
	Signal Signal `json:"signal"`
	*rag.Answer
}

func (s *Server) handleAnswer(c echo.Context) error {
	var req SearchRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	answer, err := s.deps.Pipeline.Answer(c.Request().Context(), c.Param("project_id"), req.Text, req.Limit)
	if err != nil {
		return classify(err, SignalAnswerFailed)
	}
	if answer == nil {
		return failure(http.StatusNotFound, SignalAnswerFailed, errors.New(rag.NoContext))
	}
	return c.JSON(http.StatusOK, AnswerResponse{Signal: SignalAnswerSuccess, Answer: answer})
}

// JobResponse is returned by GET /api/v1/nlp/index/jobs/:job_id.
type JobResponse struct {
	Signal Signal    `json:"signal"`
	Job    *jobs.Job `json:"job"`
}

func (s *Server) handleJob(c echo.Context) error {
	if s.deps.Jobs == nil {
		return failure(http.StatusNotFound, SignalJobsUnavailable, errors.New("async indexing is not enabled"))
	}
	job, err := s.deps.Jobs.Get(c.Param("job_id"))
	if err != nil {
		return classify(err, SignalInternalError)
	}
	return c.JSON(http.StatusOK, JobResponse{Signal: SignalJobRetrieved, Job: job})
}

// bind decodes the request body. An empty body leaves v untouched, so
// endpoints whose fields all have defaults accept one.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return failure(http.StatusBadRequest, SignalInvalidRequest, err)
	}
	return nil
}
