package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/jobs"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

var errInvalidArgument = errors.New("invalid argument")

// SearchInput is the input schema for rag_search and rag_answer.
type SearchInput struct {
	ProjectID string `json:"project_id" jsonschema:"Project whose documents are searched"`
	Text      string `json:"text" jsonschema:"Natural language query"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum number of documents to retrieve (default: server search limit)"`
}

func (in SearchInput) validate() error {
	if strings.TrimSpace(in.ProjectID) == "" {
		return fmt.Errorf("%w: project_id is required", errInvalidArgument)
	}
	if strings.TrimSpace(in.Text) == "" {
		return fmt.Errorf("%w: text is required", errInvalidArgument)
	}
	if in.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", errInvalidArgument)
	}
	return nil
}

// SearchOutput is the output schema for rag_search.
type SearchOutput struct {
	Results []vectorstore.RetrievedDocument `json:"results" jsonschema:"Retrieved documents, best match first"`
	Count   int                             `json:"count" jsonschema:"Number of documents returned"`
}

// AnswerOutput is the output schema for rag_answer.
type AnswerOutput struct {
	Answer     string `json:"answer" jsonschema:"Generated answer, empty when nothing relevant was found"`
	Found      bool   `json:"found" jsonschema:"Whether any document was retrieved"`
	FullPrompt string `json:"full_prompt,omitempty" jsonschema:"Prompt sent to the generation model"`
}

// IndexInput is the input schema for rag_index.
type IndexInput struct {
	ProjectID string `json:"project_id" jsonschema:"Project to index"`
	DoReset   bool   `json:"do_reset,omitempty" jsonschema:"Drop and recreate the collection first"`
	Async     bool   `json:"async,omitempty" jsonschema:"Run in the background and return a job id"`
}

// IndexOutput is the output schema for rag_index.
type IndexOutput struct {
	InsertedItemsCount int    `json:"inserted_items_count" jsonschema:"Points written by a synchronous run"`
	JobID              string `json:"job_id,omitempty" jsonschema:"Job id of an async run"`
}

// ProjectInput names a project.
type ProjectInput struct {
	ProjectID string `json:"project_id" jsonschema:"Project identifier"`
}

// InfoOutput is the output schema for rag_index_info.
type InfoOutput struct {
	CollectionInfo *vectorstore.CollectionInfo `json:"collection_info"`
}

// JobInput is the input schema for rag_job_status.
type JobInput struct {
	JobID string `json:"job_id" jsonschema:"Job id returned by rag_index"`
}

// JobOutput is the output schema for rag_job_status.
type JobOutput struct {
	JobID              string `json:"job_id"`
	ProjectID          string `json:"project_id"`
	Status             string `json:"status" jsonschema:"pending, running, completed or failed"`
	InsertedItemsCount int    `json:"inserted_items_count" jsonschema:"Points written so far, set once the job finishes"`
	Error              string `json:"error,omitempty"`
	UpdatedAt          string `json:"updated_at" jsonschema:"RFC 3339 timestamp of the last state change"`
}

func jobOutput(j *jobs.Job) JobOutput {
	out := JobOutput{
		JobID:     j.ID,
		ProjectID: j.ProjectID,
		Status:    string(j.Status),
		Error:     j.Error,
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
	if j.Result != nil {
		out.InsertedItemsCount = j.Result.Inserted
	}
	return out
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_search",
		Description: "Search a project's indexed documents by semantic similarity",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_answer",
		Description: "Answer a question using only the project's indexed documents",
	}, s.handleAnswer)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_index",
		Description: "Embed a project's stored chunks into its vector collection",
	}, s.handleIndex)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_index_info",
		Description: "Describe a project's vector collection",
	}, s.handleIndexInfo)

	if s.jobs != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "rag_job_status",
			Description: "Report the state of a background index job",
		}, s.handleJobStatus)
	}
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (_ *mcp.CallToolResult, _ SearchOutput, err error) {
	done := s.metrics.track(ctx, "rag_search")
	defer func() { done(err) }()
	if err := in.validate(); err != nil {
		return nil, SearchOutput{}, err
	}

	docs, err := s.pipeline.Search(ctx, in.ProjectID, in.Text, in.Limit)
	if err != nil {
		return nil, SearchOutput{}, fmt.Errorf("search failed: %w", err)
	}
	for i := range docs {
		docs[i].Text = s.scrub(docs[i].Text)
	}
	return nil, SearchOutput{Results: docs, Count: len(docs)}, nil
}

func (s *Server) handleAnswer(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (_ *mcp.CallToolResult, _ AnswerOutput, err error) {
	done := s.metrics.track(ctx, "rag_answer")
	defer func() { done(err) }()
	if err := in.validate(); err != nil {
		return nil, AnswerOutput{}, err
	}

	answer, err := s.pipeline.Answer(ctx, in.ProjectID, in.Text, in.Limit)
	if err != nil {
		return nil, AnswerOutput{}, fmt.Errorf("answer failed: %w", err)
	}
	if answer == nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: rag.NoContext}},
		}, AnswerOutput{}, nil
	}

	out := AnswerOutput{
		Answer:     s.scrub(answer.Text),
		Found:      true,
		FullPrompt: s.scrub(answer.FullPrompt),
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: out.Answer}},
	}, out, nil
}

func (s *Server) handleIndex(ctx context.Context, _ *mcp.CallToolRequest, in IndexInput) (_ *mcp.CallToolResult, _ IndexOutput, err error) {
	done := s.metrics.track(ctx, "rag_index")
	defer func() { done(err) }()
	if strings.TrimSpace(in.ProjectID) == "" {
		return nil, IndexOutput{}, fmt.Errorf("%w: project_id is required", errInvalidArgument)
	}

	if in.Async {
		if s.jobs == nil {
			return nil, IndexOutput{}, fmt.Errorf("%w: async indexing is not enabled", errInvalidArgument)
		}
		job, err := s.jobs.SubmitIndex(ctx, in.ProjectID, in.DoReset)
		if err != nil {
			return nil, IndexOutput{}, fmt.Errorf("submit index job: %w", err)
		}
		s.logger.Info("index job submitted", zap.String("project_id", in.ProjectID), zap.String("job_id", job.ID))
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Index job %s started", job.ID)}},
		}, IndexOutput{JobID: job.ID}, nil
	}

	result, err := s.pipeline.IndexProject(ctx, in.ProjectID, in.DoReset)
	if err != nil {
		return nil, IndexOutput{}, fmt.Errorf("index failed: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Indexed %d items", result.Inserted)}},
	}, IndexOutput{InsertedItemsCount: result.Inserted}, nil
}

func (s *Server) handleIndexInfo(ctx context.Context, _ *mcp.CallToolRequest, in ProjectInput) (_ *mcp.CallToolResult, _ InfoOutput, err error) {
	done := s.metrics.track(ctx, "rag_index_info")
	defer func() { done(err) }()
	if strings.TrimSpace(in.ProjectID) == "" {
		return nil, InfoOutput{}, fmt.Errorf("%w: project_id is required", errInvalidArgument)
	}

	info, err := s.pipeline.CollectionInfo(ctx, in.ProjectID)
	if err != nil {
		return nil, InfoOutput{}, err
	}
	return nil, InfoOutput{CollectionInfo: info}, nil
}

func (s *Server) handleJobStatus(ctx context.Context, _ *mcp.CallToolRequest, in JobInput) (_ *mcp.CallToolResult, _ JobOutput, err error) {
	done := s.metrics.track(ctx, "rag_job_status")
	defer func() { done(err) }()
	job, err := s.jobs.Get(in.JobID)
	if err != nil {
		return nil, JobOutput{}, err
	}
	return nil, jobOutput(job), nil
}
