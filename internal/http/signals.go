package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/jobs"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/store"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Signal is the machine-readable outcome carried in every API response.
type Signal string

const (
	SignalFileUploadSuccess       Signal = "file_upload_success"
	SignalFileUploadFailed        Signal = "file_upload_failed"
	SignalFileTypeNotSupported    Signal = "file_type_is_not_supported"
	SignalFileSizeExceeded        Signal = "file_size_exceeded"
	SignalProcessingSuccess       Signal = "processing_success"
	SignalProcessingFailed        Signal = "processing_failed"
	SignalFileNotFound            Signal = "file_not_found_in_project"
	SignalNoFiles                 Signal = "no_files_in_project"
	SignalInvalidProject          Signal = "project_id_invalid_error"
	SignalInvalidRequest          Signal = "invalid_request_error"
	SignalInsertSuccess           Signal = "insert_into_vectordb_success"
	SignalInsertError             Signal = "insert_into_vectordb_error"
	SignalIndexInProgress         Signal = "index_in_progress_error"
	SignalIndexJobAccepted        Signal = "index_job_accepted"
	SignalCollectionRetrieved     Signal = "vectordb_collection_retrieved"
	SignalCollectionNotFound      Signal = "vectordb_collection_not_found_error"
	SignalCollectionInfoError     Signal = "vectordb_collection_info_error"
	SignalSearchSuccess           Signal = "vectordb_search_success"
	SignalSearchError             Signal = "vectordb_search_error"
	SignalAnswerSuccess           Signal = "rag_answer_success"
	SignalAnswerFailed            Signal = "rag_answer_failed"
	SignalJobRetrieved            Signal = "index_job_retrieved"
	SignalJobNotFound             Signal = "index_job_not_found_error"
	SignalJobsUnavailable         Signal = "index_jobs_unavailable_error"
	SignalInternalError           Signal = "internal_error"
	SignalServiceUnavailableError Signal = "service_unavailable_error"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Signal Signal `json:"signal"`
	Error  string `json:"error,omitempty"`
}

// apiError pairs a status and signal with the cause that produced them.
type apiError struct {
	status int
	signal Signal
	err    error
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %v", e.signal, e.err)
}

func (e *apiError) Unwrap() error { return e.err }

func failure(status int, signal Signal, err error) *apiError {
	return &apiError{status: status, signal: signal, err: err}
}

// classify maps a domain error to a status code and signal. fallback is used
// for errors no rule recognises.
func classify(err error, fallback Signal) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}

	switch {
	case errors.Is(err, store.ErrInvalidProjectID), errors.Is(err, rag.ErrInvalidProject):
		return failure(http.StatusBadRequest, SignalInvalidProject, err)
	case errors.Is(err, ingest.ErrUnsupportedType):
		return failure(http.StatusBadRequest, SignalFileTypeNotSupported, err)
	case errors.Is(err, ingest.ErrFileTooLarge):
		return failure(http.StatusBadRequest, SignalFileSizeExceeded, err)
	case errors.Is(err, ingest.ErrInvalidFileName):
		return failure(http.StatusBadRequest, SignalFileUploadFailed, err)
	case errors.Is(err, ingest.ErrNoFiles):
		return failure(http.StatusBadRequest, SignalNoFiles, err)
	case errors.Is(err, ingest.ErrFileNotFound):
		return failure(http.StatusNotFound, SignalFileNotFound, err)
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return failure(http.StatusNotFound, SignalCollectionNotFound, err)
	case errors.Is(err, jobs.ErrJobNotFound):
		return failure(http.StatusNotFound, SignalJobNotFound, err)
	case errors.Is(err, rag.ErrIndexInProgress):
		return failure(http.StatusConflict, SignalIndexInProgress, err)
	case errors.Is(err, jobs.ErrClosed):
		return failure(http.StatusServiceUnavailable, SignalServiceUnavailableError, err)
	case errors.Is(err, llm.ErrEmptyInput):
		return failure(http.StatusBadRequest, SignalInvalidRequest, err)
	}
	return failure(http.StatusInternalServerError, fallback, err)
}

// flag decodes a JSON boolean, or a number where non-zero means true.
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flag(b)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected boolean or number, got %s", data)
	}
	*f = n != 0
	return nil
}
