package rag

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexInProgress is returned when a project is already being indexed.
	ErrIndexInProgress = errors.New("indexing already in progress")

	// ErrInvalidProject is returned for an empty or malformed project id.
	ErrInvalidProject = errors.New("invalid project id")

	// ErrInvalidConfig is returned by New for unusable pipeline settings.
	ErrInvalidConfig = errors.New("invalid pipeline configuration")
)

// IndexingError reports a failed IndexProject run.
//
// Pages committed before the failing page stay in the vector store; Inserted
// counts exactly those points.
type IndexingError struct {
	ProjectID string
	Page      int // 0 when collection preparation failed
	Inserted  int
	Err       error
}

func (e *IndexingError) Error() string {
	if e.Page == 0 {
		return fmt.Sprintf("indexing project %s: %v", e.ProjectID, e.Err)
	}
	return fmt.Sprintf("indexing project %s: page %d (%d inserted before failure): %v",
		e.ProjectID, e.Page, e.Inserted, e.Err)
}

func (e *IndexingError) Unwrap() error { return e.Err }
