package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
)

var (
	// ErrGenerationFailed is returned when a provider yields no text.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrEmbeddingFailed is returned when vectors could not be produced.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrModelNotSet is returned when a call is made before a model id is set.
	ErrModelNotSet = errors.New("model not set")

	// ErrEmptyInput is returned for empty embedding input.
	ErrEmptyInput = errors.New("empty input")

	// ErrDimensionMismatch is returned when a vector's length differs from
	// the configured embedding dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// EmbeddingError describes a failed embedding sub-batch.
type EmbeddingError struct {
	Provider string
	Offset   int
	Size     int
	Attempts int
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("%s: embedding batch at offset %d (size %d) failed after %d attempt(s): %v",
		e.Provider, e.Offset, e.Size, e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrEmbeddingFailed) match any EmbeddingError.
func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbeddingFailed }

// GenerationError describes a failed generation call.
type GenerationError struct {
	Provider string
	Model    string
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s): empty response", e.Provider, e.Model)
	}
	return fmt.Sprintf("%s (%s): %v", e.Provider, e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailed }

// StatusError is a non-2xx vendor HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Body)
}

// vendorStatus finds the HTTP status in langchaingo's untyped client
// errors ("API returned unexpected status code: 429: ...").
var vendorStatus = regexp.MustCompile(`status code: (\d{3})`)

// statusCode extracts the vendor HTTP status from err, or 0.
func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	if m := vendorStatus.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code
	}
	return 0
}

// IsTransient reports whether err is worth retrying: rate limits, server
// errors and network failures. Anything else, including unrecognised
// errors, is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code := statusCode(err); code != 0 {
		return code == http.StatusTooManyRequests || code >= 500
	}
	var ne net.Error
	return errors.As(err, &ne)
}
