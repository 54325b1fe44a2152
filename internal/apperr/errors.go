// Package apperr defines the error taxonomy shared by the sync pipeline.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrRequestFailed  = errors.New("request failed")
	ErrProtocol       = errors.New("protocol error")
	ErrExtraction     = errors.New("extraction error")
	ErrSetup          = errors.New("setup failed")
	ErrUnexpectedPing = errors.New("unexpected ping response")
	ErrRunInProgress  = errors.New("run in progress")
)

// RequestFailure is returned once a request has exhausted its attempts on
// retryable network errors.
type RequestFailure struct {
	Attempts int
	Last     error
}

func (e *RequestFailure) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RequestFailure) Unwrap() []error { return []error{ErrRequestFailed, e.Last} }

// ProtocolError is a well-formed error reported by a remote API: a non-2xx
// status or an error payload in the response envelope. It is never retried.
type ProtocolError struct {
	Op      string
	Status  int
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// Extraction wraps a per-block or per-note parse problem.
func Extraction(noteID, format string, args ...any) error {
	return fmt.Errorf("%w: note %s: %s", ErrExtraction, noteID, fmt.Sprintf(format, args...))
}
