package engine

import (
	"errors"
	"fmt"
)

// FailureCode categorizes why an application's run failed.
type FailureCode string

const (
	// ErrCodeFetchFailed indicates the log could not be retrieved.
	ErrCodeFetchFailed FailureCode = "FETCH_FAILED"

	// ErrCodeParseFailed indicates the log could not be decoded.
	ErrCodeParseFailed FailureCode = "PARSE_FAILED"

	// ErrCodeResolveFailed indicates the release lookup failed.
	ErrCodeResolveFailed FailureCode = "RESOLVE_FAILED"

	// ErrCodePublishFailed indicates an assertion or attestation was not
	// accepted.
	ErrCodePublishFailed FailureCode = "PUBLISH_FAILED"

	// ErrCodeStateFailed indicates state could not be loaded, recorded or
	// persisted.
	ErrCodeStateFailed FailureCode = "STATE_FAILED"
)

// PipelineError is a failure of one application's pipeline, or of the run
// itself when AppID is empty.
type PipelineError struct {
	Code    FailureCode
	AppID   string
	Version string
	Phase   Phase
	Err     error
}

func (e *PipelineError) Error() string {
	switch {
	case e.AppID != "" && e.Version != "":
		return fmt.Sprintf("%s: %s %s (phase=%s): %v", e.Code, e.AppID, e.Version, e.Phase, e.Err)
	case e.AppID != "":
		return fmt.Sprintf("%s: %s (phase=%s): %v", e.Code, e.AppID, e.Phase, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// FailureCodeOf returns the code of the first PipelineError in err's chain,
// or "" if there is none.
func FailureCodeOf(err error) FailureCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsPublishFailure reports whether err is a publish failure.
func IsPublishFailure(err error) bool {
	return FailureCodeOf(err) == ErrCodePublishFailed
}

// IsStateFailure reports whether err is a state failure.
func IsStateFailure(err error) bool {
	return FailureCodeOf(err) == ErrCodeStateFailed
}
