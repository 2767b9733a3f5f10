package rbtlog

import (
	"errors"
	"fmt"
)

// ParseError reports a log whose top-level structure is unreadable.
type ParseError struct {
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse log: %s: %v", e.Message, e.Err)
	}
	return "parse log: " + e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// FetchError reports a failure to retrieve a log from its source.
type FetchError struct {
	AppID      string
	URL        string
	StatusCode int // 0 when the request never produced a response
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch log for %s: %s returned HTTP %d", e.AppID, e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch log for %s: %v", e.AppID, e.Err)
	default:
		return fmt.Sprintf("fetch log for %s: %s", e.AppID, e.URL)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsFetchError reports whether err wraps a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
