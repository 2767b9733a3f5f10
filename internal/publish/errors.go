package publish

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/reprowatch/internal/event"
)

var (
	// ErrNoRelays is returned when a publish is requested with no targets.
	ErrNoRelays = errors.New("no relays configured")

	// ErrInvalidKey is returned for signing keys that are neither nsec nor hex.
	ErrInvalidKey = errors.New("invalid signing key")
)

// PublishError reports an event that did not reach enough relays.
type PublishError struct {
	Variant  event.Variant
	EventID  string
	Accepted []string
	Rejected map[string]string
	Err      error
}

func (e *PublishError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "publish %s", e.Variant)
	if e.EventID != "" {
		fmt.Fprintf(&b, " %s", e.EventID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
		return b.String()
	}
	fmt.Fprintf(&b, ": %d of %d relays accepted", len(e.Accepted), len(e.Accepted)+len(e.Rejected))
	return b.String()
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// IsPublishError reports whether err is or wraps a *PublishError.
func IsPublishError(err error) bool {
	var pe *PublishError
	return errors.As(err, &pe)
}
