package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/reprowatch/internal/event"
)

// EventID returns the deterministic id RecordingPublisher assigns to the
// n-th successful publish.
func EventID(n int) string {
	return fmt.Sprintf("%064x", n)
}

// PublishCall is one successful publish seen by RecordingPublisher.
type PublishCall struct {
	Attempt int
	Payload event.Payload
	KeyRef  string
	Relays  []string
	ID      string
}

// RecordingPublisher records payloads instead of sending them.
//
// Attempts are numbered from 1 across all calls. FailOn, when set, is asked
// before each attempt; a non-nil error fails that attempt and nothing is
// recorded. Successful attempts get ids EventID(1), EventID(2), ... in order
// of success.
type RecordingPublisher struct {
	mu       sync.Mutex
	attempts int
	calls    []PublishCall
	FailOn   func(attempt int, p event.Payload) error
}

func (r *RecordingPublisher) Publish(ctx context.Context, p event.Payload, keyRef string, relays []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.FailOn != nil {
		if err := r.FailOn(r.attempts, p); err != nil {
			return "", err
		}
	}

	id := EventID(len(r.calls) + 1)
	r.calls = append(r.calls, PublishCall{
		Attempt: r.attempts,
		Payload: p,
		KeyRef:  keyRef,
		Relays:  append([]string(nil), relays...),
		ID:      id,
	})
	return id, nil
}

// Calls returns successful publishes in order.
func (r *RecordingPublisher) Calls() []PublishCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PublishCall(nil), r.calls...)
}

// Attempts returns the number of Publish calls, failed ones included.
func (r *RecordingPublisher) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Variant returns successful publishes of one payload variant.
func (r *RecordingPublisher) Variant(v event.Variant) []PublishCall {
	var out []PublishCall
	for _, c := range r.Calls() {
		if c.Payload.Variant == v {
			out = append(out, c)
		}
	}
	return out
}
