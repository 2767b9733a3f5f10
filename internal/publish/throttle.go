package publish

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/roach88/reprowatch/internal/event"
)

type throttled struct {
	next    Publisher
	limiter *rate.Limiter
}

// Throttled spaces calls to next according to limiter. A nil limiter
// returns next unchanged.
func Throttled(next Publisher, limiter *rate.Limiter) Publisher {
	if limiter == nil {
		return next
	}
	return &throttled{next: next, limiter: limiter}
}

func (t *throttled) Publish(ctx context.Context, p event.Payload, keyRef string, relays []string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", &PublishError{Variant: p.Variant, Err: fmt.Errorf("throttle: %w", err)}
	}
	return t.next.Publish(ctx, p, keyRef, relays)
}
