package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/roach88/reprowatch/internal/event"
	"github.com/roach88/reprowatch/internal/relay"
)

// Publisher sends one payload and returns the resulting event id.
type Publisher interface {
	Publish(ctx context.Context, p event.Payload, keyRef string, relays []string) (string, error)
}

// Clock supplies event creation times.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// toEvent converts a payload to an unsigned nostr event.
func toEvent(p event.Payload, at time.Time) nostr.Event {
	tags := make(nostr.Tags, 0, len(p.Tags))
	for _, t := range p.TagStrings() {
		tags = append(tags, nostr.Tag(t))
	}
	return nostr.Event{
		Kind:      p.Kind,
		CreatedAt: nostr.Timestamp(at.Unix()),
		Tags:      tags,
		Content:   p.Content,
	}
}

// Sign builds and signs the event for p. The returned event carries its id,
// author and signature.
func Sign(p event.Payload, keyRef string, at time.Time) (nostr.Event, error) {
	sk, err := ParseSecretKey(keyRef)
	if err != nil {
		return nostr.Event{}, err
	}
	ev := toEvent(p, at)
	if err := ev.Sign(sk); err != nil {
		return nostr.Event{}, fmt.Errorf("sign %s: %w", p.Variant, err)
	}
	return ev, nil
}

// NostrPublisher signs payloads and sends them to relays from a Pool.
//
// A publish succeeds when at least one relay accepts the event, or every
// relay when RequireAll is set.
type NostrPublisher struct {
	pool       *relay.Pool
	clock      Clock
	requireAll bool
	logger     *zap.Logger
}

// Option configures a NostrPublisher.
type Option func(*NostrPublisher)

// WithClock overrides the creation-time source.
func WithClock(c Clock) Option {
	return func(p *NostrPublisher) { p.clock = c }
}

// RequireAll makes a publish fail unless every relay accepts.
func RequireAll(all bool) Option {
	return func(p *NostrPublisher) { p.requireAll = all }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *NostrPublisher) { p.logger = l }
}

// NewNostrPublisher creates a publisher over pool.
func NewNostrPublisher(pool *relay.Pool, opts ...Option) *NostrPublisher {
	p := &NostrPublisher{pool: pool, clock: systemClock{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *NostrPublisher) Publish(ctx context.Context, payload event.Payload, keyRef string, relays []string) (string, error) {
	if len(relays) == 0 {
		return "", &PublishError{Variant: payload.Variant, Err: ErrNoRelays}
	}
	ev, err := Sign(payload, keyRef, p.clock.Now())
	if err != nil {
		return "", &PublishError{Variant: payload.Variant, Err: err}
	}

	pe := &PublishError{Variant: payload.Variant, EventID: ev.ID, Rejected: map[string]string{}}
	for _, url := range relays {
		conn, err := p.pool.Get(ctx, url)
		if err == nil {
			err = conn.Publish(ctx, ev)
		}
		if err != nil {
			pe.Rejected[url] = err.Error()
			p.logger.Warn("relay rejected event",
				zap.String("relay", url),
				zap.String("variant", string(payload.Variant)),
				zap.String("event_id", ev.ID),
				zap.Error(err))
			continue
		}
		pe.Accepted = append(pe.Accepted, url)
	}

	if len(pe.Accepted) == 0 || (p.requireAll && len(pe.Rejected) > 0) {
		if err := ctx.Err(); err != nil {
			pe.Err = err
		}
		return "", pe
	}

	p.logger.Debug("event published",
		zap.String("variant", string(payload.Variant)),
		zap.String("event_id", ev.ID),
		zap.Int("accepted", len(pe.Accepted)),
		zap.Int("rejected", len(pe.Rejected)))
	return ev.ID, nil
}
