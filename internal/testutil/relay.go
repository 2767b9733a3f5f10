package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/roach88/reprowatch/internal/relay"
)

// FakeRelay is an in-memory relay.Conn.
//
// Published events are stored and become visible to QuerySync. Setting
// PublishErr makes every publish fail without storing.
type FakeRelay struct {
	mu         sync.Mutex
	url        string
	stored     []*nostr.Event
	published  []nostr.Event
	closed     bool
	PublishErr error
	QueryErr   error
}

// NewFakeRelay creates a relay preloaded with events.
func NewFakeRelay(url string, stored ...*nostr.Event) *FakeRelay {
	return &FakeRelay{url: url, stored: stored}
}

func (r *FakeRelay) URL() string { return r.url }

func (r *FakeRelay) Publish(ctx context.Context, ev nostr.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PublishErr != nil {
		return r.PublishErr
	}
	r.published = append(r.published, ev)
	stored := ev
	r.stored = append(r.stored, &stored)
	return nil
}

func (r *FakeRelay) QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.QueryErr != nil {
		return nil, r.QueryErr
	}
	var out []*nostr.Event
	for _, ev := range r.stored {
		if filter.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *FakeRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Published returns a copy of the events accepted by Publish.
func (r *FakeRelay) Published() []nostr.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]nostr.Event(nil), r.published...)
}

// Closed reports whether Close was called.
func (r *FakeRelay) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// FakeNetwork routes dials to fake relays by URL. Unknown URLs fail to dial.
type FakeNetwork struct {
	mu     sync.Mutex
	relays map[string]*FakeRelay
	dials  map[string]int
}

// NewFakeNetwork registers relays under their URLs.
func NewFakeNetwork(relays ...*FakeRelay) *FakeNetwork {
	n := &FakeNetwork{relays: map[string]*FakeRelay{}, dials: map[string]int{}}
	for _, r := range relays {
		n.relays[nostr.NormalizeURL(r.url)] = r
	}
	return n
}

// Dial implements relay.Dialer.
func (n *FakeNetwork) Dial(ctx context.Context, url string) (relay.Conn, error) {
	key := nostr.NormalizeURL(url)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.dials[key]++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, ok := n.relays[key]
	if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", url)
	}
	return r, nil
}

// Dials returns how often url was dialed.
func (n *FakeNetwork) Dials(url string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials[nostr.NormalizeURL(url)]
}
