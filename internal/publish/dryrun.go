package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/roach88/reprowatch/internal/event"
)

// DryRunPublisher writes each event it would publish to Out as one JSON line
// and returns the id the event would have. Nothing is signed or sent.
//
// The author is derived from keyRef when it parses; otherwise it is empty and
// the preview id is computed without one.
type DryRunPublisher struct {
	mu    sync.Mutex
	Out   io.Writer
	Clock Clock
}

type dryRunRecord struct {
	Variant event.Variant `json:"variant"`
	Relays  []string      `json:"relays"`
	Event   nostr.Event   `json:"event"`
}

func (d *DryRunPublisher) Publish(ctx context.Context, p event.Payload, keyRef string, relays []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clock := d.Clock
	if clock == nil {
		clock = systemClock{}
	}

	ev := toEvent(p, clock.Now())
	if pk, err := PublicKey(keyRef); err == nil {
		ev.PubKey = pk
	}
	ev.ID = ev.GetID()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Out != nil {
		if relays == nil {
			relays = []string{}
		}
		if err := json.NewEncoder(d.Out).Encode(dryRunRecord{Variant: p.Variant, Relays: relays, Event: ev}); err != nil {
			return "", fmt.Errorf("write dry-run event: %w", err)
		}
	}
	return ev.ID, nil
}
