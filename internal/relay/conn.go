package relay

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Conn is one open relay connection.
type Conn interface {
	URL() string
	Publish(ctx context.Context, ev nostr.Event) error
	QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	Close() error
}

// Dialer opens a connection to a relay URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DialNostr connects over websocket using go-nostr.
func DialNostr(ctx context.Context, url string) (Conn, error) {
	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return &nostrConn{relay: r}, nil
}

type nostrConn struct {
	relay *nostr.Relay
}

func (c *nostrConn) URL() string { return c.relay.URL }

func (c *nostrConn) Publish(ctx context.Context, ev nostr.Event) error {
	return c.relay.Publish(ctx, ev)
}

func (c *nostrConn) QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	return c.relay.QuerySync(ctx, filter)
}

func (c *nostrConn) Close() error {
	return c.relay.Close()
}
