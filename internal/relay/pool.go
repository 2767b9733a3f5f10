package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
)

// Pool caches one connection per normalized relay URL.
//
// Thread-safety: all methods are safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	dial   Dialer
	conns  map[string]Conn
	logger *zap.Logger
}

// NewPool creates a pool. A nil dialer uses DialNostr; a nil logger is a no-op.
func NewPool(dial Dialer, logger *zap.Logger) *Pool {
	if dial == nil {
		dial = DialNostr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{dial: dial, conns: map[string]Conn{}, logger: logger}
}

// Get returns the cached connection for url, dialing it on first use.
// Failed dials are not cached.
func (p *Pool) Get(ctx context.Context, url string) (Conn, error) {
	key := nostr.NormalizeURL(url)
	if key == "" {
		return nil, fmt.Errorf("invalid relay url %q", url)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[key]; ok {
		return c, nil
	}
	c, err := p.dial(ctx, key)
	if err != nil {
		return nil, err
	}
	p.conns[key] = c
	p.logger.Debug("relay connected", zap.String("relay", key))
	return c, nil
}

// Query runs filter against every relay and merges the results, dropping
// duplicate ids. It fails only when no relay could be queried.
func (p *Pool) Query(ctx context.Context, urls []string, filter nostr.Filter) ([]*nostr.Event, error) {
	seen := map[string]bool{}
	var (
		out  []*nostr.Event
		errs []error
		ok   int
	)
	for _, url := range urls {
		c, err := p.Get(ctx, url)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events, err := c.QuerySync(ctx, filter)
		if err != nil {
			errs = append(errs, fmt.Errorf("query %s: %w", url, err))
			continue
		}
		ok++
		for _, ev := range events {
			if ev == nil || seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			out = append(out, ev)
		}
	}
	if ok == 0 && len(urls) > 0 {
		return nil, fmt.Errorf("no relay answered: %w", errors.Join(errs...))
	}
	for _, err := range errs {
		p.logger.Warn("relay query failed", zap.Error(err))
	}

	// Newest first, id as tie-break, so callers see a stable order.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close closes every cached connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for key, c := range p.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
		delete(p.conns, key)
	}
	return errors.Join(errs...)
}

// ProbeResult is the outcome of one connectivity check.
type ProbeResult struct {
	URL     string        `json:"url"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ns"`
	Error   string        `json:"error,omitempty"`
}

// Probe dials each relay with its own timeout and reports which are reachable.
// Successful connections stay cached for later use.
func (p *Pool) Probe(ctx context.Context, urls []string, timeout time.Duration) []ProbeResult {
	results := make([]ProbeResult, 0, len(urls))
	for _, url := range urls {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		_, err := p.Get(pctx, url)
		cancel()

		r := ProbeResult{URL: url, Latency: time.Since(start)}
		if err != nil {
			r.Error = err.Error()
		} else {
			r.OK = true
		}
		results = append(results, r)
	}
	return results
}
