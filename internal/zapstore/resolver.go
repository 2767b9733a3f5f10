package zapstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/roach88/reprowatch/internal/model"
)

const (
	KindAppDefinition = 32267
	KindRelease       = 30063
)

var (
	ErrAppNotFound     = errors.New("app definition not found")
	ErrAmbiguousApp    = errors.New("multiple app definitions found")
	ErrReleaseNotFound = errors.New("release not found")
)

// Querier runs a filter against a set of relays. *relay.Pool implements it.
type Querier interface {
	Query(ctx context.Context, urls []string, filter nostr.Filter) ([]*nostr.Event, error)
}

// Resolver caches app definitions and release lists per app for one run.
//
// Thread-safety: all methods are safe for concurrent use.
type Resolver struct {
	q      Querier
	relays []string
	logger *zap.Logger

	mu       sync.Mutex
	defs     map[string]*nostr.Event
	releases map[string][]*nostr.Event
}

// NewResolver creates a resolver querying relays through q.
func NewResolver(q Querier, relays []string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		q:        q,
		relays:   relays,
		logger:   logger,
		defs:     map[string]*nostr.Event{},
		releases: map[string][]*nostr.Event{},
	}
}

// AppDefinition returns the definition event for app.
//
// Revisions of the same definition by one author collapse to the newest.
// Definitions from more than one author are ambiguous unless the app pins a
// pubkey.
func (r *Resolver) AppDefinition(ctx context.Context, app model.AppSpec) (*nostr.Event, error) {
	r.mu.Lock()
	def, ok := r.defs[app.ID]
	r.mu.Unlock()
	if ok {
		return def, nil
	}

	filter := nostr.Filter{
		Kinds: []int{KindAppDefinition},
		Tags:  nostr.TagMap{"d": []string{app.ZapstoreAppID}},
	}
	if app.ZapstorePubkey != "" {
		filter.Authors = []string{app.ZapstorePubkey}
	}
	events, err := r.q.Query(ctx, r.relays, filter)
	if err != nil {
		return nil, fmt.Errorf("query app definition %s: %w", app.ZapstoreAppID, err)
	}

	newest := map[string]*nostr.Event{}
	for _, ev := range events {
		if ev.Kind != KindAppDefinition || tagValue(ev, "d") != app.ZapstoreAppID {
			continue
		}
		if app.ZapstorePubkey != "" && ev.PubKey != app.ZapstorePubkey {
			continue
		}
		if cur, ok := newest[ev.PubKey]; !ok || ev.CreatedAt > cur.CreatedAt {
			newest[ev.PubKey] = ev
		}
	}

	switch len(newest) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrAppNotFound, app.ZapstoreAppID)
	case 1:
		for _, ev := range newest {
			def = ev
		}
	default:
		authors := make([]string, 0, len(newest))
		for pk := range newest {
			authors = append(authors, pk)
		}
		sort.Strings(authors)
		return nil, fmt.Errorf("%w: %s published by %s; set zapstore_pubkey",
			ErrAmbiguousApp, app.ZapstoreAppID, strings.Join(authors, ", "))
	}

	r.logger.Debug("app definition resolved",
		zap.String("app", app.ID),
		zap.String("event_id", def.ID),
		zap.String("pubkey", def.PubKey))

	r.mu.Lock()
	r.defs[app.ID] = def
	r.mu.Unlock()
	return def, nil
}

// Releases returns the release events referencing the app's definition,
// newest first.
func (r *Resolver) Releases(ctx context.Context, app model.AppSpec) ([]*nostr.Event, error) {
	r.mu.Lock()
	cached, ok := r.releases[app.ID]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	def, err := r.AppDefinition(ctx, app)
	if err != nil {
		return nil, err
	}

	ref := fmt.Sprintf("%d:%s:%s", KindAppDefinition, def.PubKey, app.ZapstoreAppID)
	events, err := r.q.Query(ctx, r.relays, nostr.Filter{
		Kinds: []int{KindRelease},
		Tags:  nostr.TagMap{"a": []string{ref}},
	})
	if err != nil {
		return nil, fmt.Errorf("query releases %s: %w", app.ZapstoreAppID, err)
	}

	var releases []*nostr.Event
	for _, ev := range events {
		if ev.Kind == KindRelease {
			releases = append(releases, ev)
		}
	}

	r.mu.Lock()
	r.releases[app.ID] = releases
	r.mu.Unlock()
	return releases, nil
}

// ReleaseCoordinate returns the coordinate of the release event for version,
// or "" for apps without a Zapstore id.
func (r *Resolver) ReleaseCoordinate(ctx context.Context, app model.AppSpec, version string) (string, error) {
	if app.ZapstoreAppID == "" {
		return "", nil
	}
	releases, err := r.Releases(ctx, app)
	if err != nil {
		return "", err
	}
	ev := FindRelease(releases, version)
	if ev == nil {
		return "", fmt.Errorf("%w: %s %s", ErrReleaseNotFound, app.ZapstoreAppID, version)
	}
	return Coordinate(ev, version), nil
}

// FindRelease picks the first event matching version by, in order of
// preference within each event: commit tag, version tag, a d tag containing
// "@<version>" or "v<version>", or the version appearing in the content.
func FindRelease(events []*nostr.Event, version string) *nostr.Event {
	if version == "" {
		return nil
	}
	for _, ev := range events {
		if tagValue(ev, "commit") == version || tagValue(ev, "version") == version {
			return ev
		}
		d := tagValue(ev, "d")
		if strings.Contains(d, "@"+version) || strings.Contains(d, "v"+version) {
			return ev
		}
		if strings.Contains(ev.Content, version) {
			return ev
		}
	}
	return nil
}

// Coordinate renders "<kind>:<pubkey>:<d>" for ev. Releases without a d tag
// use fallback as the identifier.
func Coordinate(ev *nostr.Event, fallback string) string {
	d := tagValue(ev, "d")
	if d == "" {
		d = fallback
	}
	return fmt.Sprintf("%d:%s:%s", ev.Kind, ev.PubKey, d)
}

func tagValue(ev *nostr.Event, name string) string {
	for _, t := range ev.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}
