package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/reprowatch/internal/model"
)

// AppState is the recorded state of one application.
type AppState struct {
	// Entries maps version code to the recorded entry.
	Entries map[int64]model.StateEntry

	// Labels holds every recorded version label, including entries written
	// without a version code by older tools.
	Labels map[string]bool
}

// HasCode reports whether a version with this code is recorded.
func (a AppState) HasCode(code int64) bool {
	_, ok := a.Entries[code]
	return ok
}

// HasLabel reports whether a version with this label is recorded.
func (a AppState) HasLabel(label string) bool {
	return a.Labels[label]
}

// Len returns the number of entries that carry a version code.
func (a AppState) Len() int {
	return len(a.Entries)
}

// Snapshot maps application id to its AppState.
type Snapshot map[string]AppState

// App returns the state for one application. Never nil.
func (s Snapshot) App(appID string) AppState {
	if st, ok := s[appID]; ok {
		return st
	}
	return AppState{}
}

// Len returns the total number of entries across all applications.
func (s Snapshot) Len() int {
	n := 0
	for _, st := range s {
		n += st.Len()
	}
	return n
}

// Entries returns every entry with a version code, in no particular order.
func (s Snapshot) Entries() []model.StateEntry {
	var out []model.StateEntry
	for _, st := range s {
		for _, e := range st.Entries {
			out = append(out, e)
		}
	}
	return out
}

func (s Snapshot) app(appID string) AppState {
	st, ok := s[appID]
	if !ok {
		st = AppState{Entries: map[int64]model.StateEntry{}, Labels: map[string]bool{}}
		s[appID] = st
	}
	return st
}

// put records e as processed.
func (s Snapshot) put(e model.StateEntry) {
	e.Processed = true
	st := s.app(e.AppID)
	st.Entries[e.VersionCode] = e
	st.Labels[e.Version] = true
}

// putLabel records a label that has no version code.
func (s Snapshot) putLabel(appID, label string) {
	s.app(appID).Labels[label] = true
}

// conflicts reports whether e collides with a recorded code or label.
func (s Snapshot) conflicts(e model.StateEntry) bool {
	st := s.App(e.AppID)
	return st.HasCode(e.VersionCode) || st.HasLabel(e.Version)
}

// Store is the durable record of processed versions.
type Store interface {
	// Load returns a copy of every recorded entry. A store with no prior
	// state returns an empty Snapshot.
	Load(ctx context.Context) (Snapshot, error)

	// RecordProcessed registers a completed version. Returns *ConflictError
	// if the (app, version code) pair or the (app, version label) pair is
	// already recorded.
	RecordProcessed(ctx context.Context, entry model.StateEntry) error

	// Persist makes every recorded entry durable. Must not leave a partially
	// written state behind if the process is interrupted.
	Persist(ctx context.Context) error

	Close() error
}

// ConflictError reports an attempt to record an already-recorded version.
type ConflictError struct {
	AppID       string
	Version     string
	VersionCode int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("state entry for %s %s (%d) already exists", e.AppID, e.Version, e.VersionCode)
}

// IsConflict reports whether err wraps a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// validateEntry checks the fields every backend requires.
func validateEntry(entry model.StateEntry) error {
	switch {
	case entry.AppID == "":
		return errors.New("state entry: missing app id")
	case entry.Version == "":
		return errors.New("state entry: missing version")
	case entry.AssertionID == "" || entry.AttestationID == "":
		return fmt.Errorf("state entry %s %s: both event ids are required", entry.AppID, entry.Version)
	}
	return nil
}

// clone deep-copies a snapshot so callers cannot mutate store internals.
func (s Snapshot) clone() Snapshot {
	out := make(Snapshot, len(s))
	for app, st := range s {
		cp := AppState{
			Entries: make(map[int64]model.StateEntry, len(st.Entries)),
			Labels:  make(map[string]bool, len(st.Labels)),
		}
		for code, e := range st.Entries {
			cp.Entries[code] = e
		}
		for label := range st.Labels {
			cp.Labels[label] = true
		}
		out[app] = cp
	}
	return out
}
