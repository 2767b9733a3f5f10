package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/moby/sys/atomicwriter"

	"github.com/roach88/reprowatch/internal/model"
)

// fileEntry is the on-disk form of one entry.
type fileEntry struct {
	Processed     bool   `json:"processed"`
	VersionCode   *int64 `json:"version_code,omitempty"`
	AssertionID   string `json:"assertion_event_id,omitempty"`
	AttestationID string `json:"attestation_event_id,omitempty"`
}

// document is app id -> version label -> raw entry. Raw messages let
// entries written by other tools survive a load/persist cycle untouched.
type document map[string]map[string]json.RawMessage

// FileStore keeps state in a single JSON file.
//
// Persist writes the whole document to a temporary file in the same
// directory, syncs it and renames it over the original, so an interrupted
// write leaves the previous state intact.
//
// Thread-safety: all methods are safe for concurrent use.
type FileStore struct {
	mu    sync.Mutex
	path  string
	doc   document
	snap  Snapshot
	dirty bool
}

// OpenFile reads the state file at path. A missing file is an empty state.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, doc: document{}, snap: Snapshot{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", path, err)
	}
	if s.doc == nil {
		s.doc = document{}
	}

	for appID, versions := range s.doc {
		for label, raw := range versions {
			var fe fileEntry
			if err := json.Unmarshal(raw, &fe); err != nil {
				return nil, fmt.Errorf("decode state entry %s %s: %w", appID, label, err)
			}
			if fe.VersionCode == nil {
				s.snap.putLabel(appID, label)
				continue
			}
			s.snap.put(model.StateEntry{
				AppID:         appID,
				Version:       label,
				VersionCode:   *fe.VersionCode,
				AssertionID:   fe.AssertionID,
				AttestationID: fe.AttestationID,
			})
		}
	}

	return s, nil
}

// Path returns the state file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone(), nil
}

func (s *FileStore) RecordProcessed(ctx context.Context, entry model.StateEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.conflicts(entry) {
		return &ConflictError{AppID: entry.AppID, Version: entry.Version, VersionCode: entry.VersionCode}
	}

	code := entry.VersionCode
	raw, err := json.Marshal(fileEntry{
		Processed:     true,
		VersionCode:   &code,
		AssertionID:   entry.AssertionID,
		AttestationID: entry.AttestationID,
	})
	if err != nil {
		return fmt.Errorf("encode state entry: %w", err)
	}

	versions, ok := s.doc[entry.AppID]
	if !ok {
		versions = map[string]json.RawMessage{}
		s.doc[entry.AppID] = versions
	}
	versions[entry.Version] = raw

	s.snap.put(entry)

	s.dirty = true
	return nil
}

// Persist writes the document if anything was recorded since the last call.
func (s *FileStore) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	if err := atomicwriter.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	s.dirty = false
	return nil
}

func (s *FileStore) Close() error { return nil }
