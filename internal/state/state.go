// Package state persists the mapping from document identity to last-known
// remote state across synchronization runs.
//
// The store is an in-memory map committed to disk atomically (temp file plus
// rename), so a crash mid-write never leaves a corrupt file behind. It is not
// internally thread-safe; callers hold the run lock for the duration of a run
// and serialize commits themselves.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Entry records the last-known remote state for one document identity.
// Absence of an entry means the document has never been synced.
type Entry struct {
	RemoteID     string `json:"fileId"`
	ContentHash  string `json:"contentHash"`
	LastSyncedAt string `json:"lastSyncedAt"`
	SourcePath   string `json:"sourcePath,omitempty"`
	DocumentType string `json:"documentType,omitempty"`
	Title        string `json:"title,omitempty"`
}

// CorruptionError reports a state file that exists but cannot be parsed.
// It is fatal: the run aborts before any remote mutation rather than silently
// recovering and risking duplicate uploads.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("state file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// IsCorruptionError reports whether err is a state corruption failure.
func IsCorruptionError(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// fileFormat is the on-disk shape of the state file.
type fileFormat struct {
	Docs map[string]Entry `json:"docs"`
}

// Store maps external document ids to their last-known remote state.
type Store struct {
	path string
	docs map[string]Entry
}

// Load reads the state file at path. A missing file yields an empty store; a
// present but unparsable file yields a CorruptionError.
func Load(path string) (*Store, error) {
	store := &Store{
		path: path,
		docs: make(map[string]Entry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	var parsed fileFormat
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &CorruptionError{Path: path, Err: err}
	}
	if parsed.Docs != nil {
		store.docs = parsed.Docs
	}

	return store, nil
}

// Path returns the file the store commits to.
func (s *Store) Path() string {
	return s.path
}

// Get returns the entry for externalID, if present.
func (s *Store) Get(externalID string) (Entry, bool) {
	entry, ok := s.docs[externalID]
	return entry, ok
}

// Upsert records entry for externalID in memory. The change is not durable
// until Commit succeeds.
func (s *Store) Upsert(externalID string, entry Entry) {
	s.docs[externalID] = entry
}

// Remove drops the entry for externalID in memory.
func (s *Store) Remove(externalID string) {
	delete(s.docs, externalID)
}

// Len returns the number of tracked documents.
func (s *Store) Len() int {
	return len(s.docs)
}

// ExternalIDs returns all tracked ids in sorted order for deterministic
// planning and logs.
func (s *Store) ExternalIDs() []string {
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Commit persists the store atomically: the serialized map is written to a
// temporary file in the same directory, then renamed into place.
func (s *Store) Commit() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(fileFormat{Docs: s.docs}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	return nil
}
