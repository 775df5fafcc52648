// Package session persists the mapping from conversation identity to agent
// session, so asynchronous replies can be routed back to the right place.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oklog/ulid/v2"
)

var ErrEmptyKey = errors.New("session key cannot be empty")

// Entry is one session record. SessionID is stable for the lifetime of the
// key; the route fields reflect only the most recent interaction.
type Entry struct {
	SessionID     string `json:"sessionId"`
	LastChannel   string `json:"lastChannel"`
	LastThreadID  string `json:"lastThreadId"`
	LastUserID    string `json:"lastUserId"`
	LastMessageTS string `json:"lastMessageTs"`
}

// Route carries the route fields of the latest interaction.
type Route struct {
	Channel   string
	ThreadID  string
	UserID    string
	MessageTS string
}

// Store is a file-backed session map. All mutations hold the per-path lock
// across the full read-merge-write cycle and land on disk via a
// write-then-rename, so a crash can never leave a truncated document.
type Store struct {
	path string
	mu   *sync.Mutex
}

var (
	locksMu sync.Mutex
	locks   = map[string]*sync.Mutex{}
)

// Open binds a store to a file path. Stores opened on the same path share
// one lock, so concurrent callers serialize their read-modify-write cycles.
func Open(path string) *Store {
	cleaned := filepath.Clean(path)

	locksMu.Lock()
	defer locksMu.Unlock()
	lock, ok := locks[cleaned]
	if !ok {
		lock = &sync.Mutex{}
		locks[cleaned] = lock
	}
	return &Store{path: cleaned, mu: lock}
}

// GetOrCreate returns the entry for key, creating and persisting a fresh one
// when the key is unknown.
func (s *Store) GetOrCreate(key string) (Entry, error) {
	if key == "" {
		return Entry{}, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return Entry{}, err
	}

	if entry, ok := entries[key]; ok {
		return entry, nil
	}

	entry := Entry{SessionID: newSessionID()}
	entries[key] = entry
	if err := s.write(entries); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// UpdateLastRoute overwrites the route fields of an existing entry. It
// returns nil when the key has no entry and never creates one.
func (s *Store) UpdateLastRoute(key string, route Route) (*Entry, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return nil, err
	}

	entry, ok := entries[key]
	if !ok {
		return nil, nil
	}

	entry.LastChannel = route.Channel
	entry.LastThreadID = route.ThreadID
	entry.LastUserID = route.UserID
	entry.LastMessageTS = route.MessageTS
	entries[key] = entry

	if err := s.write(entries); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Load returns a snapshot of the whole store. A missing file is an empty
// mapping, not an error.
func (s *Store) Load() (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) read() (map[string]Entry, error) {
	// #nosec G304 -- path comes from operator-configured store path.
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return nil, err
	}

	entries := map[string]Entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("corrupt session store %s: %w", s.path, err)
	}
	return entries, nil
}

func (s *Store) write(entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := s.path + ".tmp"
	// #nosec G304 -- sibling of the operator-configured store path.
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}

func newSessionID() string {
	return "sess_" + ulid.Make().String()
}
