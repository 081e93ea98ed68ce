// Package storage is the client-local persistence layer: a small JSON
// key/value file playing the role browser local storage plays for the web
// client. Durability is best-effort — a missing or corrupt file starts
// empty rather than failing.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Well-known keys. Pending-order markers and cart snapshots are scoped per
// restaurant via the key builders below.
const (
	KeyToken          = "token"
	KeyRestaurantID   = "restaurantId"
	KeyRestaurantName = "restaurantName"
	KeyRestaurantSlug = "restaurantSlug"
)

// PendingOrderKey returns the per-restaurant pending-order marker key.
func PendingOrderKey(restaurantID int64) string {
	return fmt.Sprintf("pendingOrder_%d", restaurantID)
}

// CartKey returns the per-restaurant cart snapshot key.
func CartKey(restaurantID int64) string {
	return fmt.Sprintf("cart_%d", restaurantID)
}

// Store is a write-through key/value store backed by a single JSON file.
// Values are read once at Open and written back on every mutation.
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// Open loads the store at path. The parent directory is created if needed.
// An unreadable or malformed file is treated as empty.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &Store{path: path, data: make(map[string]string)}

	raw, err := os.ReadFile(path)
	if err == nil {
		// Best effort: a corrupt state file resets to empty.
		_ = json.Unmarshal(raw, &s.data)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if s.data == nil {
		s.data = make(map[string]string)
	}
	return s, nil
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores key=value and persists immediately.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.flush()
}

// Delete removes key if present and persists immediately.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flush()
}

// SetJSON marshals v and stores it under key.
func (s *Store) SetJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Set(key, string(raw))
}

// GetJSON unmarshals the value under key into v. Returns false when the
// key is absent; a present but malformed value is an error.
func (s *Store) GetJSON(key string, v any) (bool, error) {
	raw, ok := s.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// flush writes the map to disk. Caller holds the mutex. The write goes
// through a temp file so a crash mid-write cannot truncate existing state.
func (s *Store) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
