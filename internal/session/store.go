package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists session state as one JSON file per session. Reads and writes
// are whole-file; the caller serializes turns per session.
type Store struct {
	dir string
}

// NewStore creates a file-backed state store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (st *Store) path(sessionID string) string {
	return filepath.Join(st.dir, sessionID+".json")
}

// Load reads a session's state and migrates it to the current schema.
// A missing file returns (nil, nil) so the caller can start fresh.
func (st *Store) Load(sessionID string) (*State, error) {
	data, err := os.ReadFile(st.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session state: %w", err)
	}
	return Migrate(&s), nil
}

// Save writes a session's state.
func (st *Store) Save(sessionID string, s *State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if err := os.WriteFile(st.path(sessionID), data, 0o644); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}
