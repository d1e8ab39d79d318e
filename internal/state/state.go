// Package state persists small per-project values across runs.
//
// Values live in a single JSON document keyed by project directory and then
// by slot name:
//
//	{
//	  "projects": {
//	    "/home/me/blink": {"customPort": "/dev/ttyUSB0"}
//	  }
//	}
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// SlotCustomPort holds the user's serial port override.
const SlotCustomPort = "customPort"

// ErrEmptyProject is returned when a slot is addressed without a project.
var ErrEmptyProject = errors.New("state: empty project directory")

// Store reads and writes per-project string slots.
type Store interface {
	Get(projectDir, slot string) (string, bool, error)
	Set(projectDir, slot, value string) error
	Delete(projectDir, slot string) error
}

// FileStore is a Store backed by one JSON file. Writes replace the file
// atomically. FileStore is safe for concurrent use within one process.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store at path. The file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath returns $XDG_STATE_HOME/piotask/state.json, falling back to
// ~/.local/state when XDG_STATE_HOME is unset.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "piotask", "state.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating state directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "piotask", "state.json"), nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the slot value and whether it was present.
func (s *FileStore) Get(projectDir, slot string) (string, bool, error) {
	if projectDir == "" {
		return "", false, ErrEmptyProject
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return "", false, err
	}
	res := gjson.GetBytes(doc, key(projectDir, slot))
	if !res.Exists() {
		return "", false, nil
	}
	return res.String(), true, nil
}

// Set stores value in the slot.
func (s *FileStore) Set(projectDir, slot, value string) error {
	if projectDir == "" {
		return ErrEmptyProject
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc, err = sjson.SetBytes(doc, key(projectDir, slot), value)
	if err != nil {
		return fmt.Errorf("updating state: %w", err)
	}
	return s.write(doc)
}

// Delete removes the slot. Deleting a missing slot is not an error.
func (s *FileStore) Delete(projectDir, slot string) error {
	if projectDir == "" {
		return ErrEmptyProject
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	k := key(projectDir, slot)
	if !gjson.GetBytes(doc, k).Exists() {
		return nil
	}
	doc, err = sjson.DeleteBytes(doc, k)
	if err != nil {
		return fmt.Errorf("updating state: %w", err)
	}
	return s.write(doc)
}

func key(projectDir, slot string) string {
	return "projects." + gjson.Escape(projectDir) + "." + gjson.Escape(slot)
}

func (s *FileStore) read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	if len(data) == 0 {
		return []byte("{}"), nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("reading state: %s is not valid JSON", s.path)
	}
	return data, nil
}

func (s *FileStore) write(doc []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing state: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]map[string]string

	// Err, when set, is returned by Set and Delete.
	Err error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]map[string]string)}
}

// Get implements Store.
func (m *MemoryStore) Get(projectDir, slot string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[projectDir][slot]
	return v, ok, nil
}

// Set implements Store.
func (m *MemoryStore) Set(projectDir, slot, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.values[projectDir] == nil {
		m.values[projectDir] = make(map[string]string)
	}
	m.values[projectDir][slot] = value
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(projectDir, slot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.values[projectDir], slot)
	return nil
}
