package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists operation snapshots so jobs interrupted by a process
// restart can be recovered. Implementations must be safe for concurrent use.
type Store interface {
	// Save writes or overwrites the snapshot for op.ID.
	Save(op Operation) error
	// Delete removes the snapshot for id. Missing ids are not an error.
	Delete(id string) error
	// Load returns all persisted snapshots.
	Load() ([]Operation, error)
}

// MemoryStore is an in-process Store. Snapshots do not survive a restart;
// it exists for tests and for callers that opt out of recovery.
type MemoryStore struct {
	mu  sync.Mutex
	ops map[string]Operation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]Operation)}
}

// Save stores a copy of op.
func (s *MemoryStore) Save(op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID] = op
	return nil
}

// Delete removes the snapshot for id.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, id)
	return nil
}

// Load returns all stored snapshots.
func (s *MemoryStore) Load() ([]Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Operation, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, op)
	}
	return out, nil
}

// FileStore persists snapshots as a single JSON document on the local
// filesystem, written atomically via a temp file and rename.
type FileStore struct {
	mu   sync.Mutex
	path string
	ops  map[string]Operation
}

// NewFileStore creates a FileStore at path, loading any existing document.
func NewFileStore(path string) (*FileStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("progress: resolve store path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return nil, fmt.Errorf("progress: create store directory: %w", err)
	}

	s := &FileStore{path: abs, ops: make(map[string]Operation)}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("progress: read store: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.ops); err != nil {
			return nil, fmt.Errorf("progress: parse store: %w", err)
		}
	}
	return s, nil
}

// Save writes the snapshot for op.ID and flushes the document.
func (s *FileStore) Save(op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID] = op
	return s.flush()
}

// Delete removes the snapshot for id and flushes the document.
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[id]; !ok {
		return nil
	}
	delete(s.ops, id)
	return s.flush()
}

// Load returns all persisted snapshots.
func (s *FileStore) Load() ([]Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Operation, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, op)
	}
	return out, nil
}

// flush writes the document. Caller holds s.mu.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.ops, "", "  ")
	if err != nil {
		return fmt.Errorf("progress: encode store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("progress: write store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("progress: replace store: %w", err)
	}
	return nil
}
