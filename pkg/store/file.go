package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tcpmsg/tcpmsg-go/pkg/message"
)

// FileVersion is the current history file format version.
const FileVersion = 1

// FileName is the history file name inside the data directory.
const FileName = "messages.json"

type fileState struct {
	Version  int                `json:"version"`
	SavedAt  time.Time          `json:"saved_at"`
	Messages []*message.Message `json:"messages"`
}

// FileStore is a MemoryStore persisted to a JSON file.
type FileStore struct {
	mem  *MemoryStore
	mu   sync.Mutex
	path string
}

// OpenFileStore loads path if it exists. max bounds the history as in
// NewMemoryStore.
func OpenFileStore(path string, max int) (*FileStore, error) {
	fs := &FileStore{mem: NewMemoryStore(max), path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, err
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if st.Version > FileVersion {
		return nil, fmt.Errorf("%s: unsupported version %d", path, st.Version)
	}
	for _, m := range st.Messages {
		if err := fs.mem.Store(m); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	all, _ := s.mem.GetAll()
	data, err := json.MarshalIndent(fileState{Version: FileVersion, SavedAt: time.Now(), Messages: all}, "", "  ")
	if err != nil {
		return err
	}

	// Write then rename so a crash never leaves a truncated file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Store implements Store.
func (s *FileStore) Store(m *message.Message) error {
	if err := s.mem.Store(m); err != nil {
		return err
	}
	return s.save()
}

// Get implements Store.
func (s *FileStore) Get(id uuid.UUID) (*message.Message, error) { return s.mem.Get(id) }

// GetAll implements Store.
func (s *FileStore) GetAll() ([]*message.Message, error) { return s.mem.GetAll() }

// Search implements Store.
func (s *FileStore) Search(query string) ([]*message.Message, error) { return s.mem.Search(query) }

// Delete implements Store.
func (s *FileStore) Delete(id uuid.UUID) error {
	if err := s.mem.Delete(id); err != nil {
		return err
	}
	return s.save()
}

// UpdateStatus implements Store.
func (s *FileStore) UpdateStatus(id uuid.UUID, status message.Status) error {
	if err := s.mem.UpdateStatus(id, status); err != nil {
		return err
	}
	return s.save()
}

// Prune implements Store.
func (s *FileStore) Prune(cutoff time.Time) (int, error) {
	n, err := s.mem.Prune(cutoff)
	if err != nil || n == 0 {
		return n, err
	}
	return n, s.save()
}

// Clear removes the history file and all messages.
func (s *FileStore) Clear() error {
	s.mem.Reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

var _ Store = (*FileStore)(nil)
