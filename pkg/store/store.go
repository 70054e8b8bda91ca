package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tcpmsg/tcpmsg-go/pkg/config"
	"github.com/tcpmsg/tcpmsg-go/pkg/message"
	"github.com/tcpmsg/tcpmsg-go/pkg/msgerr"
)

// Store errors.
var (
	ErrNotFound = errors.New("message not found")
	ErrInvalid  = errors.New("invalid message")
)

// Store records messages. Implementations must be safe for concurrent use.
type Store interface {
	// Store adds m, or replaces the stored message with the same id.
	Store(m *message.Message) error

	// Get returns the message with id, or ErrNotFound.
	Get(id uuid.UUID) (*message.Message, error)

	// GetAll returns every message in insertion order.
	GetAll() ([]*message.Message, error)

	// Search returns messages whose content contains query,
	// case-insensitively, in insertion order.
	Search(query string) ([]*message.Message, error)

	// Delete removes the message with id, or returns ErrNotFound.
	Delete(id uuid.UUID) error

	// UpdateStatus sets the delivery status of a stored message.
	UpdateStatus(id uuid.UUID, status message.Status) error

	// Prune removes messages older than cutoff and returns how many.
	Prune(cutoff time.Time) (int, error)
}

// Open returns the store selected by cfg.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.MaxMessages), nil
	case "file":
		fs, err := OpenFileStore(filepath.Join(cfg.DataDirectory, FileName), cfg.MaxMessages)
		if err != nil {
			return nil, msgerr.Storage("open", err)
		}
		return fs, nil
	}
	return nil, msgerr.Storage("open", fmt.Errorf("unknown backend %q", cfg.Backend))
}
