// Package preview manages revocable preview handles for admitted image files.
package preview

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/docintake/backend/internal/logging"
	"github.com/docintake/backend/internal/models"
	"github.com/docintake/backend/internal/validation"
)

var (
	// ErrReleased is returned when opening a handle that is no longer held.
	ErrReleased = errors.New("preview handle released")
	// ErrNotSupported is returned when the provider cannot stream bytes back.
	ErrNotSupported = errors.New("preview provider does not support reading")
)

// Provider is the platform capability behind preview handles. A browser
// target would back it with object URLs; the server backs it with memory or
// temp files.
type Provider interface {
	Acquire(name, mimeType string, data []byte) (ref string, err error)
	Release(ref string) error
}

// Opener is implemented by providers that can return the bytes behind a ref.
type Opener interface {
	Open(ref string) (io.ReadCloser, error)
}

// Observer is notified of every successful acquire and release.
type Observer interface {
	PreviewAcquired()
	PreviewReleased()
}

// Stats reports handle accounting. Acquired == Released at quiescent points.
type Stats struct {
	Acquired    int `json:"acquired"`
	Released    int `json:"released"`
	Outstanding int `json:"outstanding"`
}

// Manager hands out preview handles and guarantees each is released at most
// once. It is safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	provider    Provider
	observer    Observer
	logger      *log.Logger
	outstanding map[string]string // handle ID -> provider ref
	acquired    int
	released    int
}

// NewManager creates a manager over provider. observer may be nil.
func NewManager(provider Provider, observer Observer) *Manager {
	return &Manager{
		provider:    provider,
		observer:    observer,
		logger:      logging.New("preview"),
		outstanding: make(map[string]string),
	}
}

// Acquire returns a handle for image files and nil for everything else.
func (m *Manager) Acquire(f models.CandidateFile) (*models.PreviewHandle, error) {
	if !validation.IsImage(f) {
		return nil, nil
	}

	ref, err := m.provider.Acquire(f.Name, f.MimeType, f.Data)
	if err != nil {
		return nil, fmt.Errorf("acquiring preview for %s: %w", f.Name, err)
	}

	h := &models.PreviewHandle{ID: uuid.New().String(), Ref: ref}

	m.mu.Lock()
	m.outstanding[h.ID] = ref
	m.acquired++
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.PreviewAcquired()
	}
	m.logger.Debugf("acquired %s for %s", h.ID, f.Name)
	return h, nil
}

// Release revokes h. Releasing nil, an unknown handle, or a handle twice is a
// no-op. Provider failures are logged and swallowed.
func (m *Manager) Release(h *models.PreviewHandle) {
	if h == nil {
		return
	}

	m.mu.Lock()
	ref, ok := m.outstanding[h.ID]
	if ok {
		delete(m.outstanding, h.ID)
		m.released++
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debugf("release of %s ignored: not outstanding", h.ID)
		return
	}

	if m.observer != nil {
		m.observer.PreviewReleased()
	}
	if err := m.provider.Release(ref); err != nil {
		m.logger.Warnf("provider release of %s failed: %v", h.ID, err)
	}
}

// Open streams the bytes behind an outstanding handle.
func (m *Manager) Open(h *models.PreviewHandle) (io.ReadCloser, error) {
	if h == nil {
		return nil, ErrReleased
	}

	m.mu.Lock()
	ref, ok := m.outstanding[h.ID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrReleased
	}

	opener, ok := m.provider.(Opener)
	if !ok {
		return nil, ErrNotSupported
	}
	return opener.Open(ref)
}

// Stats returns the current handle accounting.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Acquired:    m.acquired,
		Released:    m.released,
		Outstanding: len(m.outstanding),
	}
}
