package preview

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/docintake/backend/internal/storage"
)

// MemoryProvider keeps preview bytes in process under blob-style references.
type MemoryProvider struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryProvider creates an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{blobs: make(map[string][]byte)}
}

func (p *MemoryProvider) Acquire(name, mimeType string, data []byte) (string, error) {
	ref := "blob:intake/" + uuid.New().String()
	buf := make([]byte, len(data))
	copy(buf, data)

	p.mu.Lock()
	p.blobs[ref] = buf
	p.mu.Unlock()
	return ref, nil
}

func (p *MemoryProvider) Release(ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.blobs[ref]; !ok {
		return fmt.Errorf("unknown preview ref: %s", ref)
	}
	delete(p.blobs, ref)
	return nil
}

func (p *MemoryProvider) Open(ref string) (io.ReadCloser, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, ok := p.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("unknown preview ref: %s", ref)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Len returns the number of live blobs.
func (p *MemoryProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.blobs)
}

// DiskProvider writes each preview to a temp file through a storage.Store
// and deletes it on release.
type DiskProvider struct {
	store storage.Store
}

// NewDiskProvider creates a DiskProvider on store.
func NewDiskProvider(store storage.Store) *DiskProvider {
	return &DiskProvider{store: store}
}

func (p *DiskProvider) Acquire(name, mimeType string, data []byte) (string, error) {
	info, err := p.store.SaveBytes(name, mimeType, data)
	if err != nil {
		return "", fmt.Errorf("writing preview file: %w", err)
	}
	return info.ID, nil
}

func (p *DiskProvider) Release(ref string) error {
	return p.store.Delete(ref)
}

func (p *DiskProvider) Open(ref string) (io.ReadCloser, error) {
	return p.store.Open(ref)
}
