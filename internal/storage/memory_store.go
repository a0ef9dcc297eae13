package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryBlobStore is an in-memory BlobStore for tests and local development.
type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	return nil
}

func (m *MemoryBlobStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[key]; !ok {
		return "", fmt.Errorf("blob %q not found", key)
	}
	return "memory://" + key, nil
}

func (m *MemoryBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Get returns a stored blob, for test assertions.
func (m *MemoryBlobStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	return data, ok
}
