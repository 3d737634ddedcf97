package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps previews in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (m *MemoryStore) Put(_ context.Context, input PutInput) (Handle, error) {
	if input.Data == nil {
		return Handle{}, errors.New("preview data is required")
	}
	key := newKey(input.Filename, input.ContentType)

	m.mu.Lock()
	m.objects[key] = memoryObject{data: input.Data, contentType: input.ContentType}
	m.mu.Unlock()

	return Handle{Key: key, URL: previewURL(key)}, nil
}

func (m *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, string, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, "", ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.contentType, nil
}

// Release is idempotent.
func (m *MemoryStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of previews currently held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
