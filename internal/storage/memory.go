package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// MemoryStore keeps blobs in memory. Used in tests and local demos.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	data        []byte
	contentType string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Put(ctx context.Context, r io.Reader, contentType string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Object{}, err
	}
	handle := newHandle(time.Now())
	s.mu.Lock()
	s.blobs[handle] = memoryBlob{data: data, contentType: contentType}
	s.mu.Unlock()
	return Object{Handle: handle, Size: int64(len(data)), ContentType: contentType}, nil
}

func (s *MemoryStore) Open(_ context.Context, handle string) (io.ReadCloser, error) {
	s.mu.RLock()
	b, ok := s.blobs[handle]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (s *MemoryStore) Stat(_ context.Context, handle string) (Object, error) {
	s.mu.RLock()
	b, ok := s.blobs[handle]
	s.mu.RUnlock()
	if !ok {
		return Object{}, ErrNotFound
	}
	return Object{Handle: handle, Size: int64(len(b.data)), ContentType: b.contentType}, nil
}

func (s *MemoryStore) Delete(_ context.Context, handle string) error {
	s.mu.Lock()
	delete(s.blobs, handle)
	s.mu.Unlock()
	return nil
}

// Len reports how many blobs are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
