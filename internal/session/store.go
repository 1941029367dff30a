// Package session persists editor workspaces between requests.
package session

import (
	"context"
	"errors"
	"sync"

	"configdeck/api/internal/editor"
)

var ErrNotFound = errors.New("workspace not found or expired")

// Store keeps workspaces by id.
type Store interface {
	Save(ctx context.Context, w *editor.Workspace) error
	Load(ctx context.Context, id string) (*editor.Workspace, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// MemoryStore is the single-process Store used when no Redis is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

// Save stores an encoded copy so later mutations of w do not leak in.
func (s *MemoryStore) Save(_ context.Context, w *editor.Workspace) error {
	data, err := encode(w)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.items[w.ID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*editor.Workspace, error) {
	s.mu.RLock()
	data, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(data)
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
