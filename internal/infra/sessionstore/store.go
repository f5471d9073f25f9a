// Package sessionstore mirrors live transport sessions so they can be listed
// and counted independently of the process that owns the stream.
package sessionstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"browsermcp/internal/domain"
)

type Metadata struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Store persists session metadata. Save overwrites and, for expiring
// backends, renews the entry. Touch on an expired entry re-creates it; on a
// backend without expiry a missing id is ErrSessionNotFound.
type Store interface {
	Save(ctx context.Context, m Metadata) error
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Metadata, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Metadata
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Metadata)}
}

func (m *MemoryStore) Save(_ context.Context, md Metadata) error {
	if md.ID == "" {
		return errors.New("sessionstore: empty session id")
	}
	m.mu.Lock()
	m.sessions[md.ID] = md
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	md.LastActivity = at
	m.sessions[id] = md
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Metadata, error) {
	m.mu.RLock()
	out := make([]Metadata, 0, len(m.sessions))
	for _, md := range m.sessions {
		out = append(out, md)
	}
	m.mu.RUnlock()
	sortByCreated(out)
	return out, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

func (m *MemoryStore) Close() error { return nil }

func sortByCreated(list []Metadata) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
