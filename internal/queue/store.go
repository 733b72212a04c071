package queue

import (
	"context"
	"sync"
)

// Store is the list primitive the job queue runs on. Semantics follow the
// Redis commands of the same name: LPush adds at the head, RPop and RPush
// work at the tail.
type Store interface {
	LPush(ctx context.Context, list string, value []byte) error
	RPush(ctx context.Context, list string, value []byte) error
	RPop(ctx context.Context, list string) ([]byte, bool, error)
	LLen(ctx context.Context, list string) (int64, error)
	Del(ctx context.Context, list string) error
}

// MemoryStore keeps lists in process memory. Used by tests and by single
// process deployments without Redis.
type MemoryStore struct {
	mu    sync.Mutex
	lists map[string][][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lists: map[string][][]byte{}}
}

func (m *MemoryStore) LPush(_ context.Context, list string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[list] = append([][]byte{clone(value)}, m.lists[list]...)
	return nil
}

func (m *MemoryStore) RPush(_ context.Context, list string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[list] = append(m.lists[list], clone(value))
	return nil
}

func (m *MemoryStore) RPop(_ context.Context, list string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.lists[list]
	if len(items) == 0 {
		return nil, false, nil
	}
	last := items[len(items)-1]
	m.lists[list] = items[:len(items)-1]
	return last, true, nil
}

func (m *MemoryStore) LLen(_ context.Context, list string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[list])), nil
}

func (m *MemoryStore) Del(_ context.Context, list string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lists, list)
	return nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
