package store

import (
	"context"
	"sync"
)

type RecordKind string

const (
	KindUsers       RecordKind = "users"
	KindHistory     RecordKind = "history"
	KindDraft       RecordKind = "draft"
	KindSessions    RecordKind = "sessions"
	KindPending     RecordKind = "pending"
	KindPreferences RecordKind = "preferences"
)

// Key addresses one record. Global records (the user list) have an empty UserID.
type Key struct {
	UserID string
	Kind   RecordKind
}

// Backend is a keyed table of UTF-8 text records.
type Backend interface {
	Get(ctx context.Context, key Key) (value string, found bool, err error)
	Put(ctx context.Context, key Key, value string) error
	Delete(ctx context.Context, key Key) error
	Close() error
}

type MemoryBackend struct {
	mu      sync.RWMutex
	records map[Key]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[Key]string)}
}

func (b *MemoryBackend) Get(ctx context.Context, key Key) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.records[key]
	return value, ok, nil
}

func (b *MemoryBackend) Put(ctx context.Context, key Key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records[key] = value
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.records, key)
	return nil
}

func (b *MemoryBackend) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
