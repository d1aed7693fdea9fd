package users

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	mu   sync.Mutex
	user User
}

type memoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

// NewMemoryRepository builds an in-memory member store. Each record carries its own lock so
// credits to one member never block another.
func NewMemoryRepository() Repository {
	return &memoryRepository{entries: make(map[string]*memoryEntry)}
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (User, error) {
	r.mu.RLock()
	entry, ok := r.entries[phone]
	r.mu.RUnlock()
	if !ok {
		return User{}, ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.user.clone(), nil
}

func (r *memoryRepository) Upsert(_ context.Context, user User) (User, error) {
	now := time.Now().UTC()

	r.mu.Lock()
	entry, ok := r.entries[user.Phone]
	if !ok {
		created := user.clone()
		if created.CreatedAt.IsZero() {
			created.CreatedAt = now
		}
		created.UpdatedAt = now
		r.entries[user.Phone] = &memoryEntry{user: created}
		r.mu.Unlock()
		return created.clone(), nil
	}
	r.mu.Unlock()

	// Merge in place so the stored record keeps its identity.
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.user.merge(user)
	entry.user.UpdatedAt = now
	return entry.user.clone(), nil
}

func (r *memoryRepository) Credit(_ context.Context, phone string, points int64, txID string) (User, error) {
	r.mu.RLock()
	entry, ok := r.entries[phone]
	r.mu.RUnlock()
	if !ok {
		return User{}, ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.user.Points += points
	entry.user.Transactions = append(entry.user.Transactions, txID)
	entry.user.UpdatedAt = time.Now().UTC()
	return entry.user.clone(), nil
}
