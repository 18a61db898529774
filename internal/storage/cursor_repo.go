package storage

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/world-sync/internal/world"
)

// CursorRepo — хранилище живых курсоров редакторов.
// Записи истекают по TTL: после дисконнекта курсор исчезает сам.
type CursorRepo interface {
	Save(ctx context.Context, cursor world.UserCursor) error
	Get(ctx context.Context, userID world.UserID) (*world.UserCursor, error)
	All(ctx context.Context) ([]world.UserCursor, error)
	Delete(ctx context.Context, userID world.UserID) error
	Close() error
}

type memoryCursorEntry struct {
	cursor    world.UserCursor
	expiresAt time.Time
}

// MemoryCursorRepo — in-memory реализация CursorRepo с TTL.
// Используется как fallback, когда Redis недоступен,
// или для CI/локальной разработки без внешних сервисов.
type MemoryCursorRepo struct {
	mu   sync.RWMutex
	data map[world.UserID]memoryCursorEntry
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryCursorRepo создаёт репозиторий с указанным TTL записей.
func NewMemoryCursorRepo(ttl time.Duration) *MemoryCursorRepo {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCursorRepo{
		data: make(map[world.UserID]memoryCursorEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Save записывает курсор и продлевает его TTL.
func (mr *MemoryCursorRepo) Save(_ context.Context, cursor world.UserCursor) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.data[cursor.UserID] = memoryCursorEntry{
		cursor:    cursor,
		expiresAt: mr.now().Add(mr.ttl),
	}
	return nil
}

// Get возвращает курсор пользователя, если тот ещё жив.
func (mr *MemoryCursorRepo) Get(_ context.Context, userID world.UserID) (*world.UserCursor, error) {
	mr.mu.RLock()
	entry, ok := mr.data[userID]
	mr.mu.RUnlock()

	if !ok || mr.now().After(entry.expiresAt) {
		return nil, world.ErrNotFound
	}
	c := entry.cursor
	return &c, nil
}

// All возвращает все неистёкшие курсоры.
func (mr *MemoryCursorRepo) All(_ context.Context) ([]world.UserCursor, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	now := mr.now()
	out := make([]world.UserCursor, 0, len(mr.data))
	for id, entry := range mr.data {
		if now.After(entry.expiresAt) {
			delete(mr.data, id)
			continue
		}
		out = append(out, entry.cursor)
	}
	return out, nil
}

// Delete убирает курсор (явный выход пользователя).
func (mr *MemoryCursorRepo) Delete(_ context.Context, userID world.UserID) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	delete(mr.data, userID)
	return nil
}

// Close ничего не освобождает.
func (mr *MemoryCursorRepo) Close() error { return nil }
