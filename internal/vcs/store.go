package vcs

import (
	"context"
	"sync"

	"github.com/annel0/world-sync/internal/world"
)

// RepositoryState — сериализуемый слепок репозитория для персистентности.
type RepositoryState struct {
	Commits       []*Commit             `json:"commits" bson:"commits"`
	Branches      []*Branch             `json:"branches" bson:"branches"`
	Conflicts     []*ConflictResolution `json:"conflicts" bson:"conflicts"`
	CurrentBranch string                `json:"current_branch" bson:"current_branch"`
	StagingArea   []WorldChange         `json:"staging_area" bson:"staging_area"`
	Config        RepositoryConfig      `json:"config" bson:"config"`
	Stats         Stats                 `json:"stats" bson:"stats"`
}

// RepoStore — граница персистентности репозитория.
// Реализации: in-memory, BadgerDB, MariaDB, MongoDB (internal/storage).
type RepoStore interface {
	Save(ctx context.Context, state *RepositoryState) error
	Load(ctx context.Context) (*RepositoryState, error)
	Close() error
}

// MemoryRepoStore — потокобезопасное in-memory хранилище для тестов и демо.
type MemoryRepoStore struct {
	mu    sync.Mutex
	state *RepositoryState
}

// NewMemoryRepoStore создаёт пустое in-memory хранилище.
func NewMemoryRepoStore() *MemoryRepoStore {
	return &MemoryRepoStore{}
}

// Save запоминает слепок.
func (ms *MemoryRepoStore) Save(_ context.Context, state *RepositoryState) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.state = state
	return nil
}

// Load возвращает последний сохранённый слепок.
func (ms *MemoryRepoStore) Load(_ context.Context) (*RepositoryState, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.state == nil {
		return nil, world.ErrNotFound
	}
	return ms.state, nil
}

// Close ничего не освобождает.
func (ms *MemoryRepoStore) Close() error { return nil }
