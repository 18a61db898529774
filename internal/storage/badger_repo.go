package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/world-sync/internal/vcs"
	"github.com/annel0/world-sync/internal/world"
)

const badgerRepoKey = "vcs:repository"

// BadgerRepoStore хранит слепок репозитория истории в BadgerDB.
// Подходит для single-node развёртываний без внешней БД.
type BadgerRepoStore struct {
	db     *badger.DB
	dbPath string
}

// NewBadgerRepoStore открывает (или создаёт) базу в dataPath/repo.
func NewBadgerRepoStore(dataPath string) (*BadgerRepoStore, error) {
	dbPath := filepath.Join(dataPath, "repo")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerRepoStore{db: db, dbPath: dbPath}, nil
}

// Save сериализует слепок в JSON и пишет одной транзакцией.
func (bs *BadgerRepoStore) Save(_ context.Context, state *vcs.RepositoryState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: %v", world.ErrSerialization, err)
	}

	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerRepoKey), data)
	})
}

// Load читает и декодирует последний сохранённый слепок.
func (bs *BadgerRepoStore) Load(_ context.Context) (*vcs.RepositoryState, error) {
	var data []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerRepoKey))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, world.ErrNotFound
		}
		return nil, err
	}

	var state vcs.RepositoryState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", world.ErrSerialization, err)
	}
	return &state, nil
}

// Close закрывает базу.
func (bs *BadgerRepoStore) Close() error {
	return bs.db.Close()
}
