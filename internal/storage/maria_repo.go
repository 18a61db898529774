package storage

import (
	"context"
	"database/sql"
	"errors"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/world-sync/internal/vcs"
	"github.com/annel0/world-sync/internal/world"
)

// MariaRepoStore хранит слепки репозитория истории в MariaDB/MySQL.
// Каждое сохранение — новая строка; Load берёт последнюю.
type MariaRepoStore struct {
	db *sql.DB
}

// NewMariaRepoStore подключается к базе и создаёт таблицу при необходимости.
//
// Параметры:
//
//	dsn - строка подключения (user:pass@tcp(host:port)/dbname)
//
// Возвращает:
//
//	*MariaRepoStore - экземпляр хранилища
//	error - ошибка подключения или создания таблицы
func NewMariaRepoStore(dsn string) (*MariaRepoStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	store := &MariaRepoStore{db: db}
	if err := store.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return store, nil
}

// createTable создает таблицу world_repo_snapshots, если она не существует.
func (ms *MariaRepoStore) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS world_repo_snapshots (
			id         BIGINT       AUTO_INCREMENT PRIMARY KEY,
			state      LONGBLOB     NOT NULL,
			commits    INT          NOT NULL,
			branches   INT          NOT NULL,
			created_at TIMESTAMP    DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_created_at (created_at)
		) ENGINE=InnoDB
	`

	_, err := ms.db.Exec(query)
	if err != nil {
		return fmt.Errorf("ошибка создания таблицы world_repo_snapshots: %w", err)
	}
	return nil
}

// Save пишет слепок новой строкой.
func (ms *MariaRepoStore) Save(ctx context.Context, state *vcs.RepositoryState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: %v", world.ErrSerialization, err)
	}

	_, err = ms.db.ExecContext(ctx,
		`INSERT INTO world_repo_snapshots (state, commits, branches) VALUES (?, ?, ?)`,
		data, len(state.Commits), len(state.Branches),
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения слепка: %w", err)
	}
	return nil
}

// Load возвращает самый свежий слепок.
func (ms *MariaRepoStore) Load(ctx context.Context) (*vcs.RepositoryState, error) {
	var data []byte
	err := ms.db.QueryRowContext(ctx,
		`SELECT state FROM world_repo_snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, world.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения слепка: %w", err)
	}

	var state vcs.RepositoryState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", world.ErrSerialization, err)
	}
	return &state, nil
}

// Prune оставляет keep последних слепков, удаляя остальные.
func (ms *MariaRepoStore) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return fmt.Errorf("недействительный keep: %d", keep)
	}
	_, err := ms.db.ExecContext(ctx, `
		DELETE FROM world_repo_snapshots
		WHERE id NOT IN (
			SELECT id FROM (
				SELECT id FROM world_repo_snapshots ORDER BY id DESC LIMIT ?
			) AS latest
		)`, keep)
	return err
}

// Close закрывает пул соединений.
func (ms *MariaRepoStore) Close() error {
	return ms.db.Close()
}
