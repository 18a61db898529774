package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/world-sync/internal/world"
)

// RedisCursorConfig содержит настройки подключения к Redis.
type RedisCursorConfig struct {
	Addr      string        // Адрес Redis сервера
	Password  string        // Пароль (пустой если не требуется)
	DB        int           // Номер базы данных
	KeyPrefix string        // Префикс для ключей
	TTL       time.Duration // Время жизни записей курсоров
}

// DefaultRedisCursorConfig возвращает конфигурацию по умолчанию.
func DefaultRedisCursorConfig() *RedisCursorConfig {
	return &RedisCursorConfig{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		KeyPrefix: "worldsync:cursor:",
		TTL:       5 * time.Minute,
	}
}

// RedisCursorRepo хранит живые курсоры в Redis с TTL.
// Несколько нод синхронизации видят одно множество курсоров.
type RedisCursorRepo struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisCursorRepo подключается к Redis и проверяет соединение.
func NewRedisCursorRepo(ctx context.Context, cfg *RedisCursorConfig) (*RedisCursorRepo, error) {
	if cfg == nil {
		cfg = DefaultRedisCursorConfig()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}
	return &RedisCursorRepo{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}, nil
}

func (rr *RedisCursorRepo) key(userID world.UserID) string {
	return rr.keyPrefix + string(userID)
}

// Save записывает курсор с TTL; каждое обновление продлевает жизнь ключа.
func (rr *RedisCursorRepo) Save(ctx context.Context, cursor world.UserCursor) error {
	data, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("%w: %v", world.ErrSerialization, err)
	}
	return rr.client.Set(ctx, rr.key(cursor.UserID), data, rr.ttl).Err()
}

// Get возвращает курсор пользователя.
func (rr *RedisCursorRepo) Get(ctx context.Context, userID world.UserID) (*world.UserCursor, error) {
	data, err := rr.client.Get(ctx, rr.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, world.ErrNotFound
		}
		return nil, err
	}
	var cursor world.UserCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("%w: %v", world.ErrSerialization, err)
	}
	return &cursor, nil
}

// All сканирует все ключи курсоров. SCAN вместо KEYS, чтобы не блокировать Redis.
func (rr *RedisCursorRepo) All(ctx context.Context) ([]world.UserCursor, error) {
	var cursors []world.UserCursor

	iter := rr.client.Scan(ctx, 0, rr.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := rr.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // истёк между SCAN и GET
			}
			return nil, err
		}
		var cursor world.UserCursor
		if err := json.Unmarshal(data, &cursor); err != nil {
			continue
		}
		cursors = append(cursors, cursor)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return cursors, nil
}

// Delete убирает курсор немедленно.
func (rr *RedisCursorRepo) Delete(ctx context.Context, userID world.UserID) error {
	return rr.client.Del(ctx, rr.key(userID)).Err()
}

// Close закрывает клиент.
func (rr *RedisCursorRepo) Close() error {
	return rr.client.Close()
}
