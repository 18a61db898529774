package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/annel0/world-sync/internal/vcs"
	"github.com/annel0/world-sync/internal/world"
)

// MongoRepoStore хранит слепки репозитория истории в MongoDB.
// Используется в кластерных развёртываниях с общей историей.
type MongoRepoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type mongoSnapshot struct {
	State     *vcs.RepositoryState `bson:"state"`
	Commits   int                  `bson:"commits"`
	Branches  int                  `bson:"branches"`
	CreatedAt time.Time            `bson:"created_at"`
}

// NewMongoRepoStore подключается к MongoDB и выбирает коллекцию repo_snapshots.
func NewMongoRepoStore(ctx context.Context, uri, database string) (*MongoRepoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("не удалось проверить соединение с MongoDB: %w", err)
	}

	return &MongoRepoStore{
		client:     client,
		collection: client.Database(database).Collection("repo_snapshots"),
	}, nil
}

// Save добавляет слепок новым документом.
func (ms *MongoRepoStore) Save(ctx context.Context, state *vcs.RepositoryState) error {
	doc := mongoSnapshot{
		State:     state,
		Commits:   len(state.Commits),
		Branches:  len(state.Branches),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := ms.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("ошибка сохранения слепка: %w", err)
	}
	return nil
}

// Load возвращает самый свежий слепок.
func (ms *MongoRepoStore) Load(ctx context.Context) (*vcs.RepositoryState, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var doc mongoSnapshot
	err := ms.collection.FindOne(ctx, bson.D{}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, world.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения слепка: %w", err)
	}
	return doc.State, nil
}

// Close отключается от кластера.
func (ms *MongoRepoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ms.client.Disconnect(ctx)
}
