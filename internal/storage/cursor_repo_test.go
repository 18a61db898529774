package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/world-sync/internal/vec"
	"github.com/annel0/world-sync/internal/world"
)

func TestMemoryCursorRepo_SaveGet(t *testing.T) {
	repo := NewMemoryCursorRepo(time.Minute)
	ctx := context.Background()

	cursor := world.UserCursor{
		UserID:   "alice",
		Position: vec.Vec3{X: 1, Y: 2, Z: 3},
		Tool:     "build",
	}
	require.NoError(t, repo.Save(ctx, cursor))

	got, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "build", got.Tool)
	assert.Equal(t, cursor.Position, got.Position)

	_, err = repo.Get(ctx, "ghost")
	assert.True(t, errors.Is(err, world.ErrNotFound))
}

func TestMemoryCursorRepo_TTLExpiry(t *testing.T) {
	repo := NewMemoryCursorRepo(time.Minute)
	ctx := context.Background()

	base := time.Unix(3000, 0)
	repo.now = func() time.Time { return base }

	require.NoError(t, repo.Save(ctx, world.UserCursor{UserID: "alice"}))
	require.NoError(t, repo.Save(ctx, world.UserCursor{UserID: "bob"}))

	// bob обновляется позже — его TTL длиннее.
	repo.now = func() time.Time { return base.Add(30 * time.Second) }
	require.NoError(t, repo.Save(ctx, world.UserCursor{UserID: "bob"}))

	// Через 70 секунд alice истекла, bob ещё жив.
	repo.now = func() time.Time { return base.Add(70 * time.Second) }

	_, err := repo.Get(ctx, "alice")
	assert.True(t, errors.Is(err, world.ErrNotFound))

	all, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, world.UserID("bob"), all[0].UserID)
}

func TestMemoryCursorRepo_Delete(t *testing.T) {
	repo := NewMemoryCursorRepo(time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, world.UserCursor{UserID: "alice"}))
	require.NoError(t, repo.Delete(ctx, "alice"))

	_, err := repo.Get(ctx, "alice")
	assert.True(t, errors.Is(err, world.ErrNotFound))
}
