package tests

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/world-sync/internal/eventbus"
	"github.com/annel0/world-sync/internal/network"
	"github.com/annel0/world-sync/internal/sync"
	"github.com/annel0/world-sync/internal/vcs"
	"github.com/annel0/world-sync/internal/vec"
	"github.com/annel0/world-sync/internal/world"
)

// Полный сценарий совместного редактирования: обновления двух редакторов
// проходят через движок, рассылаются пирам и фиксируются в истории,
// после чего расходящиеся ветки сливаются через разрешение конфликта.
func TestCollaborativeEditingEndToEnd(t *testing.T) {
	bus := eventbus.NewMemoryBus(64)
	sender := network.NewLoopbackSender()
	engine := sync.NewEngine(world.NewSharedSnapshot(nil), sender, bus)

	// --- Синхронизация ---
	entityID := uuid.New()
	require.NoError(t, engine.AddSyncUpdate(sync.SyncUpdate{
		ID:             1,
		Timestamp:      uint64(time.Now().Unix()),
		Kind:           sync.KindEntityUpdate,
		Author:         "user_alice",
		SequenceNumber: 1,
		Entity: &world.EntitySnapshot{
			ID:         entityID,
			Position:   vec.Vec3{X: 3, Y: 0, Z: 7},
			Rotation:   vec.QuatIdentity(),
			EntityType: "statue",
		},
	}))
	require.NoError(t, engine.AddSyncUpdate(sync.SyncUpdate{
		ID:             2,
		Timestamp:      uint64(time.Now().Unix()),
		Kind:           sync.KindConstructionAdd,
		Author:         "user_bob",
		SequenceNumber: 2,
		Construction: &world.UserConstruction{
			ID:               uuid.New(),
			UserID:           "user_bob",
			Data:             []byte(`{"kind":"wall"}`),
			ConstructionType: "barrier",
		},
	}))

	require.NoError(t, engine.Update(0.016))

	stats := engine.Stats()
	assert.Equal(t, uint64(2), stats.Version)
	assert.Equal(t, 2, stats.ConfirmedUpdates)
	assert.NotEmpty(t, sender.Broadcasts())

	engine.Snapshot().Read(func(ws *world.WorldSnapshot) {
		require.Len(t, ws.Entities, 1)
		assert.Equal(t, entityID, ws.Entities[0].ID)
		require.Len(t, ws.Constructions, 1)
	})

	// --- История ---
	repo := vcs.NewRepository(vcs.DefaultRepositoryConfig(), bus)

	pos := vec.Vec3i{X: 3, Z: 7}
	repo.StageChange(vcs.NewBlockChange(vcs.ChangeEntitySpawned, "chunk_0_0", pos, nil, []byte(`"statue"`)))
	base, err := repo.Commit("user_alice", "statue placed")
	require.NoError(t, err)

	require.NoError(t, repo.CreateBranch("experiment", "user_bob", base))

	repo.StageChange(vcs.NewBlockChange(vcs.ChangeEntityModified, "chunk_0_0", pos, []byte(`"statue"`), []byte(`"marble"`)))
	_, err = repo.Commit("user_alice", "marble statue")
	require.NoError(t, err)

	require.NoError(t, repo.SwitchBranch("experiment"))
	repo.StageChange(vcs.NewBlockChange(vcs.ChangeEntityModified, "chunk_0_0", pos, []byte(`"statue"`), []byte(`"bronze"`)))
	_, err = repo.Commit("user_bob", "bronze statue")
	require.NoError(t, err)
	require.NoError(t, repo.SwitchBranch("main"))

	_, err = repo.MergeBranch("experiment", "main", "user_bob")
	require.Error(t, err)

	conflicts := repo.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, []byte(`"marble"`), conflicts[0].LocalState)
	assert.Equal(t, []byte(`"bronze"`), conflicts[0].RemoteState)

	require.NoError(t, repo.ResolveConflict(conflicts[0].ConflictID, vcs.ResolveUseRemote, "user_bob"))
	assert.Equal(t, []byte(`"bronze"`), conflicts[0].ResolvedState)
	assert.Equal(t, uint64(1), repo.Stats().ConflictsResolved)

	// События синхронизации и истории прошли через общую шину.
	time.Sleep(50 * time.Millisecond)
	assert.Greater(t, bus.Metrics().Published, uint64(0))
}

// Состояние репозитория переживает перезапуск через RepoStore.
func TestRepositoryPersistenceAcrossRestart(t *testing.T) {
	store := vcs.NewMemoryRepoStore()
	ctx := context.Background()

	repo := vcs.NewRepository(vcs.DefaultRepositoryConfig(), nil)
	repo.StageChange(vcs.NewBlockChange(vcs.ChangeBlockPlaced, "chunk_1_1", vec.Vec3i{X: 1}, nil, []byte(`"stone"`)))
	commitID, err := repo.Commit("user_alice", "first edit")
	require.NoError(t, err)
	require.NoError(t, repo.SaveState(ctx, store))

	restarted := vcs.NewRepository(vcs.DefaultRepositoryConfig(), nil)
	require.NoError(t, restarted.LoadState(ctx, store))

	assert.Equal(t, repo.CurrentBranch(), restarted.CurrentBranch())
	got, err := restarted.GetCommit(commitID)
	require.NoError(t, err)
	assert.Equal(t, "first edit", got.Message)
}

// Одновременная правка одной сущности разрешается по возрастанию времени:
// поздняя правка выигрывает независимо от порядка поступления.
func TestSimultaneousEditConvergence(t *testing.T) {
	sender := network.NewLoopbackSender()
	engine := sync.NewEngine(world.NewSharedSnapshot(nil), sender, nil)

	entityID := uuid.New()
	early := sync.SyncUpdate{
		ID:             10,
		Timestamp:      100,
		Kind:           sync.KindEntityUpdate,
		Author:         "user_alice",
		SequenceNumber: 10,
		Entity: &world.EntitySnapshot{
			ID:       entityID,
			Position: vec.Vec3{X: 1},
			Rotation: vec.QuatIdentity(),
		},
	}
	late := sync.SyncUpdate{
		ID:             11,
		Timestamp:      200,
		Kind:           sync.KindEntityUpdate,
		Author:         "user_bob",
		SequenceNumber: 11,
		Entity: &world.EntitySnapshot{
			ID:       entityID,
			Position: vec.Vec3{X: 9},
			Rotation: vec.QuatIdentity(),
		},
	}

	// Поздняя правка пришла первой.
	engine.AddConflict(sync.ConflictEntry{
		UpdateA: late,
		UpdateB: early,
		Type:    sync.ConflictSimultaneousEdit,
	})
	require.NoError(t, engine.Update(0.016))

	engine.Snapshot().Read(func(ws *world.WorldSnapshot) {
		require.Len(t, ws.Entities, 1)
		assert.Equal(t, float32(9), ws.Entities[0].Position.X)
	})
}
