package sync

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/world-sync/internal/network"
	"github.com/annel0/world-sync/internal/vec"
	"github.com/annel0/world-sync/internal/world"
)

func entityUpdate(id uuid.UUID, pos vec.Vec3, author world.UserID, seq, ts uint64) SyncUpdate {
	e := makeEntity(id, pos)
	return SyncUpdate{
		ID:             seq,
		Timestamp:      ts,
		Kind:           KindEntityUpdate,
		Author:         author,
		SequenceNumber: seq,
		Entity:         &e,
	}
}

func TestEngine_ApplyEntityUpdate(t *testing.T) {
	shared := world.NewSharedSnapshot(nil)
	engine := NewEngine(shared, nil, nil)

	id := uuid.New()
	require.NoError(t, engine.AddSyncUpdate(entityUpdate(id, vec.Vec3{X: 1}, "alice", 1, 100)))
	require.NoError(t, engine.Update(0.016))

	shared.Read(func(ws *world.WorldSnapshot) {
		require.Len(t, ws.Entities, 1)
		assert.Equal(t, id, ws.Entities[0].ID)
		assert.Equal(t, uint64(1), ws.Version)
		assert.Equal(t, uint64(100), ws.Timestamp)
	})
}

func TestEngine_VersionFollowsSequenceNumber(t *testing.T) {
	shared := world.NewSharedSnapshot(nil)
	engine := NewEngine(shared, nil, nil)

	id := uuid.New()
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, engine.AddSyncUpdate(entityUpdate(id, vec.Vec3{X: float32(seq)}, "alice", seq, seq*10)))
	}
	require.NoError(t, engine.Update(0.016))

	assert.Equal(t, uint64(5), shared.Version())
	assert.Equal(t, uint64(5), engine.Stats().Version)
}

func TestEngine_BroadcastExcludesAuthor(t *testing.T) {
	shared := world.NewSharedSnapshot(nil)
	sender := network.NewLoopbackSender()
	engine := NewEngine(shared, sender, nil)

	require.NoError(t, engine.AddSyncUpdate(entityUpdate(uuid.New(), vec.Vec3{X: 1}, "alice", 1, 100)))

	broadcasts := sender.Broadcasts()
	require.Len(t, broadcasts, 1)
	require.NotNil(t, broadcasts[0].Exclude)
	assert.Equal(t, world.UserID("alice"), *broadcasts[0].Exclude)
	assert.Equal(t, network.MsgWorldChange, broadcasts[0].Message.Type)
}

func TestEngine_FailedUpdateNotifiesOnlyAuthor(t *testing.T) {
	shared := world.NewSharedSnapshot(nil)
	sender := network.NewLoopbackSender()
	engine := NewEngine(shared, sender, nil)

	// Удаление несуществующей постройки — ApplyFailure.
	missing := uuid.New()
	bad := SyncUpdate{
		ID: 1, Timestamp: 100, Kind: KindConstructionRemove,
		Author: "bob", SequenceNumber: 1, ConstructionID: &missing,
	}
	require.NoError(t, engine.AddSyncUpdate(bad))
	sender.Reset()

	require.NoError(t, engine.Update(0.016))

	direct := sender.Direct()
	require.Len(t, direct, 1)
	assert.Equal(t, world.UserID("bob"), direct[0].User)
	assert.Equal(t, network.MsgSystemCommand, direct[0].Message.Type)
	assert.Equal(t, network.PriorityHigh, direct[0].Message.Priority)

	// Снапшот не тронут, движок жив.
	assert.Equal(t, uint64(0), shared.Version())
}

func TestEngine_FailureDoesNotAbortBatch(t *testing.T) {
	shared := world.NewSharedSnapshot(nil)
	engine := NewEngine(shared, nil, nil)

	missing := uuid.New()
	require.NoError(t, engine.AddSyncUpdate(SyncUpdate{
		ID: 1, Timestamp: 10, Kind: KindConstructionModify,
		Author: "bob", SequenceNumber: 1, ConstructionID: &missing,
	}))
	good := uuid.New()
	require.NoError(t, engine.AddSyncUpdate(entityUpdate(good, vec.Vec3{X: 2}, "alice", 2, 20)))

	require.NoError(t, engine.Update(0.016))

	shared.Read(func(ws *world.WorldSnapshot) {
		require.Len(t, ws.Entities, 1)
		assert.Equal(t, good, ws.Entities[0].ID)
	})
	assert.Equal(t, 1, engine.Stats().ConfirmedUpdates)
}

func TestEngine_TerrainModifyAppendsToContainingChunk(t *testing.T) {
	shared := world.NewSharedSnapshot(nil)
	shared.Write(func(ws *world.WorldSnapshot) {
		ws.TerrainChunks = []world.TerrainChunk{
			{ChunkID: vec.ChunkID{X: 0, Z: 0}},
			{ChunkID: vec.ChunkID{X: 1, Z: 0}},
		}
	})
	engine := NewEngine(shared, nil, nil)

	mod := world.TerrainModification{
		UserID:   "alice",
		Position: vec.Vec3{X: 70, Y: 0, Z: 10}, // чанк 1,0 при размере 64
		Kind:     world.TerrainSculpt,
	}
	require.NoError(t, engine.AddSyncUpdate(SyncUpdate{
		ID: 1, Timestamp: 50, Kind: KindTerrainModify,
		Author: "alice", SequenceNumber: 1, Terrain: &mod,
	}))
	require.NoError(t, engine.Update(0.016))

	shared.Read(func(ws *world.WorldSnapshot) {
		assert.Empty(t, ws.TerrainChunks[0].Modifications)
		require.Len(t, ws.TerrainChunks[1].Modifications, 1)
		assert.Equal(t, uint64(50), ws.TerrainChunks[1].LastModified)
	})
}

func TestEngine_WorldStateSyncReplacesSnapshot(t *testing.T) {
	shared := world.NewSharedSnapshot(nil)
	engine := NewEngine(shared, nil, nil)

	replacement := world.NewSnapshot()
	replacement.Entities = append(replacement.Entities, makeEntity(uuid.New(), vec.Vec3{X: 42}))

	require.NoError(t, engine.AddSyncUpdate(SyncUpdate{
		ID: 9, Timestamp: 900, Kind: KindWorldStateSync,
		Author: world.SystemUser, SequenceNumber: 9, Snapshot: replacement,
	}))
	require.NoError(t, engine.Update(0.016))

	shared.Read(func(ws *world.WorldSnapshot) {
		require.Len(t, ws.Entities, 1)
		assert.Equal(t, uint64(9), ws.Version)
	})
}

func TestEngine_SimultaneousEditResolvedByTimestamp(t *testing.T) {
	shared := world.NewSharedSnapshot(nil)
	engine := NewEngine(shared, nil, nil)

	id := uuid.New()
	early := entityUpdate(id, vec.Vec3{X: 1}, "alice", 1, 100)
	late := entityUpdate(id, vec.Vec3{X: 2}, "bob", 2, 200)

	// Позднее обновление приходит первым — порядок прихода не важен.
	engine.AddConflict(ConflictEntry{
		UpdateA: late,
		UpdateB: early,
		Type:    ConflictSimultaneousEdit,
	})
	require.NoError(t, engine.Update(0.016))

	shared.Read(func(ws *world.WorldSnapshot) {
		require.Len(t, ws.Entities, 1)
		// Итог — как при применении t1, затем t2.
		assert.Equal(t, float32(2), ws.Entities[0].Position.X)
	})
	assert.Equal(t, 0, engine.Stats().ConflictsBuffered)
}

func TestEngine_StateInconsistencyTriggersFullSync(t *testing.T) {
	shared := world.NewSharedSnapshot(nil)
	sender := network.NewLoopbackSender()
	engine := NewEngine(shared, sender, nil)

	engine.AddConflict(ConflictEntry{Type: ConflictStateInconsistency})
	require.NoError(t, engine.Update(0.016))

	broadcasts := sender.Broadcasts()
	require.NotEmpty(t, broadcasts)
	last := broadcasts[len(broadcasts)-1]
	assert.Nil(t, last.Exclude)
	assert.Equal(t, network.PriorityHigh, last.Message.Priority)
}

func TestEngine_PermissionAndDependencyConflictsAreNoOps(t *testing.T) {
	shared := world.NewSharedSnapshot(nil)
	engine := NewEngine(shared, nil, nil)

	engine.AddConflict(ConflictEntry{Type: ConflictPermission})
	engine.AddConflict(ConflictEntry{Type: ConflictDependencyViolation})
	require.NoError(t, engine.Update(0.016))

	assert.Equal(t, uint64(0), shared.Version())
	assert.Equal(t, 0, engine.Stats().ConflictsBuffered)
}

func TestEngine_FullSyncAfterInterval(t *testing.T) {
	shared := world.NewSharedSnapshot(nil)
	sender := network.NewLoopbackSender()
	engine := NewEngine(shared, sender, nil)

	base := time.Unix(5000, 0)
	engine.now = func() time.Time { return base }
	engine.lastFullSync = base

	// Внутри интервала — только дельта, без broadcast.
	require.NoError(t, engine.Update(0.016))
	assert.Empty(t, sender.Broadcasts())

	// За пределами интервала — полный снапшот.
	engine.now = func() time.Time { return base.Add(FullSyncInterval + time.Second) }
	require.NoError(t, engine.Update(0.016))
	require.Len(t, sender.Broadcasts(), 1)
}

func TestEngine_UpdateUserCursor(t *testing.T) {
	shared := world.NewSharedSnapshot(nil)
	engine := NewEngine(shared, nil, nil)

	cursor := cursorWithTool("alice", "build")
	require.NoError(t, engine.UpdateUserCursor("alice", cursor))

	cursors := engine.UserCursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, "build", cursors["alice"].Tool)
	assert.Equal(t, 1, engine.Stats().ActiveUsers)

	// Предсказание прогрето.
	assert.True(t, engine.Prediction().ValidatePrediction("alice", "place_construction"))
}

func TestEngine_BroadcastHelpersAssignSequence(t *testing.T) {
	shared := world.NewSharedSnapshot(nil)
	shared.Write(func(ws *world.WorldSnapshot) {
		ws.TerrainChunks = []world.TerrainChunk{{ChunkID: vec.ChunkID{X: 0, Z: 0}}}
	})
	engine := NewEngine(shared, nil, nil)

	require.NoError(t, engine.BroadcastConstructionUpdate("bob", &world.UserConstruction{
		ID:     uuid.New(),
		UserID: "bob",
		Data:   []byte(`{}`),
	}))
	require.NoError(t, engine.BroadcastTerrainUpdate("alice", &world.TerrainModification{
		UserID:   "alice",
		Position: vec.Vec3{X: 3},
		Kind:     world.TerrainPaint,
	}))
	require.NoError(t, engine.Update(0.016))

	shared.Read(func(ws *world.WorldSnapshot) {
		require.Len(t, ws.Constructions, 1)
		require.Len(t, ws.TerrainChunks[0].Modifications, 1)
		// Номера выданы движком по порядку.
		assert.Equal(t, uint64(2), ws.Version)
	})
	assert.Equal(t, 2, engine.Stats().ConfirmedUpdates)
}
