package sync

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/world-sync/internal/vec"
	"github.com/annel0/world-sync/internal/world"
)

func makeEntity(id uuid.UUID, pos vec.Vec3) world.EntitySnapshot {
	return world.EntitySnapshot{
		ID:       id,
		Position: pos,
		Rotation: vec.QuatIdentity(),
	}
}

func TestCalculateDelta_MovedEntity(t *testing.T) {
	dc := NewDeltaCompression()
	id := uuid.New()

	prev := world.NewSnapshot()
	prev.Entities = append(prev.Entities, makeEntity(id, vec.Vec3{X: 1, Y: 2, Z: 3}))

	cur := prev.Clone()
	cur.Entities[0].Position = vec.Vec3{X: 5, Y: 2, Z: 3}

	delta := dc.CalculateDelta(cur, prev)

	require.Len(t, delta.ModifiedEntities, 1)
	assert.Equal(t, id, delta.ModifiedEntities[0].ID)
	assert.Equal(t, vec.Vec3{X: 5, Y: 2, Z: 3}, delta.ModifiedEntities[0].Position)
	assert.Empty(t, delta.AddedEntities)
	assert.Empty(t, delta.RemovedEntities)
}

func TestCalculateDelta_AddedAndRemoved(t *testing.T) {
	dc := NewDeltaCompression()
	kept := uuid.New()
	removed := uuid.New()
	added := uuid.New()

	prev := world.NewSnapshot()
	prev.Entities = append(prev.Entities,
		makeEntity(kept, vec.Vec3{X: 1}),
		makeEntity(removed, vec.Vec3{X: 2}),
	)

	cur := world.NewSnapshot()
	cur.Entities = append(cur.Entities,
		makeEntity(kept, vec.Vec3{X: 1}),
		makeEntity(added, vec.Vec3{X: 3}),
	)

	delta := dc.CalculateDelta(cur, prev)

	require.Len(t, delta.AddedEntities, 1)
	assert.Equal(t, added, delta.AddedEntities[0].ID)
	require.Len(t, delta.RemovedEntities, 1)
	assert.Equal(t, removed, delta.RemovedEntities[0])
	assert.Empty(t, delta.ModifiedEntities)
}

func TestCalculateTerrainDelta_AppendOnlySuffix(t *testing.T) {
	dc := NewDeltaCompression()
	chunkID := vec.ChunkID{X: 0, Z: 0}

	prev := world.NewSnapshot()
	prev.TerrainChunks = []world.TerrainChunk{{
		ChunkID: chunkID,
		Modifications: []world.TerrainModification{
			{UserID: "alice", Kind: world.TerrainAdd, Timestamp: 1},
		},
	}}

	cur := prev.Clone()
	cur.TerrainChunks[0].Modifications = append(cur.TerrainChunks[0].Modifications,
		world.TerrainModification{UserID: "bob", Kind: world.TerrainSculpt, Timestamp: 2},
		world.TerrainModification{UserID: "bob", Kind: world.TerrainPaint, Timestamp: 3},
	)

	delta := dc.CalculateDelta(cur, prev)

	require.Len(t, delta.TerrainChanges, 1)
	assert.Equal(t, chunkID, delta.TerrainChanges[0].ChunkID)
	// Только суффикс за пределами prev, не весь список.
	require.Len(t, delta.TerrainChanges[0].NewModifications, 2)
	assert.Equal(t, world.UserID("bob"), delta.TerrainChanges[0].NewModifications[0].UserID)
}

func TestCalculateTerrainDelta_NewChunkFullList(t *testing.T) {
	dc := NewDeltaCompression()

	prev := world.NewSnapshot()
	cur := world.NewSnapshot()
	cur.TerrainChunks = []world.TerrainChunk{{
		ChunkID: vec.ChunkID{X: 3, Z: -1},
		Modifications: []world.TerrainModification{
			{UserID: "alice", Kind: world.TerrainAdd, Timestamp: 1},
			{UserID: "alice", Kind: world.TerrainRemove, Timestamp: 2},
		},
	}}

	delta := dc.CalculateDelta(cur, prev)

	require.Len(t, delta.TerrainChanges, 1)
	assert.Len(t, delta.TerrainChanges[0].NewModifications, 2)
}

func TestCalculateConstructionDelta_KeyedOnModifiedAt(t *testing.T) {
	dc := NewDeltaCompression()
	id := uuid.New()

	prev := world.NewSnapshot()
	prev.Constructions = []world.UserConstruction{{
		ID: id, UserID: "alice", Data: []byte("house"), ModifiedAt: 100,
	}}

	// Data меняется, но modified_at тот же — дельты нет.
	cur := prev.Clone()
	cur.Constructions[0].Data = []byte("castle")
	delta := dc.CalculateDelta(cur, prev)
	assert.Empty(t, delta.ConstructionChanges)

	// Теперь двигаем modified_at.
	cur.Constructions[0].ModifiedAt = 200
	delta = dc.CalculateDelta(cur, prev)
	require.Len(t, delta.ConstructionChanges, 1)
	assert.Equal(t, ConstructionModified, delta.ConstructionChanges[0].Kind)
}

func TestDeltaApply_RoundTrip(t *testing.T) {
	dc := NewDeltaCompression()
	id := uuid.New()

	base := world.NewSnapshot()
	base.Entities = append(base.Entities, makeEntity(id, vec.Vec3{X: 1, Y: 2, Z: 3}))

	target := base.Clone()
	target.Version = 7
	target.Entities[0].Position = vec.Vec3{X: 9, Y: 9, Z: 9}
	target.Entities = append(target.Entities, makeEntity(uuid.New(), vec.Vec3{X: 4}))

	delta := dc.CalculateDelta(target, base)
	applied := delta.Apply(base)

	require.Len(t, applied.Entities, 2)
	assert.Equal(t, target.Version, applied.Version)
	idx := applied.FindEntity(id)
	require.GreaterOrEqual(t, idx, 0)
	assert.True(t, applied.Entities[idx].Equal(target.Entities[target.FindEntity(id)]))
}

func TestCompressDecompress_RoundTrip(t *testing.T) {
	dc := NewDeltaCompression()

	prev := world.NewSnapshot()
	cur := prev.Clone()
	cur.Version = 3
	cur.Entities = append(cur.Entities, makeEntity(uuid.New(), vec.Vec3{X: 1}))

	compressed, err := dc.CompressUpdate(cur, prev)
	require.NoError(t, err)
	require.NotEmpty(t, compressed)
	assert.Greater(t, dc.CompressionRatio(), float32(0))

	delta, err := dc.DecompressUpdate(compressed)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), delta.Version)
	assert.Len(t, delta.AddedEntities, 1)
}

func TestRememberSnapshot_HistoryBounded(t *testing.T) {
	dc := NewDeltaCompression()

	for i := 0; i < 15; i++ {
		s := world.NewSnapshot()
		s.Version = uint64(i)
		dc.RememberSnapshot(s)
	}

	assert.Equal(t, 10, dc.HistoryLen())
	// Самый свежий остаётся, самые старые вытеснены.
	assert.Equal(t, uint64(14), dc.LastSnapshot().Version)
}
