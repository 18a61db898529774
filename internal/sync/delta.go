package sync

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/annel0/world-sync/internal/vec"
	"github.com/annel0/world-sync/internal/world"
)

// WorldDelta — разница между двумя снапшотами мира.
// Применение дельты к базовому снапшоту восстанавливает целевой
// для всех затронутых сущностей.
type WorldDelta struct {
	Version             uint64                  `json:"version"`
	Timestamp           uint64                  `json:"timestamp"`
	AddedEntities       []world.EntitySnapshot  `json:"added_entities"`
	ModifiedEntities    []world.EntitySnapshot  `json:"modified_entities"`
	RemovedEntities     []uuid.UUID             `json:"removed_entities"`
	TerrainChanges      []TerrainDelta          `json:"terrain_changes"`
	ConstructionChanges []ConstructionDelta     `json:"construction_changes"`
}

// TerrainDelta — новые модификации одного чанка.
// Список модификаций append-only, поэтому дельта — это суффикс.
type TerrainDelta struct {
	ChunkID          vec.ChunkID                 `json:"chunk_id"`
	NewModifications []world.TerrainModification `json:"new_modifications"`
}

// ConstructionDeltaKind — вид изменения постройки.
type ConstructionDeltaKind string

const (
	ConstructionAdded    ConstructionDeltaKind = "added"
	ConstructionModified ConstructionDeltaKind = "modified"
	ConstructionRemoved  ConstructionDeltaKind = "removed"
)

// ConstructionDelta — изменение одной постройки.
type ConstructionDelta struct {
	ID           uuid.UUID               `json:"id"`
	Kind         ConstructionDeltaKind   `json:"kind"`
	Construction *world.UserConstruction `json:"construction,omitempty"`
}

// DeltaCompression хранит кольцо предыдущих снапшотов и вычисляет дельты.
// Дельта сериализуется в JSON и сжимается gzip перед отправкой.
type DeltaCompression struct {
	previousSnapshots []*world.WorldSnapshot
	maxHistory        int
	compressionRatio  float32
}

// NewDeltaCompression создаёт компрессор с историей в 10 снапшотов.
func NewDeltaCompression() *DeltaCompression {
	return &DeltaCompression{maxHistory: 10}
}

// CompressUpdate вычисляет дельту current относительно previous и возвращает
// её сжатое представление. Заодно обновляет compression_ratio.
func (dc *DeltaCompression) CompressUpdate(current, previous *world.WorldSnapshot) ([]byte, error) {
	delta := dc.CalculateDelta(current, previous)

	raw, err := json.Marshal(delta)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	if len(raw) > 0 {
		dc.compressionRatio = float32(buf.Len()) / float32(len(raw))
	}
	return buf.Bytes(), nil
}

// DecompressUpdate разжимает и декодирует дельту.
func (dc *DeltaCompression) DecompressUpdate(payload []byte) (*WorldDelta, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}

	var delta WorldDelta
	if err := json.Unmarshal(raw, &delta); err != nil {
		return nil, err
	}
	return &delta, nil
}

// CalculateDelta вычисляет дельту между снапшотами.
// Сущность считается изменённой при полном структурном несовпадении,
// постройка — при несовпадении modified_at.
func (dc *DeltaCompression) CalculateDelta(current, previous *world.WorldSnapshot) *WorldDelta {
	delta := &WorldDelta{
		Version:             current.Version,
		Timestamp:           current.Timestamp,
		AddedEntities:       []world.EntitySnapshot{},
		ModifiedEntities:    []world.EntitySnapshot{},
		RemovedEntities:     []uuid.UUID{},
		TerrainChanges:      dc.calculateTerrainDelta(current.TerrainChunks, previous.TerrainChunks),
		ConstructionChanges: dc.calculateConstructionDelta(current.Constructions, previous.Constructions),
	}

	prevByID := make(map[uuid.UUID]*world.EntitySnapshot, len(previous.Entities))
	for i := range previous.Entities {
		prevByID[previous.Entities[i].ID] = &previous.Entities[i]
	}
	currentIDs := make(map[uuid.UUID]struct{}, len(current.Entities))

	for i := range current.Entities {
		e := current.Entities[i]
		currentIDs[e.ID] = struct{}{}
		if prev, ok := prevByID[e.ID]; ok {
			if !e.Equal(*prev) {
				delta.ModifiedEntities = append(delta.ModifiedEntities, e.Clone())
			}
		} else {
			delta.AddedEntities = append(delta.AddedEntities, e.Clone())
		}
	}
	for id := range prevByID {
		if _, ok := currentIDs[id]; !ok {
			delta.RemovedEntities = append(delta.RemovedEntities, id)
		}
	}

	return delta
}

func (dc *DeltaCompression) calculateTerrainDelta(current, previous []world.TerrainChunk) []TerrainDelta {
	deltas := []TerrainDelta{}

	for i := range current {
		cur := &current[i]
		var prev *world.TerrainChunk
		for j := range previous {
			if previous[j].ChunkID == cur.ChunkID {
				prev = &previous[j]
				break
			}
		}
		if prev == nil {
			deltas = append(deltas, TerrainDelta{
				ChunkID:          cur.ChunkID,
				NewModifications: append([]world.TerrainModification(nil), cur.Modifications...),
			})
			continue
		}
		if len(cur.Modifications) != len(prev.Modifications) {
			// Модификации append-only: дельта — суффикс за пределами prev.
			deltas = append(deltas, TerrainDelta{
				ChunkID:          cur.ChunkID,
				NewModifications: append([]world.TerrainModification(nil), cur.Modifications[len(prev.Modifications):]...),
			})
		}
	}

	return deltas
}

func (dc *DeltaCompression) calculateConstructionDelta(current, previous []world.UserConstruction) []ConstructionDelta {
	deltas := []ConstructionDelta{}

	prevByID := make(map[uuid.UUID]*world.UserConstruction, len(previous))
	for i := range previous {
		prevByID[previous[i].ID] = &previous[i]
	}
	currentIDs := make(map[uuid.UUID]struct{}, len(current))

	for i := range current {
		c := current[i]
		currentIDs[c.ID] = struct{}{}
		if prev, ok := prevByID[c.ID]; ok {
			if c.ModifiedAt != prev.ModifiedAt {
				clone := c.Clone()
				deltas = append(deltas, ConstructionDelta{ID: c.ID, Kind: ConstructionModified, Construction: &clone})
			}
		} else {
			clone := c.Clone()
			deltas = append(deltas, ConstructionDelta{ID: c.ID, Kind: ConstructionAdded, Construction: &clone})
		}
	}
	for id := range prevByID {
		if _, ok := currentIDs[id]; !ok {
			deltas = append(deltas, ConstructionDelta{ID: id, Kind: ConstructionRemoved})
		}
	}

	return deltas
}

// RememberSnapshot добавляет снапшот в историю, вытесняя самый старый
// при переполнении кольца.
func (dc *DeltaCompression) RememberSnapshot(snapshot *world.WorldSnapshot) {
	dc.previousSnapshots = append(dc.previousSnapshots, snapshot)
	if len(dc.previousSnapshots) > dc.maxHistory {
		dc.previousSnapshots = dc.previousSnapshots[1:]
	}
}

// LastSnapshot возвращает самый свежий снапшот истории, либо nil.
func (dc *DeltaCompression) LastSnapshot() *world.WorldSnapshot {
	if len(dc.previousSnapshots) == 0 {
		return nil
	}
	return dc.previousSnapshots[len(dc.previousSnapshots)-1]
}

// HistoryLen возвращает текущую глубину истории.
func (dc *DeltaCompression) HistoryLen() int { return len(dc.previousSnapshots) }

// CompressionRatio возвращает последнее измеренное отношение сжатия.
func (dc *DeltaCompression) CompressionRatio() float32 { return dc.compressionRatio }

// Apply накладывает дельту на базовый снапшот: добавленные и изменённые
// сущности замещают имеющиеся, удалённые исчезают, террейн дописывается,
// постройки обрабатываются по виду дельты.
func (delta *WorldDelta) Apply(base *world.WorldSnapshot) *world.WorldSnapshot {
	result := base.Clone()
	result.Version = delta.Version
	result.Timestamp = delta.Timestamp

	upsert := func(e world.EntitySnapshot) {
		if idx := result.FindEntity(e.ID); idx >= 0 {
			result.Entities[idx] = e.Clone()
		} else {
			result.Entities = append(result.Entities, e.Clone())
		}
	}
	for _, e := range delta.AddedEntities {
		upsert(e)
	}
	for _, e := range delta.ModifiedEntities {
		upsert(e)
	}
	for _, id := range delta.RemovedEntities {
		if idx := result.FindEntity(id); idx >= 0 {
			result.Entities = append(result.Entities[:idx], result.Entities[idx+1:]...)
		}
	}

	for _, td := range delta.TerrainChanges {
		if idx := result.FindChunk(td.ChunkID); idx >= 0 {
			result.TerrainChunks[idx].Modifications = append(result.TerrainChunks[idx].Modifications, td.NewModifications...)
		} else {
			result.TerrainChunks = append(result.TerrainChunks, world.TerrainChunk{
				ChunkID:       td.ChunkID,
				Modifications: append([]world.TerrainModification(nil), td.NewModifications...),
			})
		}
	}

	for _, cd := range delta.ConstructionChanges {
		switch cd.Kind {
		case ConstructionAdded, ConstructionModified:
			if cd.Construction == nil {
				continue
			}
			if idx := result.FindConstruction(cd.ID); idx >= 0 {
				result.Constructions[idx] = cd.Construction.Clone()
			} else {
				result.Constructions = append(result.Constructions, cd.Construction.Clone())
			}
		case ConstructionRemoved:
			if idx := result.FindConstruction(cd.ID); idx >= 0 {
				result.Constructions = append(result.Constructions[:idx], result.Constructions[idx+1:]...)
			}
		}
	}

	return result
}
