package world

import (
	"bytes"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/world-sync/internal/vec"
)

// UserID идентифицирует редактора мира (игрока, бота или внешний инструмент).
type UserID string

// SystemUser — автор служебных сообщений движка синхронизации.
const SystemUser UserID = "system"

// WorldSnapshot — полное версионированное состояние мира в один момент времени.
// Version монотонно растёт: применение каждого SyncUpdate выставляет её в
// sequence_number этого обновления.
type WorldSnapshot struct {
	Version       uint64             `json:"version"`
	Timestamp     uint64             `json:"timestamp"`
	Entities      []EntitySnapshot   `json:"entities"`
	TerrainChunks []TerrainChunk     `json:"terrain_chunks"`
	Constructions []UserConstruction `json:"constructions"`
}

// EntitySnapshot — состояние одной сущности в снапшоте.
type EntitySnapshot struct {
	ID         uuid.UUID           `json:"id"`
	Position   vec.Vec3            `json:"position"`
	Rotation   vec.Quat            `json:"rotation"`
	EntityType string              `json:"entity_type"`
	Components []ComponentSnapshot `json:"components"`
}

// ComponentSnapshot — сериализованное состояние компонента сущности.
// Содержимое непрозрачно для движка синхронизации.
type ComponentSnapshot struct {
	ComponentType string `json:"component_type"`
	Data          []byte `json:"data"`
}

// TerrainChunk — чанк террейна с append-only списком модификаций.
type TerrainChunk struct {
	ChunkID       vec.ChunkID           `json:"chunk_id"`
	Modifications []TerrainModification `json:"modifications"`
	LastModified  uint64                `json:"last_modified"`
}

// TerrainModKind — вид модификации террейна.
type TerrainModKind string

const (
	TerrainAdd    TerrainModKind = "add"
	TerrainRemove TerrainModKind = "remove"
	TerrainSculpt TerrainModKind = "sculpt"
	TerrainPaint  TerrainModKind = "paint"
	TerrainPlant  TerrainModKind = "plant"
)

// TerrainModification — одна правка террейна от конкретного редактора.
type TerrainModification struct {
	UserID    UserID         `json:"user_id"`
	Position  vec.Vec3       `json:"position"`
	Kind      TerrainModKind `json:"kind"`
	Data      []byte         `json:"data"`
	Timestamp uint64         `json:"timestamp"`
}

// UserConstruction — пользовательская постройка. ModifiedAt используется
// дельта-компрессией как дешёвый признак изменения вместо сравнения Data.
type UserConstruction struct {
	ID               uuid.UUID           `json:"id"`
	UserID           UserID              `json:"user_id"`
	Data             []byte              `json:"data"`
	Timestamp        uint64              `json:"timestamp"`
	ConstructionType string              `json:"construction_type"`
	ModifiedAt       uint64              `json:"modified_at"`
	Components       []ComponentSnapshot `json:"components"`
}

// NewSnapshot создаёт пустой снапшот нулевой версии.
func NewSnapshot() *WorldSnapshot {
	return &WorldSnapshot{
		Version:       0,
		Timestamp:     uint64(time.Now().Unix()),
		Entities:      []EntitySnapshot{},
		TerrainChunks: []TerrainChunk{},
		Constructions: []UserConstruction{},
	}
}

// FindEntity возвращает индекс сущности по id, либо -1.
func (ws *WorldSnapshot) FindEntity(id uuid.UUID) int {
	for i := range ws.Entities {
		if ws.Entities[i].ID == id {
			return i
		}
	}
	return -1
}

// FindConstruction возвращает индекс постройки по id, либо -1.
func (ws *WorldSnapshot) FindConstruction(id uuid.UUID) int {
	for i := range ws.Constructions {
		if ws.Constructions[i].ID == id {
			return i
		}
	}
	return -1
}

// FindChunk возвращает индекс чанка по id, либо -1.
func (ws *WorldSnapshot) FindChunk(id vec.ChunkID) int {
	for i := range ws.TerrainChunks {
		if ws.TerrainChunks[i].ChunkID == id {
			return i
		}
	}
	return -1
}

// Clone возвращает глубокую копию снапшота. Дельта-компрессия хранит историю
// снапшотов, поэтому копия не должна разделять слайсы с оригиналом.
func (ws *WorldSnapshot) Clone() *WorldSnapshot {
	clone := &WorldSnapshot{
		Version:       ws.Version,
		Timestamp:     ws.Timestamp,
		Entities:      make([]EntitySnapshot, len(ws.Entities)),
		TerrainChunks: make([]TerrainChunk, len(ws.TerrainChunks)),
		Constructions: make([]UserConstruction, len(ws.Constructions)),
	}
	for i, e := range ws.Entities {
		clone.Entities[i] = e.Clone()
	}
	for i, c := range ws.TerrainChunks {
		chunk := c
		chunk.Modifications = append([]TerrainModification(nil), c.Modifications...)
		clone.TerrainChunks[i] = chunk
	}
	for i, c := range ws.Constructions {
		clone.Constructions[i] = c.Clone()
	}
	return clone
}

// Clone возвращает глубокую копию сущности.
func (es EntitySnapshot) Clone() EntitySnapshot {
	c := es
	c.Components = cloneComponents(es.Components)
	return c
}

// Clone возвращает глубокую копию постройки.
func (uc UserConstruction) Clone() UserConstruction {
	c := uc
	c.Data = append([]byte(nil), uc.Data...)
	c.Components = cloneComponents(uc.Components)
	return c
}

func cloneComponents(cs []ComponentSnapshot) []ComponentSnapshot {
	if cs == nil {
		return nil
	}
	out := make([]ComponentSnapshot, len(cs))
	for i, c := range cs {
		out[i] = ComponentSnapshot{
			ComponentType: c.ComponentType,
			Data:          append([]byte(nil), c.Data...),
		}
	}
	return out
}

// Equal сравнивает сущности полным структурным сравнением —
// именно так дельта-компрессия решает, попала ли сущность в modified.
func (es EntitySnapshot) Equal(other EntitySnapshot) bool {
	if es.ID != other.ID ||
		!es.Position.Equals(other.Position) ||
		!es.Rotation.Equals(other.Rotation) ||
		es.EntityType != other.EntityType ||
		len(es.Components) != len(other.Components) {
		return false
	}
	for i := range es.Components {
		if es.Components[i].ComponentType != other.Components[i].ComponentType ||
			!bytes.Equal(es.Components[i].Data, other.Components[i].Data) {
			return false
		}
	}
	return true
}
