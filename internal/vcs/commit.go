package vcs

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/world-sync/internal/vec"
	"github.com/annel0/world-sync/internal/world"
)

// ChangeType — закрытое перечисление видов правок мира.
type ChangeType string

const (
	ChangeBlockPlaced        ChangeType = "block_placed"
	ChangeBlockRemoved       ChangeType = "block_removed"
	ChangeBlockModified      ChangeType = "block_modified"
	ChangeStructureBuilt     ChangeType = "structure_built"
	ChangeStructureDestroyed ChangeType = "structure_destroyed"
	ChangeTerrainModified    ChangeType = "terrain_modified"
	ChangeEntitySpawned      ChangeType = "entity_spawned"
	ChangeEntityRemoved      ChangeType = "entity_removed"
	ChangeEntityModified     ChangeType = "entity_modified"
	ChangeScriptAdded        ChangeType = "script_added"
	ChangeScriptModified     ChangeType = "script_modified"
	ChangeScriptRemoved      ChangeType = "script_removed"
	ChangeAssetAdded         ChangeType = "asset_added"
	ChangeAssetModified      ChangeType = "asset_modified"
	ChangeAssetRemoved       ChangeType = "asset_removed"
	ChangeCustom             ChangeType = "custom"
)

// WorldBounds — целочисленный AABB для площадных правок.
type WorldBounds struct {
	Min vec.Vec3i `json:"min"`
	Max vec.Vec3i `json:"max"`
}

// Overlaps проверяет пересечение двух объёмов.
func (wb WorldBounds) Overlaps(other WorldBounds) bool {
	return wb.Max.X >= other.Min.X && wb.Min.X <= other.Max.X &&
		wb.Max.Y >= other.Min.Y && wb.Min.Y <= other.Max.Y &&
		wb.Max.Z >= other.Min.Z && wb.Min.Z <= other.Max.Z
}

// WorldLocation — адрес правки: чанк + позиция, опционально область.
type WorldLocation struct {
	ChunkID  string       `json:"chunk_id"`
	Position vec.Vec3i    `json:"position"`
	Area     *WorldBounds `json:"area,omitempty"`
}

// Overlaps: при наличии областей сравниваются объёмы, иначе — точные позиции.
func (wl WorldLocation) Overlaps(other WorldLocation) bool {
	if wl.Area != nil && other.Area != nil {
		return wl.Area.Overlaps(*other.Area)
	}
	return wl.Position == other.Position
}

// WorldChange — одна атомарная правка мира, единица истории.
// before_state nil означает «до правки объекта не существовало».
type WorldChange struct {
	ID          string            `json:"id"`
	ChangeType  ChangeType        `json:"change_type"`
	Location    WorldLocation     `json:"location"`
	BeforeState []byte            `json:"before_state,omitempty"`
	AfterState  []byte            `json:"after_state"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewBlockChange создаёт точечную правку.
func NewBlockChange(changeType ChangeType, chunkID string, position vec.Vec3i, before, after []byte) WorldChange {
	return WorldChange{
		ID:          fmt.Sprintf("change_%s", uuid.NewString()),
		ChangeType:  changeType,
		Location:    WorldLocation{ChunkID: chunkID, Position: position},
		BeforeState: before,
		AfterState:  after,
	}
}

// NewAreaChange создаёт площадную правку; позиция — минимум области.
func NewAreaChange(changeType ChangeType, chunkID string, area WorldBounds, before, after []byte) WorldChange {
	return WorldChange{
		ID:          fmt.Sprintf("change_%s", uuid.NewString()),
		ChangeType:  changeType,
		Location:    WorldLocation{ChunkID: chunkID, Position: area.Min, Area: &area},
		BeforeState: before,
		AfterState:  after,
	}
}

// WithMetadata дописывает метаданные правки.
func (wc WorldChange) WithMetadata(key, value string) WorldChange {
	if wc.Metadata == nil {
		wc.Metadata = make(map[string]string)
	}
	wc.Metadata[key] = value
	return wc
}

// Commit — узел DAG истории. У обычного коммита один родитель,
// у merge-коммита два, у корневого — ни одного.
type Commit struct {
	ID        string        `json:"id"`
	ParentIDs []string      `json:"parent_ids"`
	Author    world.UserID  `json:"author"`
	Timestamp float64       `json:"timestamp"`
	Message   string        `json:"message"`
	Changes   []WorldChange `json:"changes"`
	Branch    string        `json:"branch"`
	Tags      []string      `json:"tags,omitempty"`
	MergeBase string        `json:"merge_base,omitempty"`
}

// NewCommit создаёт коммит с уникальным id и текущим timestamp.
func NewCommit(author world.UserID, message, branch string) *Commit {
	return &Commit{
		ID:        fmt.Sprintf("commit_%s", uuid.NewString()),
		ParentIDs: []string{},
		Author:    author,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Message:   message,
		Changes:   []WorldChange{},
		Branch:    branch,
	}
}

// WithParent дописывает родителя (ручная сборка истории, merge-коммиты).
func (c *Commit) WithParent(parentID string) *Commit {
	c.ParentIDs = append(c.ParentIDs, parentID)
	return c
}

// AddTag помечает коммит тегом. Тегированные коммиты не удаляются GC.
func (c *Commit) AddTag(tag string) {
	for _, t := range c.Tags {
		if t == tag {
			return
		}
	}
	c.Tags = append(c.Tags, tag)
}

// IsMergeCommit — true при более чем одном родителе.
func (c *Commit) IsMergeCommit() bool { return len(c.ParentIDs) > 1 }

// AffectsLocation — затрагивает ли коммит указанное место мира.
func (c *Commit) AffectsLocation(loc WorldLocation) bool {
	for _, change := range c.Changes {
		if change.Location.ChunkID == loc.ChunkID && change.Location.Overlaps(loc) {
			return true
		}
	}
	return false
}

// ShortID — первые 8 символов id для логов.
func (c *Commit) ShortID() string {
	const prefix = len("commit_")
	if len(c.ID) >= prefix+8 {
		return c.ID[prefix : prefix+8]
	}
	return c.ID
}
