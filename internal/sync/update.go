package sync

import (
	"time"

	"github.com/google/uuid"

	"github.com/annel0/world-sync/internal/world"
)

// UpdateKind — закрытое перечисление видов SyncUpdate.
// Каждый вид обрабатывается явно; неизвестный вид — ошибка применения.
type UpdateKind string

const (
	KindEntityUpdate       UpdateKind = "entity_update"
	KindConstructionAdd    UpdateKind = "construction_add"
	KindConstructionModify UpdateKind = "construction_modify"
	KindConstructionRemove UpdateKind = "construction_remove"
	KindTerrainModify      UpdateKind = "terrain_modify"
	KindWorldStateSync     UpdateKind = "world_state_sync"
)

// SyncUpdate — одна атомарная правка мира от конкретного автора.
// Ровно одно payload-поле заполнено в соответствии с Kind (tagged union).
type SyncUpdate struct {
	ID             uint64       `json:"id"`
	Timestamp      uint64       `json:"timestamp"`
	Kind           UpdateKind   `json:"kind"`
	Author         world.UserID `json:"author"`
	SequenceNumber uint64       `json:"sequence_number"`
	Dependencies   []uint64     `json:"dependencies,omitempty"`

	Entity              *world.EntitySnapshot      `json:"entity,omitempty"`
	Construction        *world.UserConstruction    `json:"construction,omitempty"`
	ConstructionID      *uuid.UUID                 `json:"construction_id,omitempty"`
	ConstructionChanges map[string]string          `json:"construction_changes,omitempty"`
	Terrain             *world.TerrainModification `json:"terrain,omitempty"`
	Snapshot            *world.WorldSnapshot       `json:"snapshot,omitempty"`
}

// ConflictType — закрытое перечисление видов конфликтов.
type ConflictType string

const (
	ConflictSimultaneousEdit   ConflictType = "simultaneous_edit"
	ConflictDependencyViolation ConflictType = "dependency_violation"
	ConflictPermission         ConflictType = "permission_conflict"
	ConflictStateInconsistency ConflictType = "state_inconsistency"
)

// ConflictEntry — пара обновлений, требующая согласования.
type ConflictEntry struct {
	UpdateA   SyncUpdate
	UpdateB   SyncUpdate
	Type      ConflictType
	Timestamp time.Time
}

// SyncState — служебное состояние движка синхронизации.
type SyncState struct {
	Version          uint64                            `json:"version"`
	LastSyncTime     uint64                            `json:"last_sync_time"`
	ConfirmedUpdates []uint64                          `json:"confirmed_updates"`
	UserCursors      map[world.UserID]world.UserCursor `json:"user_cursors"`
}

// SyncStats — моментальная сводка движка для мониторинга и REST API.
type SyncStats struct {
	Version           uint64  `json:"version"`
	PendingUpdates    int     `json:"pending_updates"`
	ConfirmedUpdates  int     `json:"confirmed_updates"`
	ActiveUsers       int     `json:"active_users"`
	ConflictsBuffered int     `json:"conflicts_buffered"`
	CompressionRatio  float32 `json:"compression_ratio"`
}
