package world

import (
	"github.com/google/uuid"

	"github.com/annel0/world-sync/internal/vec"
)

// UserCursor — «живой» указатель удалённого редактора: где он находится,
// какой инструмент держит и что выделил. После дисконнекта запись истекает
// во внешнем репозитории курсоров (TTL), движок её не трогает.
type UserCursor struct {
	UserID       UserID         `json:"user_id"`
	Position     vec.Vec3       `json:"position"`
	Tool         string         `json:"tool,omitempty"`
	Selection    *SelectionData `json:"selection,omitempty"`
	LastActivity uint64         `json:"last_activity"`
}

// SelectionKind — вид выделения.
type SelectionKind string

const (
	SelectionSingle   SelectionKind = "single"
	SelectionMultiple SelectionKind = "multiple"
	SelectionArea     SelectionKind = "area"
	SelectionPath     SelectionKind = "path"
)

// SelectionData описывает текущее выделение курсора.
type SelectionData struct {
	Kind     SelectionKind `json:"kind"`
	Entities []uuid.UUID   `json:"entities,omitempty"`
	Area     *BoundingBox  `json:"area,omitempty"`
}

// BoundingBox — осевой прямоугольный объём в мировых координатах.
type BoundingBox struct {
	Min vec.Vec3 `json:"min"`
	Max vec.Vec3 `json:"max"`
}
