package sync

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/world-sync/internal/vec"
	"github.com/annel0/world-sync/internal/world"
)

// InterpolationDelay — окно интерполяции удалённых сущностей.
const InterpolationDelay = 100 * time.Millisecond

// InterpolatedEntity — пара (current, target) для плавного догоняния
// удалённой сущности её целевым состоянием.
type InterpolatedEntity struct {
	ID                 uuid.UUID
	CurrentPosition    vec.Vec3
	TargetPosition     vec.Vec3
	CurrentRotation    vec.Quat
	TargetRotation     vec.Quat
	InterpolationStart time.Time
	Duration           time.Duration
}

// InterpolationSystem сглаживает позиции и повороты удалённых сущностей.
// Позиция идёт по ease-in-out-cubic, поворот — slerp; по истечении окна
// current становится ровно target, без остаточного дрейфа.
type InterpolationSystem struct {
	states map[uuid.UUID]*InterpolatedEntity
	delay  time.Duration
	now    func() time.Time // подменяется в тестах
}

// NewInterpolationSystem создаёт систему со стандартным окном 100 мс.
func NewInterpolationSystem() *InterpolationSystem {
	return &InterpolationSystem{
		states: make(map[uuid.UUID]*InterpolatedEntity),
		delay:  InterpolationDelay,
		now:    time.Now,
	}
}

// UpdateEntityTarget выставляет новую цель для сущности и перезапускает окно.
// Первая встреча сущности не интерполируется: current = target сразу.
func (is *InterpolationSystem) UpdateEntityTarget(entity *world.EntitySnapshot) {
	now := is.now()

	if st, ok := is.states[entity.ID]; ok {
		st.TargetPosition = entity.Position
		st.TargetRotation = entity.Rotation
		st.InterpolationStart = now
		st.Duration = is.delay
		return
	}

	is.states[entity.ID] = &InterpolatedEntity{
		ID:                 entity.ID,
		CurrentPosition:    entity.Position,
		TargetPosition:     entity.Position,
		CurrentRotation:    entity.Rotation,
		TargetRotation:     entity.Rotation,
		InterpolationStart: now,
		Duration:           0,
	}
}

// UpdateInterpolations продвигает все активные интерполяции.
// После elapsed >= duration current снапается в target бит-в-бит.
func (is *InterpolationSystem) UpdateInterpolations(deltaTime float32) {
	now := is.now()

	for _, st := range is.states {
		elapsed := now.Sub(st.InterpolationStart)
		if elapsed < st.Duration {
			t := float32(elapsed.Seconds() / st.Duration.Seconds())
			eased := easeInOutCubic(t)

			st.CurrentPosition = st.CurrentPosition.Lerp(st.TargetPosition, eased)
			st.CurrentRotation = st.CurrentRotation.Slerp(st.TargetRotation, eased)
		} else {
			st.CurrentPosition = st.TargetPosition
			st.CurrentRotation = st.TargetRotation
		}
	}
}

// State возвращает интерполированное состояние сущности, либо nil.
func (is *InterpolationSystem) State(id uuid.UUID) *InterpolatedEntity {
	return is.states[id]
}

// Forget убирает сущность из интерполяции (после удаления из мира).
func (is *InterpolationSystem) Forget(id uuid.UUID) {
	delete(is.states, id)
}

// Len возвращает число отслеживаемых сущностей.
func (is *InterpolationSystem) Len() int { return len(is.states) }

// easeInOutCubic — кубическая ease-кривая: медленный разгон, медленное торможение.
func easeInOutCubic(t float32) float32 {
	if t < 0.5 {
		return 4.0 * t * t * t
	}
	return 1.0 - float32(math.Pow(float64(-2.0*t+2.0), 3))/2.0
}
