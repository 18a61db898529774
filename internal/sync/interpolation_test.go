package sync

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/world-sync/internal/vec"
)

// fakeClock позволяет детерминированно двигать время интерполяции.
type fakeClock struct{ t time.Time }

func (fc *fakeClock) now() time.Time            { return fc.t }
func (fc *fakeClock) advance(d time.Duration)   { fc.t = fc.t.Add(d) }

func TestInterpolation_FirstSightNoInterpolation(t *testing.T) {
	is := NewInterpolationSystem()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	is.now = clock.now

	e := makeEntity(uuid.New(), vec.Vec3{X: 5, Y: 0, Z: 5})
	is.UpdateEntityTarget(&e)

	st := is.State(e.ID)
	require.NotNil(t, st)
	assert.Equal(t, e.Position, st.CurrentPosition)
	assert.Equal(t, e.Position, st.TargetPosition)
	assert.Equal(t, time.Duration(0), st.Duration)
}

func TestInterpolation_ExactConvergence(t *testing.T) {
	is := NewInterpolationSystem()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	is.now = clock.now

	e := makeEntity(uuid.New(), vec.Vec3{X: 0, Y: 0, Z: 0})
	is.UpdateEntityTarget(&e)

	e.Position = vec.Vec3{X: 10, Y: 0, Z: 0}
	is.UpdateEntityTarget(&e)

	// Несколько промежуточных тиков внутри окна.
	for i := 0; i < 4; i++ {
		clock.advance(20 * time.Millisecond)
		is.UpdateInterpolations(0.02)
	}

	// За пределами окна current обязан совпасть с target бит-в-бит.
	clock.advance(30 * time.Millisecond)
	is.UpdateInterpolations(0.03)

	st := is.State(e.ID)
	require.NotNil(t, st)
	assert.True(t, st.CurrentPosition.Equals(st.TargetPosition), "позиция должна снапнуться точно")
	assert.True(t, st.CurrentRotation.Equals(st.TargetRotation))
	assert.Equal(t, vec.Vec3{X: 10, Y: 0, Z: 0}, st.CurrentPosition)
}

func TestInterpolation_MidWindowMoves(t *testing.T) {
	is := NewInterpolationSystem()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	is.now = clock.now

	e := makeEntity(uuid.New(), vec.Vec3{})
	is.UpdateEntityTarget(&e)

	e.Position = vec.Vec3{X: 100}
	is.UpdateEntityTarget(&e)

	clock.advance(50 * time.Millisecond)
	is.UpdateInterpolations(0.05)

	st := is.State(e.ID)
	require.NotNil(t, st)
	assert.Greater(t, st.CurrentPosition.X, float32(0), "в середине окна движение уже началось")
	assert.Less(t, st.CurrentPosition.X, float32(100), "но цель ещё не достигнута")
}

func TestInterpolation_NewTargetRestartsWindow(t *testing.T) {
	is := NewInterpolationSystem()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	is.now = clock.now

	e := makeEntity(uuid.New(), vec.Vec3{})
	is.UpdateEntityTarget(&e)

	e.Position = vec.Vec3{X: 10}
	is.UpdateEntityTarget(&e)
	clock.advance(150 * time.Millisecond)
	is.UpdateInterpolations(0.15)

	// Свежая цель перезапускает окно.
	e.Position = vec.Vec3{X: 20}
	is.UpdateEntityTarget(&e)
	st := is.State(e.ID)
	assert.Equal(t, InterpolationDelay, st.Duration)
	assert.Equal(t, vec.Vec3{X: 20}, st.TargetPosition)
	assert.Equal(t, vec.Vec3{X: 10}, st.CurrentPosition)
}

func TestInterpolation_Forget(t *testing.T) {
	is := NewInterpolationSystem()
	e := makeEntity(uuid.New(), vec.Vec3{X: 1})
	is.UpdateEntityTarget(&e)
	require.Equal(t, 1, is.Len())

	is.Forget(e.ID)
	assert.Equal(t, 0, is.Len())
	assert.Nil(t, is.State(e.ID))
}

func TestEaseInOutCubic_Endpoints(t *testing.T) {
	assert.Equal(t, float32(0), easeInOutCubic(0))
	assert.Equal(t, float32(1), easeInOutCubic(1))
	assert.InDelta(t, 0.5, easeInOutCubic(0.5), 1e-6)
	// Разгон медленнее линейного в начале.
	assert.Less(t, easeInOutCubic(0.25), float32(0.25))
}

func TestSlerp_NearParallelFallsBackToLerp(t *testing.T) {
	a := vec.QuatIdentity()
	b := vec.Quat{X: 0.0001, Y: 0, Z: 0, W: 0.9999}

	// dot близок к 1 — должен сработать линейный fallback без NaN.
	r := a.Slerp(b, 0.5)
	assert.False(t, anyNaN(r))
}

func TestSlerp_LargeAngle(t *testing.T) {
	a := vec.QuatIdentity()
	b := vec.Quat{X: 0, Y: 0.7071068, Z: 0, W: 0.7071068} // 90° вокруг Y

	r := a.Slerp(b, 1.0)
	assert.False(t, anyNaN(r))
	assert.InDelta(t, float64(b.Y), float64(r.Y), 1e-3)
}

func anyNaN(q vec.Quat) bool {
	return q.X != q.X || q.Y != q.Y || q.Z != q.Z || q.W != q.W
}
