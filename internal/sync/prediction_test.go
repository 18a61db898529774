package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/world-sync/internal/vec"
	"github.com/annel0/world-sync/internal/world"
)

func cursorWithTool(user world.UserID, tool string) world.UserCursor {
	return world.UserCursor{
		UserID:   user,
		Position: vec.Vec3{X: 1, Y: 2, Z: 3},
		Tool:     tool,
	}
}

func TestPredict_ToolHeuristics(t *testing.T) {
	cases := []struct {
		tool        string
		action      string
		probability float32
	}{
		{"build", "place_construction", 0.8},
		{"terraform", "modify_terrain", 0.75},
		{"", "move", 0.6},
		{"paint", "idle", 0.5},
	}

	for _, tc := range cases {
		t.Run(tc.action, func(t *testing.T) {
			ps := NewPredictionSystem()
			cursor := cursorWithTool("alice", tc.tool)
			p := ps.PredictUserAction("alice", &cursor)
			require.NotNil(t, p)
			assert.Equal(t, tc.action, p.ActionType)
			assert.Equal(t, tc.probability, p.Probability)
		})
	}
}

func TestPredict_CachedWithinWindow(t *testing.T) {
	ps := NewPredictionSystem()
	clock := &fakeClock{t: time.Unix(2000, 0)}
	ps.now = clock.now

	cursor := cursorWithTool("bob", "build")
	first := ps.PredictUserAction("bob", &cursor)
	require.Equal(t, "place_construction", first.ActionType)

	// Инструмент сменился, но окно ещё не истекло — отдаётся кэш.
	cursor.Tool = "terraform"
	clock.advance(50 * time.Millisecond)
	cached := ps.PredictUserAction("bob", &cursor)
	assert.Equal(t, "place_construction", cached.ActionType)

	// После окна — пересчёт.
	clock.advance(100 * time.Millisecond)
	fresh := ps.PredictUserAction("bob", &cursor)
	assert.Equal(t, "modify_terrain", fresh.ActionType)
}

func TestValidatePrediction(t *testing.T) {
	ps := NewPredictionSystem()

	// Без предсказания валидация всегда false.
	assert.False(t, ps.ValidatePrediction("carol", "move"))

	cursor := cursorWithTool("carol", "build")
	ps.PredictUserAction("carol", &cursor)

	assert.True(t, ps.ValidatePrediction("carol", "place_construction"))
	assert.False(t, ps.ValidatePrediction("carol", "modify_terrain"))
}
