package sync

import (
	"time"

	"github.com/annel0/world-sync/internal/vec"
	"github.com/annel0/world-sync/internal/world"
)

// PredictionWindow — время жизни закэшированного предсказания.
const PredictionWindow = 100 * time.Millisecond

// PredictedAction — наиболее вероятное следующее действие пользователя.
// Предсказание чисто advisory: используется для сглаживания UI, откатов нет.
type PredictedAction struct {
	ActionType  string            `json:"action_type"`
	Parameters  map[string]string `json:"parameters"`
	Probability float32           `json:"probability"`
}

// PredictedState — закэшированное предсказание для одного пользователя.
type PredictedState struct {
	UserID            world.UserID
	PredictedPosition vec.Vec3
	PredictedActions  []PredictedAction
	Confidence        float32
	Timestamp         time.Time
}

// PredictionSystem предсказывает следующее действие пользователя по
// экипированному инструменту. Таблица эвристик статическая.
type PredictionSystem struct {
	predictedStates map[world.UserID]*PredictedState
	window          time.Duration
	correctionThreshold float32
	now             func() time.Time
}

// NewPredictionSystem создаёт систему предсказаний со 100 мс окном.
func NewPredictionSystem() *PredictionSystem {
	return &PredictionSystem{
		predictedStates: make(map[world.UserID]*PredictedState),
		window:          PredictionWindow,
		correctionThreshold: 5.0,
		now:             time.Now,
	}
}

// PredictUserAction возвращает предсказание для пользователя. Если кэш
// моложе окна — отдаёт его, иначе пересчитывает по текущему курсору.
func (ps *PredictionSystem) PredictUserAction(userID world.UserID, cursor *world.UserCursor) *PredictedAction {
	now := ps.now()

	if st, ok := ps.predictedStates[userID]; ok {
		if now.Sub(st.Timestamp) < ps.window && len(st.PredictedActions) > 0 {
			action := st.PredictedActions[0]
			return &action
		}
	}

	prediction := analyzeUserPattern(cursor)

	ps.predictedStates[userID] = &PredictedState{
		UserID:            userID,
		PredictedPosition: cursor.Position,
		PredictedActions:  []PredictedAction{prediction},
		Confidence:        0.7,
		Timestamp:         now,
	}

	action := prediction
	return &action
}

// analyzeUserPattern — статическая таблица: инструмент → действие + вероятность.
func analyzeUserPattern(cursor *world.UserCursor) PredictedAction {
	if cursor.Tool == "" {
		return PredictedAction{ActionType: "move", Parameters: map[string]string{}, Probability: 0.6}
	}
	switch cursor.Tool {
	case "build":
		return PredictedAction{ActionType: "place_construction", Parameters: map[string]string{}, Probability: 0.8}
	case "terraform":
		return PredictedAction{ActionType: "modify_terrain", Parameters: map[string]string{}, Probability: 0.75}
	default:
		return PredictedAction{ActionType: "idle", Parameters: map[string]string{}, Probability: 0.5}
	}
}

// ValidatePrediction сравнивает фактическое действие с последним
// закэшированным предсказанием. Состояние не корректируется.
func (ps *PredictionSystem) ValidatePrediction(userID world.UserID, actualAction string) bool {
	st, ok := ps.predictedStates[userID]
	if !ok || len(st.PredictedActions) == 0 {
		return false
	}
	return st.PredictedActions[0].ActionType == actualAction
}
