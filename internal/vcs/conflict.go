package vcs

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/world-sync/internal/world"
)

// ResolutionStrategy — закрытое перечисление способов разрешения конфликта.
type ResolutionStrategy string

const (
	ResolveUseLocal  ResolutionStrategy = "use_local"
	ResolveUseRemote ResolutionStrategy = "use_remote"
	ResolveUseBase   ResolutionStrategy = "use_base"
	ResolveManual    ResolutionStrategy = "manual"
	ResolveAutomated ResolutionStrategy = "automated"
	ResolveSkip      ResolutionStrategy = "skip"
)

// ConflictResolution — конфликт слияния как данные первого класса.
// local — состояние целевой ветки, remote — вливаемой.
type ConflictResolution struct {
	ConflictID         string             `json:"conflict_id"`
	Location           WorldLocation      `json:"location"`
	ConflictingCommits []string           `json:"conflicting_commits,omitempty"`
	BaseState          []byte             `json:"base_state,omitempty"`
	LocalState         []byte             `json:"local_state"`
	RemoteState        []byte             `json:"remote_state"`
	Strategy           ResolutionStrategy `json:"resolution_strategy"`
	ResolvedState      []byte             `json:"resolved_state,omitempty"`
	ResolvedBy         world.UserID       `json:"resolved_by,omitempty"`
	ResolvedAt         float64            `json:"resolved_at,omitempty"`
}

// NewConflict создаёт неразрешённый конфликт (стратегия по умолчанию — Manual).
func NewConflict(location WorldLocation, localState, remoteState []byte) *ConflictResolution {
	return &ConflictResolution{
		ConflictID:  fmt.Sprintf("conflict_%s", uuid.NewString()),
		Location:    location,
		LocalState:  localState,
		RemoteState: remoteState,
		Strategy:    ResolveManual,
	}
}

// Resolve применяет стратегию без внешнего состояния.
// Manual таким способом недопустим — нужен ResolveWithState.
func (cr *ConflictResolution) Resolve(strategy ResolutionStrategy, resolvedBy world.UserID) error {
	return cr.resolve(strategy, resolvedBy, nil)
}

// ResolveWithState разрешает конфликт явно поданным состоянием (Manual).
func (cr *ConflictResolution) ResolveWithState(resolvedBy world.UserID, state []byte) error {
	return cr.resolve(ResolveManual, resolvedBy, state)
}

func (cr *ConflictResolution) resolve(strategy ResolutionStrategy, resolvedBy world.UserID, manualState []byte) error {
	cr.Strategy = strategy
	cr.ResolvedBy = resolvedBy
	cr.ResolvedAt = float64(time.Now().UnixNano()) / 1e9

	switch strategy {
	case ResolveUseLocal:
		cr.ResolvedState = append([]byte(nil), cr.LocalState...)
	case ResolveUseRemote:
		cr.ResolvedState = append([]byte(nil), cr.RemoteState...)
	case ResolveUseBase:
		if cr.BaseState != nil {
			cr.ResolvedState = append([]byte(nil), cr.BaseState...)
		} else {
			cr.ResolvedState = append([]byte(nil), cr.LocalState...)
		}
	case ResolveManual:
		if manualState == nil {
			return fmt.Errorf("%w: manual-разрешение требует явного resolved_state", world.ErrInvalidState)
		}
		cr.ResolvedState = append([]byte(nil), manualState...)
	case ResolveAutomated:
		cr.ResolvedState = cr.autoResolve()
	case ResolveSkip:
		// Пустое состояние — правка пропускается.
		cr.ResolvedState = []byte{}
	default:
		return fmt.Errorf("%w: неизвестная стратегия %q", world.ErrInvalidState, strategy)
	}
	return nil
}

// autoResolve: совпадающие состояния — тривиально; если одна из сторон не
// отошла от базы — берём другую; иначе предпочитаем remote как более свежее.
func (cr *ConflictResolution) autoResolve() []byte {
	if bytes.Equal(cr.LocalState, cr.RemoteState) {
		return append([]byte(nil), cr.LocalState...)
	}
	if cr.BaseState != nil {
		if bytes.Equal(cr.LocalState, cr.BaseState) {
			return append([]byte(nil), cr.RemoteState...)
		}
		if bytes.Equal(cr.RemoteState, cr.BaseState) {
			return append([]byte(nil), cr.LocalState...)
		}
	}
	return append([]byte(nil), cr.RemoteState...)
}

// IsResolved — true после успешного Resolve/ResolveWithState.
func (cr *ConflictResolution) IsResolved() bool { return cr.ResolvedAt > 0 }
