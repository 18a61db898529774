package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"github.com/annel0/world-sync/internal/eventbus"
	"github.com/annel0/world-sync/internal/logging"
	"github.com/annel0/world-sync/internal/network"
	"github.com/annel0/world-sync/internal/vec"
	"github.com/annel0/world-sync/internal/world"
)

// FullSyncInterval — период принудительной полной рассылки снапшота.
const FullSyncInterval = 10 * time.Second

// Engine — движок синхронизации мира. Владеет очередью обновлений,
// буфером конфликтов и оркестрирует full/delta sync. Снапшот мира
// внедряется снаружи через SharedSnapshot; транспорт — через network.Sender.
// Движок тикается извне: Update(dt) вызывается хостом раз в кадр/интервал.
type Engine struct {
	mu gosync.Mutex

	snapshot *world.SharedSnapshot
	sender   network.Sender
	bus      eventbus.EventBus

	updateQueue    []SyncUpdate
	conflictBuffer []ConflictEntry

	syncState SyncState

	lastFullSync     time.Time
	fullSyncInterval time.Duration

	delta         *DeltaCompression
	prediction    *PredictionSystem
	interpolation *InterpolationSystem

	metrics *Metrics
	now     func() time.Time
	seq     uint64
}

// NewEngine создаёт движок поверх внедрённого снапшота.
// sender и bus могут быть nil: движок тогда работает локально без рассылки.
func NewEngine(snapshot *world.SharedSnapshot, sender network.Sender, bus eventbus.EventBus) *Engine {
	if snapshot == nil {
		snapshot = world.NewSharedSnapshot(nil)
	}
	return &Engine{
		snapshot: snapshot,
		sender:   sender,
		bus:      bus,
		syncState: SyncState{
			LastSyncTime: uint64(time.Now().Unix()),
			UserCursors:  make(map[world.UserID]world.UserCursor),
		},
		lastFullSync:     time.Now(),
		fullSyncInterval: FullSyncInterval,
		delta:            NewDeltaCompression(),
		prediction:       NewPredictionSystem(),
		interpolation:    NewInterpolationSystem(),
		now:              time.Now,
	}
}

// SetSender подключает транспорт после создания (lazy wiring при старте).
func (e *Engine) SetSender(sender network.Sender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sender = sender
}

// SetFullSyncInterval переопределяет интервал полной рассылки снапшота.
func (e *Engine) SetFullSyncInterval(d time.Duration) {
	if d > 0 {
		e.fullSyncInterval = d
	}
}

// SetMetrics подключает Prometheus-метрики движка.
func (e *Engine) SetMetrics(m *Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// AddSyncUpdate ставит обновление в очередь и сразу рассылает текущее
// состояние мира пирам. Автор исключается из рассылки (без эха).
func (e *Engine) AddSyncUpdate(update SyncUpdate) error {
	e.mu.Lock()
	e.updateQueue = append(e.updateQueue, update)
	sender := e.sender
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.UpdatesEnqueued.Inc()
	}
	e.publishEvent(eventbus.EventWorldUpdate, update)

	if sender == nil {
		return nil
	}

	payload, err := json.Marshal(e.snapshot.CloneLocked())
	if err != nil {
		return fmt.Errorf("%w: снапшот не сериализовался: %v", world.ErrSerialization, err)
	}
	msg := network.NewMessage(update.Author, network.MsgWorldChange, payload)
	author := update.Author
	if err := sender.BroadcastMessage(msg, &author); err != nil {
		logging.Warn("⚠️ Engine: broadcast обновления %d не удался: %v", update.ID, err)
	}
	return nil
}

// nextSeq выдаёт следующий порядковый номер для локально порождённых обновлений.
func (e *Engine) nextSeq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return e.seq
}

// BroadcastConstructionUpdate ставит в очередь добавление постройки
// от имени её автора. Порядковый номер выдаёт движок.
func (e *Engine) BroadcastConstructionUpdate(author world.UserID, construction *world.UserConstruction) error {
	seq := e.nextSeq()
	return e.AddSyncUpdate(SyncUpdate{
		ID:             seq,
		Timestamp:      uint64(e.now().Unix()),
		Kind:           KindConstructionAdd,
		Author:         author,
		SequenceNumber: seq,
		Construction:   construction,
	})
}

// BroadcastTerrainUpdate ставит в очередь правку террейна от имени автора.
func (e *Engine) BroadcastTerrainUpdate(author world.UserID, mod *world.TerrainModification) error {
	seq := e.nextSeq()
	return e.AddSyncUpdate(SyncUpdate{
		ID:             seq,
		Timestamp:      uint64(e.now().Unix()),
		Kind:           KindTerrainModify,
		Author:         author,
		SequenceNumber: seq,
		Terrain:        mod,
	})
}

// AddConflict кладёт пару конфликтующих обновлений в буфер.
// Разрешение произойдёт на ближайшем тике.
func (e *Engine) AddConflict(entry ConflictEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = e.now()
	}
	e.conflictBuffer = append(e.conflictBuffer, entry)
}

// Update — входная точка тика. Порядок фиксирован:
// очередь → интерполяция → full либо delta sync → конфликты.
func (e *Engine) Update(deltaTime float32) error {
	if err := e.processPendingUpdates(); err != nil {
		return err
	}

	e.interpolation.UpdateInterpolations(deltaTime)

	now := e.now()
	if now.Sub(e.lastFullSync) > e.fullSyncInterval {
		if err := e.performFullSync(); err != nil {
			return err
		}
		e.lastFullSync = now
	} else {
		if err := e.performDeltaSync(); err != nil {
			return err
		}
	}

	return e.resolveConflicts()
}

// Interpolation возвращает систему интерполяции (для рендерера).
func (e *Engine) Interpolation() *InterpolationSystem { return e.interpolation }

// Snapshot возвращает разделяемую ячейку снапшота мира.
func (e *Engine) Snapshot() *world.SharedSnapshot { return e.snapshot }

// Prediction возвращает систему предсказаний.
func (e *Engine) Prediction() *PredictionSystem { return e.prediction }

// processPendingUpdates применяет очередь в FIFO-порядке. Ошибка одного
// обновления не прерывает пакет: автор уведомляется, остальные применяются.
func (e *Engine) processPendingUpdates() error {
	e.mu.Lock()
	queue := e.updateQueue
	e.updateQueue = nil
	e.mu.Unlock()

	for _, update := range queue {
		if err := e.applyUpdate(&update); err != nil {
			logging.Error("❌ Engine: обновление %d не применилось: %v", update.ID, err)
			if e.metrics != nil {
				e.metrics.UpdatesFailed.Inc()
			}
			if ferr := e.handleUpdateFailure(update); ferr != nil {
				logging.Warn("⚠️ Engine: автор %s не уведомлён об отказе: %v", update.Author, ferr)
			}
			continue
		}
		e.mu.Lock()
		e.syncState.ConfirmedUpdates = append(e.syncState.ConfirmedUpdates, update.ID)
		e.syncState.Version = update.SequenceNumber
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.UpdatesApplied.Inc()
		}
	}
	return nil
}

// applyUpdate — исчерпывающий switch по виду обновления.
// После применения версия и timestamp снапшота берутся из обновления.
func (e *Engine) applyUpdate(update *SyncUpdate) error {
	var applyErr error

	e.snapshot.Write(func(ws *world.WorldSnapshot) {
		switch update.Kind {
		case KindEntityUpdate:
			if update.Entity == nil {
				applyErr = fmt.Errorf("%w: entity_update без сущности", world.ErrApplyFailed)
				return
			}
			if idx := ws.FindEntity(update.Entity.ID); idx >= 0 {
				ws.Entities[idx] = update.Entity.Clone()
			} else {
				ws.Entities = append(ws.Entities, update.Entity.Clone())
			}
			e.interpolation.UpdateEntityTarget(update.Entity)

		case KindConstructionAdd:
			if update.Construction == nil {
				applyErr = fmt.Errorf("%w: construction_add без постройки", world.ErrApplyFailed)
				return
			}
			ws.Constructions = append(ws.Constructions, update.Construction.Clone())

		case KindConstructionModify:
			if update.ConstructionID == nil {
				applyErr = fmt.Errorf("%w: construction_modify без id", world.ErrApplyFailed)
				return
			}
			idx := ws.FindConstruction(*update.ConstructionID)
			if idx < 0 {
				applyErr = fmt.Errorf("%w: постройка %s отсутствует", world.ErrApplyFailed, update.ConstructionID)
				return
			}
			// Изменения компонентов непрозрачны; фиксируем факт правки.
			ws.Constructions[idx].ModifiedAt = uint64(e.now().Unix())

		case KindConstructionRemove:
			if update.ConstructionID == nil {
				applyErr = fmt.Errorf("%w: construction_remove без id", world.ErrApplyFailed)
				return
			}
			idx := ws.FindConstruction(*update.ConstructionID)
			if idx < 0 {
				applyErr = fmt.Errorf("%w: постройка %s отсутствует", world.ErrApplyFailed, update.ConstructionID)
				return
			}
			ws.Constructions = append(ws.Constructions[:idx], ws.Constructions[idx+1:]...)

		case KindTerrainModify:
			if update.Terrain == nil {
				applyErr = fmt.Errorf("%w: terrain_modify без модификации", world.ErrApplyFailed)
				return
			}
			chunkID := vec.ChunkForPosition(update.Terrain.Position)
			idx := ws.FindChunk(chunkID)
			if idx < 0 {
				applyErr = fmt.Errorf("%w: чанк %s не загружен", world.ErrApplyFailed, chunkID)
				return
			}
			ws.TerrainChunks[idx].Modifications = append(ws.TerrainChunks[idx].Modifications, *update.Terrain)
			ws.TerrainChunks[idx].LastModified = update.Timestamp

		case KindWorldStateSync:
			if update.Snapshot == nil {
				applyErr = fmt.Errorf("%w: world_state_sync без снапшота", world.ErrApplyFailed)
				return
			}
			*ws = *update.Snapshot.Clone()

		default:
			applyErr = fmt.Errorf("%w: неизвестный вид обновления %q", world.ErrApplyFailed, update.Kind)
			return
		}

		ws.Version = update.SequenceNumber
		ws.Timestamp = update.Timestamp
	})

	return applyErr
}

// handleUpdateFailure уведомляет автора о неприменившемся обновлении.
// Остальные участники ничего не видят.
func (e *Engine) handleUpdateFailure(failed SyncUpdate) error {
	e.publishEvent(eventbus.EventUpdateFailure, failed)

	e.mu.Lock()
	sender := e.sender
	e.mu.Unlock()
	if sender == nil {
		return nil
	}

	payload := []byte(fmt.Sprintf("failed to apply update %d", failed.ID))
	msg := network.NewMessage(world.SystemUser, network.MsgSystemCommand, payload).
		WithPriority(network.PriorityHigh)
	return sender.SendMessageToUser(failed.Author, msg)
}

// performFullSync рассылает полный снапшот всем пирам.
func (e *Engine) performFullSync() error {
	e.mu.Lock()
	sender := e.sender
	e.mu.Unlock()

	snapshot := e.snapshot.CloneLocked()
	e.publishEvent(eventbus.EventFullSync, snapshot.Version)

	if e.metrics != nil {
		e.metrics.FullSyncs.Inc()
	}
	if sender == nil {
		return nil
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%w: полный снапшот не сериализовался: %v", world.ErrSerialization, err)
	}
	msg := network.NewMessage(world.SystemUser, network.MsgWorldChange, payload).
		WithPriority(network.PriorityHigh)
	if err := sender.BroadcastMessage(msg, nil); err != nil {
		return err
	}
	logging.Info("📤 Engine: полный снапшот v%d разослан (%d байт)", snapshot.Version, len(payload))
	return nil
}

// performDeltaSync считает дельту против последнего запомненного снапшота
// и дописывает текущий снапшот в историю компрессора.
func (e *Engine) performDeltaSync() error {
	current := e.snapshot.CloneLocked()

	if previous := e.delta.LastSnapshot(); previous != nil {
		compressed, err := e.delta.CompressUpdate(current, previous)
		if err != nil {
			return fmt.Errorf("%w: дельта не сжалась: %v", world.ErrSerialization, err)
		}
		e.publishEvent(eventbus.EventDeltaSync, current.Version)
		if e.metrics != nil {
			e.metrics.DeltaSyncs.Inc()
			e.metrics.DeltaBytes.Add(float64(len(compressed)))
			e.metrics.CompressionRatio.Set(float64(e.delta.CompressionRatio()))
		}

		e.mu.Lock()
		sender := e.sender
		e.mu.Unlock()
		if sender != nil && current.Version != previous.Version {
			msg := network.NewMessage(world.SystemUser, network.MsgWorldChange, compressed)
			compression := network.CompressionGzip
			msg.Compression = &compression
			if err := sender.BroadcastMessage(msg, nil); err != nil {
				logging.Warn("⚠️ Engine: delta broadcast не удался: %v", err)
			}
		}
	}

	e.delta.RememberSnapshot(current)
	return nil
}

// resolveConflicts дренирует буфер конфликтов. Все четыре вида
// разрешаются синхронно, без участия оператора.
func (e *Engine) resolveConflicts() error {
	e.mu.Lock()
	conflicts := e.conflictBuffer
	e.conflictBuffer = nil
	e.mu.Unlock()

	for _, conflict := range conflicts {
		var err error
		switch conflict.Type {
		case ConflictSimultaneousEdit:
			err = e.resolveSimultaneousEdit(conflict)
		case ConflictDependencyViolation:
			// Политика зависимостей живёт во внешнем слое.
		case ConflictPermission:
			// Права решает внешний слой.
		case ConflictStateInconsistency:
			err = e.performFullSync()
		default:
			err = fmt.Errorf("%w: неизвестный вид конфликта %q", world.ErrInvalidState, conflict.Type)
		}
		if err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.ConflictsResolved.Inc()
		}
	}
	return nil
}

// resolveSimultaneousEdit применяет оба обновления по возрастанию timestamp:
// последним пишет более позднее, независимо от порядка прихода.
func (e *Engine) resolveSimultaneousEdit(conflict ConflictEntry) error {
	pair := []SyncUpdate{conflict.UpdateA, conflict.UpdateB}
	sort.Slice(pair, func(i, j int) bool { return pair[i].Timestamp < pair[j].Timestamp })

	for i := range pair {
		if err := e.applyUpdate(&pair[i]); err != nil {
			return err
		}
	}
	logging.Debug("🔄 Engine: simultaneous edit %d/%d согласован по timestamp", conflict.UpdateA.ID, conflict.UpdateB.ID)
	return nil
}

// UpdateUserCursor запоминает курсор редактора и прогревает предсказание.
func (e *Engine) UpdateUserCursor(userID world.UserID, cursor world.UserCursor) error {
	e.mu.Lock()
	e.syncState.UserCursors[userID] = cursor
	e.mu.Unlock()

	if predicted := e.prediction.PredictUserAction(userID, &cursor); predicted != nil {
		logging.Trace("Engine: предсказание для %s: %s (p=%.2f)", userID, predicted.ActionType, predicted.Probability)
	}
	return nil
}

// UserCursors возвращает копию живых курсоров.
func (e *Engine) UserCursors() map[world.UserID]world.UserCursor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[world.UserID]world.UserCursor, len(e.syncState.UserCursors))
	for k, v := range e.syncState.UserCursors {
		out[k] = v
	}
	return out
}

// Stats возвращает моментальную сводку движка.
func (e *Engine) Stats() SyncStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return SyncStats{
		Version:           e.syncState.Version,
		PendingUpdates:    len(e.updateQueue),
		ConfirmedUpdates:  len(e.syncState.ConfirmedUpdates),
		ActiveUsers:       len(e.syncState.UserCursors),
		ConflictsBuffered: len(e.conflictBuffer),
		CompressionRatio:  e.delta.CompressionRatio(),
	}
}

// publishEvent публикует событие в шину, если та подключена.
func (e *Engine) publishEvent(eventType string, payload interface{}) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	env := eventbus.NewEnvelope("sync-engine", eventType, 5, data)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.bus.Publish(ctx, env); err != nil {
		logging.Trace("Engine: событие %s не опубликовано: %v", eventType, err)
	}
}
