package world

import "sync"

// SharedSnapshot — явно внедряемая разделяемая ячейка со снапшотом мира.
// Писатель — тик движка синхронизации; читатели — рендерер, REST API и т.п.
// Блокировка никогда не удерживается через сетевой вызов.
type SharedSnapshot struct {
	mu       sync.RWMutex
	snapshot *WorldSnapshot
}

// NewSharedSnapshot оборачивает снапшот в разделяемую ячейку.
func NewSharedSnapshot(snapshot *WorldSnapshot) *SharedSnapshot {
	if snapshot == nil {
		snapshot = NewSnapshot()
	}
	return &SharedSnapshot{snapshot: snapshot}
}

// Read выполняет fn под read-блокировкой. fn не должна сохранять ссылки
// на внутренности снапшота.
func (ss *SharedSnapshot) Read(fn func(*WorldSnapshot)) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	fn(ss.snapshot)
}

// Write выполняет fn под write-блокировкой.
func (ss *SharedSnapshot) Write(fn func(*WorldSnapshot)) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	fn(ss.snapshot)
}

// Replace атомарно заменяет снапшот целиком (WorldStateSync, загрузка).
func (ss *SharedSnapshot) Replace(snapshot *WorldSnapshot) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.snapshot = snapshot
}

// CloneLocked возвращает глубокую копию текущего снапшота.
func (ss *SharedSnapshot) CloneLocked() *WorldSnapshot {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.snapshot.Clone()
}

// Version возвращает текущую версию снапшота.
func (ss *SharedSnapshot) Version() uint64 {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.snapshot.Version
}
