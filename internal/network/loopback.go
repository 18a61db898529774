package network

import (
	"sync"

	"github.com/annel0/world-sync/internal/world"
)

// LoopbackSender — in-memory реализация Sender для тестов и демо.
// Запоминает все отправленные сообщения вместо реальной доставки.
type LoopbackSender struct {
	mu         sync.Mutex
	broadcasts []RecordedBroadcast
	direct     []RecordedDirect
}

// RecordedBroadcast — один записанный broadcast.
type RecordedBroadcast struct {
	Message Message
	Exclude *world.UserID
}

// RecordedDirect — одно записанное адресное сообщение.
type RecordedDirect struct {
	User    world.UserID
	Message Message
}

// NewLoopbackSender создаёт пустой loopback-отправитель.
func NewLoopbackSender() *LoopbackSender {
	return &LoopbackSender{}
}

// BroadcastMessage записывает broadcast.
func (ls *LoopbackSender) BroadcastMessage(msg Message, exclude *world.UserID) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.broadcasts = append(ls.broadcasts, RecordedBroadcast{Message: msg, Exclude: exclude})
	return nil
}

// SendMessageToUser записывает адресное сообщение.
func (ls *LoopbackSender) SendMessageToUser(user world.UserID, msg Message) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.direct = append(ls.direct, RecordedDirect{User: user, Message: msg})
	return nil
}

// Broadcasts возвращает копию записанных broadcast-ов.
func (ls *LoopbackSender) Broadcasts() []RecordedBroadcast {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return append([]RecordedBroadcast(nil), ls.broadcasts...)
}

// Direct возвращает копию записанных адресных сообщений.
func (ls *LoopbackSender) Direct() []RecordedDirect {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return append([]RecordedDirect(nil), ls.direct...)
}

// Reset очищает записанную историю.
func (ls *LoopbackSender) Reset() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.broadcasts = nil
	ls.direct = nil
}
