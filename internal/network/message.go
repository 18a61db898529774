package network

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/world-sync/internal/world"
)

// MessageType определяет назначение сетевого сообщения.
type MessageType string

const (
	MsgUserJoin       MessageType = "user_join"
	MsgUserLeave      MessageType = "user_leave"
	MsgWorldChange    MessageType = "world_change"
	MsgChat           MessageType = "chat"
	MsgAssetSync      MessageType = "asset_sync"
	MsgHeartbeat      MessageType = "heartbeat"
	MsgAck            MessageType = "ack"
	MsgSystemCommand  MessageType = "system_command"
	MsgVersionControl MessageType = "version_control"
)

// Priority определяет приоритет доставки сообщения.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackground
)

// Compression определяет алгоритм сжатия payload (nil в Message = без сжатия).
type Compression string

const (
	CompressionGzip   Compression = "gzip"
	CompressionSnappy Compression = "snappy"
)

// Message — wire-формат сообщения, уходящего через транспортный слой.
// Само ядро синхронизации транспорт не реализует: доставкой, ретраями и
// подтверждениями (RequiresAck) занимается внешний слой.
type Message struct {
	ID          string       `json:"id"`
	Sender      world.UserID `json:"sender"`
	Recipient   *world.UserID `json:"recipient,omitempty"` // nil = broadcast
	Type        MessageType  `json:"type"`
	Payload     []byte       `json:"payload"`
	Timestamp   float64      `json:"timestamp"`
	Priority    Priority     `json:"priority"`
	RequiresAck bool         `json:"requires_ack"`
	Compression *Compression `json:"compression,omitempty"`
}

// NewMessage создаёт сообщение с уникальным id и текущим timestamp.
func NewMessage(sender world.UserID, msgType MessageType, payload []byte) Message {
	return Message{
		ID:        fmt.Sprintf("%s_%s", msgType, uuid.NewString()),
		Sender:    sender,
		Type:      msgType,
		Payload:   payload,
		Timestamp: float64(time.Now().UnixMilli()) / 1000.0,
		Priority:  PriorityNormal,
	}
}

// WithRecipient делает сообщение адресным.
func (m Message) WithRecipient(user world.UserID) Message {
	m.Recipient = &user
	return m
}

// WithPriority выставляет приоритет доставки.
func (m Message) WithPriority(p Priority) Message {
	m.Priority = p
	return m
}

// Sender — узкий интерфейс транспортного слоя, который потребляет ядро.
// broadcast с exclude-получателем нужен, чтобы автор обновления не получал
// эхо собственного изменения.
type Sender interface {
	BroadcastMessage(msg Message, exclude *world.UserID) error
	SendMessageToUser(user world.UserID, msg Message) error
}
