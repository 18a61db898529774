package network

import (
	"context"
	"encoding/json"
	"time"

	"github.com/annel0/world-sync/internal/eventbus"
	"github.com/annel0/world-sync/internal/logging"
	"github.com/annel0/world-sync/internal/world"
)

// BusSender реализует Sender поверх EventBus: сообщение сериализуется в
// Envelope и публикуется в шину, откуда его забирают транспортные узлы.
// Отправка fire-and-forget — доставка не ожидается.
type BusSender struct {
	bus    eventbus.EventBus
	source string
}

// NewBusSender создаёт отправитель поверх шины событий.
func NewBusSender(bus eventbus.EventBus, source string) *BusSender {
	return &BusSender{bus: bus, source: source}
}

// BroadcastMessage публикует сообщение всем узлам; exclude кладётся в
// метаданные конверта, фильтрацию выполняет транспортный слой.
func (bs *BusSender) BroadcastMessage(msg Message, exclude *world.UserID) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	env := eventbus.NewEnvelope(bs.source, eventbus.EventWorldUpdate, priorityToEnvelope(msg.Priority), data)
	env.Metadata = map[string]string{"message_type": string(msg.Type)}
	if exclude != nil {
		env.Metadata["exclude"] = string(*exclude)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bs.bus.Publish(ctx, env); err != nil {
		logging.Warn("BusSender: broadcast не опубликован: %v", err)
		return err
	}
	return nil
}

// SendMessageToUser публикует адресное сообщение.
func (bs *BusSender) SendMessageToUser(user world.UserID, msg Message) error {
	msg.Recipient = &user
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	env := eventbus.NewEnvelope(bs.source, eventbus.EventWorldUpdate, priorityToEnvelope(msg.Priority), data)
	env.Metadata = map[string]string{
		"message_type": string(msg.Type),
		"recipient":    string(user),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return bs.bus.Publish(ctx, env)
}

// priorityToEnvelope переводит приоритет сообщения в шкалу шины (0..9).
func priorityToEnvelope(p Priority) int {
	switch p {
	case PriorityCritical:
		return 9
	case PriorityHigh:
		return 7
	case PriorityNormal:
		return 5
	case PriorityLow:
		return 3
	default:
		return 1
	}
}
