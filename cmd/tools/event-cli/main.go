package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/world-sync/internal/eventbus"
)

// Утилита для наблюдения за событиями сервера синхронизации:
//
//	event-cli -url nats://localhost:4222 -types WorldUpdate,RepoCommit
//	event-cli -url nats://localhost:4222 -cmd stats
const defaultNATSURL = "nats://localhost:4222"

func main() {
	var (
		natsURL    = flag.String("url", defaultNATSURL, "NATS server URL")
		stream     = flag.String("stream", "worldsync", "имя JetStream потока")
		command    = flag.String("cmd", "tail", "команда: tail, stats")
		eventTypes = flag.String("types", "", "фильтр типов событий (через запятую)")
		sources    = flag.String("sources", "", "фильтр источников (через запятую)")
		duration   = flag.String("for", "", "длительность наблюдения (например, 30s); пусто — до Ctrl+C")
	)
	flag.Parse()

	bus, err := eventbus.NewJetStreamBus(*natsURL, *stream, 24*time.Hour)
	if err != nil {
		log.Fatalf("❌ Не удалось подключиться к NATS: %v", err)
	}
	defer bus.Close()

	switch *command {
	case "tail":
		if err := tailEvents(bus, parseStringList(*eventTypes), parseStringList(*sources), *duration); err != nil {
			log.Fatalf("❌ Ошибка tail: %v", err)
		}
	case "stats":
		showStats(bus)
	default:
		log.Fatalf("❌ Неизвестная команда: %s", *command)
	}
}

// tailEvents печатает события шины, подходящие под фильтр, до таймаута или Ctrl+C.
func tailEvents(bus eventbus.EventBus, types, sources []string, duration string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if duration != "" {
		d, err := time.ParseDuration(duration)
		if err != nil {
			return fmt.Errorf("неверная длительность %q: %w", duration, err)
		}
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	filter := eventbus.Filter{Types: types, Sources: sources}
	sub, err := bus.Subscribe(ctx, filter, func(ctx context.Context, ev *eventbus.Envelope) {
		printEvent(ev)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	fmt.Printf("📡 Наблюдение за событиями (types=%v, sources=%v), Ctrl+C для выхода\n", types, sources)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case <-sigCh:
	}
	return nil
}

// printEvent выводит событие в одну строку; payload усечён для читаемости.
func printEvent(ev *eventbus.Envelope) {
	payload := string(ev.Payload)
	if len(payload) > 120 {
		payload = payload[:120] + "…"
	}
	fmt.Printf("[%s] %-14s src=%-10s prio=%d %s\n",
		ev.Timestamp.Format("15:04:05.000"), ev.EventType, ev.Source, ev.Priority, payload)
}

// showStats печатает счётчики шины событий.
func showStats(bus eventbus.EventBus) {
	stats := bus.Metrics()
	out, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Printf("📊 Статистика шины событий:\n%s\n", out)
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
