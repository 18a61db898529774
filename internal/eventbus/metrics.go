package eventbus

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/world-sync/internal/logging"
)

// MetricsExporter инкапсулирует Prometheus-метрики для EventBus и периодически
// обновляет их. Экспортер опирается исключительно на интерфейс EventBus,
// поэтому работает с любой реализацией шины.
type MetricsExporter struct {
	bus  EventBus
	quit chan struct{}
	done chan struct{}
	// Prometheus metrics
	published prometheus.Counter
	consumed  prometheus.Counter
	dropped   prometheus.Counter
	inflight  prometheus.Gauge
}

// NewMetricsExporter создаёт экспортер, но не запускает HTTP-сервер.
func NewMetricsExporter(bus EventBus) *MetricsExporter {
	me := &MetricsExporter{
		bus:  bus,
		quit: make(chan struct{}),
		done: make(chan struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_published_total",
			Help:      "Общее число опубликованных сообщений.",
		}),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_consumed_total",
			Help:      "Общее число доставленных сообщений подписчикам.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_dropped_total",
			Help:      "Сообщений, отброшенных из-за ошибок или ограничения back-pressure.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventbus",
			Name:      "messages_inflight",
			Help:      "Количество сообщений, находящихся в очереди (не доставленных).",
		}),
	}

	// Регистрируем метрики в глобальном регистре Prometheus.
	prometheus.MustRegister(me.published, me.consumed, me.dropped, me.inflight)
	return me
}

// Start запускает периодическое обновление метрик и HTTP-эндпоинт /metrics.
// addr вида ":2112"; пустой addr — только обновление без HTTP.
func (me *MetricsExporter) Start(addr string) {
	go me.updateLoop()

	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logging.Error("MetricsExporter: HTTP-сервер завершился: %v", err)
		}
	}()
	logging.Info("📊 MetricsExporter: /metrics доступен на %s", addr)
}

// Stop останавливает обновление метрик.
func (me *MetricsExporter) Stop() {
	close(me.quit)
	<-me.done
}

// updateLoop переносит Stats шины в Prometheus-коллекторы.
// Counter нельзя выставить напрямую, поэтому добавляем дельту с прошлого тика.
func (me *MetricsExporter) updateLoop() {
	defer close(me.done)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var prev Stats
	for {
		select {
		case <-me.quit:
			return
		case <-ticker.C:
			s := me.bus.Metrics()
			me.published.Add(float64(s.Published - prev.Published))
			me.consumed.Add(float64(s.Consumed - prev.Consumed))
			me.dropped.Add(float64(s.Dropped - prev.Dropped))
			me.inflight.Set(float64(s.InFlight))
			prev = s
		}
	}
}
