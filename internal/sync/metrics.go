package sync

import "github.com/prometheus/client_golang/prometheus"

// Metrics — Prometheus-метрики движка синхронизации.
type Metrics struct {
	UpdatesEnqueued   prometheus.Counter
	UpdatesApplied    prometheus.Counter
	UpdatesFailed     prometheus.Counter
	FullSyncs         prometheus.Counter
	DeltaSyncs        prometheus.Counter
	DeltaBytes        prometheus.Counter
	ConflictsResolved prometheus.Counter
	CompressionRatio  prometheus.Gauge
}

// NewMetrics создаёт и регистрирует метрики в переданном регистре.
// nil-регистр означает глобальный prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		UpdatesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldsync", Name: "updates_enqueued_total",
			Help: "Обновлений, поставленных в очередь движка.",
		}),
		UpdatesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldsync", Name: "updates_applied_total",
			Help: "Обновлений, успешно применённых к снапшоту.",
		}),
		UpdatesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldsync", Name: "updates_failed_total",
			Help: "Обновлений, завершившихся ошибкой применения.",
		}),
		FullSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldsync", Name: "full_syncs_total",
			Help: "Полных рассылок снапшота.",
		}),
		DeltaSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldsync", Name: "delta_syncs_total",
			Help: "Дельта-синхронизаций.",
		}),
		DeltaBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldsync", Name: "delta_bytes_total",
			Help: "Суммарный размер сжатых дельт в байтах.",
		}),
		ConflictsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "worldsync", Name: "conflicts_resolved_total",
			Help: "Разрешённых конфликтов.",
		}),
		CompressionRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "worldsync", Name: "delta_compression_ratio",
			Help: "Отношение сжатого размера дельты к исходному.",
		}),
	}
	reg.MustRegister(
		m.UpdatesEnqueued, m.UpdatesApplied, m.UpdatesFailed,
		m.FullSyncs, m.DeltaSyncs, m.DeltaBytes,
		m.ConflictsResolved, m.CompressionRatio,
	)
	return m
}
