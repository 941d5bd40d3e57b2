// Package metrics exposes Prometheus collectors for synchronization, record
// fetches and cache persistence. Collectors are registered on an injected
// registry so tests and multiple instances never collide on the default one.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 汇总 gemsync 的全部指标。nil *Metrics 的方法均为空操作。
type Metrics struct {
	syncOutcomes       *prometheus.CounterVec
	syncDuration       *prometheus.HistogramVec
	recordFetches      *prometheus.CounterVec
	cacheWriteFailures *prometheus.CounterVec
	indexedRecords     *prometheus.GaugeVec
	sizeProbes         *prometheus.CounterVec
}

// New 在 reg 上注册全部指标。
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		syncOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gemsync_sync_total",
				Help: "Index synchronizations by outcome (fresh, incremental, fallback, error)",
			},
			[]string{"source", "kind", "outcome"},
		),
		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gemsync_sync_duration_seconds",
				Help:    "Duration of index synchronizations",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"source", "kind"},
		),
		recordFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gemsync_record_fetches_total",
				Help: "Full record fetches from quick/ resources",
			},
			[]string{"source", "result"},
		),
		cacheWriteFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gemsync_cache_write_failures_total",
				Help: "Cache entries kept in memory but not persisted to disk",
			},
			[]string{"source", "kind"},
		),
		indexedRecords: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gemsync_indexed_records",
				Help: "Records held by the current cached index",
			},
			[]string{"source", "kind"},
		),
		sizeProbes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gemsync_size_probes_total",
				Help: "Remote size probes by comparison result (hit, miss, error)",
			},
			[]string{"source", "kind", "result"},
		),
	}
}

// ObserveSync 记录一次同步的结果与耗时。
func (m *Metrics) ObserveSync(source, kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.syncOutcomes.WithLabelValues(source, kind, outcome).Inc()
	m.syncDuration.WithLabelValues(source, kind).Observe(elapsed.Seconds())
}

// RecordFetch 统计 quick/ 单条记录的下载结果。
func (m *Metrics) RecordFetch(source string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.recordFetches.WithLabelValues(source, result).Inc()
}

// CacheWriteFailed 统计落盘失败次数。
func (m *Metrics) CacheWriteFailed(source, kind string) {
	if m == nil {
		return
	}
	m.cacheWriteFailures.WithLabelValues(source, kind).Inc()
}

// SetIndexed 更新某个索引当前的记录数。
func (m *Metrics) SetIndexed(source, kind string, records int) {
	if m == nil {
		return
	}
	m.indexedRecords.WithLabelValues(source, kind).Set(float64(records))
}

// SizeProbe 统计远端大小探测的结果。
func (m *Metrics) SizeProbe(source, kind, result string) {
	if m == nil {
		return
	}
	m.sizeProbes.WithLabelValues(source, kind, result).Inc()
}
