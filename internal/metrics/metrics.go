// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector はメトリクス収集のインターフェース。
// フィードキャッシュ、コンポーザー、プロフィールサービスから利用する。
type Collector interface {
	RecordInsert(class string)
	RecordDedupHit()
	RecordValidationReject()
	RecordLoadSuccess()
	RecordLoadFailure()
	RecordRetry()
	RecordEviction()
	RecordMemoryTrim(removed int)
	RecordLoadLatency(duration time.Duration)
	RecordProfileBatch(size int)
	RecordSourceError()
	RecordEventDropped()
	SetFeedLength(n int)
	SetReadyHandles(n int)
}

// PrometheusCollector はPrometheusメトリクスを収集する実装。
type PrometheusCollector struct {
	inserts          *prometheus.CounterVec
	dedupHits        prometheus.Counter
	validationReject prometheus.Counter
	loadSuccess      prometheus.Counter
	loadFail         prometheus.Counter
	retries          prometheus.Counter
	evictions        prometheus.Counter
	memoryTrims      prometheus.Counter
	trimmedRecords   prometheus.Counter
	loadLatency      prometheus.Histogram
	profileBatches   prometheus.Counter
	profileResolved  prometheus.Counter
	sourceErrors     prometheus.Counter
	eventsDropped    prometheus.Counter
	feedLength       prometheus.Gauge
	readyHandles     prometheus.Gauge
}

// NewCollector は新しいPrometheusCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		inserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vinefeed_inserts_total",
			Help: "優先クラス別のフィード挿入数",
		}, []string{"class"}),
		dedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vinefeed_dedup_hits_total",
			Help: "重複排除により無視された挿入の合計数",
		}),
		validationReject: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vinefeed_validation_rejects_total",
			Help: "検証エラーで拒否されたレコードの合計数",
		}),
		loadSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vinefeed_load_success_total",
			Help: "再生リソースロード成功の合計数",
		}),
		loadFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vinefeed_load_fail_total",
			Help: "再生リソースロード失敗の合計数",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vinefeed_load_retries_total",
			Help: "失敗したロードの再試行回数",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vinefeed_evictions_total",
			Help: "容量確保のためのリソース追い出し回数",
		}),
		memoryTrims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vinefeed_memory_trims_total",
			Help: "メモリ圧力によるトリム実行回数",
		}),
		trimmedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vinefeed_trimmed_records_total",
			Help: "トリムで破棄されたレコードの合計数",
		}),
		loadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vinefeed_load_latency_seconds",
			Help:    "再生リソースロードのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		profileBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vinefeed_profile_batches_total",
			Help: "プロフィール一括取得の実行回数",
		}),
		profileResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vinefeed_profile_resolved_total",
			Help: "一括取得で解決された作者数",
		}),
		sourceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vinefeed_source_errors_total",
			Help: "イベントソースのエラー通知回数",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vinefeed_feed_events_dropped_total",
			Help: "購読者のバッファ不足で破棄されたフィードイベント数",
		}),
		feedLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vinefeed_feed_length",
			Help: "フィードの現在長",
		}),
		readyHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vinefeed_ready_handles",
			Help: "Ready状態の再生リソース数",
		}),
	}

	reg.MustRegister(
		c.inserts,
		c.dedupHits,
		c.validationReject,
		c.loadSuccess,
		c.loadFail,
		c.retries,
		c.evictions,
		c.memoryTrims,
		c.trimmedRecords,
		c.loadLatency,
		c.profileBatches,
		c.profileResolved,
		c.sourceErrors,
		c.eventsDropped,
		c.feedLength,
		c.readyHandles,
	)

	return c
}

// RecordInsert はフィード挿入を記録する。
func (c *PrometheusCollector) RecordInsert(class string) {
	c.inserts.WithLabelValues(class).Inc()
}

// RecordDedupHit は重複排除ヒットを記録する。
func (c *PrometheusCollector) RecordDedupHit() {
	c.dedupHits.Inc()
}

// RecordValidationReject は検証エラーによる拒否を記録する。
func (c *PrometheusCollector) RecordValidationReject() {
	c.validationReject.Inc()
}

// RecordLoadSuccess はロード成功を記録する。
func (c *PrometheusCollector) RecordLoadSuccess() {
	c.loadSuccess.Inc()
}

// RecordLoadFailure はロード失敗を記録する。
func (c *PrometheusCollector) RecordLoadFailure() {
	c.loadFail.Inc()
}

// RecordRetry はロード再試行を記録する。
func (c *PrometheusCollector) RecordRetry() {
	c.retries.Inc()
}

// RecordEviction はリソース追い出しを記録する。
func (c *PrometheusCollector) RecordEviction() {
	c.evictions.Inc()
}

// RecordMemoryTrim はメモリ圧力トリムを記録する。
func (c *PrometheusCollector) RecordMemoryTrim(removed int) {
	c.memoryTrims.Inc()
	c.trimmedRecords.Add(float64(removed))
}

// RecordLoadLatency はロードレイテンシを記録する。
func (c *PrometheusCollector) RecordLoadLatency(duration time.Duration) {
	c.loadLatency.Observe(duration.Seconds())
}

// RecordProfileBatch はプロフィール一括取得を記録する。
func (c *PrometheusCollector) RecordProfileBatch(size int) {
	c.profileBatches.Inc()
	c.profileResolved.Add(float64(size))
}

// RecordSourceError はソースエラーを記録する。
func (c *PrometheusCollector) RecordSourceError() {
	c.sourceErrors.Inc()
}

// RecordEventDropped はフィードイベントの破棄を記録する。
func (c *PrometheusCollector) RecordEventDropped() {
	c.eventsDropped.Inc()
}

// SetFeedLength はフィードの現在長を設定する。
func (c *PrometheusCollector) SetFeedLength(n int) {
	c.feedLength.Set(float64(n))
}

// SetReadyHandles はReadyハンドル数を設定する。
func (c *PrometheusCollector) SetReadyHandles(n int) {
	c.readyHandles.Set(float64(n))
}

// NopCollector は何も記録しないCollector実装。テストおよび無効化時に使用する。
type NopCollector struct{}

func (NopCollector) RecordInsert(class string)                 {}
func (NopCollector) RecordDedupHit()                           {}
func (NopCollector) RecordValidationReject()                   {}
func (NopCollector) RecordLoadSuccess()                        {}
func (NopCollector) RecordLoadFailure()                        {}
func (NopCollector) RecordRetry()                              {}
func (NopCollector) RecordEviction()                           {}
func (NopCollector) RecordMemoryTrim(removed int)              {}
func (NopCollector) RecordLoadLatency(duration time.Duration)  {}
func (NopCollector) RecordProfileBatch(size int)               {}
func (NopCollector) RecordSourceError()                        {}
func (NopCollector) RecordEventDropped()                       {}
func (NopCollector) SetFeedLength(n int)                       {}
func (NopCollector) SetReadyHandles(n int)                     {}
