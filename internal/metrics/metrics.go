// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "campusnest"

// Collector はPrometheusメトリクスを収集する実装。
// 各パッケージは必要なRecordメソッドだけを持つインターフェース経由で利用する。
type Collector struct {
	httpStatus          *prometheus.CounterVec
	httpLatency         prometheus.Histogram
	onboardingCompleted *prometheus.CounterVec
	channelAuth         *prometheus.CounterVec
	messagesSent        *prometheus.CounterVec
	autosaveFlushes     *prometheus.CounterVec
	notificationsRead   prometheus.Counter
	photosStored        *prometheus.CounterVec
	rateLimited         *prometheus.CounterVec
	cleanupDeleted      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_status_total",
			Help:      "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTPリクエストの処理時間（秒）",
			Buckets:   prometheus.DefBuckets,
		}),
		onboardingCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onboarding_completed_total",
			Help:      "オンボーディング完了数",
		}, []string{"user_type"}),
		channelAuth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_auth_total",
			Help:      "リアルタイムチャネル認可の結果別件数",
		}, []string{"outcome"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "送信されたメッセージ数",
		}, []string{"type"}),
		autosaveFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_autosave_flush_total",
			Help:      "物件ウィザードの保存回数（トリガー別）",
		}, []string{"trigger"}),
		notificationsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_marked_read_total",
			Help:      "既読化された通知の合計数",
		}),
		photosStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "property_photos_stored_total",
			Help:      "保存された物件写真数（取得元別）",
		}, []string{"source"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "レート制限で拒否されたリクエスト数",
		}, []string{"tier"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "クリーンアップジョブで削除した行数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.httpLatency,
		c.onboardingCompleted,
		c.channelAuth,
		c.messagesSent,
		c.autosaveFlushes,
		c.notificationsRead,
		c.photosStored,
		c.rateLimited,
		c.cleanupDeleted,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordHTTPLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordHTTPLatency(duration time.Duration) {
	c.httpLatency.Observe(duration.Seconds())
}

// RecordOnboardingCompleted はオンボーディング完了を記録する。
func (c *Collector) RecordOnboardingCompleted(userType string) {
	c.onboardingCompleted.WithLabelValues(userType).Inc()
}

// RecordChannelAuth はチャネル認可の結果を記録する。
// outcome: granted, forbidden, error
func (c *Collector) RecordChannelAuth(outcome string) {
	c.channelAuth.WithLabelValues(outcome).Inc()
}

// RecordMessageSent はメッセージ送信を記録する。
func (c *Collector) RecordMessageSent(messageType string) {
	c.messagesSent.WithLabelValues(messageType).Inc()
}

// RecordAutosaveFlush はウィザードの保存をトリガー別に記録する。
func (c *Collector) RecordAutosaveFlush(trigger string) {
	c.autosaveFlushes.WithLabelValues(trigger).Inc()
}

// RecordNotificationsRead は既読化した通知数を記録する。
func (c *Collector) RecordNotificationsRead(count int64) {
	c.notificationsRead.Add(float64(count))
}

// RecordPhotoStored は物件写真の保存を記録する。source: upload, import
func (c *Collector) RecordPhotoStored(source string) {
	c.photosStored.WithLabelValues(source).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(tier string) {
	c.rateLimited.WithLabelValues(tier).Inc()
}

// RecordCleanupDeleted はクリーンアップで削除した行数を記録する。
func (c *Collector) RecordCleanupDeleted(kind string, count int64) {
	c.cleanupDeleted.WithLabelValues(kind).Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
