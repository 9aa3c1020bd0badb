package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesSent 发送结果计数，result: ok / duplicate / pending / failed / rejected
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hudhud",
			Subsystem: "sync",
			Name:      "messages_sent_total",
			Help:      "Messages accepted by the send path, by result.",
		},
		[]string{"kind", "result"},
	)

	// SendRetries 发送重试次数
	SendRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hudhud",
		Subsystem: "sync",
		Name:      "send_retries_total",
		Help:      "Retried send attempts after a transient store failure.",
	})

	// SendDuration 发送耗时
	SendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hudhud",
		Subsystem: "sync",
		Name:      "send_duration_seconds",
		Help:      "Latency of the send path.",
		Buckets:   prometheus.DefBuckets,
	})

	// NotificationsCreated 按类型统计的通知数
	NotificationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hudhud",
			Subsystem: "feed",
			Name:      "notifications_created_total",
			Help:      "Notifications produced by the fan-out rules, by kind.",
		},
		[]string{"kind"},
	)

	// SweepDeleted 过期清理删除的记录数
	SweepDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hudhud",
			Subsystem: "feed",
			Name:      "sweep_deleted_total",
			Help:      "Records removed by the expiry sweep, by type.",
		},
		[]string{"type"},
	)

	// PushSent 推送发送结果
	PushSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hudhud",
			Subsystem: "push",
			Name:      "messages_total",
			Help:      "Push messages handed to the provider, by result.",
		},
		[]string{"result"},
	)

	// CacheFallbacks 存储不可用时读取本地快照的次数
	CacheFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hudhud",
			Subsystem: "cache",
			Name:      "fallbacks_total",
			Help:      "Reads served from the last-known-state cache, by resource.",
		},
		[]string{"resource"},
	)

	// SubscriberBufferUsage 上行订阅缓冲区使用率
	SubscriberBufferUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hudhud",
			Subsystem: "nats",
			Name:      "subscriber_buffer_usage_ratio",
			Help:      "Fill ratio of the subscriber dispatch buffer.",
		},
		[]string{"subject"},
	)

	// HTTPRequestDuration API 请求耗时
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hudhud",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Latency of API requests by route and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		SendRetries,
		SendDuration,
		NotificationsCreated,
		SweepDeleted,
		PushSent,
		CacheFallbacks,
		SubscriberBufferUsage,
		HTTPRequestDuration,
	)
}

// ObserveSince 记录从 start 开始的耗时
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
