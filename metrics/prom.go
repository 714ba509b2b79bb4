package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pasteward_paste_accepted_total",
		Help: "no. of submissions accepted",
	})
	PasteRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pasteward_paste_rejected_total",
			Help: "no. of submissions rejected, by pipeline stage",
		},
		[]string{"stage"},
	)
	SpamRuleHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pasteward_spam_rule_hits_total",
			Help: "no. of rejections per classifier rule",
		},
		[]string{"rule"},
	)
	IDsAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pasteward_ids_allocated_total",
		Help: "no. of paste ids allocated",
	})
	DiffReports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pasteward_diff_reports_total",
		Help: "no. of diff reports generated",
	})
	Redactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pasteward_redactions_total",
		Help: "no. of pastes redacted by staff",
	})
	Rerenders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pasteward_rerenders_total",
			Help: "no. of staff re-render requests",
		},
		[]string{"changed"},
	)
	HighlightDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pasteward_highlight_duration_seconds",
		Help:    "highlighter duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pasteward_webhook_deliveries_total",
			Help: "no. of webhook deliveries",
		},
		[]string{"result"},
	)
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pasteward_paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pasteward_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pasteward_cache_misses_total",
		Help: "no. of cache misses",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pasteward_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pasteward_rate_limit_hits_total",
			Help: "no. of rate limit denials",
		},
		[]string{"backend"},
	)
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pasteward_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)
