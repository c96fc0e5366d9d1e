package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersProcessed counts orders handled by a driver, by path (batch, webhook, one_time)
	// and result (success, error, duplicate).
	OrdersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cyclesync_orders_processed_total",
		Help: "Orders processed by reconciliation path and result",
	}, []string{"path", "result"})

	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cyclesync_sync_runs_total",
		Help: "Batch sync runs by result",
	}, []string{"result"})

	SyncRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cyclesync_sync_run_duration_seconds",
		Help:    "Batch sync run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
	})

	PlatformRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cyclesync_platform_requests_total",
		Help: "Admin API requests by operation and result",
	}, []string{"operation", "result"})
)
