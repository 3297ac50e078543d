// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OperationsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_operations_completed_total",
			Help: "Total number of marketplace operations completed",
		},
		[]string{"operation"},
	)

	OperationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_operations_rejected_total",
			Help: "Total number of marketplace operations rejected with a business outcome",
		},
		[]string{"operation", "error_code"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "marketplace_operation_duration_seconds",
			Help: "Duration of marketplace operations in seconds",
		},
		[]string{"operation"},
	)

	PostingsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketplace_postings_open",
			Help: "Number of postings currently accepting candidacies",
		},
	)

	ConfirmationsTimedOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_confirmations_timed_out_total",
			Help: "Total number of selections rejected by confirmation deadline expiry",
		},
	)
)
