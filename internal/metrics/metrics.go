// Package metrics exposes Prometheus collectors for import batches.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/sampleuploader/internal/core"
)

const (
	namespace = "sampleuploader"

	MetricBatches         = "batches_total"
	MetricBatchDuration   = "batch_duration_seconds"
	MetricRowsReconciled  = "rows_reconciled_total"
	MetricBatchesInFlight = "batches_in_flight"
)

var CounterBatches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricBatches,
		Help:      "Import batches by format, status and error code.",
	},
	[]string{
		"format",
		"status",
		"code",
	},
)

var HistogramBatchDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      MetricBatchDuration,
		Help:      "Wall time of import batches.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
	[]string{
		"format",
	},
)

var CounterRowsReconciled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricRowsReconciled,
		Help:      "Rows reconciled by format and decision.",
	},
	[]string{
		"format",
		"decision",
	},
)

var GaugeBatchesInFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      MetricBatchesInFlight,
		Help:      "Import batches currently running.",
	},
)

func init() {
	prometheus.MustRegister(CounterBatches)
	prometheus.MustRegister(HistogramBatchDuration)
	prometheus.MustRegister(CounterRowsReconciled)
	prometheus.MustRegister(GaugeBatchesInFlight)
}

// Observer records batch and row outcomes. It implements core.Observer.
type Observer struct{}

var _ core.Observer = Observer{}

func (Observer) RowReconciled(format string, d core.Decision) {
	CounterRowsReconciled.WithLabelValues(format, string(d)).Inc()
}

func (Observer) BatchFinished(format string, err error, elapsed time.Duration) {
	status, code := string(core.BatchSucceeded), ""
	if err != nil {
		status, code = string(core.BatchFailed), core.MapError(err).Code
	}
	CounterBatches.WithLabelValues(format, status, code).Inc()
	HistogramBatchDuration.WithLabelValues(format).Observe(elapsed.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
