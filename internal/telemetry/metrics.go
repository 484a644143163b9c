package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ConfigsSucceeded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadsync_configs_succeeded_total", Help: "Source configurations processed successfully"})
	ConfigsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadsync_configs_failed_total", Help: "Source configurations that failed a pipeline stage"})
	RecordsResolved     = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadsync_records_resolved_total", Help: "Status records produced by the resolver"})
	ParseErrors         = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadsync_parse_errors_total", Help: "Malformed feed payloads skipped during resolution"})
	DeliveriesAttempted = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadsync_deliveries_attempted_total", Help: "Partner delivery attempts"})
	DeliveriesSucceeded = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadsync_deliveries_succeeded_total", Help: "Partner deliveries confirmed with 2xx"})
	DeliveriesFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadsync_deliveries_failed_total", Help: "Partner deliveries that failed and stay queued"})
	DeliveriesExhausted = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadsync_deliveries_exhausted_total", Help: "Records that hit the attempt threshold without success"})
	QueueDepthGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "leadsync_queue_depth", Help: "Undelivered records under the attempt threshold"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ConfigsSucceeded,
			ConfigsFailed,
			RecordsResolved,
			ParseErrors,
			DeliveriesAttempted,
			DeliveriesSucceeded,
			DeliveriesFailed,
			DeliveriesExhausted,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}
