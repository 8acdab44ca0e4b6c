package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all hubtap Prometheus metrics.
type Metrics struct {
	RecordsSent     *prometheus.CounterVec
	SendErrors      *prometheus.CounterVec
	RecordsReceived *prometheus.CounterVec
	ConsumerLag     *prometheus.GaugeVec
	ViewRows        *prometheus.GaugeVec
	Queries         *prometheus.CounterVec
	DLQTotal        *prometheus.CounterVec
}

// NewMetrics creates and registers all hubtap metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RecordsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hubtap_records_sent_total",
			Help: "Records written to the event hub.",
		}, []string{"topic"}),

		SendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hubtap_send_errors_total",
			Help: "Failed writes by topic.",
		}, []string{"topic"}),

		RecordsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hubtap_records_received_total",
			Help: "Records observed by the streaming read.",
		}, []string{"topic", "partition"}),

		ConsumerLag: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hubtap_consumer_lag",
			Help: "Streaming read lag per partition.",
		}, []string{"topic", "partition"}),

		ViewRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hubtap_view_rows",
			Help: "Rows currently held by the live view.",
		}, []string{"view"}),

		Queries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hubtap_queries_total",
			Help: "View queries by kind and status.",
		}, []string{"view", "kind", "status"}),

		DLQTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hubtap_dlq_total",
			Help: "Records routed to the dead-letter topic.",
		}, []string{"topic"}),
	}
}
