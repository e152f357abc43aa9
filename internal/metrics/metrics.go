// Package metrics wraps the Prometheus collectors corewriter exposes.
// Grounded on go-server-3's internal/metrics.Registry shape (a struct of
// promauto-constructed collectors plus a Handler() for the HTTP exporter),
// retargeted from WebSocket connection counters to writer-side RTPS
// counters and gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector corewriter registers.
type Registry struct {
	MatchedReaders    prometheus.Gauge
	ChangesWritten    prometheus.Counter
	ChangesDelivered  *prometheus.CounterVec
	ChangesDropped    *prometheus.CounterVec
	HistoryCacheDepth prometheus.Gauge
	AsyncSendPending  prometheus.Gauge
	LivelinessLost    prometheus.Counter
	LivelinessRecovered prometheus.Counter
	FlowControlTokens prometheus.Gauge
}

// NewRegistry constructs and registers every corewriter collector against
// the default Prometheus registry.
func NewRegistry() *Registry {
	return &Registry{
		MatchedReaders: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "corewriter_matched_readers",
			Help: "Number of readers currently matched to local writers",
		}),
		ChangesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "corewriter_changes_written_total",
			Help: "Total number of cache changes added to a writer's history cache",
		}),
		ChangesDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "corewriter_changes_delivered_total",
			Help: "Total number of changes delivered to matched readers, by delivery engine",
		}, []string{"engine"}),
		ChangesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "corewriter_changes_dropped_total",
			Help: "Total number of changes rejected or evicted from a history cache, by reason",
		}, []string{"reason"}),
		HistoryCacheDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "corewriter_history_cache_depth",
			Help: "Current aggregate depth across all writer history caches",
		}),
		AsyncSendPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "corewriter_async_send_pending",
			Help: "Number of writers currently registered with the async sender",
		}),
		LivelinessLost: promauto.NewCounter(prometheus.CounterOpts{
			Name: "corewriter_liveliness_lost_total",
			Help: "Total number of remote writer liveliness-lost transitions observed",
		}),
		LivelinessRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "corewriter_liveliness_recovered_total",
			Help: "Total number of remote writer liveliness-recovered transitions observed",
		}),
		FlowControlTokens: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "corewriter_flow_control_tokens_available",
			Help: "Current token budget available across throughput flow controllers",
		}),
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
