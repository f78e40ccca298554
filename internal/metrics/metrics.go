package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "room_sessions_active",
		Help: "The current number of live sessions across all rooms.",
	})
	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_sessions_total",
		Help: "The total number of sessions accepted.",
	})
	UpdatesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_updates_accepted_total",
		Help: "The total number of update frames persisted and broadcast.",
	})
	UpdatesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_updates_rejected_total",
		Help: "The total number of malformed inbound frames dropped.",
	})
	BroadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_broadcast_drops_total",
		Help: "The total number of sessions pruned for failed delivery.",
	})
	HistoryQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_history_queries_total",
		Help: "The total number of history queries served.",
	})
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
