package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Sessions          prometheus.Gauge
	Events            *prometheus.CounterVec
	DroppedDeliveries prometheus.Counter
	Messages          *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	BlobOps           *prometheus.CounterVec
	Published         *prometheus.CounterVec
}

// New builds the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_sessions",
			Help: "Active websocket sessions",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_events_total",
			Help: "Inbound realtime events by type and result",
		}, []string{"event", "result"}),
		DroppedDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_dropped_deliveries_total",
			Help: "Outbound events dropped because a session buffer was full",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_created_total",
			Help: "Messages created by type",
		}, []string{"type"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "REST requests by route and status",
		}, []string{"route", "status"}),
		BlobOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blob_operations_total",
			Help: "Blob store operations by kind and result",
		}, []string{"op", "result"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_events_total",
			Help: "Lifecycle events handed to the broker by result",
		}, []string{"type", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Sessions, m.Events, m.DroppedDeliveries, m.Messages, m.HTTPRequests, m.BlobOps, m.Published)
	}
	return m
}

// Handler exposes the default registry for scraping.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
