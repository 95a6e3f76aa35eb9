// Package metrics exposes the Prometheus registry the rest of the system
// records into, plus the HTTP server that serves it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OverlayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventfabric_overlay_connections",
		Help: "Current number of connected overlay clients.",
	})

	OverlayFramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventfabric_overlay_frames_dropped_total",
		Help: "Frames dropped because a client's outgoing buffer was full.",
	}, []string{"layer"})

	EventSubReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventfabric_eventsub_reconnects_total",
		Help: "Number of times the EventSub adapter has reconnected.",
	})

	EventSubState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventfabric_eventsub_state",
		Help: "EventSub adapter state as an ordinal (see internal/eventsub.State).",
	})

	BusMalformedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventfabric_bus_malformed_messages_total",
		Help: "Bus messages dropped for failing to decode as an envelope.",
	}, []string{"channel"})

	CampaignMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventfabric_campaign_mutations_total",
		Help: "Campaign aggregator mutations applied, by kind.",
	}, []string{"kind"})
)

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
