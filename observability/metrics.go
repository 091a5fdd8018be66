// Package observability exposes Prometheus metrics and a process snapshot.
package observability

import (
	"dm-relay/domain"
	"dm-relay/domain/event"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dmrelay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmrelay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SessionsActive tracks live sessions across all transports.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmrelay_sessions_active",
			Help: "Number of live sessions",
		},
	)

	// UsersOnline tracks users holding at least one session.
	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmrelay_users_online",
			Help: "Number of online users",
		},
	)

	// PresenceTransitions counts online/offline flips.
	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmrelay_presence_transitions_total",
			Help: "Presence transitions by resulting status",
		},
		[]string{"status"},
	)

	// EventsDelivered counts message fan-outs by event type.
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmrelay_events_delivered_total",
			Help: "Message events fanned out by type",
		},
		[]string{"type"},
	)

	// InboundEvents counts client events by name and outcome.
	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmrelay_inbound_events_total",
			Help: "Client events received by name and outcome",
		},
		[]string{"event", "outcome"},
	)

	// ChannelLength and ChannelCapacity sample internal queues.
	ChannelLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dmrelay_channel_length",
			Help: "Queued items per internal channel",
		},
		[]string{"channel"},
	)
	ChannelCapacity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dmrelay_channel_capacity",
			Help: "Capacity per internal channel",
		},
		[]string{"channel"},
	)

	// ProcessCPU and ProcessRSS come from the health monitoring worker.
	ProcessCPU = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmrelay_process_cpu_percent",
			Help: "CPU usage of the server process",
		},
	)
	ProcessRSS = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmrelay_process_rss_bytes",
			Help: "Resident memory of the server process",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

func SessionJoined() {
	SessionsActive.Inc()
}

func SessionLeft() {
	SessionsActive.Dec()
}

func RecordPresence(status domain.Status) {
	PresenceTransitions.WithLabelValues(string(status)).Inc()
	switch status {
	case domain.StatusOnline:
		UsersOnline.Inc()
	case domain.StatusOffline:
		UsersOnline.Dec()
	}
}

func RecordDelivered(t event.Type) {
	EventsDelivered.WithLabelValues(string(t)).Inc()
}

func RecordInbound(name, outcome string) {
	InboundEvents.WithLabelValues(name, outcome).Inc()
}

func RecordChannel(name string, length, capacity int) {
	ChannelLength.WithLabelValues(name).Set(float64(length))
	ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}
