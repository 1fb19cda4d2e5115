// ABOUTME: Prometheus collectors for the authority and the estimator
// ABOUTME: Each role registers on its own registry so instances never collide
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Authority holds the responder's collectors
type Authority struct {
	Registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	TotalConnections  prometheus.Counter
	TimeRequests      *prometheus.CounterVec
	PushEmits         prometheus.Counter
	MalformedFrames   prometheus.Counter
	ReferenceOffset   prometheus.Gauge
}

// NewAuthority registers the authority collectors on a fresh registry
func NewAuthority() *Authority {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Authority{
		Registry: reg,
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "timesync_push_connections_active",
			Help: "The current number of open push channels.",
		}),
		TotalConnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "timesync_push_connections_total",
			Help: "The total number of push channels accepted.",
		}),
		TimeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "timesync_time_requests_total",
			Help: "The total number of explicit time requests served.",
		}, []string{"transport"}),
		PushEmits: factory.NewCounter(prometheus.CounterOpts{
			Name: "timesync_push_emits_total",
			Help: "The total number of timestamps pushed on the periodic cadence.",
		}),
		MalformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "timesync_malformed_frames_total",
			Help: "The total number of malformed inbound push frames ignored.",
		}),
		ReferenceOffset: factory.NewGauge(prometheus.GaugeOpts{
			Name: "timesync_reference_offset_seconds",
			Help: "Offset of the authority clock against the NTP reference.",
		}),
	}
}

// Estimator holds the estimator's collectors
type Estimator struct {
	Registry *prometheus.Registry

	OffsetSeconds prometheus.Gauge
	Samples       *prometheus.CounterVec
	SyncFailures  *prometheus.CounterVec
	Reconnects    prometheus.Counter
	State         prometheus.Gauge
}

// NewEstimator registers the estimator collectors on a fresh registry
func NewEstimator() *Estimator {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Estimator{
		Registry: reg,
		OffsetSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "timesync_offset_seconds",
			Help: "Current clock offset: authority time minus local time.",
		}),
		Samples: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "timesync_samples_total",
			Help: "The total number of samples applied to the offset.",
		}, []string{"source"}),
		SyncFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "timesync_sync_failures_total",
			Help: "The total number of failed sync attempts by kind.",
		}, []string{"kind"}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "timesync_reconnects_scheduled_total",
			Help: "The total number of reconnect attempts scheduled.",
		}),
		State: factory.NewGauge(prometheus.GaugeOpts{
			Name: "timesync_session_state",
			Help: "Push session state: 0 disconnected, 1 connecting, 2 connected, 3 synced.",
		}),
	}
}

// Handler returns the HTTP handler exposing a registry
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
