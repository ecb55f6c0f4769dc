package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "preview",
		Name:      "http_requests_total",
		Help:      "Total control API requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "preview",
		Name:      "http_request_duration_seconds",
		Help:      "Control API request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5},
	}, []string{"method", "path"})

	BackendRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "preview",
		Name:      "backend_request_duration_seconds",
		Help:      "Duration of calls to the generation backend by operation and outcome.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation", "outcome"})

	LifecycleTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "preview",
		Name:      "lifecycle_transitions_total",
		Help:      "Project lifecycle phase transitions.",
	}, []string{"from", "to"})

	ProjectEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "preview",
		Name:      "project_events_total",
		Help:      "Project status observations by source (push, reconcile) and outcome (applied, ignored).",
	}, []string{"source", "outcome"})

	SettingsPersistTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "preview",
		Name:      "settings_persist_total",
		Help:      "Settings persistence attempts by kind and result.",
	}, []string{"kind", "result"})

	SettingsRevertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "preview",
		Name:      "settings_reverts_total",
		Help:      "Optimistic settings edits rolled back after a failed save.",
	}, []string{"kind"})

	AudioErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "preview",
		Name:      "audio_errors_total",
		Help:      "Swallowed audio playback errors by track and operation.",
	}, []string{"track", "op"})

	RendererClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "preview",
		Name:      "renderer_clients",
		Help:      "Number of connected renderer websocket clients.",
	})

	PreviewTicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "preview",
		Name:      "ticks_total",
		Help:      "Playback clock ticks processed.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BackendRequestDuration,
		LifecycleTransitionsTotal,
		ProjectEventsTotal,
		SettingsPersistTotal,
		SettingsRevertsTotal,
		AudioErrorsTotal,
		RendererClients,
		PreviewTicksTotal,
	)
}
