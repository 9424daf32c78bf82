package handler

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	imagesTotal     prometheus.Counter
	pixelsTotal     prometheus.Counter
	mirrorFailures  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charforge_generation_requests_total",
			Help: "Generation requests by resolved quality mode and outcome.",
		}, []string{"mode", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "charforge_generation_duration_seconds",
			Help:    "End-to-end generation latency as seen by the handler.",
			Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 120, 180},
		}, []string{"mode", "outcome"}),
		imagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charforge_generation_images_total",
			Help: "Images returned to callers.",
		}),
		pixelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charforge_generation_pixels_total",
			Help: "Pixels across all returned images whose dimensions could be read.",
		}),
		mirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charforge_mirror_failures_total",
			Help: "Images that could not be mirrored to object storage.",
		}),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.imagesTotal,
		m.pixelsTotal,
		m.mirrorFailures,
	)
	return m
}
