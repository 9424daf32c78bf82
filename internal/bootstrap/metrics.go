package bootstrap

import (
	"github.com/dunamismax/charforge/internal/engine"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	engineState    *prometheus.GaugeVec
	startupSeconds prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		engineState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "charforge_engine_state",
			Help: "1 for the engine lifecycle state currently held, 0 otherwise.",
		}, []string{"state"}),
		startupSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "charforge_engine_startup_seconds",
			Help: "Time from launch until the engine answered its readiness check and warm-up.",
		}),
	}
	reg.MustRegister(m.engineState, m.startupSeconds)
	m.setState(engine.StateNotStarted)
	return m
}

func (m *metrics) setState(current engine.State) {
	for _, s := range []engine.State{engine.StateNotStarted, engine.StateStarting, engine.StateReady, engine.StateFailed} {
		v := 0.0
		if s == current {
			v = 1
		}
		m.engineState.WithLabelValues(s.String()).Set(v)
	}
}
