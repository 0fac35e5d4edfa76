package obs

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	dutyStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dtt_duty_started_total",
		Help: "Duty sessions started.",
	})

	dutyEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dtt_duty_ended_total",
			Help: "Duty sessions ended, by reason.",
		},
		[]string{"reason"},
	)

	livenessProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dtt_liveness_probes_total",
			Help: "Liveness probe outcomes.",
		},
		[]string{"result"},
	)

	livenessMonitors = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dtt_liveness_monitors",
		Help: "Liveness monitors currently running.",
	})

	initOnce sync.Once
)

// Init registers the metrics with the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(dutyStarted, dutyEnded, livenessProbes, livenessMonitors)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func DutyStarted() { dutyStarted.Inc() }

func DutyEnded(reason string) { dutyEnded.WithLabelValues(reason).Inc() }

// ProbeResult counts one probe outcome: up, down or inconclusive.
func ProbeResult(result string) { livenessProbes.WithLabelValues(result).Inc() }

func MonitorStarted() { livenessMonitors.Inc() }

func MonitorStopped() { livenessMonitors.Dec() }
