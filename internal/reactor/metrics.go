package reactor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "procline"

// Metrics are registered on the registry handed to New so tests and hosts
// keep separate counters.
type Metrics struct {
	Scans     prometheus.Counter
	ScanErrs  prometheus.Counter
	Alerts    prometheus.Counter
	RunHealth *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "scans_total",
			Help:      "Total number of reactor scans",
		}),
		ScanErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "scan_errors_total",
			Help:      "Total number of runs whose health scan failed",
		}),
		Alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "health_alerts_total",
			Help:      "Total number of critical health alerts raised",
		}),
		RunHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_health_score",
			Help:      "Last computed health score per active run",
		}, []string{"run_id"}),
	}
	if reg != nil {
		reg.MustRegister(m.Scans, m.ScanErrs, m.Alerts, m.RunHealth)
	}
	return m
}
