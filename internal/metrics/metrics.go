// Package metrics exposes the monitor's Prometheus collectors.
package metrics

import (
	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vsm"

type Metrics struct {
	PacketsTotal     prometheus.Counter
	PacketBytesTotal prometheus.Counter
	SessionsTotal    prometheus.Counter
	RuleAlerts       *prometheus.CounterVec
	Assessments      *prometheus.CounterVec
	CorrelatedAlerts *prometheus.CounterVec
	SessionRisk      prometheus.Histogram
	ModelTrained     prometheus.Gauge
	AlertsStored     prometheus.Gauge
	AlertsPruned     prometheus.Counter
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "packets", Name: "processed_total",
			Help: "Total VNC payloads run through the packet heuristics.",
		}),
		PacketBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "packets", Name: "bytes_total",
			Help: "Total payload bytes analysed.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "scored_total",
			Help: "Total session records scored by the anomaly model.",
		}),
		RuleAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rules", Name: "alerts_total",
			Help: "Rule alerts raised, by severity.",
		}, []string{"severity"}),
		Assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "correlation", Name: "assessments_total",
			Help: "Correlation assessments, by tier.",
		}, []string{"tier"}),
		CorrelatedAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "correlation", Name: "alerts_total",
			Help: "Correlated alerts emitted, by severity.",
		}, []string{"severity"}),
		SessionRisk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "risk_score",
			Help:    "Distribution of session risk scores.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ModelTrained: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "model", Name: "trained",
			Help: "1 if an anomaly model is loaded, else 0.",
		}),
		AlertsStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "rules", Name: "alerts_stored",
			Help: "Rule alerts currently held in the store.",
		}),
		AlertsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rules", Name: "alerts_pruned_total",
			Help: "Rule alerts evicted by retention housekeeping.",
		}),
	}

	reg.MustRegister(
		m.PacketsTotal,
		m.PacketBytesTotal,
		m.SessionsTotal,
		m.RuleAlerts,
		m.Assessments,
		m.CorrelatedAlerts,
		m.SessionRisk,
		m.ModelTrained,
		m.AlertsStored,
		m.AlertsPruned,
	)
	return m
}

func (m *Metrics) ObservePacket(size int) {
	m.PacketsTotal.Inc()
	m.PacketBytesTotal.Add(float64(size))
}

func (m *Metrics) ObserveRuleAlert(a models.Alert) {
	m.RuleAlerts.WithLabelValues(string(a.Severity)).Inc()
}

func (m *Metrics) ObserveVerdict(v models.AnomalyVerdict) {
	m.SessionsTotal.Inc()
	m.SessionRisk.Observe(v.RiskScore)
}

func (m *Metrics) ObserveAssessment(tier models.Severity, alerted bool) {
	m.Assessments.WithLabelValues(string(tier)).Inc()
	if alerted {
		m.CorrelatedAlerts.WithLabelValues(string(tier)).Inc()
	}
}

func (m *Metrics) SetModelTrained(trained bool) {
	if trained {
		m.ModelTrained.Set(1)
		return
	}
	m.ModelTrained.Set(0)
}
