package metrics

import (
	"testing"

	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePacket(100)
	m.ObservePacket(50)
	m.ObserveRuleAlert(models.Alert{Severity: models.SeverityHigh})
	m.ObserveRuleAlert(models.Alert{Severity: models.SeverityHigh})
	m.ObserveRuleAlert(models.Alert{Severity: models.SeverityMedium})
	m.ObserveVerdict(models.AnomalyVerdict{RiskScore: 0.7})
	m.ObserveAssessment(models.SeverityLow, false)
	m.ObserveAssessment(models.SeverityCritical, true)
	m.SetModelTrained(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PacketsTotal))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.PacketBytesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RuleAlerts.WithLabelValues("HIGH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuleAlerts.WithLabelValues("MEDIUM")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Assessments.WithLabelValues("LOW")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CorrelatedAlerts.WithLabelValues("LOW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CorrelatedAlerts.WithLabelValues("CRITICAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelTrained))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SessionRisk))

	m.SetModelTrained(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ModelTrained))
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
