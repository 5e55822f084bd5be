package correlation

import (
	"errors"
	"testing"

	"github.com/nshruti113/vnc-security-monitor/internal/features"
	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleAlert(sev models.Severity, title string) models.Alert {
	return models.Alert{Severity: sev, Title: title}
}

func TestAssess_MLOnlyStaysLow(t *testing.T) {
	a := Assess(MLSignal{IsAnomaly: true, Score: 0.9, Confidence: 0.9}, nil)

	assert.InDelta(t, 0.36, a.Score, 1e-12)
	assert.InDelta(t, 0.54, a.Confidence, 1e-12)
	assert.Equal(t, models.SeverityLow, a.Tier)
	assert.False(t, a.Alerting())
	assert.Equal(t, []string{"ML anomaly (score: 0.900)"}, a.Triggers)
}

func TestAssess_Tiers(t *testing.T) {
	tests := []struct {
		name   string
		sig    MLSignal
		recent []models.Alert
		score  float64
		tier   models.Severity
	}{
		{
			name:  "nothing",
			score: 0,
			tier:  models.SeverityLow,
		},
		{
			name:   "one medium rule",
			recent: []models.Alert{ruleAlert(models.SeverityMedium, "Large Clipboard Transfer")},
			score:  0.3,
			tier:   models.SeverityLow,
		},
		{
			name:   "two medium rules",
			recent: []models.Alert{ruleAlert(models.SeverityMedium, "a"), ruleAlert(models.SeverityMedium, "b")},
			score:  0.6,
			tier:   models.SeverityMedium,
		},
		{
			name:   "one high rule",
			recent: []models.Alert{ruleAlert(models.SeverityHigh, "Database Content Detected")},
			score:  0.6,
			tier:   models.SeverityMedium,
		},
		{
			name:   "high rule and anomaly",
			sig:    MLSignal{IsAnomaly: true, Score: -0.5, Confidence: 1},
			recent: []models.Alert{ruleAlert(models.SeverityHigh, "Database Content Detected")},
			score:  0.8,
			tier:   models.SeverityHigh,
		},
		{
			name: "rule weight capped",
			recent: []models.Alert{
				ruleAlert(models.SeverityHigh, "a"), ruleAlert(models.SeverityLow, "b"),
				ruleAlert(models.SeverityLow, "c"), ruleAlert(models.SeverityLow, "d"),
			},
			score: 0.9,
			tier:  models.SeverityCritical,
		},
		{
			name:  "non anomalous score ignored",
			sig:   MLSignal{IsAnomaly: false, Score: 1, Confidence: 1},
			score: 0,
			tier:  models.SeverityLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Assess(tt.sig, tt.recent)
			assert.InDelta(t, tt.score, a.Score, 1e-9)
			assert.Equal(t, tt.tier, a.Tier)
			assert.Equal(t, len(tt.recent), a.RuleTriggers)
			assert.NotEmpty(t, a.Recommendations)
		})
	}
}

func TestAssess_ConfidenceCapped(t *testing.T) {
	recent := make([]models.Alert, 6)
	for i := range recent {
		recent[i] = ruleAlert(models.SeverityMedium, "x")
	}
	a := Assess(MLSignal{IsAnomaly: true, Score: 1, Confidence: 1}, recent)
	assert.Equal(t, 1.0, a.Confidence)
}

func TestRecommendations(t *testing.T) {
	t.Run("quiet", func(t *testing.T) {
		a := Assess(MLSignal{}, nil)
		assert.Equal(t, []string{RecContinueMonitoring}, a.Recommendations)
	})

	t.Run("rule titles deduplicated", func(t *testing.T) {
		recent := []models.Alert{
			ruleAlert(models.SeverityLow, "Large File Transfer Detected"),
			ruleAlert(models.SeverityLow, "Rapid File Transfer Activity"),
			ruleAlert(models.SeverityLow, "Large Clipboard Transfer"),
		}
		a := Assess(MLSignal{}, recent)
		assert.Equal(t, models.SeverityMedium, a.Tier)
		assert.Equal(t, []string{RecTransferLogging, RecDisableClipboard}, a.Recommendations)
	})

	t.Run("critical with packet features", func(t *testing.T) {
		sig := MLSignal{IsAnomaly: true, Score: 1, Confidence: 1, HasFileSignature: true, Entropy: 7.5}
		recent := []models.Alert{
			ruleAlert(models.SeverityHigh, "High Bandwidth Usage"),
		}
		a := Assess(sig, recent)
		require.Equal(t, models.SeverityCritical, a.Tier)
		assert.Equal(t, []string{
			RecInvestigate, RecTerminate, RecReviewLogs,
			RecBlockTransfers, RecInvestigateCrypto, RecThrottleBandwidth,
		}, a.Recommendations)
	})

	t.Run("packet features need an anomaly", func(t *testing.T) {
		a := Assess(MLSignal{HasFileSignature: true, Entropy: 8}, nil)
		assert.Equal(t, []string{RecContinueMonitoring}, a.Recommendations)
	})

	t.Run("entropy uses the packet threshold", func(t *testing.T) {
		at := Assess(MLSignal{IsAnomaly: true, Entropy: features.HighEntropyThreshold}, nil)
		assert.NotContains(t, at.Recommendations, RecInvestigateCrypto)

		above := Assess(MLSignal{IsAnomaly: true, Entropy: features.HighEntropyThreshold + 0.01}, nil)
		assert.Contains(t, above.Recommendations, RecInvestigateCrypto)
	})
}

func TestEngine_CorrelateEmitsOnlyHighTiers(t *testing.T) {
	e := NewEngine(10, nil)

	alert, a := e.Correlate(MLSignal{IsAnomaly: true, Score: 0.9, Confidence: 0.9}, nil, Origin{SessionID: "s1"})
	assert.Nil(t, alert)
	assert.Equal(t, models.SeverityLow, a.Tier)

	recent := []models.Alert{ruleAlert(models.SeverityHigh, "Large File Transfer Detected")}
	alert, a = e.Correlate(MLSignal{IsAnomaly: true, Score: 1, Confidence: 0.5}, recent, Origin{PacketSize: 2048})
	require.NotNil(t, alert)
	assert.Equal(t, models.SeverityCritical, alert.Severity)
	assert.Equal(t, TypeCorrelatedThreat, alert.Type)
	assert.Equal(t, 2048, alert.PacketSize)
	assert.Equal(t, 1, alert.RuleTriggers)
	assert.Equal(t, 1.0, alert.MLScore)
	assert.InDelta(t, 0.46, alert.Confidence, 1e-9)
	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, a.Recommendations, alert.Recommendations)

	assert.Len(t, e.Recent(0), 1)
	assert.Equal(t, 1, e.Emitted())
	counts := e.TierCounts()
	assert.Equal(t, 1, counts[models.SeverityLow])
	assert.Equal(t, 1, counts[models.SeverityCritical])
}

func TestEngine_BoundedLog(t *testing.T) {
	e := NewEngine(3, nil)
	recent := []models.Alert{ruleAlert(models.SeverityHigh, "x"), ruleAlert(models.SeverityHigh, "y")}
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		alert, _ := e.Correlate(MLSignal{}, recent, Origin{})
		require.NotNil(t, alert)
		ids = append(ids, alert.ID)
	}

	logged := e.Recent(0)
	require.Len(t, logged, 3)
	assert.Equal(t, ids[2], logged[0].ID)
	assert.Equal(t, 5, e.Emitted())
}

func TestEngine_ThreatPatterns(t *testing.T) {
	e := NewEngine(10, nil)
	medium := []models.Alert{ruleAlert(models.SeverityMedium, "a"), ruleAlert(models.SeverityMedium, "b")}
	critical := []models.Alert{ruleAlert(models.SeverityHigh, "a"), ruleAlert(models.SeverityHigh, "b")}

	e.Correlate(MLSignal{IsAnomaly: true, Score: 0.25, Confidence: 0.5}, medium, Origin{})
	e.Correlate(MLSignal{}, critical, Origin{})
	e.Correlate(MLSignal{}, critical, Origin{})

	patterns := e.ThreatPatterns()
	require.Len(t, patterns, 2)
	assert.Equal(t, TypeCorrelatedThreat, patterns[0].Type)
	assert.Equal(t, models.SeverityHigh, patterns[0].Severity)
	assert.Equal(t, 1, patterns[0].Count)
	assert.InDelta(t, 0.62, patterns[0].AvgConfidence, 1e-9)
	assert.Equal(t, models.SeverityCritical, patterns[1].Severity)
	assert.Equal(t, 2, patterns[1].Count)
	assert.InDelta(t, 0.32, patterns[1].AvgConfidence, 1e-9)
}

func TestEngine_Feedback(t *testing.T) {
	e := NewEngine(10, nil)
	recent := []models.Alert{ruleAlert(models.SeverityHigh, "x"), ruleAlert(models.SeverityHigh, "y")}
	first, _ := e.Correlate(MLSignal{}, recent, Origin{})
	second, _ := e.Correlate(MLSignal{}, recent, Origin{})

	err := e.RecordFeedback("missing", true)
	assert.True(t, errors.Is(err, models.ErrInput))

	require.NoError(t, e.RecordFeedback(first.ID, true))
	require.NoError(t, e.RecordFeedback(second.ID, false))

	fb := e.Feedback()
	assert.Equal(t, 1, fb.TruePositives)
	assert.Equal(t, 1, fb.FalsePositives)
	assert.Equal(t, 0.5, fb.Accuracy)

	recs := e.SystemRecommendations(false)
	assert.Contains(t, recs, "Tune detection thresholds to reduce false positives")
	assert.Contains(t, recs, "Train ML model with more data for better detection")
	assert.NotContains(t, recs, "Consider implementing automated response actions")
}
