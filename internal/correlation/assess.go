// Package correlation merges rule alerts and the anomaly verdict into one
// risk tier with recommended actions.
package correlation

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/nshruti113/vnc-security-monitor/internal/features"
	"github.com/nshruti113/vnc-security-monitor/internal/models"
)

// Weights of the combined risk score
const (
	mlScoreWeight      = 0.4
	mlConfidenceWeight = 0.6
	ruleAlertWeight    = 0.3
	ruleAlertCap       = 0.6
	ruleConfidence     = 0.8
	fullConfidenceAt   = 5
	highSeverityBonus  = 0.3

	criticalAbove = 0.8
	highAbove     = 0.6
	mediumAbove   = 0.4
)

// Recommended actions
const (
	RecInvestigate        = "Immediately investigate VNC session"
	RecTerminate          = "Consider terminating suspicious VNC connection"
	RecReviewLogs         = "Review user activity logs"
	RecBlockTransfers     = "Block file transfers through VNC"
	RecInvestigateCrypto  = "Investigate potential encrypted data transfer"
	RecTransferLogging    = "Enable file transfer logging"
	RecDisableClipboard   = "Disable clipboard sharing"
	RecThrottleBandwidth  = "Implement bandwidth throttling"
	RecContinueMonitoring = "Continue monitoring for suspicious activity"
)

// MLSignal is the anomaly side of a correlation. Entropy and
// HasFileSignature come from the packet that triggered it, if any.
type MLSignal struct {
	IsAnomaly        bool    `json:"is_anomaly"`
	Score            float64 `json:"score"`
	Confidence       float64 `json:"confidence"`
	HasFileSignature bool    `json:"has_file_signature"`
	Entropy          float64 `json:"entropy"`
}

// Assessment is the combined verdict for one call, alerting or not
type Assessment struct {
	Tier            models.Severity `json:"tier"`
	Score           float64         `json:"score"`
	Confidence      float64         `json:"confidence"`
	RuleTriggers    int             `json:"rule_triggers"`
	Triggers        []string        `json:"triggers"`
	Description     string          `json:"description"`
	Recommendations []string        `json:"recommendations"`
}

// Alerting reports whether the tier warrants a correlated alert
func (a Assessment) Alerting() bool {
	return a.Tier == models.SeverityHigh || a.Tier == models.SeverityCritical
}

// Assess sums the weighted contributions in one pass and maps the total to
// a tier. recent must already be restricted to the correlation window.
func Assess(sig MLSignal, recent []models.Alert) Assessment {
	var score, confidence float64
	triggers := make([]string, 0, 2)

	if sig.IsAnomaly {
		score += mlScoreWeight * math.Abs(sig.Score)
		confidence += mlConfidenceWeight * sig.Confidence
		triggers = append(triggers, fmt.Sprintf("ML anomaly (score: %.3f)", sig.Score))
	}

	if n := len(recent); n > 0 {
		score += min(ruleAlertWeight*float64(n), ruleAlertCap)
		confidence += ruleConfidence * float64(n) / fullConfidenceAt

		high := 0
		for _, a := range recent {
			if a.Severity == models.SeverityHigh {
				high++
			}
		}
		if high > 0 {
			score += highSeverityBonus
			triggers = append(triggers, fmt.Sprintf("%d high-severity rule alerts", high))
		}
	}

	a := Assessment{
		Tier:         tier(score),
		Score:        score,
		Confidence:   min(confidence, 1.0),
		RuleTriggers: len(recent),
		Triggers:     triggers,
	}
	if len(triggers) > 0 {
		a.Description = "Combined threat detected: " + strings.Join(triggers, ", ")
	} else {
		a.Description = "No correlated threat indicators"
	}
	a.Recommendations = recommend(sig, recent, a.Tier)
	return a
}

func tier(score float64) models.Severity {
	switch {
	case score > criticalAbove:
		return models.SeverityCritical
	case score > highAbove:
		return models.SeverityHigh
	case score > mediumAbove:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// recommend never returns an empty list
func recommend(sig MLSignal, recent []models.Alert, t models.Severity) []string {
	recs := make([]string, 0, 4)
	add := func(r string) {
		if !slices.Contains(recs, r) {
			recs = append(recs, r)
		}
	}

	if t == models.SeverityHigh || t == models.SeverityCritical {
		add(RecInvestigate)
		add(RecTerminate)
		add(RecReviewLogs)
	}

	if sig.IsAnomaly {
		if sig.HasFileSignature {
			add(RecBlockTransfers)
		}
		if sig.Entropy > features.HighEntropyThreshold {
			add(RecInvestigateCrypto)
		}
	}

	for _, a := range recent {
		switch {
		case strings.Contains(a.Title, "File Transfer"):
			add(RecTransferLogging)
		case strings.Contains(a.Title, "Clipboard"):
			add(RecDisableClipboard)
		case strings.Contains(a.Title, "Bandwidth"):
			add(RecThrottleBandwidth)
		}
	}

	if len(recs) == 0 {
		add(RecContinueMonitoring)
	}
	return recs
}
