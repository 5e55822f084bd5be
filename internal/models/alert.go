package models

import "time"

// Severity of an alert or correlated verdict
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Known reports whether s is one of the declared severities
func (s Severity) Known() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AlertDraft is an alert before the store has assigned it an ID
type AlertDraft struct {
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
}

// Alert represents a rule-based security alert. Immutable once stored.
type Alert struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
}

// Explanation pairs a model feature with the session's value for it
type Explanation struct {
	Feature     string  `json:"feature"`
	Value       float64 `json:"value"`
	Importance  float64 `json:"importance"`
	Description string  `json:"description"`
}

// AnomalyVerdict is the anomaly model output for one session
type AnomalyVerdict struct {
	SessionID     string        `json:"session_id"`
	IsAnomaly     bool          `json:"is_anomaly"`
	RiskScore     float64       `json:"risk_score"` // 0.0 to 1.0 against the training decision range
	Confidence    float64       `json:"confidence"` // 0.0 to 1.0
	DecisionScore float64       `json:"decision_score"`
	Explanations  []Explanation `json:"explanations,omitempty"`
}

// CorrelatedAlert merges rule alerts and the model verdict
type CorrelatedAlert struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Type            string    `json:"type"`
	Severity        Severity  `json:"severity"` // HIGH or CRITICAL
	Confidence      float64   `json:"confidence"`
	Score           float64   `json:"score"`
	RuleTriggers    int       `json:"rule_triggers"`
	MLScore         float64   `json:"ml_score"`
	PacketSize      int       `json:"packet_size,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	Description     string    `json:"description"`
	Recommendations []string  `json:"recommendations"`
}

// AlertStats aggregates the alert log
type AlertStats struct {
	TotalAlerts      int              `json:"total_alerts"`
	BySeverity       map[Severity]int `json:"by_severity"`
	HighRiskAlerts   int              `json:"high_risk_alerts"`
	MediumRiskAlerts int              `json:"medium_risk_alerts"`
}

// RuleStats reports heuristic engine state alongside alert totals
type RuleStats struct {
	AlertStats
	FileTransfers    int `json:"file_transfers"`
	ClipboardEvents  int `json:"clipboard_events"`
	CurrentBandwidth int `json:"current_bandwidth"`
}

// ThreatScenario is one row of the threat matrix
type ThreatScenario struct {
	Scenario         string   `json:"scenario"`
	DetectionSignals string   `json:"detection_signals"`
	RiskLevel        Severity `json:"risk_level"`
	Count            int      `json:"count"`
}

// FeatureImportance is a named global importance
type FeatureImportance struct {
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

// BandwidthSample records one packet size observation
type BandwidthSample struct {
	Timestamp time.Time `json:"timestamp"`
	Size      int       `json:"size"`
}

// FileTransfer is a detected file transfer
type FileTransfer struct {
	Timestamp time.Time `json:"timestamp"`
	Size      int       `json:"size"`
	Hash      string    `json:"hash"`
	RiskLevel Severity  `json:"risk_level"`
}

// ClipboardEvent is a detected clipboard operation
type ClipboardEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	Size           int       `json:"size"`
	ContentPreview string    `json:"content_preview"`
}
