package pipeline

import (
	"time"

	"github.com/nshruti113/vnc-security-monitor/internal/correlation"
	"github.com/nshruti113/vnc-security-monitor/internal/models"
)

const statusRecentAlerts = 10

type DetectionStats struct {
	TotalPackets     int64 `json:"total_packets"`
	SessionsAnalyzed int64 `json:"sessions_analyzed"`
	RuleBasedAlerts  int   `json:"rule_based_alerts"`
	MLAlerts         int64 `json:"ml_alerts"`
	CombinedAlerts   int   `json:"combined_alerts"`
	FalsePositives   int   `json:"false_positives"`
}

type ModelStatus struct {
	Trained       bool                       `json:"trained"`
	TrainedAt     *time.Time                 `json:"trained_at,omitempty"`
	TrainingSize  int                        `json:"training_size,omitempty"`
	Contamination float64                    `json:"contamination,omitempty"`
	Trees         int                        `json:"trees,omitempty"`
	TopFeatures   []models.FeatureImportance `json:"top_features,omitempty"`
}

type Status struct {
	Running         bool                      `json:"running"`
	Detection       DetectionStats            `json:"detection_stats"`
	Model           ModelStatus               `json:"ml_stats"`
	Rules           models.RuleStats          `json:"rule_stats"`
	Tiers           map[models.Severity]int   `json:"tier_counts"`
	RecentAlerts    []models.CorrelatedAlert  `json:"recent_alerts"`
	Feedback        correlation.FeedbackStats `json:"detection_accuracy"`
	Recommendations []string                  `json:"recommendations"`
}

// Status snapshots the whole pipeline
func (p *Pipeline) Status() Status {
	rules := p.RuleStats()
	feedback := p.engine.Feedback()

	ms := ModelStatus{}
	if m, err := p.model.Model(); err == nil {
		trainedAt := m.TrainedAt
		ms = ModelStatus{
			Trained:       true,
			TrainedAt:     &trainedAt,
			TrainingSize:  m.TrainingSize,
			Contamination: m.Contamination,
			Trees:         len(m.Forest.Trees),
			TopFeatures:   m.TopFeatures(5),
		}
	}

	return Status{
		Running: p.Running(),
		Detection: DetectionStats{
			TotalPackets:     p.packets.Load(),
			SessionsAnalyzed: p.sessions.Load(),
			RuleBasedAlerts:  rules.TotalAlerts,
			MLAlerts:         p.mlAlerts.Load(),
			CombinedAlerts:   p.engine.Emitted(),
			FalsePositives:   feedback.FalsePositives,
		},
		Model:           ms,
		Rules:           rules,
		Tiers:           p.engine.TierCounts(),
		RecentAlerts:    p.engine.Recent(statusRecentAlerts),
		Feedback:        feedback,
		Recommendations: p.engine.SystemRecommendations(ms.Trained),
	}
}
