package correlation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nshruti113/vnc-security-monitor/internal/alerts"
	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultLogCapacity = 1000
	DefaultWindow      = 30 * time.Second

	// TypeCorrelatedThreat is the Type of every correlated alert
	TypeCorrelatedThreat = "CORRELATED_THREAT"
)

// Origin identifies what triggered a correlation
type Origin struct {
	SessionID  string
	PacketSize int
}

// ThreatPattern aggregates correlated alerts sharing a type and severity
type ThreatPattern struct {
	Type          string          `json:"type"`
	Severity      models.Severity `json:"severity"`
	Count         int             `json:"count"`
	AvgConfidence float64         `json:"avg_confidence"`
}

// FeedbackStats summarises analyst verdicts on correlated alerts
type FeedbackStats struct {
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	Accuracy       float64 `json:"accuracy"`
}

// Engine keeps the bounded log of correlated alerts and per-tier counters
type Engine struct {
	mu       sync.Mutex
	log      *alerts.Ring[models.CorrelatedAlert]
	tiers    map[models.Severity]int
	emitted  int
	feedback map[string]bool
	logger   *zap.Logger
	now      func() time.Time
}

func NewEngine(capacity int, logger *zap.Logger) *Engine {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		log:      alerts.NewRing[models.CorrelatedAlert](capacity),
		tiers:    make(map[models.Severity]int),
		feedback: make(map[string]bool),
		logger:   logger,
		now:      time.Now,
	}
}

// Correlate assesses the signal against recent rule alerts. Every tier is
// counted; an alert is returned and logged only for HIGH and CRITICAL.
func (e *Engine) Correlate(sig MLSignal, recent []models.Alert, origin Origin) (*models.CorrelatedAlert, Assessment) {
	a := Assess(sig, recent)

	e.mu.Lock()
	e.tiers[a.Tier]++
	if !a.Alerting() {
		e.mu.Unlock()
		return nil, a
	}

	alert := &models.CorrelatedAlert{
		ID:              uuid.New().String(),
		Timestamp:       e.now(),
		Type:            TypeCorrelatedThreat,
		Severity:        a.Tier,
		Confidence:      a.Confidence,
		Score:           a.Score,
		RuleTriggers:    a.RuleTriggers,
		MLScore:         sig.Score,
		PacketSize:      origin.PacketSize,
		SessionID:       origin.SessionID,
		Description:     a.Description,
		Recommendations: a.Recommendations,
	}
	e.log.Push(*alert)
	e.emitted++
	e.mu.Unlock()

	fields := []zap.Field{
		zap.String("id", alert.ID),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("score", alert.Score),
		zap.Float64("confidence", alert.Confidence),
		zap.Int("rule_triggers", alert.RuleTriggers),
		zap.String("session_id", alert.SessionID),
	}
	if alert.Severity == models.SeverityCritical {
		e.logger.Error(alert.Description, fields...)
	} else {
		e.logger.Warn(alert.Description, fields...)
	}
	return alert, a
}

// Recent returns up to n of the newest correlated alerts, oldest first
func (e *Engine) Recent(n int) []models.CorrelatedAlert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Last(n)
}

// Emitted is the number of correlated alerts ever raised, including evicted
// ones.
func (e *Engine) Emitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitted
}

// TierCounts returns how many assessments landed in each tier
func (e *Engine) TierCounts() map[models.Severity]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[models.Severity]int, len(e.tiers))
	for k, v := range e.tiers {
		out[k] = v
	}
	return out
}

// ThreatPatterns groups the logged alerts by type and severity, in the order
// each group first appears.
func (e *Engine) ThreatPatterns() []ThreatPattern {
	e.mu.Lock()
	defer e.mu.Unlock()

	patterns := make([]ThreatPattern, 0)
	index := make(map[string]int)
	e.log.Each(func(a models.CorrelatedAlert) {
		key := a.Type + "_" + string(a.Severity)
		i, ok := index[key]
		if !ok {
			i = len(patterns)
			index[key] = i
			patterns = append(patterns, ThreatPattern{Type: a.Type, Severity: a.Severity})
		}
		patterns[i].Count++
		patterns[i].AvgConfidence += a.Confidence
	})
	for i := range patterns {
		patterns[i].AvgConfidence /= float64(patterns[i].Count)
	}
	return patterns
}

// RecordFeedback stores an analyst verdict for a logged alert. A later
// verdict for the same alert replaces the earlier one.
func (e *Engine) RecordFeedback(id string, truePositive bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	found := false
	e.log.Each(func(a models.CorrelatedAlert) {
		if a.ID == id {
			found = true
		}
	})
	if !found {
		return fmt.Errorf("%w: no correlated alert %q", models.ErrInput, id)
	}
	e.feedback[id] = truePositive
	e.logger.Info("analyst feedback", zap.String("id", id), zap.Bool("true_positive", truePositive))
	return nil
}

// Feedback reports verdict counts. Accuracy is zero until feedback arrives.
func (e *Engine) Feedback() FeedbackStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	var fs FeedbackStats
	for _, tp := range e.feedback {
		if tp {
			fs.TruePositives++
		} else {
			fs.FalsePositives++
		}
	}
	if total := fs.TruePositives + fs.FalsePositives; total > 0 {
		fs.Accuracy = float64(fs.TruePositives) / float64(total)
	}
	return fs
}

// SystemRecommendations suggests operational changes from the engine's
// history.
func (e *Engine) SystemRecommendations(modelTrained bool) []string {
	fb := e.Feedback()
	emitted := e.Emitted()

	recs := make([]string, 0, 3)
	if float64(fb.FalsePositives) > float64(emitted)*0.3 {
		recs = append(recs, "Tune detection thresholds to reduce false positives")
	}
	if !modelTrained {
		recs = append(recs, "Train ML model with more data for better detection")
	}
	if emitted > 50 {
		recs = append(recs, "Consider implementing automated response actions")
	}
	return recs
}
