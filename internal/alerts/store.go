// Package alerts holds the bounded, time-ordered log of rule alerts.
package alerts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"go.uber.org/zap"
)

// DefaultCapacity is the number of alerts kept before the oldest is evicted
const DefaultCapacity = 1000

// Listener is notified after an alert has been stored
type Listener func(models.Alert)

// Store is a thread-safe ring buffer of alerts. ID assignment, insertion and
// eviction happen under one lock.
type Store struct {
	mu        sync.RWMutex
	ring      *Ring[models.Alert]
	nextID    int64
	listeners []Listener
	logger    *zap.Logger
	now       func() time.Time
}

func NewStore(capacity int, logger *zap.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		ring:   NewRing[models.Alert](capacity),
		nextID: 1,
		logger: logger,
		now:    time.Now,
	}
}

// OnAlert registers a listener. Listeners run outside the store lock.
func (s *Store) OnAlert(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Add stores a draft and returns the immutable alert
func (s *Store) Add(d models.AlertDraft) models.Alert {
	s.mu.Lock()
	alert := models.Alert{
		ID:          s.nextID,
		Timestamp:   s.now(),
		Severity:    d.Severity,
		Title:       d.Title,
		Description: d.Description,
	}
	s.nextID++
	s.ring.Push(alert)
	listeners := s.listeners
	s.mu.Unlock()

	s.logger.Warn("alert",
		zap.Int64("id", alert.ID),
		zap.String("severity", string(alert.Severity)),
		zap.String("title", alert.Title),
		zap.String("description", alert.Description))

	for _, l := range listeners {
		l(alert)
	}
	return alert
}

// AddAll stores drafts in order
func (s *Store) AddAll(drafts []models.AlertDraft) []models.Alert {
	out := make([]models.Alert, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, s.Add(d))
	}
	return out
}

// Consume drains drafts from ch until it closes or ctx is done
func (s *Store) Consume(ctx context.Context, ch <-chan models.AlertDraft) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			s.Add(d)
		}
	}
}

// Recent returns up to limit of the newest alerts, oldest first
func (s *Store) Recent(limit int) []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring.Last(limit)
}

// Since returns the alerts created at or after t
func (s *Store) Since(t time.Time) []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Alert, 0)
	s.ring.Each(func(a models.Alert) {
		if !a.Timestamp.Before(t) {
			out = append(out, a)
		}
	})
	return out
}

// Prune evicts alerts older than retention and returns how many were removed
func (s *Store) Prune(retention time.Duration) int {
	cutoff := s.now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.PopWhile(func(a models.Alert) bool {
		return a.Timestamp.Before(cutoff)
	})
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring.Len()
}

// Stats counts alerts by severity. Unknown severities count towards the
// total and their own bucket only.
func (s *Store) Stats() models.AlertStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.AlertStats{BySeverity: make(map[models.Severity]int)}
	s.ring.Each(func(a models.Alert) {
		stats.TotalAlerts++
		stats.BySeverity[a.Severity]++
		switch a.Severity {
		case models.SeverityHigh:
			stats.HighRiskAlerts++
		case models.SeverityMedium:
			stats.MediumRiskAlerts++
		}
	})
	return stats
}

type scenario struct {
	name    string
	signals string
	risk    models.Severity
	match   string
}

var threatScenarios = []scenario{
	{"Large File Transfer", "Large outbound bytes, clipboard spikes", models.SeverityHigh, "File Transfer"},
	{"Screenshot Exfiltration", "High frame rate, frequent captures", models.SeverityMedium, "Screenshot"},
	{"Clipboard Data Theft", "Large clipboard transfers", models.SeverityMedium, "Clipboard"},
	{"Encoded Data Exfiltration", "Base64/encoded patterns", models.SeverityHigh, "Encoded"},
}

// ThreatMatrix returns the fixed scenario table with matching alert counts
func (s *Store) ThreatMatrix() []models.ThreatScenario {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ThreatScenario, len(threatScenarios))
	for i, sc := range threatScenarios {
		count := 0
		s.ring.Each(func(a models.Alert) {
			if strings.Contains(a.Title, sc.match) {
				count++
			}
		})
		out[i] = models.ThreatScenario{
			Scenario:         sc.name,
			DetectionSignals: sc.signals,
			RiskLevel:        sc.risk,
			Count:            count,
		}
	}
	return out
}
