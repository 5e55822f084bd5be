package anomaly

import (
	"fmt"

	"github.com/nshruti113/vnc-security-monitor/internal/models"
)

// Evaluation compares predictions against labelled sessions. Anomalous is
// the positive class.
type Evaluation struct {
	TrueNegatives  int     `json:"true_negatives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	TruePositives  int     `json:"true_positives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	Accuracy       float64 `json:"accuracy"`
}

// Evaluate predicts the sessions and scores the result against their
// labels. Every session must carry a label.
func (m *Model) Evaluate(sessions []models.SessionRecord) (Evaluation, error) {
	var ev Evaluation
	if len(sessions) == 0 {
		return ev, fmt.Errorf("%w: no sessions to evaluate", models.ErrInput)
	}
	for _, s := range sessions {
		if s.Label != models.LabelNormal && s.Label != models.LabelAnomalous {
			return ev, fmt.Errorf("%w: session %q has no label", models.ErrSchema, s.SessionID)
		}
	}

	predicted, _, err := m.Predict(sessions)
	if err != nil {
		return ev, err
	}

	for i, s := range sessions {
		actual := s.Label == models.LabelAnomalous
		switch {
		case actual && predicted[i]:
			ev.TruePositives++
		case actual && !predicted[i]:
			ev.FalseNegatives++
		case !actual && predicted[i]:
			ev.FalsePositives++
		default:
			ev.TrueNegatives++
		}
	}

	ev.Precision = ratio(ev.TruePositives, ev.TruePositives+ev.FalsePositives)
	ev.Recall = ratio(ev.TruePositives, ev.TruePositives+ev.FalseNegatives)
	if ev.Precision+ev.Recall > 0 {
		ev.F1 = 2 * ev.Precision * ev.Recall / (ev.Precision + ev.Recall)
	}
	ev.Accuracy = ratio(ev.TruePositives+ev.TrueNegatives, len(sessions))
	return ev, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
