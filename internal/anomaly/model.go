package anomaly

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/nshruti113/vnc-security-monitor/internal/features"
	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultContamination = 0.15
	DefaultSeed          = 42
	DefaultExplainTopN   = 5
)

// TrainOptions configures a training run
type TrainOptions struct {
	Contamination float64
	Trees         int
	Seed          uint64
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Contamination: DefaultContamination,
		Trees:         DefaultTrees,
		Seed:          DefaultSeed,
	}
}

// Model is a fitted scaler and forest plus everything needed to reproduce
// the feature matrix. It is never mutated after Train returns.
type Model struct {
	Columns       []string                 `json:"columns"`
	Scaler        *RobustScaler            `json:"scaler"`
	Forest        *IsolationForest         `json:"forest"`
	Importance    map[string]float64       `json:"importance"`
	ZScores       features.ZScoreReference `json:"zscores"`
	DecisionMin   float64                  `json:"decision_min"`
	DecisionMax   float64                  `json:"decision_max"`
	Contamination float64                  `json:"contamination"`
	TrainingSize  int                      `json:"training_size"`
	TrainedAt     time.Time                `json:"trained_at"`
}

// Train engineers features for the corpus, fits the scaler and the forest,
// and derives global feature importances.
func Train(corpus []models.SessionRecord, opts TrainOptions) (*Model, error) {
	if len(corpus) == 0 {
		return nil, fmt.Errorf("%w: empty training corpus", models.ErrInput)
	}
	if opts.Contamination <= 0 || opts.Contamination > 0.5 {
		return nil, fmt.Errorf("%w: contamination %v outside (0, 0.5]", models.ErrInput, opts.Contamination)
	}
	for _, s := range corpus {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}

	vectors := make([]features.FeatureVector, len(corpus))
	for i, s := range corpus {
		vectors[i] = features.Engineer(s)
	}

	m := &Model{
		Columns:       slices.Clone(features.ModelColumns),
		Scaler:        NewRobustScaler(),
		Forest:        NewIsolationForest(opts.Trees),
		ZScores:       features.NewZScoreReference(vectors),
		Contamination: opts.Contamination,
		TrainingSize:  len(corpus),
		TrainedAt:     time.Now().UTC(),
	}

	X, err := m.matrix(vectors)
	if err != nil {
		return nil, err
	}

	if err := m.Scaler.Fit(X); err != nil {
		return nil, fmt.Errorf("failed to fit scaler: %w", err)
	}
	scaled, err := m.Scaler.Transform(X)
	if err != nil {
		return nil, fmt.Errorf("failed to scale features: %w", err)
	}

	if err := m.Forest.Fit(scaled, opts.Contamination, opts.Seed); err != nil {
		return nil, fmt.Errorf("failed to train model: %w", err)
	}

	decisions := make([]float64, len(scaled))
	m.DecisionMin, m.DecisionMax = math.Inf(1), math.Inf(-1)
	for i, x := range scaled {
		decisions[i] = m.Forest.Decision(x)
		m.DecisionMin = math.Min(m.DecisionMin, decisions[i])
		m.DecisionMax = math.Max(m.DecisionMax, decisions[i])
	}

	m.Importance = featureImportance(m.Columns, scaled, decisions)
	return m, nil
}

// matrix fills the reference z-scores and lays vectors out in column order
func (m *Model) matrix(vectors []features.FeatureVector) ([][]float64, error) {
	X := make([][]float64, len(vectors))
	for i := range vectors {
		fv := vectors[i]
		m.ZScores.Apply(&fv)
		row := make([]float64, len(m.Columns))
		for j, name := range m.Columns {
			v, ok := fv.Get(name)
			if !ok {
				return nil, fmt.Errorf("%w: unknown feature column %q", models.ErrSchema, name)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: row %d column %q is not finite", models.ErrInput, i, name)
			}
			row[j] = v
		}
		X[i] = row
	}
	return X, nil
}

// checkSchema refuses to score when the model was fitted on other columns
func (m *Model) checkSchema() error {
	if !slices.Equal(m.Columns, features.ModelColumns) {
		return fmt.Errorf("%w: model columns %v do not match engine columns %v", models.ErrSchema, m.Columns, features.ModelColumns)
	}
	if m.Scaler == nil || m.Forest == nil || len(m.Forest.Trees) == 0 {
		return fmt.Errorf("%w: model is incomplete", models.ErrConfiguration)
	}
	return nil
}

// validate is the full structural check run on decoded models, so a corrupt
// blob is rejected at load time instead of failing inside a prediction.
func (m *Model) validate() error {
	if err := m.checkSchema(); err != nil {
		return err
	}
	if err := m.Scaler.validate(len(m.Columns)); err != nil {
		return err
	}
	if m.Forest.Features != len(m.Columns) {
		return fmt.Errorf("%w: forest fitted on %d columns, model has %d", models.ErrSchema, m.Forest.Features, len(m.Columns))
	}
	return m.Forest.validate()
}

func (m *Model) decisions(sessions []models.SessionRecord) ([]float64, [][]float64, error) {
	if err := m.checkSchema(); err != nil {
		return nil, nil, err
	}

	vectors := make([]features.FeatureVector, len(sessions))
	for i, s := range sessions {
		vectors[i] = features.Engineer(s)
	}
	X, err := m.matrix(vectors)
	if err != nil {
		return nil, nil, err
	}
	scaled, err := m.Scaler.Transform(X)
	if err != nil {
		return nil, nil, err
	}

	out := make([]float64, len(scaled))
	for i, x := range scaled {
		out[i] = m.Forest.Decision(x)
	}
	return out, X, nil
}

// Predict flags outliers and returns batch-relative risk scores: the
// decision function is min-max normalised over this batch and inverted, so
// scores from different calls are not comparable.
func (m *Model) Predict(sessions []models.SessionRecord) ([]bool, []float64, error) {
	decisions, _, err := m.decisions(sessions)
	if err != nil {
		return nil, nil, err
	}

	anomalies := make([]bool, len(decisions))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, d := range decisions {
		anomalies[i] = d < 0
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}

	risks := make([]float64, len(decisions))
	if hi > lo {
		for i, d := range decisions {
			risks[i] = 1 - (d-lo)/(hi-lo)
		}
	}
	return anomalies, risks, nil
}

// Verdicts scores sessions against the training distribution. Risk is
// normalised with the training decision range so it is stable across calls.
// Anomalous sessions carry the top-N explanations.
func (m *Model) Verdicts(sessions []models.SessionRecord, topN int) ([]models.AnomalyVerdict, error) {
	decisions, X, err := m.decisions(sessions)
	if err != nil {
		return nil, err
	}

	out := make([]models.AnomalyVerdict, len(sessions))
	for i, d := range decisions {
		v := models.AnomalyVerdict{
			SessionID:     sessions[i].SessionID,
			IsAnomaly:     d < 0,
			RiskScore:     m.referenceRisk(d),
			Confidence:    m.confidence(d),
			DecisionScore: d,
		}
		if v.IsAnomaly {
			v.Explanations = m.explainRow(X[i], topN)
		}
		out[i] = v
	}
	return out, nil
}

func (m *Model) referenceRisk(d float64) float64 {
	span := m.DecisionMax - m.DecisionMin
	if span <= 0 {
		return 0
	}
	return clamp01(1 - (d-m.DecisionMin)/span)
}

// confidence is how far the decision sits from the boundary relative to the
// farthest training point on the same side.
func (m *Model) confidence(d float64) float64 {
	scale := m.DecisionMax
	if d < 0 {
		scale = -m.DecisionMin
	}
	if scale <= 0 {
		return 0
	}
	return clamp01(math.Abs(d) / scale)
}

// Explain pairs the globally most important features with the session's
// values for them.
func (m *Model) Explain(session models.SessionRecord, topN int) ([]models.Explanation, error) {
	if err := m.checkSchema(); err != nil {
		return nil, err
	}
	X, err := m.matrix([]features.FeatureVector{features.Engineer(session)})
	if err != nil {
		return nil, err
	}
	return m.explainRow(X[0], topN), nil
}

func (m *Model) explainRow(row []float64, topN int) []models.Explanation {
	if topN <= 0 {
		topN = DefaultExplainTopN
	}
	ranked := m.TopFeatures(topN)

	out := make([]models.Explanation, 0, len(ranked))
	for _, fi := range ranked {
		value := row[slices.Index(m.Columns, fi.Name)]
		out = append(out, models.Explanation{
			Feature:     fi.Name,
			Value:       value,
			Importance:  fi.Importance,
			Description: features.Describe(fi.Name, value),
		})
	}
	return out
}

// TopFeatures returns the k most important features, ties broken by column
// order.
func (m *Model) TopFeatures(k int) []models.FeatureImportance {
	ranked := make([]models.FeatureImportance, 0, len(m.Columns))
	for _, name := range m.Columns {
		ranked = append(ranked, models.FeatureImportance{Name: name, Importance: m.Importance[name]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Importance > ranked[j].Importance
	})
	if k > 0 && k < len(ranked) {
		ranked = ranked[:k]
	}
	return ranked
}

// featureImportance approximates each column's influence as the absolute
// correlation with the decision function, normalised to sum to one.
func featureImportance(columns []string, scaled [][]float64, decisions []float64) map[string]float64 {
	importance := make(map[string]float64, len(columns))
	total := 0.0
	col := make([]float64, len(scaled))
	for j, name := range columns {
		for i, row := range scaled {
			col[i] = row[j]
		}
		r := math.Abs(pearson(col, decisions))
		importance[name] = r
		total += r
	}
	if total > 0 {
		for name := range importance {
			importance[name] /= total
		}
	}
	return importance
}

// pearson is the correlation coefficient, 0 when either side is constant
func pearson(x, y []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
