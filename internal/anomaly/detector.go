package anomaly

import (
	"fmt"
	"sync/atomic"

	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"go.uber.org/zap"
)

// Detector holds the current model. Retraining or loading publishes a new
// model; in-flight scoring keeps the one it started with.
type Detector struct {
	model  atomic.Pointer[Model]
	opts   TrainOptions
	logger *zap.Logger
}

func NewDetector(opts TrainOptions, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{opts: opts, logger: logger}
}

// Model returns the current model or ErrConfiguration before training
func (d *Detector) Model() (*Model, error) {
	m := d.model.Load()
	if m == nil {
		return nil, fmt.Errorf("%w: no trained model loaded", models.ErrConfiguration)
	}
	return m, nil
}

func (d *Detector) Trained() bool {
	return d.model.Load() != nil
}

// Train fits a new model on corpus and swaps it in
func (d *Detector) Train(corpus []models.SessionRecord) (*Model, error) {
	m, err := Train(corpus, d.opts)
	if err != nil {
		return nil, err
	}
	d.model.Store(m)

	top := m.TopFeatures(3)
	names := make([]string, len(top))
	for i, fi := range top {
		names[i] = fi.Name
	}
	d.logger.Info("model trained",
		zap.Int("sessions", m.TrainingSize),
		zap.Float64("contamination", m.Contamination),
		zap.Int("trees", len(m.Forest.Trees)),
		zap.Strings("top_features", names))
	return m, nil
}

// Swap publishes an externally loaded model
func (d *Detector) Swap(m *Model) {
	d.model.Store(m)
}

func (d *Detector) LoadFile(path string) error {
	m, err := LoadFile(path)
	if err != nil {
		return err
	}
	d.model.Store(m)
	d.logger.Info("model loaded", zap.String("path", path), zap.Int("sessions", m.TrainingSize))
	return nil
}

func (d *Detector) SaveFile(path string) error {
	m, err := d.Model()
	if err != nil {
		return err
	}
	if err := m.SaveFile(path); err != nil {
		return err
	}
	d.logger.Info("model saved", zap.String("path", path))
	return nil
}

func (d *Detector) Predict(sessions []models.SessionRecord) ([]bool, []float64, error) {
	m, err := d.Model()
	if err != nil {
		return nil, nil, err
	}
	return m.Predict(sessions)
}

func (d *Detector) Verdicts(sessions []models.SessionRecord, topN int) ([]models.AnomalyVerdict, error) {
	m, err := d.Model()
	if err != nil {
		return nil, err
	}
	return m.Verdicts(sessions, topN)
}

func (d *Detector) Explain(session models.SessionRecord, topN int) ([]models.Explanation, error) {
	m, err := d.Model()
	if err != nil {
		return nil, err
	}
	return m.Explain(session, topN)
}

func (d *Detector) Evaluate(sessions []models.SessionRecord) (Evaluation, error) {
	m, err := d.Model()
	if err != nil {
		return Evaluation{}, err
	}
	return m.Evaluate(sessions)
}
