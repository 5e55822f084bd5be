// Package pipeline wires the heuristics, the anomaly model, the alert store
// and the correlation engine into one monitor.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nshruti113/vnc-security-monitor/internal/alerts"
	"github.com/nshruti113/vnc-security-monitor/internal/anomaly"
	"github.com/nshruti113/vnc-security-monitor/internal/config"
	"github.com/nshruti113/vnc-security-monitor/internal/correlation"
	"github.com/nshruti113/vnc-security-monitor/internal/detection"
	"github.com/nshruti113/vnc-security-monitor/internal/features"
	"github.com/nshruti113/vnc-security-monitor/internal/metrics"
	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"go.uber.org/zap"
)

// Mirror receives copies of every alert, typically a Redis client
type Mirror interface {
	StoreAlert(models.Alert) error
	PublishAlert(models.Alert) error
	StoreCorrelated(models.CorrelatedAlert) error
	PublishCorrelated(models.CorrelatedAlert) error
}

type Options struct {
	AlertCapacity     int
	CorrelationWindow time.Duration
	RuleTick          time.Duration
	HousekeepingTick  time.Duration
	AlertRetention    time.Duration
	Train             anomaly.TrainOptions
}

func DefaultOptions() Options {
	return Options{
		AlertCapacity:     alerts.DefaultCapacity,
		CorrelationWindow: correlation.DefaultWindow,
		RuleTick:          time.Second,
		HousekeepingTick:  time.Minute,
		AlertRetention:    time.Hour,
		Train:             anomaly.DefaultTrainOptions(),
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AlertCapacity:     cfg.AlertCapacity,
		CorrelationWindow: cfg.CorrelationWindow,
		RuleTick:          cfg.RuleTick,
		HousekeepingTick:  cfg.HousekeepingTick,
		AlertRetention:    cfg.AlertRetention,
		Train: anomaly.TrainOptions{
			Contamination: cfg.Contamination,
			Trees:         cfg.Trees,
			Seed:          cfg.Seed,
		},
	}
}

// Deps are optional collaborators; nil values disable them
type Deps struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Mirror  Mirror
}

type Pipeline struct {
	opts    Options
	rules   *detection.Detector
	store   *alerts.Store
	model   *anomaly.Detector
	engine  *correlation.Engine
	metrics *metrics.Metrics
	mirror  Mirror
	logger  *zap.Logger

	lifecycle sync.Mutex
	running   atomic.Bool
	stop      chan struct{}
	loops     atomic.Int32
	wg        sync.WaitGroup

	packets  atomic.Int64
	sessions atomic.Int64
	mlAlerts atomic.Int64

	mu           sync.RWMutex
	onCorrelated []func(models.CorrelatedAlert)

	now func() time.Time
}

func New(opts Options, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		opts:    opts,
		rules:   detection.NewDetector(logger.Named("rules")),
		store:   alerts.NewStore(opts.AlertCapacity, logger.Named("alerts")),
		model:   anomaly.NewDetector(opts.Train, logger.Named("model")),
		engine:  correlation.NewEngine(correlation.DefaultLogCapacity, logger.Named("correlation")),
		metrics: deps.Metrics,
		mirror:  deps.Mirror,
		logger:  logger,
		now:     time.Now,
	}

	if p.metrics != nil {
		p.store.OnAlert(p.metrics.ObserveRuleAlert)
	}
	if p.mirror != nil {
		p.store.OnAlert(func(a models.Alert) {
			if err := p.mirror.StoreAlert(a); err != nil {
				p.logger.Warn("failed to mirror alert", zap.Int64("id", a.ID), zap.Error(err))
			}
			if err := p.mirror.PublishAlert(a); err != nil {
				p.logger.Warn("failed to publish alert", zap.Int64("id", a.ID), zap.Error(err))
			}
		})
	}
	return p
}

// OnAlert registers a listener for stored rule alerts
func (p *Pipeline) OnAlert(l alerts.Listener) {
	p.store.OnAlert(l)
}

// OnCorrelated registers a listener for emitted correlated alerts
func (p *Pipeline) OnCorrelated(l func(models.CorrelatedAlert)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCorrelated = append(p.onCorrelated, l)
}

// PacketResult is everything one payload produced
type PacketResult struct {
	Alerts     []models.Alert          `json:"alerts"`
	Profile    features.PacketProfile  `json:"profile"`
	Verdict    *models.AnomalyVerdict  `json:"verdict,omitempty"`
	Assessment correlation.Assessment  `json:"assessment"`
	Correlated *models.CorrelatedAlert `json:"correlated,omitempty"`
}

// ProcessPacket runs the heuristics on payload and correlates the result.
// When session is given and a model is loaded, the session verdict is the
// anomaly side of the correlation.
func (p *Pipeline) ProcessPacket(payload []byte, session *models.SessionRecord) (PacketResult, error) {
	p.packets.Add(1)
	if p.metrics != nil {
		p.metrics.ObservePacket(len(payload))
	}

	res := PacketResult{
		Alerts:  p.store.AddAll(p.rules.AnalyzePacket(payload)),
		Profile: features.PacketFeatures(payload),
	}

	sig := correlation.MLSignal{
		HasFileSignature: res.Profile.HasFileSignature,
		Entropy:          res.Profile.Entropy,
	}
	origin := correlation.Origin{PacketSize: len(payload)}

	if session != nil && p.model.Trained() {
		v, err := p.verdict(*session)
		if err != nil {
			return res, err
		}
		res.Verdict = &v
		sig.IsAnomaly, sig.Score, sig.Confidence = v.IsAnomaly, v.RiskScore, v.Confidence
		origin.SessionID = session.SessionID
	}

	res.Correlated, res.Assessment = p.correlate(sig, origin)
	return res, nil
}

// SessionResult is the verdict for one session and its correlation
type SessionResult struct {
	Verdict    models.AnomalyVerdict   `json:"verdict"`
	Assessment correlation.Assessment  `json:"assessment"`
	Correlated *models.CorrelatedAlert `json:"correlated,omitempty"`
}

// AnalyzeSession scores a session and correlates it with recent rule alerts
func (p *Pipeline) AnalyzeSession(session models.SessionRecord) (SessionResult, error) {
	v, err := p.verdict(session)
	if err != nil {
		return SessionResult{}, err
	}

	sig := correlation.MLSignal{IsAnomaly: v.IsAnomaly, Score: v.RiskScore, Confidence: v.Confidence}
	correlated, assessment := p.correlate(sig, correlation.Origin{SessionID: session.SessionID})
	return SessionResult{Verdict: v, Assessment: assessment, Correlated: correlated}, nil
}

func (p *Pipeline) verdict(session models.SessionRecord) (models.AnomalyVerdict, error) {
	if err := session.Validate(); err != nil {
		return models.AnomalyVerdict{}, err
	}
	verdicts, err := p.model.Verdicts([]models.SessionRecord{session}, 0)
	if err != nil {
		return models.AnomalyVerdict{}, err
	}

	v := verdicts[0]
	p.sessions.Add(1)
	if v.IsAnomaly {
		p.mlAlerts.Add(1)
	}
	if p.metrics != nil {
		p.metrics.ObserveVerdict(v)
	}
	return v, nil
}

func (p *Pipeline) correlate(sig correlation.MLSignal, origin correlation.Origin) (*models.CorrelatedAlert, correlation.Assessment) {
	recent := p.store.Since(p.now().Add(-p.opts.CorrelationWindow))
	alert, assessment := p.engine.Correlate(sig, recent, origin)

	if p.metrics != nil {
		p.metrics.ObserveAssessment(assessment.Tier, alert != nil)
	}
	if alert == nil {
		return nil, assessment
	}

	if p.mirror != nil {
		if err := p.mirror.StoreCorrelated(*alert); err != nil {
			p.logger.Warn("failed to mirror correlated alert", zap.String("id", alert.ID), zap.Error(err))
		}
		if err := p.mirror.PublishCorrelated(*alert); err != nil {
			p.logger.Warn("failed to publish correlated alert", zap.String("id", alert.ID), zap.Error(err))
		}
	}

	p.mu.RLock()
	listeners := p.onCorrelated
	p.mu.RUnlock()
	for _, l := range listeners {
		l(*alert)
	}
	return alert, assessment
}

// Train fits a new model on corpus and swaps it in
func (p *Pipeline) Train(corpus []models.SessionRecord) (*anomaly.Model, error) {
	m, err := p.model.Train(corpus)
	if err != nil {
		return nil, err
	}
	p.setTrained()
	return m, nil
}

func (p *Pipeline) LoadModel(path string) error {
	if err := p.model.LoadFile(path); err != nil {
		return err
	}
	p.setTrained()
	return nil
}

// UseModel swaps in an already loaded model
func (p *Pipeline) UseModel(m *anomaly.Model) {
	p.model.Swap(m)
	p.setTrained()
}

func (p *Pipeline) SaveModel(path string) error {
	return p.model.SaveFile(path)
}

func (p *Pipeline) setTrained() {
	if p.metrics != nil {
		p.metrics.SetModelTrained(true)
	}
}

// Start launches the background rule and housekeeping loops. It returns
// false if they are already running.
func (p *Pipeline) Start(ctx context.Context) bool {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.running.Load() {
		return false
	}
	stop := make(chan struct{})
	p.stop = stop
	p.running.Store(true)

	drafts := make(chan models.AlertDraft, 64)
	p.wg.Add(3)
	p.loops.Add(3)
	go func() {
		defer p.loopDone()
		p.store.Consume(ctx, drafts)
	}()
	go func() {
		defer p.loopDone()
		defer close(drafts)
		p.ruleLoop(ctx, stop, drafts)
	}()
	go func() {
		defer p.loopDone()
		p.housekeepingLoop(ctx, stop)
	}()

	p.logger.Info("monitoring started",
		zap.Duration("rule_tick", p.opts.RuleTick),
		zap.Duration("housekeeping_tick", p.opts.HousekeepingTick))
	return true
}

// Stop signals the loops of the current run to exit. A later Start never
// shares a tick with them.
func (p *Pipeline) Stop() bool {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if !p.running.Load() {
		return false
	}
	p.running.Store(false)
	close(p.stop)
	p.stop = nil
	p.logger.Info("monitoring stopped")
	return true
}

func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Wait blocks until every loop started so far has exited
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) loopDone() {
	p.loops.Add(-1)
	p.wg.Done()
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func (p *Pipeline) ruleLoop(ctx context.Context, stop <-chan struct{}, drafts chan<- models.AlertDraft) {
	ticker := time.NewTicker(p.opts.RuleTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if stopped(stop) {
				return
			}
			for _, d := range p.rules.Tick() {
				select {
				case drafts <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (p *Pipeline) housekeepingLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(p.opts.HousekeepingTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if stopped(stop) {
				return
			}
			p.Housekeep()
		}
	}
}

// Housekeep prunes rule alerts older than the retention window
func (p *Pipeline) Housekeep() int {
	pruned := p.store.Prune(p.opts.AlertRetention)
	if p.metrics != nil {
		p.metrics.AlertsPruned.Add(float64(pruned))
		p.metrics.AlertsStored.Set(float64(p.store.Len()))
	}
	if pruned > 0 {
		p.logger.Debug("pruned rule alerts", zap.Int("count", pruned))
	}
	return pruned
}

// Alerts returns up to limit of the newest rule alerts
func (p *Pipeline) Alerts(limit int) []models.Alert {
	return p.store.Recent(limit)
}

// Correlated returns up to limit of the newest correlated alerts
func (p *Pipeline) Correlated(limit int) []models.CorrelatedAlert {
	return p.engine.Recent(limit)
}

func (p *Pipeline) ThreatMatrix() []models.ThreatScenario {
	return p.store.ThreatMatrix()
}

func (p *Pipeline) TrafficData() []models.BandwidthSample {
	return p.rules.Window().Bandwidth()
}

func (p *Pipeline) ThreatPatterns() []correlation.ThreatPattern {
	return p.engine.ThreatPatterns()
}

// TopFeatures returns the model's most important features
func (p *Pipeline) TopFeatures(k int) ([]models.FeatureImportance, error) {
	m, err := p.model.Model()
	if err != nil {
		return nil, err
	}
	return m.TopFeatures(k), nil
}

// Explanation is a session's engineered features with the model columns
// that weigh most on its score
type Explanation struct {
	SessionID    string               `json:"session_id"`
	Features     map[string]float64   `json:"features"`
	Explanations []models.Explanation `json:"explanations"`
}

func (p *Pipeline) Explain(session models.SessionRecord, topN int) (Explanation, error) {
	if err := session.Validate(); err != nil {
		return Explanation{}, err
	}
	exps, err := p.model.Explain(session, topN)
	if err != nil {
		return Explanation{}, err
	}
	return Explanation{
		SessionID:    session.SessionID,
		Features:     features.Engineer(session).Map(),
		Explanations: exps,
	}, nil
}

// Evaluate scores the loaded model against labelled sessions
func (p *Pipeline) Evaluate(sessions []models.SessionRecord) (anomaly.Evaluation, error) {
	return p.model.Evaluate(sessions)
}

func (p *Pipeline) Feedback(id string, truePositive bool) error {
	if err := p.engine.RecordFeedback(id, truePositive); err != nil {
		return fmt.Errorf("feedback: %w", err)
	}
	return nil
}

// RuleStats combines alert totals with the heuristics' rolling counters
func (p *Pipeline) RuleStats() models.RuleStats {
	transfers, clipboard, bandwidth := p.rules.Window().Counts()
	return models.RuleStats{
		AlertStats:       p.store.Stats(),
		FileTransfers:    transfers,
		ClipboardEvents:  clipboard,
		CurrentBandwidth: bandwidth,
	}
}
