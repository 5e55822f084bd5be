package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nshruti113/vnc-security-monitor/internal/dataset"
	"github.com/nshruti113/vnc-security-monitor/internal/detection"
	"github.com/nshruti113/vnc-security-monitor/internal/features"
	"github.com/nshruti113/vnc-security-monitor/internal/metrics"
	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dbDump = []byte("CREATE TABLE users (id INT, name TEXT)")

type fakeMirror struct {
	mu         sync.Mutex
	alerts     []models.Alert
	published  int
	correlated []models.CorrelatedAlert
}

func (f *fakeMirror) StoreAlert(a models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeMirror) PublishAlert(models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published++
	return nil
}

func (f *fakeMirror) StoreCorrelated(a models.CorrelatedAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.correlated = append(f.correlated, a)
	return nil
}

func (f *fakeMirror) PublishCorrelated(models.CorrelatedAlert) error {
	return errors.New("subscriber gone")
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Train.Trees = 50
	opts.RuleTick = 10 * time.Millisecond
	opts.HousekeepingTick = 10 * time.Millisecond
	return opts
}

func TestProcessPacket_RulesThenCorrelation(t *testing.T) {
	mirror := &fakeMirror{}
	p := New(testOptions(), Deps{Mirror: mirror})

	var seen []models.CorrelatedAlert
	p.OnCorrelated(func(a models.CorrelatedAlert) { seen = append(seen, a) })

	first, err := p.ProcessPacket(dbDump, nil)
	require.NoError(t, err)
	require.Len(t, first.Alerts, 1)
	assert.Equal(t, detection.TitleDatabaseContent, first.Alerts[0].Title)
	assert.Equal(t, models.SeverityMedium, first.Assessment.Tier)
	assert.Nil(t, first.Correlated)
	assert.Nil(t, first.Verdict)

	second, err := p.ProcessPacket(dbDump, nil)
	require.NoError(t, err)
	require.NotNil(t, second.Correlated)
	assert.Equal(t, models.SeverityCritical, second.Correlated.Severity)
	assert.Equal(t, 2, second.Correlated.RuleTriggers)
	assert.Equal(t, len(dbDump), second.Correlated.PacketSize)

	require.Len(t, seen, 1)
	assert.Equal(t, second.Correlated.ID, seen[0].ID)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.Len(t, mirror.alerts, 2)
	assert.Equal(t, 2, mirror.published)
	assert.Len(t, mirror.correlated, 1)
}

func TestAnalyzeSession_RequiresModel(t *testing.T) {
	p := New(testOptions(), Deps{})
	session := dataset.NewGenerator(1).NormalSession("s")

	_, err := p.AnalyzeSession(session)
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	_, err = p.TopFeatures(10)
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	session.DurationSeconds = -1
	_, err = p.AnalyzeSession(session)
	assert.True(t, errors.Is(err, models.ErrInput))
}

func TestAnalyzeSession_CorrelatesWithRecentRules(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := New(testOptions(), Deps{Metrics: metrics.New(reg)})

	g := dataset.NewGenerator(21)
	_, err := p.Train(g.Sessions(300, 0))
	require.NoError(t, err)

	exfil := g.AnomalousSession("exfil-1", dataset.AttackLargeFileExfil)
	quiet, err := p.AnalyzeSession(exfil)
	require.NoError(t, err)
	assert.True(t, quiet.Verdict.IsAnomaly)
	assert.Nil(t, quiet.Correlated, "model evidence alone stays below HIGH")

	_, err = p.ProcessPacket(dbDump, nil)
	require.NoError(t, err)

	loud, err := p.AnalyzeSession(exfil)
	require.NoError(t, err)
	require.NotNil(t, loud.Correlated)
	assert.Equal(t, "exfil-1", loud.Correlated.SessionID)
	assert.Contains(t, loud.Correlated.Recommendations, "Immediately investigate VNC session")

	top, err := p.TopFeatures(10)
	require.NoError(t, err)
	assert.Len(t, top, 10)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.ModelTrained))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.SessionsTotal))
}

func TestProcessPacket_WithSession(t *testing.T) {
	p := New(testOptions(), Deps{})
	g := dataset.NewGenerator(4)
	_, err := p.Train(g.Sessions(200, 0.1))
	require.NoError(t, err)

	session := g.NormalSession("s-1")
	res, err := p.ProcessPacket([]byte("hello"), &session)
	require.NoError(t, err)
	require.NotNil(t, res.Verdict)
	assert.Equal(t, "s-1", res.Verdict.SessionID)

	bad := session
	bad.DeviceTrustScore = 3
	_, err = p.ProcessPacket([]byte("hello"), &bad)
	assert.True(t, errors.Is(err, models.ErrInput))
}

func TestExplainAndEvaluate(t *testing.T) {
	p := New(testOptions(), Deps{})
	g := dataset.NewGenerator(9)
	exfil := g.AnomalousSession("exfil-2", dataset.AttackLargeFileExfil)

	_, err := p.Explain(exfil, 3)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
	_, err = p.Evaluate([]models.SessionRecord{exfil})
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	corpus := g.Sessions(300, 0.15)
	_, err = p.Train(corpus)
	require.NoError(t, err)

	exp, err := p.Explain(exfil, 3)
	require.NoError(t, err)
	assert.Equal(t, "exfil-2", exp.SessionID)
	require.Len(t, exp.Explanations, 3)
	assert.Len(t, exp.Features, len(features.ModelColumns))
	for _, e := range exp.Explanations {
		assert.Contains(t, exp.Features, e.Feature)
	}

	bad := exfil
	bad.DurationSeconds = -1
	_, err = p.Explain(bad, 3)
	assert.True(t, errors.Is(err, models.ErrInput))

	ev, err := p.Evaluate(corpus)
	require.NoError(t, err)
	assert.Equal(t, len(corpus), ev.TruePositives+ev.TrueNegatives+ev.FalsePositives+ev.FalseNegatives)
	assert.Greater(t, ev.Accuracy, 0.5)
}

func TestSaveAndLoadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	p := New(testOptions(), Deps{})
	assert.True(t, errors.Is(p.SaveModel(path), models.ErrConfiguration))
	assert.True(t, errors.Is(p.LoadModel(path), models.ErrConfiguration))

	_, err := p.Train(dataset.NewGenerator(2).Sessions(100, 0.1))
	require.NoError(t, err)
	require.NoError(t, p.SaveModel(path))

	other := New(testOptions(), Deps{})
	require.NoError(t, other.LoadModel(path))
	assert.True(t, other.Status().Model.Trained)
}

func TestStartStop_RuleTickRaisesBandwidthAlert(t *testing.T) {
	p := New(testOptions(), Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, p.Start(ctx))
	assert.False(t, p.Start(ctx), "already running")
	assert.True(t, p.Running())

	big := make([]byte, 200_000)
	for i := 0; i < 10; i++ {
		_, err := p.ProcessPacket(big, nil)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		for _, a := range p.Alerts(0) {
			if a.Title == detection.TitleHighBandwidth {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, p.Stop())
	assert.False(t, p.Stop())
	assert.False(t, p.Running())

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loops did not observe the stop flag")
	}

	assert.Len(t, p.TrafficData(), 10)
}

func TestStartStopStart_SingleLoopSet(t *testing.T) {
	opts := testOptions()
	opts.RuleTick = 20 * time.Millisecond
	p := New(opts, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	big := make([]byte, 200_000)
	for i := 0; i < 10; i++ {
		_, err := p.ProcessPacket(big, nil)
		require.NoError(t, err)
	}

	require.True(t, p.Start(ctx))
	assert.Equal(t, int32(3), p.loops.Load())

	// restart inside a single tick
	require.True(t, p.Stop())
	restartedAt := time.Now()
	require.True(t, p.Start(ctx))

	assert.Eventually(t, func() bool {
		return p.loops.Load() == 3
	}, time.Second, 5*time.Millisecond, "loops of the first run should exit")

	time.Sleep(10 * opts.RuleTick)
	assert.Equal(t, int32(3), p.loops.Load())

	require.True(t, p.Stop())
	elapsed := time.Since(restartedAt)
	p.Wait()
	assert.Equal(t, int32(0), p.loops.Load())

	bandwidth := 0
	for _, a := range p.Alerts(0) {
		if a.Title == detection.TitleHighBandwidth && !a.Timestamp.Before(restartedAt) {
			bandwidth++
		}
	}
	assert.Positive(t, bandwidth)
	// one draft per tick of a single rule loop
	assert.LessOrEqual(t, bandwidth, int(elapsed/opts.RuleTick)+1)
}

func TestHousekeep_PrunesExpiredAlerts(t *testing.T) {
	opts := testOptions()
	opts.AlertRetention = time.Millisecond
	p := New(opts, Deps{})

	_, err := p.ProcessPacket(dbDump, nil)
	require.NoError(t, err)
	require.Len(t, p.Alerts(0), 1)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, p.Housekeep())
	assert.Empty(t, p.Alerts(0))
}

func TestStatusAndFeedback(t *testing.T) {
	p := New(testOptions(), Deps{})
	for i := 0; i < 2; i++ {
		_, err := p.ProcessPacket(dbDump, nil)
		require.NoError(t, err)
	}

	correlated := p.Correlated(0)
	require.Len(t, correlated, 1)

	assert.True(t, errors.Is(p.Feedback("nope", false), models.ErrInput))
	require.NoError(t, p.Feedback(correlated[0].ID, false))

	st := p.Status()
	assert.False(t, st.Running)
	assert.Equal(t, int64(2), st.Detection.TotalPackets)
	assert.Equal(t, 2, st.Detection.RuleBasedAlerts)
	assert.Equal(t, 1, st.Detection.CombinedAlerts)
	assert.Equal(t, 1, st.Detection.FalsePositives)
	assert.Equal(t, 2, st.Rules.HighRiskAlerts)
	assert.False(t, st.Model.Trained)
	assert.Equal(t, 1, st.Tiers[models.SeverityMedium])
	assert.Equal(t, 1, st.Tiers[models.SeverityCritical])
	assert.Contains(t, st.Recommendations, "Train ML model with more data for better detection")

	matrix := p.ThreatMatrix()
	assert.Len(t, matrix, 4)
	patterns := p.ThreatPatterns()
	require.Len(t, patterns, 1)
	assert.Equal(t, 1, patterns[0].Count)
}
