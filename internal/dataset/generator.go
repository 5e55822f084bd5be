// Package dataset reads and writes the session, flow and telemetry tables
// and generates seeded synthetic corpora.
package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/nshruti113/vnc-security-monitor/internal/models"
)

// Attack scenarios injected into anomalous sessions
const (
	AttackLargeFileExfil  = "large_file_exfil"
	AttackScreenshotExfil = "screenshot_exfil"
	AttackKeylogging      = "keylogging"
	AttackTunnelExfil     = "tunnel_exfil"
	AttackSteganographic  = "steganographic"
	AttackCredentialReuse = "credential_reuse"
	AttackInsiderThreat   = "insider_threat"
)

var attacks = []string{
	AttackLargeFileExfil,
	AttackScreenshotExfil,
	AttackKeylogging,
	AttackTunnelExfil,
	AttackSteganographic,
	AttackCredentialReuse,
	AttackInsiderThreat,
}

var processes = []string{"explorer.exe", "notepad.exe", "cmd.exe", "powershell.exe"}

// Generator produces deterministic synthetic data for a given seed
type Generator struct {
	faker *gofakeit.Faker
	rng   *rand.Rand
	now   time.Time
}

func NewGenerator(seed uint64) *Generator {
	return &Generator{
		faker: gofakeit.New(seed),
		rng:   rand.New(rand.NewPCG(seed, seed+1)),
		now:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

// Sessions generates n sessions of which int(n*anomalyRate) are anomalous.
// Normal sessions come first.
func (g *Generator) Sessions(n int, anomalyRate float64) []models.SessionRecord {
	nAnomalies := int(float64(n) * anomalyRate)
	out := make([]models.SessionRecord, 0, n)
	for i := 0; i < n-nAnomalies; i++ {
		out = append(out, g.normalSession(sessionID(i)))
	}
	for i := n - nAnomalies; i < n; i++ {
		out = append(out, g.AnomalousSession(sessionID(i), g.faker.RandomString(attacks)))
	}
	return out
}

func sessionID(i int) string {
	return fmt.Sprintf("sess-%04d", i)
}

// NormalSession returns one benign session
func (g *Generator) NormalSession(id string) models.SessionRecord {
	return g.normalSession(id)
}

func (g *Generator) normalSession(id string) models.SessionRecord {
	start := g.faker.DateRange(g.now.AddDate(0, 0, -30), g.now).UTC()
	duration := math.Max(60, math.Round(1800+600*g.rng.NormFloat64()))
	bytesOut := math.Max(1000, math.Floor(math.Exp(13+g.rng.NormFloat64())))
	bytesIn := math.Floor(bytesOut * g.faker.Float64Range(0.8, 1.2))

	return models.SessionRecord{
		SessionID:             id,
		UserID:                g.faker.Username(),
		DeviceID:              fmt.Sprintf("dev-%d", g.faker.Number(1, 50)),
		SrcIP:                 fmt.Sprintf("10.%d.%d.%d", g.faker.Number(0, 255), g.faker.Number(0, 255), g.faker.Number(1, 254)),
		DstIP:                 g.faker.IPv4Address(),
		SrcGeo:                g.faker.Country(),
		DstGeo:                g.faker.Country(),
		StartTS:               start,
		EndTS:                 start.Add(time.Duration(duration) * time.Second),
		DurationSeconds:       duration,
		TotalBytesIn:          bytesIn,
		TotalBytesOut:         bytesOut,
		AvgBytesPerSecOut:     bytesOut / duration,
		NumClipboardEvents:    g.poisson(0.5),
		TotalClipboardBytes:   2048 * g.rng.ExpFloat64(),
		NumScreenshotEvents:   g.poisson(1),
		AvgFrameRate:          g.faker.Float64Range(3, 8),
		NumFileTransferEvents: g.poisson(0.2),
		TotalFilesTransferred: g.poisson(0.3),
		TotalFilesSizeBytes:   50000 * g.rng.ExpFloat64(),
		ProcessesSpawnedCount: g.poisson(2),
		AuthMethod:            g.authMethod(),
		DeviceTrustScore:      g.beta(8, 2),
		IsEncrypted:           g.rng.Float64() < 0.8,
		Label:                 models.LabelNormal,
	}
}

// AnomalousSession returns a session shaped by the named attack scenario.
// Unknown scenarios and steganographic leave the base session unchanged
// apart from the label.
func (g *Generator) AnomalousSession(id, attack string) models.SessionRecord {
	s := g.normalSession(id)
	s.Label = models.LabelAnomalous

	switch attack {
	case AttackLargeFileExfil:
		s.TotalBytesOut *= 50
		s.NumClipboardEvents = g.faker.Number(10, 49)
		s.TotalClipboardBytes = float64(g.faker.Number(10_000_000, 99_999_999))
		s.NumFileTransferEvents = g.faker.Number(3, 14)
		s.TotalFilesSizeBytes = s.TotalClipboardBytes
		s.AvgBytesPerSecOut = s.TotalBytesOut / s.DurationSeconds
	case AttackScreenshotExfil:
		s.NumScreenshotEvents = g.faker.Number(50, 199)
		s.AvgFrameRate = g.faker.Float64Range(15, 30)
		s.TotalBytesOut *= 10
	case AttackKeylogging:
		s.NumClipboardEvents = g.faker.Number(20, 99)
		s.TotalClipboardBytes = float64(g.faker.Number(10_000, 99_999))
	case AttackTunnelExfil:
		s.ProcessesSpawnedCount = g.faker.Number(10, 29)
		s.TotalBytesOut *= 20
	case AttackCredentialReuse:
		s.DeviceTrustScore = g.faker.Float64Range(0.1, 0.4)
		s.AuthMethod = models.AuthPassword
		day := g.faker.DateRange(g.now.AddDate(0, 0, -7), g.now).UTC()
		s.StartTS = time.Date(day.Year(), day.Month(), day.Day(), g.faker.Number(2, 5), day.Minute(), day.Second(), 0, time.UTC)
		s.EndTS = s.StartTS.Add(time.Duration(s.DurationSeconds) * time.Second)
	case AttackInsiderThreat:
		s.TotalBytesOut *= 30
		s.NumFileTransferEvents = g.faker.Number(5, 19)
		s.TotalFilesSizeBytes = s.TotalBytesOut * 0.8
	}
	return s
}

// Flows generates one to nine egress VNC flows per session
func (g *Generator) Flows(sessions []models.SessionRecord) []models.NetworkFlow {
	out := make([]models.NetworkFlow, 0, len(sessions)*5)
	for _, s := range sessions {
		n := g.faker.Number(1, 9)
		for i := 0; i < n; i++ {
			out = append(out, models.NetworkFlow{
				FlowID:          fmt.Sprintf("%s-flow-%d", s.SessionID, i),
				SessionID:       s.SessionID,
				SrcIP:           s.SrcIP,
				DstIP:           s.DstIP,
				SrcPort:         g.faker.Number(1024, 65534),
				DstPort:         5900 + g.faker.Number(0, 4),
				Protocol:        "TCP",
				StartTS:         s.StartTS,
				EndTS:           s.EndTS,
				BytesSent:       int64(s.TotalBytesOut) / int64(n),
				BytesReceived:   int64(s.TotalBytesIn) / int64(n),
				PacketsSent:     g.faker.Number(100, 9999),
				PacketsReceived: g.faker.Number(50, 4999),
				FlowDirection:   "egress",
				AppProtocol:     "VNC",
				EntropyScore:    g.faker.Float64Range(0.3, 0.95),
			})
		}
	}
	return out
}

// Telemetry generates host events whose intensity follows the session label
func (g *Generator) Telemetry(sessions []models.SessionRecord) []models.HostTelemetry {
	out := make([]models.HostTelemetry, 0, len(sessions)*25)
	for _, s := range sessions {
		anomalous := s.Label == models.LabelAnomalous
		scale := func(normal, elevated float64) float64 {
			if anomalous {
				return elevated
			}
			return normal
		}

		n := g.faker.Number(5, 49)
		for i := 0; i < n; i++ {
			offset := time.Duration(g.rng.IntN(max(1, int(s.DurationSeconds)))) * time.Second
			out = append(out, models.HostTelemetry{
				EventID:            fmt.Sprintf("%s-evt-%d", s.SessionID, i),
				SessionID:          s.SessionID,
				TS:                 s.StartTS.Add(offset),
				HostCPUPercent:     g.faker.Float64Range(1, 15) * scale(1, 3),
				HostMemPercent:     g.faker.Float64Range(20, 60),
				DiskReadBytes:      10000 * g.rng.ExpFloat64() * scale(1, 10),
				DiskWriteBytes:     5000 * g.rng.ExpFloat64(),
				ClipboardEvent:     g.rng.Float64() < scale(0.05, 0.3),
				ClipboardBytes:     1000 * g.rng.ExpFloat64() * scale(1, 50),
				FileOpened:         fmt.Sprintf("/masked/file_%d.dat", g.faker.Number(1, 999)),
				FileReadBytes:      50000 * g.rng.ExpFloat64() * scale(1, 20),
				FileWriteBytes:     10000 * g.rng.ExpFloat64(),
				NewProcess:         g.faker.RandomString(processes),
				BrowserUploadEvent: g.rng.Float64() < scale(0.01, 0.2),
				ScreenshotTaken:    g.rng.Float64() < scale(0.02, 0.4),
				WatermarkPresent:   g.rng.Float64() < 0.1,
				Label:              s.Label,
			})
		}
	}
	return out
}

func (g *Generator) authMethod() models.AuthMethod {
	switch p := g.rng.Float64(); {
	case p < 0.6:
		return models.AuthPassword
	case p < 0.9:
		return models.AuthKerberos
	default:
		return models.AuthMFA
	}
}

// poisson draws with Knuth's multiplication method; fine for small lambda
func (g *Generator) poisson(lambda float64) int {
	limit := math.Exp(-lambda)
	k, p := 0, 1.0
	for {
		p *= g.rng.Float64()
		if p <= limit {
			return k
		}
		k++
	}
}

// beta draws Beta(a, b) for integer shapes as a ratio of gamma sums
func (g *Generator) beta(a, b int) float64 {
	x, y := g.gammaInt(a), g.gammaInt(b)
	return x / (x + y)
}

func (g *Generator) gammaInt(k int) float64 {
	sum := 0.0
	for i := 0; i < k; i++ {
		sum += g.rng.ExpFloat64()
	}
	return sum
}
