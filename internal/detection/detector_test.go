package detection

import (
	"bytes"
	"encoding/base64"
	"testing"
	"time"

	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector(now *time.Time) *Detector {
	d := NewDetector(nil)
	d.now = func() time.Time { return *now }
	return d
}

func padded(prefix string, size int) []byte {
	buf := bytes.Repeat([]byte{' '}, size)
	copy(buf, prefix)
	return buf
}

func countTitle(alerts []models.AlertDraft, title string) int {
	n := 0
	for _, a := range alerts {
		if a.Title == title {
			n++
		}
	}
	return n
}

func TestProbes(t *testing.T) {
	tests := []struct {
		name  string
		probe func([]byte) bool
		data  []byte
		want  bool
	}{
		{"octet stream header", IsFileTransfer, []byte("Content-Type: application/octet-stream\r\n"), true},
		{"content disposition", IsFileTransfer, []byte(`Content-Disposition: form-data; filename="a.zip"`), true},
		{"upload verb", IsFileTransfer, []byte("PUT /upload HTTP/1.1"), true},
		{"plain frame", IsFileTransfer, []byte("RFB 003.008\n"), false},
		{"rfb cut text", IsClipboard, []byte{0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05}, true},
		{"upper case paste", IsClipboard, []byte("PASTE buffer"), true},
		{"copy", IsClipboard, []byte("user did Copy"), true},
		{"no clipboard", IsClipboard, []byte("pointer event"), false},
		{"insert", HasDatabaseContent, []byte("INSERT INTO t VALUES (1)"), true},
		{"lower case insert", HasDatabaseContent, []byte("insert into t values (1)"), false},
		{"base64", HasEncodedData, []byte(base64.StdEncoding.EncodeToString([]byte("this is a secret payload"))), true},
		{"short base64", HasEncodedData, []byte(base64.StdEncoding.EncodeToString([]byte("tiny"))), false},
		{"garbage", HasEncodedData, []byte("!!!!@@@@####"), false},
		{"bad padding", HasEncodedData, []byte("abcdefghijklm"), false},
		{"empty", HasEncodedData, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.probe(tt.data))
		})
	}
}

func TestHasEncodedData_OnlyLooksAtPrefix(t *testing.T) {
	payload := append(bytes.Repeat([]byte{'!'}, 100), []byte(base64.StdEncoding.EncodeToString([]byte("hidden after the probe window")))...)
	assert.False(t, HasEncodedData(payload))
}

func TestAnalyzePacket_DatabaseContentRaisesOneHighAlert(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&now)

	alerts := d.AnalyzePacket([]byte("CREATE TABLE users (id INT, name TEXT)"))
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, TitleDatabaseContent, alerts[0].Title)
}

func TestAnalyzePacket_ClipboardThreshold(t *testing.T) {
	now := time.Now()

	d := newTestDetector(&now)
	alerts := d.AnalyzePacket(padded("paste", 10001))
	require.Equal(t, 1, countTitle(alerts, TitleLargeClipboard))
	for _, a := range alerts {
		if a.Title == TitleLargeClipboard {
			assert.Equal(t, models.SeverityMedium, a.Severity)
		}
	}

	d = newTestDetector(&now)
	alerts = d.AnalyzePacket(padded("paste", 10000))
	assert.Equal(t, 0, countTitle(alerts, TitleLargeClipboard))

	_, clipboard, _ := d.Window().Counts()
	assert.Equal(t, 1, clipboard, "small clipboard events are still recorded")
}

func TestAnalyzePacket_FileTransferThreshold(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&now)

	alerts := d.AnalyzePacket(padded("POST /file", 1024*1024))
	assert.Equal(t, 0, countTitle(alerts, TitleLargeFileTransfer))

	alerts = d.AnalyzePacket(padded("POST /file", 1024*1024+1))
	require.Equal(t, 1, countTitle(alerts, TitleLargeFileTransfer))
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)

	transfers, _, samples := d.Window().Counts()
	assert.Equal(t, 2, transfers)
	assert.Equal(t, 2, samples)
}

func TestAnalyzePacket_AllIndicatorsEvaluated(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&now)

	encoded := base64.StdEncoding.EncodeToString([]byte("exfiltrated secret bytes"))
	payload := padded(encoded+" filename=dump.sql paste INSERT INTO x", 20000)

	alerts := d.AnalyzePacket(payload)
	assert.Equal(t, 1, countTitle(alerts, TitleLargeClipboard))
	assert.Equal(t, 1, countTitle(alerts, TitleDatabaseContent))
	assert.Equal(t, 0, countTitle(alerts, TitleLargeFileTransfer))

	transfers, clipboard, _ := d.Window().Counts()
	assert.Equal(t, 1, transfers)
	assert.Equal(t, 1, clipboard)
}

func TestTransferRiskLevel(t *testing.T) {
	d := NewDetector(nil)
	assert.Equal(t, models.SeverityLow, d.transferRiskLevel(1024*1024))
	assert.Equal(t, models.SeverityMedium, d.transferRiskLevel(1024*1024+1))
	assert.Equal(t, models.SeverityHigh, d.transferRiskLevel(10*1024*1024+1))
}

func TestTick_HighBandwidth(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&now)

	big := bytes.Repeat([]byte{'.'}, 100001)
	for i := 0; i < 9; i++ {
		d.AnalyzePacket(big)
	}
	assert.Empty(t, d.Tick(), "fewer than ten samples is skipped")

	d.AnalyzePacket(big)
	alerts := d.Tick()
	require.Len(t, alerts, 1)
	assert.Equal(t, TitleHighBandwidth, alerts[0].Title)
	assert.Equal(t, models.SeverityMedium, alerts[0].Severity)

	for i := 0; i < 10; i++ {
		d.AnalyzePacket([]byte("tiny"))
	}
	assert.Empty(t, d.Tick(), "only the last ten samples count")
}

func TestTick_RapidTransfers(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&now)

	for i := 0; i < 5; i++ {
		d.AnalyzePacket([]byte("filename=x"))
	}
	assert.Empty(t, d.Tick())

	d.AnalyzePacket([]byte("filename=x"))
	alerts := d.Tick()
	require.Len(t, alerts, 1)
	assert.Equal(t, TitleRapidTransfers, alerts[0].Title)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)

	now = now.Add(61 * time.Second)
	assert.Empty(t, d.Tick())

	transfers, _, _ := d.Window().Counts()
	assert.Equal(t, 6, transfers)
}

func TestTick_EmptyWindow(t *testing.T) {
	d := NewDetector(nil)
	assert.Empty(t, d.Tick())
	assert.Empty(t, d.Window().Bandwidth())
}

func TestWindow_BandwidthBounded(t *testing.T) {
	w := NewWindow(time.Minute)
	for i := 0; i < 150; i++ {
		w.addBandwidth(models.BandwidthSample{Size: i})
	}
	samples := w.Bandwidth()
	require.Len(t, samples, bandwidthHistorySize)
	assert.Equal(t, 50, samples[0].Size)
	assert.Equal(t, 149, samples[len(samples)-1].Size)
}
