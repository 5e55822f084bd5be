package dataset

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_SessionsShape(t *testing.T) {
	sessions := NewGenerator(42).Sessions(200, 0.15)
	require.Len(t, sessions, 200)

	anomalous := 0
	for i, s := range sessions {
		require.NoError(t, s.Validate(), "session %d", i)
		if s.Label == models.LabelAnomalous {
			anomalous++
			assert.GreaterOrEqual(t, i, 170, "anomalies come after normal sessions")
		}
	}
	assert.Equal(t, 30, anomalous)
}

func TestGenerator_Deterministic(t *testing.T) {
	a := NewGenerator(7).Sessions(20, 0.2)
	b := NewGenerator(7).Sessions(20, 0.2)
	assert.Equal(t, a, b)

	c := NewGenerator(8).Sessions(20, 0.2)
	assert.NotEqual(t, a, c)
}

func TestGenerator_AttackScenarios(t *testing.T) {
	g := NewGenerator(1)

	exfil := g.AnomalousSession("x", AttackLargeFileExfil)
	assert.GreaterOrEqual(t, exfil.TotalClipboardBytes, 10_000_000.0)
	assert.Equal(t, exfil.TotalClipboardBytes, exfil.TotalFilesSizeBytes)

	shots := g.AnomalousSession("y", AttackScreenshotExfil)
	assert.GreaterOrEqual(t, shots.NumScreenshotEvents, 50)
	assert.GreaterOrEqual(t, shots.AvgFrameRate, 15.0)

	creds := g.AnomalousSession("z", AttackCredentialReuse)
	assert.Equal(t, models.AuthPassword, creds.AuthMethod)
	assert.Less(t, creds.DeviceTrustScore, 0.5)
	assert.True(t, creds.StartTS.Hour() >= 2 && creds.StartTS.Hour() < 6)
}

func TestSessions_RoundTrip(t *testing.T) {
	sessions := NewGenerator(3).Sessions(25, 0.2)

	var buf bytes.Buffer
	require.NoError(t, WriteSessions(&buf, sessions))

	got, err := ReadSessions(&buf)
	require.NoError(t, err)
	assert.Equal(t, sessions, got)
}

func TestFlowsAndTelemetry_RoundTrip(t *testing.T) {
	g := NewGenerator(5)
	b := g.Generate(10, 0.3)
	require.NotEmpty(t, b.Flows)
	require.NotEmpty(t, b.Telemetry)

	var fbuf, tbuf bytes.Buffer
	require.NoError(t, WriteFlows(&fbuf, b.Flows))
	require.NoError(t, WriteTelemetry(&tbuf, b.Telemetry))

	flows, err := ReadFlows(&fbuf)
	require.NoError(t, err)
	assert.Equal(t, b.Flows, flows)

	telemetry, err := ReadTelemetry(&tbuf)
	require.NoError(t, err)
	assert.Equal(t, b.Telemetry, telemetry)
}

const exportedCSV = "session_id,user_id,device_id,src_ip,dst_ip,start_ts,end_ts,duration_seconds,total_bytes_in,total_bytes_out," +
	"avg_bytes_per_sec_out,num_clipboard_events,total_clipboard_bytes,num_screenshot_events,avg_frame_rate," +
	"num_file_transfer_events,total_files_transferred,total_files_size_bytes,processes_spawned_count,auth_method," +
	"device_trust_score,is_encrypted\n" +
	"sess-0001,alice,dev-1,10.0.0.1,8.8.8.8,2024-03-02T10:00:00.123456,2024-03-02T10:30:00,1800,100,200," +
	"0.11,1.0,512,0,5.5,0,0,0,2,kerberos,0.9,True\n"

func TestReadSessions_SchemaErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"missing column", strings.Replace(exportedCSV, "total_bytes_out", "bytes_out", 1)},
		{"bad timestamp", strings.Replace(exportedCSV, "2024-03-02T10:00:00.123456", "yesterday", 1)},
		{"bad number", strings.Replace(exportedCSV, ",1800,", ",abc,", 1)},
		{"bad integer", strings.Replace(exportedCSV, ",1.0,", ",1.5,", 1)},
		{"bad label", strings.NewReplacer("is_encrypted\n", "is_encrypted,label\n", ",True\n", ",True,stolen\n").Replace(exportedCSV)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSessions(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrSchema), "got %v", err)
		})
	}
}

func TestReadSessions_ExportedValueStyles(t *testing.T) {
	got, err := ReadSessions(strings.NewReader(exportedCSV))
	require.NoError(t, err)
	require.Len(t, got, 1)

	s := got[0]
	assert.Equal(t, 1, s.NumClipboardEvents)
	assert.True(t, s.IsEncrypted)
	assert.Equal(t, models.AuthKerberos, s.AuthMethod)
	assert.Equal(t, models.LabelNone, s.Label)
	assert.Equal(t, 10, s.StartTS.Hour())
	assert.Equal(t, 1800.0, s.DurationSeconds)
}

func TestBundle_WriteDir(t *testing.T) {
	dir := t.TempDir()
	b := NewGenerator(9).Generate(5, 0.2)
	require.NoError(t, b.WriteDir(dir))

	got, err := LoadSessionsFile(filepath.Join(dir, SessionsFile))
	require.NoError(t, err)
	assert.Len(t, got, 5)

	_, err = LoadSessionsFile(filepath.Join(dir, "missing.csv"))
	assert.True(t, errors.Is(err, models.ErrIO))
}
