package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nshruti113/vnc-security-monitor/internal/models"
)

// File names used by WriteDir and ReadDir
const (
	SessionsFile  = "session_logs.csv"
	FlowsFile     = "network_flows.csv"
	TelemetryFile = "host_telemetry.csv"
)

type column[T any] struct {
	name     string
	optional bool
	get      func(*T) string
	set      func(*T, string) error
}

type table[T any] []column[T]

func (t table[T]) header() []string {
	h := make([]string, len(t))
	for i, c := range t {
		h[i] = c.name
	}
	return h
}

func (t table[T]) write(w io.Writer, rows []T) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.header()); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	record := make([]string, len(t))
	for i := range rows {
		for j, c := range t {
			record[j] = c.get(&rows[i])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("%w: %v", models.ErrIO, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	return nil
}

func (t table[T]) read(r io.Reader) ([]T, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file, no header", models.ErrSchema)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIO, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	positions := make([]int, len(t))
	for j, c := range t {
		pos, ok := index[c.name]
		if !ok && !c.optional {
			return nil, fmt.Errorf("%w: missing required column %q", models.ErrSchema, c.name)
		}
		if !ok {
			pos = -1
		}
		positions[j] = pos
	}

	out := make([]T, 0)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", models.ErrSchema, line, err)
		}

		var row T
		for j, c := range t {
			if positions[j] < 0 {
				continue
			}
			if err := c.set(&row, record[positions[j]]); err != nil {
				return nil, fmt.Errorf("%w: line %d column %q: %v", models.ErrSchema, line, c.name, err)
			}
		}
		out = append(out, row)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("malformed timestamp %q", s)
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

// parseInt also accepts integral floats such as "3.0"
func parseInt(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("malformed integer %q", s)
	}
	return int(f), nil
}

func str[T any](name string, field func(*T) *string) column[T] {
	return column[T]{
		name: name,
		get:  func(r *T) string { return *field(r) },
		set:  func(r *T, v string) error { *field(r) = v; return nil },
	}
}

func num[T any](name string, field func(*T) *float64) column[T] {
	return column[T]{
		name: name,
		get:  func(r *T) string { return formatFloat(*field(r)) },
		set: func(r *T, v string) (err error) {
			*field(r), err = parseFloat(v)
			return err
		},
	}
}

func integer[T any](name string, field func(*T) *int) column[T] {
	return column[T]{
		name: name,
		get:  func(r *T) string { return strconv.Itoa(*field(r)) },
		set: func(r *T, v string) (err error) {
			*field(r), err = parseInt(v)
			return err
		},
	}
}

func integer64[T any](name string, field func(*T) *int64) column[T] {
	return column[T]{
		name: name,
		get:  func(r *T) string { return strconv.FormatInt(*field(r), 10) },
		set: func(r *T, v string) error {
			n, err := parseInt(v)
			*field(r) = int64(n)
			return err
		},
	}
}

func boolean[T any](name string, field func(*T) *bool) column[T] {
	return column[T]{
		name: name,
		get:  func(r *T) string { return strconv.FormatBool(*field(r)) },
		set: func(r *T, v string) (err error) {
			*field(r), err = strconv.ParseBool(v)
			return err
		},
	}
}

func timestamp[T any](name string, field func(*T) *time.Time) column[T] {
	return column[T]{
		name: name,
		get:  func(r *T) string { return formatTime(*field(r)) },
		set: func(r *T, v string) (err error) {
			*field(r), err = parseTime(v)
			return err
		},
	}
}

func optional[T any](c column[T]) column[T] {
	c.optional = true
	return c
}

var sessionTable = table[models.SessionRecord]{
	str("session_id", func(s *models.SessionRecord) *string { return &s.SessionID }),
	str("user_id", func(s *models.SessionRecord) *string { return &s.UserID }),
	str("device_id", func(s *models.SessionRecord) *string { return &s.DeviceID }),
	str("src_ip", func(s *models.SessionRecord) *string { return &s.SrcIP }),
	str("dst_ip", func(s *models.SessionRecord) *string { return &s.DstIP }),
	optional(str("src_geo", func(s *models.SessionRecord) *string { return &s.SrcGeo })),
	optional(str("dst_geo", func(s *models.SessionRecord) *string { return &s.DstGeo })),
	timestamp("start_ts", func(s *models.SessionRecord) *time.Time { return &s.StartTS }),
	timestamp("end_ts", func(s *models.SessionRecord) *time.Time { return &s.EndTS }),
	num("duration_seconds", func(s *models.SessionRecord) *float64 { return &s.DurationSeconds }),
	num("total_bytes_in", func(s *models.SessionRecord) *float64 { return &s.TotalBytesIn }),
	num("total_bytes_out", func(s *models.SessionRecord) *float64 { return &s.TotalBytesOut }),
	num("avg_bytes_per_sec_out", func(s *models.SessionRecord) *float64 { return &s.AvgBytesPerSecOut }),
	integer("num_clipboard_events", func(s *models.SessionRecord) *int { return &s.NumClipboardEvents }),
	num("total_clipboard_bytes", func(s *models.SessionRecord) *float64 { return &s.TotalClipboardBytes }),
	integer("num_screenshot_events", func(s *models.SessionRecord) *int { return &s.NumScreenshotEvents }),
	num("avg_frame_rate", func(s *models.SessionRecord) *float64 { return &s.AvgFrameRate }),
	integer("num_file_transfer_events", func(s *models.SessionRecord) *int { return &s.NumFileTransferEvents }),
	integer("total_files_transferred", func(s *models.SessionRecord) *int { return &s.TotalFilesTransferred }),
	num("total_files_size_bytes", func(s *models.SessionRecord) *float64 { return &s.TotalFilesSizeBytes }),
	integer("processes_spawned_count", func(s *models.SessionRecord) *int { return &s.ProcessesSpawnedCount }),
	{
		name: "auth_method",
		get:  func(s *models.SessionRecord) string { return string(s.AuthMethod) },
		set:  func(s *models.SessionRecord, v string) error { s.AuthMethod = models.AuthMethod(v); return nil },
	},
	num("device_trust_score", func(s *models.SessionRecord) *float64 { return &s.DeviceTrustScore }),
	boolean("is_encrypted", func(s *models.SessionRecord) *bool { return &s.IsEncrypted }),
	labelColumn(func(s *models.SessionRecord) *models.Label { return &s.Label }),
}

var flowTable = table[models.NetworkFlow]{
	str("flow_id", func(f *models.NetworkFlow) *string { return &f.FlowID }),
	str("session_id", func(f *models.NetworkFlow) *string { return &f.SessionID }),
	str("src_ip", func(f *models.NetworkFlow) *string { return &f.SrcIP }),
	str("dst_ip", func(f *models.NetworkFlow) *string { return &f.DstIP }),
	integer("src_port", func(f *models.NetworkFlow) *int { return &f.SrcPort }),
	integer("dst_port", func(f *models.NetworkFlow) *int { return &f.DstPort }),
	str("protocol", func(f *models.NetworkFlow) *string { return &f.Protocol }),
	timestamp("start_ts", func(f *models.NetworkFlow) *time.Time { return &f.StartTS }),
	timestamp("end_ts", func(f *models.NetworkFlow) *time.Time { return &f.EndTS }),
	integer64("bytes_sent", func(f *models.NetworkFlow) *int64 { return &f.BytesSent }),
	integer64("bytes_received", func(f *models.NetworkFlow) *int64 { return &f.BytesReceived }),
	integer("packets_sent", func(f *models.NetworkFlow) *int { return &f.PacketsSent }),
	integer("packets_received", func(f *models.NetworkFlow) *int { return &f.PacketsReceived }),
	str("flow_direction", func(f *models.NetworkFlow) *string { return &f.FlowDirection }),
	str("app_protocol", func(f *models.NetworkFlow) *string { return &f.AppProtocol }),
	num("entropy_score", func(f *models.NetworkFlow) *float64 { return &f.EntropyScore }),
}

var telemetryTable = table[models.HostTelemetry]{
	str("event_id", func(e *models.HostTelemetry) *string { return &e.EventID }),
	str("session_id", func(e *models.HostTelemetry) *string { return &e.SessionID }),
	timestamp("ts", func(e *models.HostTelemetry) *time.Time { return &e.TS }),
	num("host_cpu_percent", func(e *models.HostTelemetry) *float64 { return &e.HostCPUPercent }),
	num("host_mem_percent", func(e *models.HostTelemetry) *float64 { return &e.HostMemPercent }),
	num("disk_read_bytes", func(e *models.HostTelemetry) *float64 { return &e.DiskReadBytes }),
	num("disk_write_bytes", func(e *models.HostTelemetry) *float64 { return &e.DiskWriteBytes }),
	boolean("clipboard_event", func(e *models.HostTelemetry) *bool { return &e.ClipboardEvent }),
	num("clipboard_bytes", func(e *models.HostTelemetry) *float64 { return &e.ClipboardBytes }),
	str("file_opened", func(e *models.HostTelemetry) *string { return &e.FileOpened }),
	num("file_read_bytes", func(e *models.HostTelemetry) *float64 { return &e.FileReadBytes }),
	num("file_write_bytes", func(e *models.HostTelemetry) *float64 { return &e.FileWriteBytes }),
	str("new_process", func(e *models.HostTelemetry) *string { return &e.NewProcess }),
	boolean("browser_upload_event", func(e *models.HostTelemetry) *bool { return &e.BrowserUploadEvent }),
	boolean("screenshot_taken", func(e *models.HostTelemetry) *bool { return &e.ScreenshotTaken }),
	boolean("watermark_present", func(e *models.HostTelemetry) *bool { return &e.WatermarkPresent }),
	labelColumn(func(e *models.HostTelemetry) *models.Label { return &e.Label }),
}

// labelColumn is optional so unlabelled production exports still load
func labelColumn[T any](field func(*T) *models.Label) column[T] {
	return column[T]{
		name:     "label",
		optional: true,
		get:      func(r *T) string { return string(*field(r)) },
		set: func(r *T, v string) error {
			switch l := models.Label(v); l {
			case models.LabelNone, models.LabelNormal, models.LabelAnomalous:
				*field(r) = l
				return nil
			}
			return fmt.Errorf("unknown label %q", v)
		},
	}
}

func WriteSessions(w io.Writer, rows []models.SessionRecord) error { return sessionTable.write(w, rows) }

func ReadSessions(r io.Reader) ([]models.SessionRecord, error) { return sessionTable.read(r) }

func WriteFlows(w io.Writer, rows []models.NetworkFlow) error { return flowTable.write(w, rows) }

func ReadFlows(r io.Reader) ([]models.NetworkFlow, error) { return flowTable.read(r) }

func WriteTelemetry(w io.Writer, rows []models.HostTelemetry) error {
	return telemetryTable.write(w, rows)
}

func ReadTelemetry(r io.Reader) ([]models.HostTelemetry, error) { return telemetryTable.read(r) }

// LoadSessionsFile reads a session CSV from disk
func LoadSessionsFile(path string) ([]models.SessionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	defer f.Close()
	return ReadSessions(f)
}

// Bundle is the full synthetic dataset
type Bundle struct {
	Sessions  []models.SessionRecord
	Flows     []models.NetworkFlow
	Telemetry []models.HostTelemetry
}

// Generate builds sessions plus their flows and telemetry
func (g *Generator) Generate(n int, anomalyRate float64) Bundle {
	sessions := g.Sessions(n, anomalyRate)
	return Bundle{
		Sessions:  sessions,
		Flows:     g.Flows(sessions),
		Telemetry: g.Telemetry(sessions),
	}
}

// WriteDir writes the three tables into dir
func (b Bundle) WriteDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{SessionsFile, func(w io.Writer) error { return WriteSessions(w, b.Sessions) }},
		{FlowsFile, func(w io.Writer) error { return WriteFlows(w, b.Flows) }},
		{TelemetryFile, func(w io.Writer) error { return WriteTelemetry(w, b.Telemetry) }},
	}
	for _, wr := range writers {
		f, err := os.Create(filepath.Join(dir, wr.name))
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrIO, err)
		}
		if err := wr.write(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("%w: %v", models.ErrIO, err)
		}
	}
	return nil
}
