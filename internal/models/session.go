package models

import (
	"fmt"
	"time"
)

// AuthMethod is the authentication mechanism used to open a session
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKerberos AuthMethod = "kerberos"
	AuthMFA      AuthMethod = "mfa"
)

// Label is the ground-truth class of a session, used only for evaluation
type Label string

const (
	LabelNone      Label = ""
	LabelNormal    Label = "normal"
	LabelAnomalous Label = "anomalous"
)

// SessionRecord summarises one VNC session
type SessionRecord struct {
	SessionID             string     `json:"session_id"`
	UserID                string     `json:"user_id"`
	DeviceID              string     `json:"device_id"`
	SrcIP                 string     `json:"src_ip"`
	DstIP                 string     `json:"dst_ip"`
	SrcGeo                string     `json:"src_geo,omitempty"`
	DstGeo                string     `json:"dst_geo,omitempty"`
	StartTS               time.Time  `json:"start_ts"`
	EndTS                 time.Time  `json:"end_ts"`
	DurationSeconds       float64    `json:"duration_seconds"`
	TotalBytesIn          float64    `json:"total_bytes_in"`
	TotalBytesOut         float64    `json:"total_bytes_out"`
	AvgBytesPerSecOut     float64    `json:"avg_bytes_per_sec_out"`
	NumClipboardEvents    int        `json:"num_clipboard_events"`
	TotalClipboardBytes   float64    `json:"total_clipboard_bytes"`
	NumScreenshotEvents   int        `json:"num_screenshot_events"`
	AvgFrameRate          float64    `json:"avg_frame_rate"`
	NumFileTransferEvents int        `json:"num_file_transfer_events"`
	TotalFilesTransferred int        `json:"total_files_transferred"`
	TotalFilesSizeBytes   float64    `json:"total_files_size_bytes"`
	ProcessesSpawnedCount int        `json:"processes_spawned_count"`
	AuthMethod            AuthMethod `json:"auth_method"`
	DeviceTrustScore      float64    `json:"device_trust_score"`
	IsEncrypted           bool       `json:"is_encrypted"`
	Label                 Label      `json:"label,omitempty"`
}

// Validate checks the record invariants
func (s SessionRecord) Validate() error {
	if s.DurationSeconds <= 0 {
		return fmt.Errorf("%w: session %q has non-positive duration %v", ErrInput, s.SessionID, s.DurationSeconds)
	}
	if s.TotalBytesIn < 0 || s.TotalBytesOut < 0 {
		return fmt.Errorf("%w: session %q has negative byte counters", ErrInput, s.SessionID)
	}
	if s.DeviceTrustScore < 0 || s.DeviceTrustScore > 1 {
		return fmt.Errorf("%w: session %q trust score %v outside [0,1]", ErrInput, s.SessionID, s.DeviceTrustScore)
	}
	return nil
}

// NetworkFlow is one flow record belonging to a session
type NetworkFlow struct {
	FlowID          string    `json:"flow_id"`
	SessionID       string    `json:"session_id"`
	SrcIP           string    `json:"src_ip"`
	DstIP           string    `json:"dst_ip"`
	SrcPort         int       `json:"src_port"`
	DstPort         int       `json:"dst_port"`
	Protocol        string    `json:"protocol"`
	StartTS         time.Time `json:"start_ts"`
	EndTS           time.Time `json:"end_ts"`
	BytesSent       int64     `json:"bytes_sent"`
	BytesReceived   int64     `json:"bytes_received"`
	PacketsSent     int       `json:"packets_sent"`
	PacketsReceived int       `json:"packets_received"`
	FlowDirection   string    `json:"flow_direction"`
	AppProtocol     string    `json:"app_protocol"`
	EntropyScore    float64   `json:"entropy_score"`
}

// HostTelemetry is a host-side event observed during a session
type HostTelemetry struct {
	EventID            string    `json:"event_id"`
	SessionID          string    `json:"session_id"`
	TS                 time.Time `json:"ts"`
	HostCPUPercent     float64   `json:"host_cpu_percent"`
	HostMemPercent     float64   `json:"host_mem_percent"`
	DiskReadBytes      float64   `json:"disk_read_bytes"`
	DiskWriteBytes     float64   `json:"disk_write_bytes"`
	ClipboardEvent     bool      `json:"clipboard_event"`
	ClipboardBytes     float64   `json:"clipboard_bytes"`
	FileOpened         string    `json:"file_opened"`
	FileReadBytes      float64   `json:"file_read_bytes"`
	FileWriteBytes     float64   `json:"file_write_bytes"`
	NewProcess         string    `json:"new_process"`
	BrowserUploadEvent bool      `json:"browser_upload_event"`
	ScreenshotTaken    bool      `json:"screenshot_taken"`
	WatermarkPresent   bool      `json:"watermark_present"`
	Label              Label     `json:"label,omitempty"`
}
