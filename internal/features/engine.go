package features

import (
	"time"

	"github.com/nshruti113/vnc-security-monitor/internal/models"
)

// Thresholds used by the behavioural flags
const (
	UnusualHourStart        = 6
	UnusualHourEnd          = 22
	LowTrustThreshold       = 0.5
	ClipboardEventThreshold = 10
	ScreenshotThreshold     = 20
	LargeTransferBytes      = 10_000_000
	HighFrameRate           = 12.0
	ProcessThreshold        = 10
)

// ModelColumns is the ordered input contract of the anomaly model.
var ModelColumns = []string{
	"duration_seconds", "total_bytes_out", "avg_bytes_per_sec_out",
	"num_clipboard_events", "total_clipboard_bytes", "num_screenshot_events",
	"num_file_transfer_events", "total_files_size_bytes", "avg_frame_rate",
	"processes_spawned_count", "device_trust_score",

	"ratio_bytes_out_in", "bytes_per_minute", "clipboard_bytes_ratio",
	"clip_events_per_min", "screenshot_rate", "file_transfer_rate",
	"avg_file_size", "unusual_time_flag", "weekend_flag",
	"low_trust_device", "weak_auth", "unencrypted",
	"high_clipboard_activity", "high_screenshot_activity",
	"large_file_transfer", "high_frame_rate", "many_processes",
	"bytes_out_zscore", "duration_zscore",
}

// FeatureVector holds every engineered feature of one session
type FeatureVector struct {
	// Core metrics
	DurationSeconds       float64
	TotalBytesOut         float64
	AvgBytesPerSecOut     float64
	NumClipboardEvents    float64
	TotalClipboardBytes   float64
	NumScreenshotEvents   float64
	NumFileTransferEvents float64
	TotalFilesSizeBytes   float64
	AvgFrameRate          float64
	ProcessesSpawnedCount float64
	DeviceTrustScore      float64

	// Ratios and rates
	RatioBytesOutIn     float64
	BytesPerMinute      float64
	ClipboardBytesRatio float64
	ClipEventsPerMin    float64
	ScreenshotRate      float64
	FileTransferRate    float64
	AvgFileSize         float64

	// Time
	StartHour       float64
	UnusualTimeFlag float64
	WeekendFlag     float64

	// Security posture
	LowTrustDevice float64
	WeakAuth       float64
	Unencrypted    float64

	// Behaviour
	HighClipboardActivity  float64
	HighScreenshotActivity float64
	LargeFileTransfer      float64
	HighFrameRate          float64
	ManyProcesses          float64

	// Filled against a corpus reference, zero otherwise
	BytesOutZScore float64
	DurationZScore float64
}

// Engineer derives the feature vector of a single session. Denominators are
// smoothed with +1.
func Engineer(s models.SessionRecord) FeatureVector {
	minutes := s.DurationSeconds/60 + 1

	fv := FeatureVector{
		DurationSeconds:       s.DurationSeconds,
		TotalBytesOut:         s.TotalBytesOut,
		AvgBytesPerSecOut:     s.AvgBytesPerSecOut,
		NumClipboardEvents:    float64(s.NumClipboardEvents),
		TotalClipboardBytes:   s.TotalClipboardBytes,
		NumScreenshotEvents:   float64(s.NumScreenshotEvents),
		NumFileTransferEvents: float64(s.NumFileTransferEvents),
		TotalFilesSizeBytes:   s.TotalFilesSizeBytes,
		AvgFrameRate:          s.AvgFrameRate,
		ProcessesSpawnedCount: float64(s.ProcessesSpawnedCount),
		DeviceTrustScore:      s.DeviceTrustScore,

		RatioBytesOutIn:     s.TotalBytesOut / (s.TotalBytesIn + 1),
		BytesPerMinute:      s.TotalBytesOut / minutes,
		ClipboardBytesRatio: s.TotalClipboardBytes / (s.TotalBytesOut + 1),
		ClipEventsPerMin:    float64(s.NumClipboardEvents) / minutes,
		ScreenshotRate:      float64(s.NumScreenshotEvents) / minutes,
		FileTransferRate:    float64(s.NumFileTransferEvents) / minutes,
		AvgFileSize:         s.TotalFilesSizeBytes / float64(s.TotalFilesTransferred+1),

		LowTrustDevice: flag(s.DeviceTrustScore < LowTrustThreshold),
		WeakAuth:       flag(s.AuthMethod == models.AuthPassword),
		Unencrypted:    flag(!s.IsEncrypted),

		HighClipboardActivity:  flag(s.NumClipboardEvents > ClipboardEventThreshold),
		HighScreenshotActivity: flag(s.NumScreenshotEvents > ScreenshotThreshold),
		LargeFileTransfer:      flag(s.TotalFilesSizeBytes > LargeTransferBytes),
		HighFrameRate:          flag(s.AvgFrameRate > HighFrameRate),
		ManyProcesses:          flag(s.ProcessesSpawnedCount > ProcessThreshold),
	}

	hour := s.StartTS.Hour()
	fv.StartHour = float64(hour)
	fv.UnusualTimeFlag = flag(hour < UnusualHourStart || hour > UnusualHourEnd)
	wd := s.StartTS.Weekday()
	fv.WeekendFlag = flag(wd == time.Saturday || wd == time.Sunday)

	return fv
}

// Get returns the value of a named feature
func (fv FeatureVector) Get(name string) (float64, bool) {
	switch name {
	case "duration_seconds":
		return fv.DurationSeconds, true
	case "total_bytes_out":
		return fv.TotalBytesOut, true
	case "avg_bytes_per_sec_out":
		return fv.AvgBytesPerSecOut, true
	case "num_clipboard_events":
		return fv.NumClipboardEvents, true
	case "total_clipboard_bytes":
		return fv.TotalClipboardBytes, true
	case "num_screenshot_events":
		return fv.NumScreenshotEvents, true
	case "num_file_transfer_events":
		return fv.NumFileTransferEvents, true
	case "total_files_size_bytes":
		return fv.TotalFilesSizeBytes, true
	case "avg_frame_rate":
		return fv.AvgFrameRate, true
	case "processes_spawned_count":
		return fv.ProcessesSpawnedCount, true
	case "device_trust_score":
		return fv.DeviceTrustScore, true
	case "ratio_bytes_out_in":
		return fv.RatioBytesOutIn, true
	case "bytes_per_minute":
		return fv.BytesPerMinute, true
	case "clipboard_bytes_ratio":
		return fv.ClipboardBytesRatio, true
	case "clip_events_per_min":
		return fv.ClipEventsPerMin, true
	case "screenshot_rate":
		return fv.ScreenshotRate, true
	case "file_transfer_rate":
		return fv.FileTransferRate, true
	case "avg_file_size":
		return fv.AvgFileSize, true
	case "start_hour":
		return fv.StartHour, true
	case "unusual_time_flag":
		return fv.UnusualTimeFlag, true
	case "weekend_flag":
		return fv.WeekendFlag, true
	case "low_trust_device":
		return fv.LowTrustDevice, true
	case "weak_auth":
		return fv.WeakAuth, true
	case "unencrypted":
		return fv.Unencrypted, true
	case "high_clipboard_activity":
		return fv.HighClipboardActivity, true
	case "high_screenshot_activity":
		return fv.HighScreenshotActivity, true
	case "large_file_transfer":
		return fv.LargeFileTransfer, true
	case "high_frame_rate":
		return fv.HighFrameRate, true
	case "many_processes":
		return fv.ManyProcesses, true
	case "bytes_out_zscore":
		return fv.BytesOutZScore, true
	case "duration_zscore":
		return fv.DurationZScore, true
	}
	return 0, false
}

// Values returns the model columns in ModelColumns order
func (fv FeatureVector) Values() []float64 {
	out := make([]float64, len(ModelColumns))
	for i, name := range ModelColumns {
		out[i], _ = fv.Get(name)
	}
	return out
}

// Map returns the model columns keyed by name
func (fv FeatureVector) Map() map[string]float64 {
	out := make(map[string]float64, len(ModelColumns))
	for _, name := range ModelColumns {
		out[name], _ = fv.Get(name)
	}
	return out
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
