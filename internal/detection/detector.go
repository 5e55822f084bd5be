package detection

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"go.uber.org/zap"
)

// Alert titles. The correlation engine and the threat matrix match on
// substrings of these.
const (
	TitleLargeFileTransfer = "Large File Transfer Detected"
	TitleLargeClipboard    = "Large Clipboard Transfer"
	TitleEncodedData       = "Encoded Data Detected"
	TitleDatabaseContent   = "Database Content Detected"
	TitleHighBandwidth     = "High Bandwidth Usage"
	TitleRapidTransfers    = "Rapid File Transfer Activity"
)

type Detector struct {
	thresholds *Thresholds
	window     *Window
	logger     *zap.Logger
	now        func() time.Time
}

type Thresholds struct {
	LargeFileBytes      int
	HighRiskFileBytes   int
	LargeClipboardBytes int
	BandwidthSamples    int
	MeanPacketBytes     float64
	TransferWindow      time.Duration
	MaxTransfers        int
}

// DefaultThresholds returns the stock detection limits
func DefaultThresholds() *Thresholds {
	return &Thresholds{
		LargeFileBytes:      1024 * 1024,
		HighRiskFileBytes:   10 * 1024 * 1024,
		LargeClipboardBytes: 10000,
		BandwidthSamples:    10,
		MeanPacketBytes:     100000,
		TransferWindow:      60 * time.Second,
		MaxTransfers:        5,
	}
}

func NewDetector(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	thresholds := DefaultThresholds()
	return &Detector{
		thresholds: thresholds,
		window:     NewWindow(thresholds.TransferWindow),
		logger:     logger,
		now:        time.Now,
	}
}

// Window exposes the rolling state for statistics
func (d *Detector) Window() *Window {
	return d.window
}

// AnalyzePacket runs every signature check on one payload and returns the
// alerts it raised. All checks run; none short-circuits another.
func (d *Detector) AnalyzePacket(payload []byte) []models.AlertDraft {
	now := d.now()
	alerts := make([]models.AlertDraft, 0)

	d.window.addBandwidth(models.BandwidthSample{Timestamp: now, Size: len(payload)})

	if alert := d.detectFileTransfer(payload, now); alert != nil {
		alerts = append(alerts, *alert)
	}

	if alert := d.detectClipboard(payload, now); alert != nil {
		alerts = append(alerts, *alert)
	}

	if alert := d.detectEncodedData(payload); alert != nil {
		alerts = append(alerts, *alert)
	}

	if alert := d.detectDatabaseContent(payload); alert != nil {
		alerts = append(alerts, *alert)
	}

	return alerts
}

// detectFileTransfer records upload-framed payloads and alerts on large ones
func (d *Detector) detectFileTransfer(payload []byte, now time.Time) *models.AlertDraft {
	if !IsFileTransfer(payload) {
		return nil
	}

	sum := md5.Sum(payload)
	transfer := models.FileTransfer{
		Timestamp: now,
		Size:      len(payload),
		Hash:      hex.EncodeToString(sum[:])[:8],
		RiskLevel: d.transferRiskLevel(len(payload)),
	}
	d.window.addTransfer(transfer)
	d.logger.Debug("file transfer observed",
		zap.Int("size", transfer.Size),
		zap.String("hash", transfer.Hash),
		zap.String("risk", string(transfer.RiskLevel)))

	if len(payload) <= d.thresholds.LargeFileBytes {
		return nil
	}
	return &models.AlertDraft{
		Severity:    models.SeverityHigh,
		Title:       TitleLargeFileTransfer,
		Description: fmt.Sprintf("File transfer of %.2fMB detected", float64(len(payload))/1024/1024),
	}
}

// detectClipboard records clipboard operations and alerts on large ones
func (d *Detector) detectClipboard(payload []byte, now time.Time) *models.AlertDraft {
	if !IsClipboard(payload) {
		return nil
	}

	d.window.addClipboard(models.ClipboardEvent{
		Timestamp:      now,
		Size:           len(payload),
		ContentPreview: preview(payload, 50),
	})

	if len(payload) <= d.thresholds.LargeClipboardBytes {
		return nil
	}
	return &models.AlertDraft{
		Severity:    models.SeverityMedium,
		Title:       TitleLargeClipboard,
		Description: fmt.Sprintf("Clipboard data of %d bytes detected", len(payload)),
	}
}

func (d *Detector) detectEncodedData(payload []byte) *models.AlertDraft {
	if !HasEncodedData(payload) {
		return nil
	}
	return &models.AlertDraft{
		Severity:    models.SeverityMedium,
		Title:       TitleEncodedData,
		Description: "Potentially encoded data in VNC stream",
	}
}

func (d *Detector) detectDatabaseContent(payload []byte) *models.AlertDraft {
	if !HasDatabaseContent(payload) {
		return nil
	}
	return &models.AlertDraft{
		Severity:    models.SeverityHigh,
		Title:       TitleDatabaseContent,
		Description: "Potential database dump in VNC traffic",
	}
}

// Tick runs the windowed checks. It is driven by a periodic task, not by
// packet arrival, so sparse windows are skipped.
func (d *Detector) Tick() []models.AlertDraft {
	now := d.now()
	alerts := make([]models.AlertDraft, 0)

	if alert := d.detectHighBandwidth(); alert != nil {
		alerts = append(alerts, *alert)
	}

	if alert := d.detectRapidTransfers(now); alert != nil {
		alerts = append(alerts, *alert)
	}

	return alerts
}

func (d *Detector) detectHighBandwidth() *models.AlertDraft {
	avg, ok := d.window.recentMeanSize(d.thresholds.BandwidthSamples)
	if !ok || avg <= d.thresholds.MeanPacketBytes {
		return nil
	}
	return &models.AlertDraft{
		Severity:    models.SeverityMedium,
		Title:       TitleHighBandwidth,
		Description: fmt.Sprintf("Average packet size: %.2fKB", avg/1024),
	}
}

func (d *Detector) detectRapidTransfers(now time.Time) *models.AlertDraft {
	count := d.window.transfersWithin(now, d.thresholds.TransferWindow)
	if count <= d.thresholds.MaxTransfers {
		return nil
	}
	return &models.AlertDraft{
		Severity:    models.SeverityHigh,
		Title:       TitleRapidTransfers,
		Description: fmt.Sprintf("%d transfers in last minute", count),
	}
}

// transferRiskLevel grades a transfer by size
func (d *Detector) transferRiskLevel(size int) models.Severity {
	if size > d.thresholds.HighRiskFileBytes {
		return models.SeverityHigh
	} else if size > d.thresholds.LargeFileBytes {
		return models.SeverityMedium
	}
	return models.SeverityLow
}

func preview(data []byte, n int) string {
	if len(data) > n {
		return fmt.Sprintf("%q...", data[:n])
	}
	return fmt.Sprintf("%q", data)
}
