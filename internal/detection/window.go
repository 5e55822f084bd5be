package detection

import (
	"sync"
	"time"

	"github.com/nshruti113/vnc-security-monitor/internal/models"
)

const (
	bandwidthHistorySize = 100
	clipboardHistorySize = 1000
)

// Window keeps the rolling packet state the periodic checks look at
type Window struct {
	mu sync.Mutex

	bandwidth []models.BandwidthSample
	transfers []models.FileTransfer
	clipboard []models.ClipboardEvent

	totalTransfers int
	totalClipboard int
	horizon        time.Duration
}

// NewWindow creates a window that retains transfers for horizon
func NewWindow(horizon time.Duration) *Window {
	return &Window{
		bandwidth: make([]models.BandwidthSample, 0, bandwidthHistorySize),
		horizon:   horizon,
	}
}

func (w *Window) addBandwidth(s models.BandwidthSample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.bandwidth) >= bandwidthHistorySize {
		copy(w.bandwidth, w.bandwidth[1:])
		w.bandwidth = w.bandwidth[:len(w.bandwidth)-1]
	}
	w.bandwidth = append(w.bandwidth, s)
}

func (w *Window) addTransfer(t models.FileTransfer) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.totalTransfers++
	w.transfers = append(w.transfers, t)
	w.pruneTransfers(t.Timestamp)
}

func (w *Window) addClipboard(e models.ClipboardEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.totalClipboard++
	if len(w.clipboard) >= clipboardHistorySize {
		w.clipboard = w.clipboard[1:]
	}
	w.clipboard = append(w.clipboard, e)
}

// pruneTransfers drops transfers older than the horizon. Caller holds mu.
func (w *Window) pruneTransfers(now time.Time) {
	cut := 0
	for cut < len(w.transfers) && now.Sub(w.transfers[cut].Timestamp) >= w.horizon {
		cut++
	}
	if cut > 0 {
		w.transfers = append(w.transfers[:0], w.transfers[cut:]...)
	}
}

// recentMeanSize returns the mean size of the last n samples, or false when
// fewer than n samples exist.
func (w *Window) recentMeanSize(n int) (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.bandwidth) < n {
		return 0, false
	}
	total := 0
	for _, s := range w.bandwidth[len(w.bandwidth)-n:] {
		total += s.Size
	}
	return float64(total) / float64(n), true
}

// transfersWithin counts transfers newer than span
func (w *Window) transfersWithin(now time.Time, span time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneTransfers(now)
	count := 0
	for _, t := range w.transfers {
		if now.Sub(t.Timestamp) < span {
			count++
		}
	}
	return count
}

// Bandwidth returns a copy of the bandwidth history
func (w *Window) Bandwidth() []models.BandwidthSample {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]models.BandwidthSample, len(w.bandwidth))
	copy(out, w.bandwidth)
	return out
}

// Counts returns total transfers, total clipboard events and the number of
// bandwidth samples currently held.
func (w *Window) Counts() (transfers, clipboard, bandwidth int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalTransfers, w.totalClipboard, len(w.bandwidth)
}
