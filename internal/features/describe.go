package features

import "fmt"

// Describe renders a human readable description of a feature value
func Describe(feature string, value float64) string {
	switch feature {
	case "bytes_per_minute":
		return fmt.Sprintf("Data transfer rate: %.0f bytes/min", value)
	case "clipboard_bytes_ratio":
		return fmt.Sprintf("Clipboard data ratio: %.2f%%", value*100)
	case "clip_events_per_min":
		return fmt.Sprintf("Clipboard events: %.1f/min", value)
	case "screenshot_rate":
		return fmt.Sprintf("Screenshot rate: %.1f/min", value)
	case "unusual_time_flag":
		return either(value, "Session during unusual hours", "Normal hours")
	case "high_clipboard_activity":
		return either(value, "High clipboard activity", "Normal clipboard")
	case "large_file_transfer":
		return either(value, "Large file transfer detected", "Normal file sizes")
	case "low_trust_device":
		return either(value, "Low trust device", "Trusted device")
	case "weak_auth":
		return either(value, "Weak authentication", "Strong authentication")
	case "total_bytes_out":
		return fmt.Sprintf("Total data out: %.1f MB", value/1024/1024)
	case "num_file_transfer_events":
		return fmt.Sprintf("File transfers: %.0f", value)
	case "device_trust_score":
		return fmt.Sprintf("Device trust: %.2f", value)
	}
	return fmt.Sprintf("%s: %.2f", feature, value)
}

func either(value float64, set, unset string) string {
	if value != 0 {
		return set
	}
	return unset
}
