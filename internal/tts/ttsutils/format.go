package ttsutils

import "fmt"

const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024

	secondsInMinute = 60
	secondsInHour   = 3600
)

// FormatDuration renders seconds as "45.2s", "5m 30.5s" or "1h 15m".
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf("%.1fs", seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)

		return fmt.Sprintf("%dm %.1fs", minutes, seconds-float64(minutes*secondsInMinute))
	}

	hours := int(seconds / secondsInHour)
	remainingMinutes := int((seconds - float64(hours*secondsInHour)) / secondsInMinute)

	return fmt.Sprintf("%dh %dm", hours, remainingMinutes)
}

// FormatFileSize renders a byte count as "1.2 GB", "500.5 MB", "3.0 KB" or "12 B".
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf("%.1f MB", float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
