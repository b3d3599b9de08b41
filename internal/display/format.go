// Package display formats benchmark results for terminal output.
package display

import (
	"fmt"
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	millisecondsInSecond = 1000
	secondsInMinute      = 60
	secondsInHour        = 3600
	formatMilliseconds   = "%.0f ms"
	formatSeconds        = "%.1fs"
	formatMinutes        = "%dm %.1fs"
	formatHours          = "%dh %dm"
	formatGB             = "%.1f GB"
	formatMB             = "%.1f MB"
	formatKB             = "%.1f KB"
	formatBytes          = "%d B"
	formatPercent        = "%.1f%%"
	formatRating         = "%.1f"
)

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m", "5m
// 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatLatency formats a latency in milliseconds, switching to FormatDuration from
// one second up (e.g., "850 ms", "1.2s").
func FormatLatency(milliseconds float64) string {
	if milliseconds < millisecondsInSecond {
		return fmt.Sprintf(formatMilliseconds, milliseconds)
	}

	return FormatDuration(milliseconds / millisecondsInSecond)
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2 GB", "500.5
// MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// FormatPercent formats a percentage with one decimal.
func FormatPercent(value float64) string {
	return fmt.Sprintf(formatPercent, value)
}

// FormatRating formats an ELO rating with one decimal.
func FormatRating(rating float64) string {
	return fmt.Sprintf(formatRating, rating)
}
