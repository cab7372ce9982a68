// Package timeutil formats times, durations and sizes for CLI output.
package timeutil

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// LocalTimeFormat is the layout used for local times in CLI output.
const LocalTimeFormat = "Mon Jan 2 15:04:05 2006"

// FormatUptime renders d as "3d 0h 30m 15s", dropping leading zero units.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// FormatUptimeSeconds is FormatUptime for a count of seconds.
func FormatUptimeSeconds(sec int64) string {
	return FormatUptime(time.Duration(sec) * time.Second)
}

// FormatTime parses an RFC3339 timestamp and returns it in local time with a
// relative hint, e.g. "Mon Jan 2 15:04:05 2006 (3 hours ago)". Unparseable
// input is returned unchanged.
func FormatTime(timestamp string) string {
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return timestamp
	}
	return fmt.Sprintf("%s (%s)", t.Local().Format(LocalTimeFormat), humanize.Time(t))
}

// FormatSize renders a byte count; negative means unknown.
func FormatSize(n int64) string {
	if n < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(n))
}
