package cli

import "time"

// formatMillis renders an epoch-millis timestamp in local time; 0 means the
// visit predates timestamp tracking.
func formatMillis(ms int64) string {
	if ms <= 0 {
		return "unknown time"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
