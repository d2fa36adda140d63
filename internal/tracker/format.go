package tracker

import "fmt"

// FormatDurationMS renders a millisecond duration as a short human-readable
// string, scaling the unit by magnitude: "512ms", "5.00s", "2.50min",
// "1.25h".
func FormatDurationMS(ms int64) string {
	switch {
	case ms < 1000:
		return fmt.Sprintf("%dms", ms)
	case ms < 60000:
		return fmt.Sprintf("%.2fs", float64(ms)/1000)
	case ms < 3600000:
		return fmt.Sprintf("%.2fmin", float64(ms)/60000)
	default:
		return fmt.Sprintf("%.2fh", float64(ms)/3600000)
	}
}
