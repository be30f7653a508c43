package format

import "strconv"

// HumanizeBytes converts a byte count into a human-readable string (e.g., "1.5 MB").
func HumanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	// Use a fixed buffer to avoid allocation
	var buf [20]byte
	frac := float64(b) / float64(div)
	s := strconv.AppendFloat(buf[:0], frac, 'f', 1, 64)
	suffix := []string{"KB", "MB", "GB", "TB"}[exp]
	return string(s) + " " + suffix
}

// HumanizeRate renders a rows-per-second figure, e.g. "850 rows/s" or "12.4k rows/s".
func HumanizeRate(perSec float64) string {
	switch {
	case perSec >= 1e6:
		return strconv.FormatFloat(perSec/1e6, 'f', 1, 64) + "M rows/s"
	case perSec >= 1e4:
		return strconv.FormatFloat(perSec/1e3, 'f', 1, 64) + "k rows/s"
	default:
		return strconv.FormatFloat(perSec, 'f', 0, 64) + " rows/s"
	}
}
