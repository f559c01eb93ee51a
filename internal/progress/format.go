package progress

import (
	"fmt"
	"strings"
)

const (
	barCells  = 20
	barFull   = "█"
	barEmpty  = "·"
	NoETA     = "-"
	sizeSteps = 1024
)

var units = []string{"B", "KB", "MB", "GB", "TB"}

// HumanSize renders a byte count: 0 decimals at >=100 units, 1 at >=10, 2 below.
func HumanSize(n float64) string {
	if n < 1 {
		return fmt.Sprintf("%.0f B", n)
	}
	power := 0
	for n >= sizeSteps && power < len(units)-1 {
		n /= sizeSteps
		power++
	}
	switch {
	case n >= 100:
		return fmt.Sprintf("%.0f %s", n, units[power])
	case n >= 10:
		return fmt.Sprintf("%.1f %s", n, units[power])
	}
	return fmt.Sprintf("%.2f %s", n, units[power])
}

// ETA renders the time left at rate bytes/s, or NoETA when it cannot be known.
func ETA(done, total int64, rate float64) string {
	if total <= 0 || rate <= 0 {
		return NoETA
	}
	remain := total - done
	if remain < 0 {
		remain = 0
	}
	secs := float64(remain) / rate
	if secs < 1 {
		return "1s"
	}
	s := int64(secs)
	h, s := s/3600, s%3600
	m, s := s/60, s%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// Clock renders seconds as HH:MM:SS, or MM:SS under an hour.
func Clock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, rest := seconds/3600, seconds%3600
	m, s := rest/60, rest%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Bar draws the fixed-width bar. Unknown totals cycle through the cells.
func Bar(current, total int64) string {
	var filled int
	if total > 0 {
		filled = int(float64(current) / float64(total) * barCells)
	} else {
		filled = int(current % barCells)
	}
	if filled < 0 {
		filled = 0
	}
	if filled > barCells {
		filled = barCells
	}
	return strings.Repeat(barFull, filled) + strings.Repeat(barEmpty, barCells-filled)
}

// Format builds the status message body for one transfer sample.
func Format(phase string, current, total int64, rate float64) string {
	var pct float64
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n[%s] %5.1f%%\n", phase, Bar(current, total), pct)
	fmt.Fprintf(&b, "Done: %s", HumanSize(float64(current)))
	if total > 0 {
		fmt.Fprintf(&b, " / %s", HumanSize(float64(total)))
	}
	fmt.Fprintf(&b, "\nSpeed: %s/s", HumanSize(rate))
	fmt.Fprintf(&b, "\nETA: %s", ETA(current, total, rate))
	return b.String()
}
