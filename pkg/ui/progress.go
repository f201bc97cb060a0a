package ui

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
	barWidth      = 20
)

// Bar renders done out of total as a fixed-width bar.
func Bar(done, total int) string {
	filled := 0
	if total > 0 {
		filled = int(float64(done) / float64(total) * barWidth)
	}
	filled = max(0, min(filled, barWidth))
	return strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, barWidth-filled)
}

// QuotaStatus formats the state of the quota ledger. refill is the time
// until the oldest recorded spend leaves the window.
func QuotaStatus(left, ceiling int, refill time.Duration) string {
	line := fmt.Sprintf("[%s] %d/%d calls left", Bar(left, ceiling), left, ceiling)
	if left < ceiling && refill > 0 {
		line += fmt.Sprintf(" • oldest spend expires in %s", FormatDuration(refill))
	}
	return line
}

// PrintQuota prints the ledger state
func PrintQuota(left, ceiling int, refill time.Duration) {
	printf("%s %s\n", Magenta("[QUOTA]"), QuotaStatus(left, ceiling, refill))
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
