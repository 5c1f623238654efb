// Package metrics provides per-task work counters for sort runs.
package metrics

import (
	"fmt"
	"time"
)

// SortMetrics holds the work a worker performed for one task.
type SortMetrics struct {
	Elements    int   `json:"elements"`
	Comparisons int64 `json:"comparisons"`
	Swaps       int64 `json:"swaps"` // element writes for non-swapping algorithms (merge)

	Duration time.Duration `json:"duration_ns"`
}

// ComparisonsPerElement returns comparisons divided by input size (0 for empty input).
func (m SortMetrics) ComparisonsPerElement() float64 {
	if m.Elements == 0 {
		return 0
	}
	return float64(m.Comparisons) / float64(m.Elements)
}

// FormatDuration returns a compact duration string (e.g., "1.2ms", "850µs").
func (m SortMetrics) FormatDuration() string {
	d := m.Duration
	switch {
	case d <= 0:
		return "-"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// FormatWork returns a human-readable work summary (e.g., "10 cmp / 4 swp").
func (m SortMetrics) FormatWork() string {
	return fmt.Sprintf("%s cmp / %s swp", formatCount(m.Comparisons), formatCount(m.Swaps))
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 10_000:
		return fmt.Sprintf("%dk", n/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
