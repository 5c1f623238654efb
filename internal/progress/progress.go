// Package progress derives the overall completion of a run from the pool's
// status table. Every function here is pure.
package progress

import (
	"math"

	"github.com/zjrosen/sortpool/internal/events"
)

// counts reports whether a worker contributes to the aggregate: it was
// dispatched in the current run and is running or finished successfully.
// Failed and terminated workers are excluded.
func counts(w events.WorkerStatus) bool {
	if !w.Dispatched {
		return false
	}
	return w.Status == events.StatusBusy || w.Status == events.StatusIdle
}

// Overall returns the arithmetic mean of progress across contributing
// workers, or 0 when none contribute.
func Overall(statuses []events.WorkerStatus) float64 {
	sum, n := 0, 0
	for _, w := range statuses {
		if counts(w) {
			sum += w.Progress
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// Percent is Overall rounded down to a whole percentage for display.
func Percent(statuses []events.WorkerStatus) int {
	return int(math.Floor(Overall(statuses)))
}

// Summary counts workers per status.
type Summary struct {
	Idle       int `json:"idle"`
	Busy       int `json:"busy"`
	Error      int `json:"error"`
	Terminated int `json:"terminated"`
	Dispatched int `json:"dispatched"`
}

// Summarize tallies the status table.
func Summarize(statuses []events.WorkerStatus) Summary {
	var s Summary
	for _, w := range statuses {
		switch w.Status {
		case events.StatusIdle:
			s.Idle++
		case events.StatusBusy:
			s.Busy++
		case events.StatusError:
			s.Error++
		case events.StatusTerminated:
			s.Terminated++
		}
		if w.Dispatched {
			s.Dispatched++
		}
	}
	return s
}
