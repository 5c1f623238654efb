// Package events defines the status records the pool publishes to observers.
// They live apart from the pool so the aggregator and the display surfaces
// can depend on them without importing the pool itself.
package events

import (
	"time"

	"github.com/zjrosen/sortpool/internal/metrics"
	"github.com/zjrosen/sortpool/internal/protocol"
)

// Status is a worker's lifecycle state.
type Status string

const (
	// StatusIdle means the worker is waiting for a task.
	StatusIdle Status = "idle"
	// StatusBusy means the worker is running a task.
	StatusBusy Status = "busy"
	// StatusError means the worker's last task failed.
	StatusError Status = "error"
	// StatusTerminated is absorbing: the worker accepts nothing further.
	StatusTerminated Status = "terminated"
)

func (s Status) String() string { return string(s) }

// IsDone returns true for the absorbing terminated state.
func (s Status) IsDone() bool {
	return s == StatusTerminated
}

// CanDispatch reports whether a new task may be assigned. A failed task
// leaves its worker re-armable.
func (s Status) CanDispatch() bool {
	return s == StatusIdle || s == StatusError
}

// WorkerStatus is one row of the pool's status table.
type WorkerStatus struct {
	ID        int    `json:"id"`
	Status    Status `json:"status"`
	Progress  int    `json:"progress"`
	TaskID    string `json:"taskId,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
	// Result is set after complete and never mutated afterwards.
	Result    []protocol.Element `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	StartTime time.Time          `json:"startTime,omitzero"`
	EndTime   time.Time          `json:"endTime,omitzero"`
	// Dispatched marks workers that received a task in the current run.
	Dispatched bool                 `json:"dispatched"`
	Metrics    *metrics.SortMetrics `json:"metrics,omitempty"`
}

// Duration returns how long the task ran, or has been running so far.
func (w WorkerStatus) Duration() time.Duration {
	if w.StartTime.IsZero() {
		return 0
	}
	if w.EndTime.IsZero() {
		return time.Since(w.StartTime)
	}
	return w.EndTime.Sub(w.StartTime)
}

// Snapshot is the read-only view pushed to observers after every status change.
type Snapshot struct {
	RunID           string         `json:"runId,omitempty"`
	WorkerStatuses  []WorkerStatus `json:"workerStatuses"`
	OverallProgress float64        `json:"overallProgress"`
	IsRunning       bool           `json:"isRunning"`
}

// Worker returns the status for id, if present.
func (s Snapshot) Worker(id int) (WorkerStatus, bool) {
	for _, w := range s.WorkerStatuses {
		if w.ID == id {
			return w, true
		}
	}
	return WorkerStatus{}, false
}
