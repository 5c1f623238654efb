package pool

import (
	"context"
	"errors"
	"time"

	"github.com/zjrosen/sortpool/internal/events"
	"github.com/zjrosen/sortpool/internal/log"
	"github.com/zjrosen/sortpool/internal/pubsub"
)

// Supervised is the part of a pool a watchdog needs.
type Supervised interface {
	pubsub.Subscriber[events.Snapshot]
	Snapshot() events.Snapshot
	TerminateTask(workerID int, taskID string) error
}

// Watchdog terminates taskID on workerID if it is still running after d.
// It returns true if it terminated the task, false if the task ended on its
// own or ctx was cancelled first. Tasks have no intrinsic timeout; callers
// that want one run a watchdog per task.
func Watchdog(ctx context.Context, p Supervised, workerID int, taskID string, d time.Duration) bool {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := p.Subscribe(ctx)
	if !live(p.Snapshot(), workerID, taskID) {
		return false
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub:
			if !ok || !live(ev.Payload, workerID, taskID) {
				return false
			}
		case <-timer.C:
			err := p.TerminateTask(workerID, taskID)
			if err != nil {
				if !errors.Is(err, ErrStaleMessage) {
					log.ErrorErr(log.CatPool, "Watchdog terminate failed", err, "workerID", workerID, "taskID", taskID)
				}
				return false
			}
			log.Warn(log.CatPool, "Watchdog terminated task",
				"workerID", workerID,
				"taskID", taskID,
				"after", d)
			return true
		}
	}
}

func live(s events.Snapshot, workerID int, taskID string) bool {
	w, ok := s.Worker(workerID)
	return ok && w.Status == events.StatusBusy && w.TaskID == taskID
}

// Guard starts one Watchdog per task in taskIDs, looking up each task's
// worker in the current snapshot. Tasks that already ended are skipped.
func Guard(ctx context.Context, p Supervised, taskIDs []string, d time.Duration) {
	byTask := make(map[string]int)
	for _, ws := range p.Snapshot().WorkerStatuses {
		if ws.TaskID != "" {
			byTask[ws.TaskID] = ws.ID
		}
	}
	for _, id := range taskIDs {
		workerID, ok := byTask[id]
		if !ok {
			continue
		}
		go Watchdog(ctx, p, workerID, id, d)
	}
}
