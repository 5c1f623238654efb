// Package worker implements the execution unit that runs one sort task at a
// time and reports it through protocol messages.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/zjrosen/sortpool/internal/algorithm"
	"github.com/zjrosen/sortpool/internal/log"
	"github.com/zjrosen/sortpool/internal/metrics"
	"github.com/zjrosen/sortpool/internal/protocol"
)

// Emit receives every outgoing message, in order.
type Emit func(protocol.Message)

// Assignment is one task handed to a runtime together with the context that
// scopes it. Cancelling Ctx abandons the task.
type Assignment struct {
	Ctx  context.Context
	Task protocol.Execute
}

// Config holds runtime configuration.
type Config struct {
	Registry *algorithm.Registry
	// ProgressDivisor bounds reports to one per ⌈n/ProgressDivisor⌉ units of work.
	ProgressDivisor int
}

// Runtime executes tasks for one worker slot.
type Runtime struct {
	id       int
	registry *algorithm.Registry
	divisor  int
}

// New creates a runtime for worker id. A nil registry selects algorithm.Default().
func New(id int, cfg Config) *Runtime {
	if cfg.Registry == nil {
		cfg.Registry = algorithm.Default()
	}
	if cfg.ProgressDivisor <= 0 {
		cfg.ProgressDivisor = algorithm.DefaultProgressDivisor
	}
	return &Runtime{
		id:       id,
		registry: cfg.Registry,
		divisor:  cfg.ProgressDivisor,
	}
}

// ID returns the worker id this runtime serves.
func (r *Runtime) ID() int { return r.id }

// Serve runs assignments from inbox one at a time until ctx is cancelled or
// inbox is closed.
func (r *Runtime) Serve(ctx context.Context, inbox <-chan Assignment, emit Emit) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-inbox:
			if !ok {
				return
			}
			r.Execute(a.Ctx, a.Task, emit)
		}
	}
}

// Execute runs one task and emits zero or more progress messages followed by
// exactly one terminal message. It never panics.
func (r *Runtime) Execute(ctx context.Context, task protocol.Execute, emit Emit) {
	terminal := false
	fail := func(err error) {
		terminal = true
		log.Debug(log.CatWorker, "Task failed",
			"workerID", r.id,
			"taskID", task.TaskID,
			"algorithm", task.Algorithm,
			"error", err)
		emit(protocol.Failure{WorkerID: r.id, TaskID: task.TaskID, Message: err.Error()})
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error(log.CatWorker, "Worker panic recovered",
				"workerID", r.id,
				"taskID", task.TaskID,
				"panic", rec,
				"stack", string(debug.Stack()))
			if !terminal {
				fail(fmt.Errorf("%s panicked: %v", task.Algorithm, rec))
			}
		}
	}()

	if task.WorkerID != r.id {
		fail(fmt.Errorf("task addressed to worker %d delivered to worker %d", task.WorkerID, r.id))
		return
	}
	if err := task.Validate(); err != nil {
		fail(err)
		return
	}

	algo, err := r.registry.Lookup(task.Algorithm)
	if err != nil {
		fail(err)
		return
	}
	if algo.CheckOptions != nil {
		if err := algo.CheckOptions(task.Options); err != nil {
			fail(err)
			return
		}
	}

	start := time.Now()
	data := protocol.Clone(task.Data)
	if data == nil {
		data = []protocol.Element{}
	}

	tracker := algorithm.NewTracker(ctx, len(data), algo.Work(len(data)), r.divisor, func(p int) {
		emit(protocol.Progress{WorkerID: r.id, TaskID: task.TaskID, Progress: p})
	})

	if err := algo.Sort(data, task.Options, tracker); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("task cancelled: %w", err)
		}
		fail(err)
		return
	}
	if !protocol.IsSorted(data) {
		fail(fmt.Errorf("%s produced out-of-order output", algo.Name))
		return
	}

	m := &metrics.SortMetrics{
		Elements:    len(data),
		Comparisons: tracker.Comparisons(),
		Swaps:       tracker.Swaps(),
		Duration:    time.Since(start),
	}

	emit(protocol.Progress{WorkerID: r.id, TaskID: task.TaskID, Progress: 100})
	terminal = true
	emit(protocol.Complete{WorkerID: r.id, TaskID: task.TaskID, Result: data, Metrics: m})

	log.Debug(log.CatWorker, "Task complete",
		"workerID", r.id,
		"taskID", task.TaskID,
		"algorithm", algo.Name,
		"elements", m.Elements,
		"comparisons", m.Comparisons,
		"duration", m.Duration)
}
