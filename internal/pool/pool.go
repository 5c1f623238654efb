// Package pool owns a fixed set of sort workers, assigns tasks to them and
// folds their messages into a status table that observers can subscribe to.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/sortpool/internal/algorithm"
	"github.com/zjrosen/sortpool/internal/events"
	"github.com/zjrosen/sortpool/internal/log"
	"github.com/zjrosen/sortpool/internal/progress"
	"github.com/zjrosen/sortpool/internal/protocol"
	"github.com/zjrosen/sortpool/internal/pubsub"
	"github.com/zjrosen/sortpool/internal/tracing"
	"github.com/zjrosen/sortpool/internal/worker"
)

// DefaultSize is the number of workers when Config.Size is unset.
const DefaultSize = 4

// MaxSize bounds Config.Size.
const MaxSize = 64

// defaultOutboxCapacity buffers worker messages between the worker
// goroutines and the coordinator.
const defaultOutboxCapacity = 256

var (
	// ErrPoolClosed is returned when operations are attempted on a shut down pool.
	ErrPoolClosed = fmt.Errorf("worker pool is closed")
	// ErrInvalidState is returned when a worker cannot take a task in its current state.
	ErrInvalidState = errors.New("invalid worker state")
	// ErrNoIdleWorker is returned when a batch has more tasks than idle workers.
	ErrNoIdleWorker = errors.New("no idle worker available")
	// ErrWorkerNotFound is returned for worker ids outside the pool.
	ErrWorkerNotFound = errors.New("worker not found")
	// ErrStaleMessage marks a message for a task the worker no longer runs.
	// It is logged and dropped by the coordinator.
	ErrStaleMessage = errors.New("stale message")
)

var errTerminated = errors.New("task terminated")

// Config holds configuration for the pool.
type Config struct {
	// Size is the number of workers (default 4, at most 64).
	Size int
	// Registry resolves algorithm names. Nil selects algorithm.Default().
	Registry *algorithm.Registry
	// ProgressDivisor is passed to every worker's progress tracker.
	ProgressDivisor int
	// Tracer records one span per task. Nil disables tracing.
	Tracer trace.Tracer
	// OutboxCapacity buffers worker messages (default 256).
	OutboxCapacity int
}

// TaskRequest describes one task of a batch. A nil WorkerID lets the pool
// pick the lowest-numbered idle worker.
type TaskRequest struct {
	WorkerID  *int               `json:"worker,omitempty"`
	Algorithm string             `json:"algorithm"`
	Data      []protocol.Element `json:"data"`
	Options   protocol.Options   `json:"options,omitempty"`
}

// On pins a request to a worker.
func (r TaskRequest) On(workerID int) TaskRequest {
	r.WorkerID = &workerID
	return r
}

// slot is one worker and the coordinator's record of it. All fields are
// guarded by Pool.mu except inbox, which is only sent to under it.
type slot struct {
	status events.WorkerStatus
	inbox  chan worker.Assignment
	// stop ends the worker goroutine once the slot is terminated.
	stop context.CancelFunc
	// cancel and span belong to the live task, if any.
	cancel context.CancelFunc
	span   trace.Span
}

// finish releases the live task's context and span.
func (s *slot) finish(err error) {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.span != nil {
		tracing.EndTask(s.span, err)
		s.span = nil
	}
}

// Pool manages a fixed set of concurrent sort workers.
type Pool struct {
	slots    []*slot
	outbox   chan protocol.Message
	broker   *pubsub.Broker[events.Snapshot]
	messages *pubsub.Broker[protocol.Message]
	tracer   trace.Tracer
	runID    string

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed atomic.Bool
	wg     sync.WaitGroup
}

// New creates a pool with every worker idle and running.
func New(cfg Config) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Size > MaxSize {
		cfg.Size = MaxSize
	}
	if cfg.Registry == nil {
		cfg.Registry = algorithm.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("sortpool")
	}
	if cfg.OutboxCapacity <= 0 {
		cfg.OutboxCapacity = defaultOutboxCapacity
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		slots:  make([]*slot, cfg.Size),
		outbox: make(chan protocol.Message, cfg.OutboxCapacity),
		broker:   pubsub.NewBroker[events.Snapshot](),
		messages: pubsub.NewBroker[protocol.Message](),
		tracer:   cfg.Tracer,
		ctx:      ctx,
		cancel:   cancel,
	}

	wcfg := worker.Config{Registry: cfg.Registry, ProgressDivisor: cfg.ProgressDivisor}
	for id := range p.slots {
		sctx, stop := context.WithCancel(ctx)
		s := &slot{
			status: events.WorkerStatus{ID: id, Status: events.StatusIdle},
			// One slot is enough: a worker is only dispatched after its
			// previous task reached a terminal message.
			inbox: make(chan worker.Assignment, 1),
			stop:  stop,
		}
		p.slots[id] = s

		p.wg.Add(1)
		go p.runWorker(sctx, worker.New(id, wcfg), s.inbox)
	}

	p.wg.Add(1)
	go p.coordinate()

	log.Debug(log.CatPool, "Pool started", "size", cfg.Size)
	return p
}

func (p *Pool) runWorker(ctx context.Context, rt *worker.Runtime, inbox <-chan worker.Assignment) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatPool, "Worker goroutine panic recovered",
				"workerID", rt.ID(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	rt.Serve(ctx, inbox, p.emit)
}

// emit forwards a worker message to the coordinator. Every worker sends from
// its own goroutine, so each worker's messages keep their order.
func (p *Pool) emit(msg protocol.Message) {
	select {
	case p.outbox <- msg:
	case <-p.ctx.Done():
	}
}

// coordinate applies worker messages in arrival order.
func (p *Pool) coordinate() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg := <-p.outbox:
			if err := p.HandleMessage(msg); err != nil {
				log.Debug(log.CatPool, "Message dropped",
					"workerID", msg.Worker(),
					"taskID", msg.Task(),
					"type", msg.Kind(),
					"error", err)
			}
		}
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Dispatch assigns one task to a specific worker and returns its task id.
// It never blocks on the worker.
func (p *Pool) Dispatch(workerID int, algo string, data []protocol.Element, opts protocol.Options) (string, error) {
	ids, err := p.RunParallel([]TaskRequest{{
		WorkerID:  &workerID,
		Algorithm: algo,
		Data:      data,
		Options:   opts,
	}})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// RunParallel dispatches every task to a distinct worker. Requests naming a
// worker get that worker; the rest take the lowest-numbered idle workers.
// Either every task is dispatched or none is.
func (p *Pool) RunParallel(tasks []TaskRequest) ([]string, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	targets, err := p.planLocked(tasks)
	if err != nil {
		return nil, err
	}

	msgs := make([]protocol.Execute, len(tasks))
	for i, req := range tasks {
		msgs[i] = protocol.Execute{
			WorkerID:  targets[i],
			TaskID:    uuid.NewString(),
			Algorithm: req.Algorithm,
			Data:      protocol.Clone(req.Data),
			Options:   req.Options,
		}
		if err := msgs[i].Validate(); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
	}

	p.beginRunLocked()
	ids := make([]string, len(msgs))
	for i, msg := range msgs {
		p.assignLocked(p.slots[msg.WorkerID], msg)
		ids[i] = msg.TaskID
	}
	p.publishLocked()
	return ids, nil
}

// planLocked picks a worker for every request without changing any state.
func (p *Pool) planLocked(tasks []TaskRequest) ([]int, error) {
	targets := make([]int, len(tasks))
	taken := make(map[int]bool, len(tasks))

	for i, req := range tasks {
		if req.WorkerID == nil {
			continue
		}
		id := *req.WorkerID
		s, err := p.slotLocked(id)
		if err != nil {
			return nil, err
		}
		if !s.status.Status.CanDispatch() {
			return nil, fmt.Errorf("%w: worker %d is %s", ErrInvalidState, id, s.status.Status)
		}
		if taken[id] {
			return nil, fmt.Errorf("%w: worker %d requested twice", ErrInvalidState, id)
		}
		taken[id] = true
		targets[i] = id
	}

	next := 0
	for i, req := range tasks {
		if req.WorkerID != nil {
			continue
		}
		for next < len(p.slots) && (taken[next] || !p.slots[next].status.Status.CanDispatch()) {
			next++
		}
		if next == len(p.slots) {
			return nil, fmt.Errorf("%w: %d tasks, %d idle workers", ErrNoIdleWorker, len(tasks), p.idleCountLocked())
		}
		taken[next] = true
		targets[i] = next
	}
	return targets, nil
}

func (p *Pool) idleCountLocked() int {
	n := 0
	for _, s := range p.slots {
		if s.status.Status.CanDispatch() {
			n++
		}
	}
	return n
}

func (p *Pool) slotLocked(id int) (*slot, error) {
	if id < 0 || id >= len(p.slots) {
		return nil, fmt.Errorf("%w: %d", ErrWorkerNotFound, id)
	}
	return p.slots[id], nil
}

// beginRunLocked starts a new run when nothing is in flight: previous
// workers stop counting toward the aggregate.
func (p *Pool) beginRunLocked() {
	if p.runningLocked() {
		return
	}
	p.runID = uuid.NewString()
	for _, s := range p.slots {
		s.status.Dispatched = false
	}
	log.Debug(log.CatPool, "Run started", "runID", p.runID)
}

func (p *Pool) assignLocked(s *slot, msg protocol.Execute) {
	tctx, cancel := context.WithCancel(p.ctx)
	tctx, span := tracing.StartTask(tctx, p.tracer, p.runID, msg.WorkerID, msg.TaskID, msg.Algorithm, len(msg.Data))

	s.cancel = cancel
	s.span = span
	s.status = events.WorkerStatus{
		ID:         msg.WorkerID,
		Status:     events.StatusBusy,
		TaskID:     msg.TaskID,
		Algorithm:  msg.Algorithm,
		StartTime:  time.Now(),
		Dispatched: true,
	}
	s.inbox <- worker.Assignment{Ctx: tctx, Task: msg}
	p.messages.Publish(pubsub.CreatedEvent, msg)

	log.Debug(log.CatPool, "Task dispatched",
		"workerID", msg.WorkerID,
		"taskID", msg.TaskID,
		"algorithm", msg.Algorithm,
		"elements", len(msg.Data))
}

// HandleMessage applies one worker message to the status table. Messages for
// a task the worker is no longer running return ErrStaleMessage and change
// nothing.
func (p *Pool) HandleMessage(msg protocol.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Kind() == protocol.TypeExecute {
		return fmt.Errorf("%w: execute is not a worker message", protocol.ErrInvalidMessage)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.slotLocked(msg.Worker())
	if err != nil {
		return err
	}
	if s.status.Status != events.StatusBusy || s.status.TaskID != msg.Task() {
		return fmt.Errorf("%w: worker %d is %s with task %q", ErrStaleMessage, msg.Worker(), s.status.Status, s.status.TaskID)
	}

	switch m := msg.(type) {
	case protocol.Progress:
		if m.Progress < s.status.Progress {
			log.Warn(log.CatPool, "Progress regressed, ignoring",
				"workerID", m.WorkerID,
				"taskID", m.TaskID,
				"current", s.status.Progress,
				"reported", m.Progress)
			return nil
		}
		if m.Progress == s.status.Progress {
			return nil
		}
		s.status.Progress = m.Progress

	case protocol.Complete:
		s.finish(nil)
		s.status.Status = events.StatusIdle
		s.status.Progress = 100
		s.status.Result = m.Result
		s.status.Metrics = m.Metrics
		s.status.EndTime = time.Now()
		log.Debug(log.CatPool, "Task complete",
			"workerID", m.WorkerID,
			"taskID", m.TaskID,
			"duration", s.status.Duration())

	case protocol.Failure:
		s.finish(errors.New(m.Message))
		s.status.Status = events.StatusError
		s.status.Error = m.Message
		s.status.EndTime = time.Now()
		log.Debug(log.CatPool, "Task failed",
			"workerID", m.WorkerID,
			"taskID", m.TaskID,
			"error", m.Message)
	}

	p.messages.Publish(pubsub.CreatedEvent, msg)
	p.publishLocked()
	return nil
}

// Terminate cancels whatever the worker is running and retires it for good.
// Terminating an already terminated worker is a no-op.
func (p *Pool) Terminate(workerID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.slotLocked(workerID)
	if err != nil {
		return err
	}
	if s.status.Status.IsDone() {
		return nil
	}
	p.terminateLocked(s, errTerminated)
	p.publishLocked()
	return nil
}

// TerminateTask terminates the worker only if taskID is still its live task.
// Otherwise it returns ErrStaleMessage and changes nothing.
func (p *Pool) TerminateTask(workerID int, taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.slotLocked(workerID)
	if err != nil {
		return err
	}
	if s.status.Status != events.StatusBusy || s.status.TaskID != taskID {
		return fmt.Errorf("%w: task %q is not running on worker %d", ErrStaleMessage, taskID, workerID)
	}
	p.terminateLocked(s, errTerminated)
	p.publishLocked()
	return nil
}

func (p *Pool) terminateLocked(s *slot, reason error) {
	if s.span != nil {
		s.span.AddEvent(tracing.EventTerminated)
	}
	busy := s.status.Status == events.StatusBusy
	s.finish(reason)
	s.stop()
	s.status.Status = events.StatusTerminated
	if busy {
		s.status.EndTime = time.Now()
	}
	log.Debug(log.CatPool, "Worker terminated",
		"workerID", s.status.ID,
		"taskID", s.status.TaskID,
		"reason", reason)
}

// Shutdown terminates every worker, stops all goroutines and closes every
// subscription. Later dispatches fail with ErrPoolClosed. Safe to call twice.
func (p *Pool) Shutdown() {
	if p.closed.Swap(true) {
		return
	}

	log.Debug(log.CatPool, "Shutting down pool")

	p.mu.Lock()
	for _, s := range p.slots {
		if !s.status.Status.IsDone() {
			p.terminateLocked(s, ErrPoolClosed)
		}
	}
	p.publishLocked()
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.broker.Close()
	p.messages.Close()
}

// Closed reports whether Shutdown has been called.
func (p *Pool) Closed() bool {
	return p.closed.Load()
}

// Subscribe returns a channel receiving a snapshot after every status change.
// The channel closes when ctx is cancelled or the pool shuts down.
func (p *Pool) Subscribe(ctx context.Context) <-chan pubsub.Event[events.Snapshot] {
	return p.broker.Subscribe(ctx)
}

// SubscribeMessages returns a channel receiving every execute message the
// pool sends and every worker message that changed a worker's status, in the
// order they were applied. Stale and repeated progress messages are dropped.
// The channel closes when ctx is cancelled or the pool shuts down.
func (p *Pool) SubscribeMessages(ctx context.Context) <-chan pubsub.Event[protocol.Message] {
	return p.messages.Subscribe(ctx)
}

// Snapshot returns the current status table.
func (p *Pool) Snapshot() events.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Wait blocks until no worker is busy and returns the settled snapshot.
func (p *Pool) Wait(ctx context.Context) (events.Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before reading so no transition slips between the two.
	sub := p.Subscribe(ctx)
	if snap := p.Snapshot(); !snap.IsRunning {
		return snap, nil
	}

	for {
		select {
		case <-ctx.Done():
			return p.Snapshot(), ctx.Err()
		case ev, ok := <-sub:
			if !ok {
				return p.Snapshot(), nil
			}
			if !ev.Payload.IsRunning {
				return ev.Payload, nil
			}
		}
	}
}

func (p *Pool) runningLocked() bool {
	for _, s := range p.slots {
		if s.status.Status == events.StatusBusy {
			return true
		}
	}
	return false
}

// snapshotLocked copies the status table. Results and metrics are shared:
// neither is mutated once a task completes.
func (p *Pool) snapshotLocked() events.Snapshot {
	statuses := make([]events.WorkerStatus, len(p.slots))
	for i, s := range p.slots {
		statuses[i] = s.status
	}
	return events.Snapshot{
		RunID:           p.runID,
		WorkerStatuses:  statuses,
		OverallProgress: progress.Overall(statuses),
		IsRunning:       p.runningLocked(),
	}
}

// publishLocked pushes the current snapshot. Publishing under the lock keeps
// snapshots in mutation order; the broker never blocks.
func (p *Pool) publishLocked() {
	p.broker.Publish(pubsub.UpdatedEvent, p.snapshotLocked())
}
