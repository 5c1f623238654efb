package pool

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pgregory.net/rapid"

	"github.com/zjrosen/sortpool/internal/algorithm"
	"github.com/zjrosen/sortpool/internal/events"
	"github.com/zjrosen/sortpool/internal/progress"
	"github.com/zjrosen/sortpool/internal/protocol"
	"github.com/zjrosen/sortpool/internal/tracing"
)

// gateRegistry adds a "gate" algorithm that reports 50% and then blocks until
// release is closed or its task is cancelled. Use it with two-element inputs.
func gateRegistry(release <-chan struct{}) *algorithm.Registry {
	reg := algorithm.Default()
	reg.MustRegister(algorithm.Algorithm{
		Name: "gate",
		Work: func(int) int64 { return 2 },
		Sort: func(data []protocol.Element, _ protocol.Options, t *algorithm.Tracker) error {
			if err := t.Advance(1); err != nil {
				return err
			}
			for {
				select {
				case <-release:
					slices.SortStableFunc(data, func(a, b protocol.Element) int {
						return cmp.Compare(a.Key(), b.Key())
					})
					return t.Advance(1)
				case <-time.After(time.Millisecond):
					if err := t.Err(); err != nil {
						return err
					}
				}
			}
		},
	})
	return reg
}

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := New(cfg)
	t.Cleanup(p.Shutdown)
	return p
}

func waitSettled(t *testing.T, p *Pool) events.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := p.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func requireWorker(t *testing.T, snap events.Snapshot, id int) events.WorkerStatus {
	t.Helper()
	w, ok := snap.Worker(id)
	require.True(t, ok, "worker %d missing from snapshot", id)
	return w
}

func waitProgress(t *testing.T, p *Pool, id, pct int) {
	t.Helper()
	require.Eventually(t, func() bool {
		w, _ := p.Snapshot().Worker(id)
		return w.Status == events.StatusBusy && w.Progress >= pct
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNew_AllWorkersIdle(t *testing.T) {
	p := newTestPool(t, Config{Size: 3})
	snap := p.Snapshot()

	require.Equal(t, 3, p.Size())
	require.Len(t, snap.WorkerStatuses, 3)
	for i, w := range snap.WorkerStatuses {
		require.Equal(t, i, w.ID)
		require.Equal(t, events.StatusIdle, w.Status)
		require.Zero(t, w.Progress)
	}
	require.False(t, snap.IsRunning)
	require.Zero(t, snap.OverallProgress)
}

func TestNew_SizeDefaultsAndClamps(t *testing.T) {
	require.Equal(t, DefaultSize, newTestPool(t, Config{}).Size())
	require.Equal(t, MaxSize, newTestPool(t, Config{Size: 1000}).Size())
}

func TestDispatch_BubbleSortCompletes(t *testing.T) {
	p := newTestPool(t, Config{Size: 2})

	taskID, err := p.Dispatch(0, "bubbleSort", protocol.Nums(5, 3, 4, 1, 2), nil)
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	snap := waitSettled(t, p)
	w := requireWorker(t, snap, 0)
	require.Equal(t, events.StatusIdle, w.Status)
	require.Equal(t, taskID, w.TaskID)
	require.Equal(t, 100, w.Progress)
	require.Equal(t, []float64{1, 2, 3, 4, 5}, protocol.Keys(w.Result))
	require.Empty(t, w.Error)
	require.NotNil(t, w.Metrics)
	require.False(t, w.EndTime.Before(w.StartTime))
	require.Equal(t, 100.0, snap.OverallProgress)
	require.NotEmpty(t, snap.RunID)
}

func TestDispatch_UnknownAlgorithmThenRearm(t *testing.T) {
	p := newTestPool(t, Config{Size: 1})

	_, err := p.Dispatch(0, "shellSort", protocol.Nums(3, 1, 2), nil)
	require.NoError(t, err, "unknown algorithms are reported by the worker, not by Dispatch")

	snap := waitSettled(t, p)
	w := requireWorker(t, snap, 0)
	require.Equal(t, events.StatusError, w.Status)
	require.Contains(t, w.Error, "unknown algorithm")
	require.Nil(t, w.Result)
	require.Zero(t, snap.OverallProgress, "failed workers do not count toward the aggregate")

	_, err = p.Dispatch(0, "bubbleSort", protocol.Nums(2, 1), nil)
	require.NoError(t, err, "an errored worker can be re-dispatched")

	w = requireWorker(t, waitSettled(t, p), 0)
	require.Equal(t, events.StatusIdle, w.Status)
	require.Empty(t, w.Error)
	require.Equal(t, []float64{1, 2}, protocol.Keys(w.Result))
}

func TestRunParallel_TwoWorkersIncludingEmptyInput(t *testing.T) {
	p := newTestPool(t, Config{Size: 2})

	ids, err := p.RunParallel([]TaskRequest{
		{Algorithm: "bubbleSort", Data: protocol.Nums(9, 1)},
		{Algorithm: "bubbleSort", Data: nil},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.NotEqual(t, ids[0], ids[1])

	snap := waitSettled(t, p)
	require.Equal(t, []float64{1, 9}, protocol.Keys(requireWorker(t, snap, 0).Result))
	empty := requireWorker(t, snap, 1)
	require.Equal(t, events.StatusIdle, empty.Status)
	require.Empty(t, empty.Result)
	require.Equal(t, 100, empty.Progress)
	require.Equal(t, 100.0, snap.OverallProgress)
}

func TestDispatch_BusyWorkerRejected(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := newTestPool(t, Config{Size: 2, Registry: gateRegistry(release)})

	first, err := p.Dispatch(0, "gate", protocol.Nums(2, 1), nil)
	require.NoError(t, err)

	_, err = p.Dispatch(0, "bubbleSort", protocol.Nums(1), nil)
	require.ErrorIs(t, err, ErrInvalidState)

	w := requireWorker(t, p.Snapshot(), 0)
	require.Equal(t, first, w.TaskID, "the running task is untouched")
	require.Equal(t, events.StatusBusy, w.Status)
	require.Equal(t, events.StatusIdle, requireWorker(t, p.Snapshot(), 1).Status)
}

func TestTerminate_MidSortIgnoresLateMessages(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := newTestPool(t, Config{Size: 1, Registry: gateRegistry(release)})

	taskID, err := p.Dispatch(0, "gate", protocol.Nums(2, 1), nil)
	require.NoError(t, err)
	waitProgress(t, p, 0, 50)

	require.NoError(t, p.Terminate(0))
	w := requireWorker(t, p.Snapshot(), 0)
	require.Equal(t, events.StatusTerminated, w.Status)
	require.False(t, w.EndTime.IsZero())

	err = p.HandleMessage(protocol.Complete{WorkerID: 0, TaskID: taskID, Result: protocol.Nums(1, 2)})
	require.ErrorIs(t, err, ErrStaleMessage)
	err = p.HandleMessage(protocol.Progress{WorkerID: 0, TaskID: taskID, Progress: 99})
	require.ErrorIs(t, err, ErrStaleMessage)

	w = requireWorker(t, p.Snapshot(), 0)
	require.Equal(t, events.StatusTerminated, w.Status)
	require.Nil(t, w.Result)
	require.Equal(t, 50, w.Progress)

	_, err = p.Dispatch(0, "bubbleSort", protocol.Nums(1), nil)
	require.ErrorIs(t, err, ErrInvalidState, "terminated is absorbing")
	require.NoError(t, p.Terminate(0), "terminating twice is a no-op")
}

func TestTerminateTask_OnlyHitsLiveTask(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := newTestPool(t, Config{Size: 1, Registry: gateRegistry(release)})

	taskID, err := p.Dispatch(0, "gate", protocol.Nums(2, 1), nil)
	require.NoError(t, err)

	require.ErrorIs(t, p.TerminateTask(0, "some-other-task"), ErrStaleMessage)
	require.Equal(t, events.StatusBusy, requireWorker(t, p.Snapshot(), 0).Status)

	require.NoError(t, p.TerminateTask(0, taskID))
	require.Equal(t, events.StatusTerminated, requireWorker(t, p.Snapshot(), 0).Status)
}

func TestHandleMessage_RegressingProgressIgnored(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := newTestPool(t, Config{Size: 1, Registry: gateRegistry(release)})

	taskID, err := p.Dispatch(0, "gate", protocol.Nums(2, 1), nil)
	require.NoError(t, err)
	waitProgress(t, p, 0, 50)

	require.NoError(t, p.HandleMessage(protocol.Progress{WorkerID: 0, TaskID: taskID, Progress: 10}))
	require.Equal(t, 50, requireWorker(t, p.Snapshot(), 0).Progress)
}

func TestHandleMessage_Rejects(t *testing.T) {
	p := newTestPool(t, Config{Size: 1})

	err := p.HandleMessage(protocol.Progress{WorkerID: 0, TaskID: "t", Progress: 140})
	require.ErrorIs(t, err, protocol.ErrInvalidMessage)

	err = p.HandleMessage(protocol.Execute{WorkerID: 0, TaskID: "t", Algorithm: "bubbleSort"})
	require.ErrorIs(t, err, protocol.ErrInvalidMessage)

	err = p.HandleMessage(protocol.Progress{WorkerID: 7, TaskID: "t", Progress: 1})
	require.ErrorIs(t, err, ErrWorkerNotFound)

	err = p.HandleMessage(protocol.Progress{WorkerID: 0, TaskID: "never-dispatched", Progress: 1})
	require.ErrorIs(t, err, ErrStaleMessage)
}

func TestDispatch_Errors(t *testing.T) {
	p := newTestPool(t, Config{Size: 2})

	_, err := p.Dispatch(2, "bubbleSort", nil, nil)
	require.ErrorIs(t, err, ErrWorkerNotFound)
	_, err = p.Dispatch(-1, "bubbleSort", nil, nil)
	require.ErrorIs(t, err, ErrWorkerNotFound)

	_, err = p.Dispatch(0, "", protocol.Nums(1), nil)
	require.ErrorIs(t, err, protocol.ErrInvalidMessage)
	require.False(t, p.Snapshot().IsRunning, "rejected tasks change nothing")
}

func TestRunParallel_AllOrNothing(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := newTestPool(t, Config{Size: 2, Registry: gateRegistry(release)})

	_, err := p.RunParallel([]TaskRequest{
		{Algorithm: "gate", Data: protocol.Nums(2, 1)},
		{Algorithm: "gate", Data: protocol.Nums(2, 1)},
		{Algorithm: "gate", Data: protocol.Nums(2, 1)},
	})
	require.ErrorIs(t, err, ErrNoIdleWorker)
	for _, w := range p.Snapshot().WorkerStatuses {
		require.Equal(t, events.StatusIdle, w.Status, "nothing dispatched")
	}

	_, err = p.RunParallel([]TaskRequest{
		TaskRequest{Algorithm: "gate", Data: protocol.Nums(2, 1)}.On(1),
		TaskRequest{Algorithm: "gate", Data: protocol.Nums(2, 1)}.On(1),
	})
	require.ErrorIs(t, err, ErrInvalidState)
	require.False(t, p.Snapshot().IsRunning)
}

func TestRunParallel_PinnedAndLowestIdle(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := newTestPool(t, Config{Size: 4, Registry: gateRegistry(release)})

	ids, err := p.RunParallel([]TaskRequest{
		{Algorithm: "gate", Data: protocol.Nums(2, 1)},
		TaskRequest{Algorithm: "gate", Data: protocol.Nums(2, 1)}.On(0),
		{Algorithm: "gate", Data: protocol.Nums(2, 1)},
	})
	require.NoError(t, err)

	snap := p.Snapshot()
	require.Equal(t, ids[1], requireWorker(t, snap, 0).TaskID)
	require.Equal(t, ids[0], requireWorker(t, snap, 1).TaskID)
	require.Equal(t, ids[2], requireWorker(t, snap, 2).TaskID)
	require.Equal(t, events.StatusIdle, requireWorker(t, snap, 3).Status)
	require.True(t, snap.IsRunning)
}

func TestRun_NewRunResetsAggregate(t *testing.T) {
	p := newTestPool(t, Config{Size: 2})

	_, err := p.Dispatch(0, "shellSort", nil, nil)
	require.NoError(t, err)
	first := waitSettled(t, p)

	_, err = p.Dispatch(1, "insertionSort", protocol.Nums(3, 2, 1), nil)
	require.NoError(t, err)
	second := waitSettled(t, p)

	require.NotEqual(t, first.RunID, second.RunID)
	require.False(t, requireWorker(t, second, 0).Dispatched)
	require.True(t, requireWorker(t, second, 1).Dispatched)
	require.Equal(t, 100.0, second.OverallProgress)
}

func TestDispatch_CopiesInput(t *testing.T) {
	p := newTestPool(t, Config{Size: 1})

	input := protocol.Nums(3, 2, 1)
	_, err := p.Dispatch(0, "heapSort", input, nil)
	require.NoError(t, err)
	waitSettled(t, p)

	require.Equal(t, []float64{3, 2, 1}, protocol.Keys(input))
}

func TestSubscribe_ReceivesSnapshotsUntilSettled(t *testing.T) {
	p := newTestPool(t, Config{Size: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := p.Subscribe(ctx)

	_, err := p.RunParallel([]TaskRequest{
		{Algorithm: "mergeSort", Data: protocol.Nums(4, 3, 2, 1)},
		{Algorithm: "quickSort", Data: protocol.Nums(8, 6, 7), Options: protocol.Options{"pivot": "middle"}},
	})
	require.NoError(t, err)

	var last events.Snapshot
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub:
			last = ev.Payload
			require.GreaterOrEqual(t, last.OverallProgress, 0.0)
			require.LessOrEqual(t, last.OverallProgress, 100.0)
		case <-timeout:
			require.Fail(t, "pool never settled")
		}
		if !last.IsRunning {
			break
		}
	}
	require.Equal(t, 100.0, last.OverallProgress)
}

func TestSubscribeMessages_StreamsTaskTraffic(t *testing.T) {
	p := newTestPool(t, Config{Size: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := p.SubscribeMessages(ctx)

	taskID, err := p.Dispatch(0, "bubbleSort", protocol.Nums(3, 1, 2), nil)
	require.NoError(t, err)

	var got []protocol.Message
	timeout := time.After(5 * time.Second)
	for len(got) == 0 || !got[len(got)-1].Kind().IsTerminal() {
		select {
		case ev := <-sub:
			got = append(got, ev.Payload)
		case <-timeout:
			require.Fail(t, "no terminal message")
		}
	}

	exec, ok := got[0].(protocol.Execute)
	require.True(t, ok, "first message is %s", got[0].Kind())
	require.Equal(t, "bubbleSort", exec.Algorithm)
	for _, m := range got {
		require.Equal(t, taskID, m.Task())
		require.Equal(t, 0, m.Worker())
	}
	done, ok := got[len(got)-1].(protocol.Complete)
	require.True(t, ok)
	require.Equal(t, []float64{1, 2, 3}, protocol.Keys(done.Result))
}

func TestShutdown(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := New(Config{Size: 2, Registry: gateRegistry(release)})

	sub := p.Subscribe(context.Background())
	_, err := p.Dispatch(0, "gate", protocol.Nums(2, 1), nil)
	require.NoError(t, err)

	p.Shutdown()
	p.Shutdown()
	require.True(t, p.Closed())

	for _, w := range p.Snapshot().WorkerStatuses {
		require.Equal(t, events.StatusTerminated, w.Status)
	}

	_, err = p.Dispatch(1, "bubbleSort", nil, nil)
	require.ErrorIs(t, err, ErrPoolClosed)
	_, err = p.RunParallel([]TaskRequest{{Algorithm: "bubbleSort"}})
	require.ErrorIs(t, err, ErrPoolClosed)

	msgs := p.SubscribeMessages(context.Background())
	_, open := <-msgs
	require.False(t, open, "message stream closes on shutdown")

	// The subscription drains and then closes.
	var last events.Snapshot
	for ev := range sub {
		last = ev.Payload
	}
	require.False(t, last.IsRunning)

	snap, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.False(t, snap.IsRunning)
}

func TestShutdown_KeepsAppliedResult(t *testing.T) {
	p := New(Config{Size: 1})
	_, err := p.Dispatch(0, "bubbleSort", protocol.Nums(3, 1, 2), nil)
	require.NoError(t, err)
	waitSettled(t, p)

	p.Shutdown()
	w := requireWorker(t, p.Snapshot(), 0)
	require.Equal(t, events.StatusTerminated, w.Status)
	require.Equal(t, []float64{1, 2, 3}, protocol.Keys(w.Result))
	require.Equal(t, 100, w.Progress)
}

func TestWait_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := newTestPool(t, Config{Size: 1, Registry: gateRegistry(release)})

	_, err := p.Dispatch(0, "gate", protocol.Nums(2, 1), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap, err := p.Wait(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.True(t, snap.IsRunning)
}

func TestWatchdog(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := newTestPool(t, Config{Size: 2, Registry: gateRegistry(release)})

	stuck, err := p.Dispatch(0, "gate", protocol.Nums(2, 1), nil)
	require.NoError(t, err)
	require.True(t, Watchdog(context.Background(), p, 0, stuck, 20*time.Millisecond))
	require.Equal(t, events.StatusTerminated, requireWorker(t, p.Snapshot(), 0).Status)

	quick, err := p.Dispatch(1, "bubbleSort", protocol.Nums(2, 1), nil)
	require.NoError(t, err)
	require.False(t, Watchdog(context.Background(), p, 1, quick, time.Minute), "task finished before the deadline")
	require.Equal(t, events.StatusIdle, requireWorker(t, p.Snapshot(), 1).Status)
}

func TestGuard_TerminatesEveryStuckTask(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := newTestPool(t, Config{Size: 2, Registry: gateRegistry(release)})

	ids, err := p.RunParallel([]TaskRequest{
		{Algorithm: "gate", Data: protocol.Nums(2, 1)},
		{Algorithm: "gate", Data: protocol.Nums(2, 1)},
	})
	require.NoError(t, err)
	Guard(context.Background(), p, append(ids, "no-such-task"), 20*time.Millisecond)

	require.Eventually(t, func() bool {
		snap := p.Snapshot()
		return requireWorker(t, snap, 0).Status == events.StatusTerminated &&
			requireWorker(t, snap, 1).Status == events.StatusTerminated
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDispatch_RecordsTaskSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	p := newTestPool(t, Config{Size: 2, Tracer: tp.Tracer("test")})

	okID, err := p.Dispatch(0, "selectionSort", protocol.Nums(3, 1, 2), nil)
	require.NoError(t, err)
	_, err = p.Dispatch(1, "shellSort", protocol.Nums(1), nil)
	require.NoError(t, err)
	waitSettled(t, p)

	require.Eventually(t, func() bool { return len(rec.Ended()) == 2 }, time.Second, 5*time.Millisecond)
	for _, span := range rec.Ended() {
		require.Equal(t, tracing.SpanTask, span.Name())
		var taskID string
		for _, kv := range span.Attributes() {
			if string(kv.Key) == tracing.AttrTaskID {
				taskID = kv.Value.AsString()
			}
		}
		if taskID == okID {
			require.Empty(t, span.Status().Description)
		} else {
			require.Contains(t, span.Status().Description, "unknown algorithm")
		}
	}
}

func TestRunParallel_Properties(t *testing.T) {
	names := append(algorithm.Default().Names(), "shellSort")
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 6).Draw(t, "size")
		p := New(Config{Size: size})
		defer p.Shutdown()

		n := rapid.IntRange(1, size).Draw(t, "tasks")
		reqs := make([]TaskRequest, n)
		inputs := make([][]float64, n)
		for i := range reqs {
			inputs[i] = rapid.SliceOfN(rapid.Float64Range(-1000, 1000), 0, 60).Draw(t, "keys")
			reqs[i] = TaskRequest{
				Algorithm: rapid.SampledFrom(names).Draw(t, "algorithm"),
				Data:      protocol.Nums(inputs[i]...),
			}
		}

		ids, err := p.RunParallel(reqs)
		if err != nil {
			t.Fatalf("RunParallel: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap, err := p.Wait(ctx)
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}

		// Distinct workers, lowest ids first.
		for i, id := range ids {
			w, _ := snap.Worker(i)
			if w.TaskID != id {
				t.Fatalf("task %d ran on an unexpected worker", i)
			}
			switch w.Status {
			case events.StatusIdle:
				if len(w.Result) != len(inputs[i]) || !protocol.IsSorted(w.Result) || w.Progress != 100 {
					t.Fatalf("worker %d: bad completion", i)
				}
			case events.StatusError:
				if reqs[i].Algorithm != "shellSort" {
					t.Fatalf("worker %d failed: %s", i, w.Error)
				}
			default:
				t.Fatalf("worker %d unsettled: %s", i, w.Status)
			}
		}
		if snap.OverallProgress != progress.Overall(snap.WorkerStatuses) {
			t.Fatalf("aggregate mismatch")
		}
	})
}
