package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/sortpool/internal/algorithm"
	"github.com/zjrosen/sortpool/internal/events"
	"github.com/zjrosen/sortpool/internal/history"
	"github.com/zjrosen/sortpool/internal/pool"
	"github.com/zjrosen/sortpool/internal/protocol"
	"github.com/zjrosen/sortpool/internal/taskfile"
)

// stallRegistry adds "stall", which blocks until its task is cancelled.
func stallRegistry() *algorithm.Registry {
	reg := algorithm.Default()
	reg.MustRegister(algorithm.Algorithm{
		Name: "stall",
		Work: func(int) int64 { return 1 },
		Sort: func(_ []protocol.Element, _ protocol.Options, t *algorithm.Tracker) error {
			for t.Err() == nil {
				time.Sleep(time.Millisecond)
			}
			return t.Err()
		},
	})
	return reg
}

type fixture struct {
	pool *pool.Pool
	srv  *httptest.Server
}

func newFixture(t *testing.T, size int, timeout time.Duration) *fixture {
	t.Helper()
	reg := stallRegistry()
	p := pool.New(pool.Config{Size: size, Registry: reg})
	s := New(Config{Engine: p, Registry: reg, History: history.NewInMemory(time.Minute), TaskTimeout: timeout})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	srv := httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		srv.Close()
		cancel()
		p.Shutdown()
	})
	return &fixture{pool: p, srv: srv}
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
}

func do[T any](t *testing.T, method, url, body string) (int, envelope[T]) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (f *fixture) settle(t *testing.T) events.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := f.pool.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func TestAlgorithms(t *testing.T) {
	f := newFixture(t, 1, 0)

	code, env := do[[]AlgorithmView](t, http.MethodGet, f.srv.URL+"/api/algorithms", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)
	var names []string
	for _, a := range env.Data {
		names = append(names, a.Name)
	}
	require.Contains(t, names, "bubbleSort")
	require.NotContains(t, names, "shellSort")

	code, one := do[AlgorithmView](t, http.MethodGet, f.srv.URL+"/api/algorithms/mergeSort", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, one.Data.Stable)
	require.NotEmpty(t, one.Data.Description)

	code, missing := do[AlgorithmView](t, http.MethodGet, f.srv.URL+"/api/algorithms/shellSort", "")
	require.Equal(t, http.StatusNotFound, code)
	require.Contains(t, missing.Error, "unknown algorithm")
}

func TestSubmitRun_CompletesAndIsRetrievable(t *testing.T) {
	f := newFixture(t, 2, 0)

	code, env := do[RunAccepted](t, http.MethodPost, f.srv.URL+"/api/runs",
		`{"tasks": [{"algorithm": "bubbleSort", "worker": 0, "data": [5, 3, 4, 1, 2]}, {"algorithm": "heapSort", "data": [9, 1]}]}`)
	require.Equal(t, http.StatusAccepted, code, env.Error)
	require.NotEmpty(t, env.Data.RunID)
	require.Len(t, env.Data.TaskIDs, 2)

	f.settle(t)

	code, run := do[events.Snapshot](t, http.MethodGet, f.srv.URL+"/api/runs/"+env.Data.RunID, "")
	require.Equal(t, http.StatusOK, code)
	require.False(t, run.Data.IsRunning)
	require.Equal(t, 100.0, run.Data.OverallProgress)
	w0, _ := run.Data.Worker(0)
	require.Equal(t, []float64{1, 2, 3, 4, 5}, protocol.Keys(w0.Result))

	code, status := do[StatusView](t, http.MethodGet, f.srv.URL+"/api/status", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 100, status.Data.Percent)
	require.Equal(t, 2, status.Data.Summary.Idle)
}

func TestGetRun_FromHistoryAfterNewRun(t *testing.T) {
	f := newFixture(t, 1, 0)

	_, first := do[RunAccepted](t, http.MethodPost, f.srv.URL+"/api/runs", `[{"algorithm": "insertionSort", "data": [2, 1]}]`)
	f.settle(t)
	_, second := do[RunAccepted](t, http.MethodPost, f.srv.URL+"/api/runs", `[{"algorithm": "insertionSort", "data": [4, 3]}]`)
	require.NotEqual(t, first.Data.RunID, second.Data.RunID)
	f.settle(t)

	require.Eventually(t, func() bool {
		code, run := do[events.Snapshot](t, http.MethodGet, f.srv.URL+"/api/runs/"+first.Data.RunID, "")
		return code == http.StatusOK && !run.Data.IsRunning
	}, 2*time.Second, 10*time.Millisecond)

	code, _ := do[events.Snapshot](t, http.MethodGet, f.srv.URL+"/api/runs/nope", "")
	require.Equal(t, http.StatusNotFound, code)

	code, runs := do[[]events.Snapshot](t, http.MethodGet, f.srv.URL+"/api/runs", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, runs.Data, 2)
}

func TestSubmitRun_Errors(t *testing.T) {
	f := newFixture(t, 1, 0)

	code, env := do[RunAccepted](t, http.MethodPost, f.srv.URL+"/api/runs", `{"tasks": [{"data": [1]}]}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.False(t, env.Success)

	code, _ = do[RunAccepted](t, http.MethodPost, f.srv.URL+"/api/runs", `not: [valid`)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = do[RunAccepted](t, http.MethodPost, f.srv.URL+"/api/runs",
		`[{"algorithm": "stall", "data": [1]}, {"algorithm": "stall", "data": [2]}]`)
	require.Equal(t, http.StatusConflict, code, "more tasks than workers")

	code, _ = do[RunAccepted](t, http.MethodPost, f.srv.URL+"/api/runs", `[{"algorithm": "stall", "worker": 4, "data": [1]}]`)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = do[RunAccepted](t, http.MethodPost, f.srv.URL+"/api/runs", `[{"algorithm": "stall", "data": [1]}]`)
	require.Equal(t, http.StatusAccepted, code)
	code, _ = do[RunAccepted](t, http.MethodPost, f.srv.URL+"/api/runs", `[{"algorithm": "stall", "worker": 0, "data": [1]}]`)
	require.Equal(t, http.StatusConflict, code, "worker busy")

	f.pool.Shutdown()
	code, _ = do[RunAccepted](t, http.MethodPost, f.srv.URL+"/api/runs", `[{"algorithm": "bubbleSort", "data": [1]}]`)
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestTerminateWorker(t *testing.T) {
	f := newFixture(t, 2, 0)

	code, _ := do[RunAccepted](t, http.MethodPost, f.srv.URL+"/api/runs", `[{"algorithm": "stall", "worker": 1, "data": [1]}]`)
	require.Equal(t, http.StatusAccepted, code)

	code, ws := do[events.WorkerStatus](t, http.MethodPost, f.srv.URL+"/api/workers/1/terminate", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, events.StatusTerminated, ws.Data.Status)

	code, _ = do[events.WorkerStatus](t, http.MethodPost, f.srv.URL+"/api/workers/9/terminate", "")
	require.Equal(t, http.StatusNotFound, code)

	code, status := do[StatusView](t, http.MethodGet, f.srv.URL+"/api/status", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, status.Data.Capacity)
	require.Equal(t, 1, status.Data.Summary.Terminated)
}

func TestSubmitRun_TimeoutRetiresWorkers(t *testing.T) {
	f := newFixture(t, 2, 20*time.Millisecond)

	for want := 1; want >= 0; want-- {
		code, env := do[RunAccepted](t, http.MethodPost, f.srv.URL+"/api/runs", `[{"algorithm": "stall", "data": [1]}]`)
		require.Equal(t, http.StatusAccepted, code, env.Error)
		f.settle(t)

		_, status := do[StatusView](t, http.MethodGet, f.srv.URL+"/api/status", "")
		require.Equal(t, want, status.Data.Capacity)
	}

	code, env := do[RunAccepted](t, http.MethodPost, f.srv.URL+"/api/runs", `[{"algorithm": "bubbleSort", "data": [2, 1]}]`)
	require.Equal(t, http.StatusConflict, code)
	require.Contains(t, env.Error, "no idle worker")
}

func TestSubmitRun_TaskTimeout(t *testing.T) {
	f := newFixture(t, 1, 30*time.Millisecond)

	code, _ := do[RunAccepted](t, http.MethodPost, f.srv.URL+"/api/runs", `[{"algorithm": "stall", "data": [1]}]`)
	require.Equal(t, http.StatusAccepted, code)

	require.Eventually(t, func() bool {
		w, _ := f.pool.Snapshot().Worker(0)
		return w.Status == events.StatusTerminated
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocket_StreamsSnapshots(t *testing.T) {
	f := newFixture(t, 1, 0)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var initial Frame
	require.NoError(t, conn.ReadJSON(&initial))
	require.Equal(t, "snapshot", initial.Type)
	require.False(t, initial.Data.IsRunning)

	_, err = f.pool.Dispatch(0, "bubbleSort", protocol.Nums(3, 1, 2), nil)
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var frame Frame
		require.NoError(t, conn.ReadJSON(&frame))
		if !frame.Data.IsRunning && frame.Data.RunID != "" {
			w, _ := frame.Data.Worker(0)
			require.Equal(t, []float64{1, 2, 3}, protocol.Keys(w.Result))
			return
		}
	}
}

func TestWebSocket_StreamsProtocolMessages(t *testing.T) {
	f := newFixture(t, 1, 0)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?messages=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var initial Frame
	require.NoError(t, conn.ReadJSON(&initial))
	require.Equal(t, "snapshot", initial.Type)

	taskID, err := f.pool.Dispatch(0, "shellSort", protocol.Nums(2, 1), nil)
	require.NoError(t, err)

	var kinds []protocol.Type
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var frame struct {
			Type    string          `json:"type"`
			Message json.RawMessage `json:"message"`
		}
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type != "message" {
			continue
		}
		msg, err := protocol.Decode(frame.Message)
		require.NoError(t, err)
		require.Equal(t, taskID, msg.Task())
		kinds = append(kinds, msg.Kind())
		if failure, ok := msg.(protocol.Failure); ok {
			require.Contains(t, failure.Message, "unknown algorithm")
			break
		}
	}
	require.Equal(t, []protocol.Type{protocol.TypeExecute, protocol.TypeError}, kinds)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{pool.ErrPoolClosed, http.StatusServiceUnavailable},
		{fmt.Errorf("wrap: %w", pool.ErrNoIdleWorker), http.StatusConflict},
		{pool.ErrInvalidState, http.StatusConflict},
		{pool.ErrWorkerNotFound, http.StatusNotFound},
		{protocol.ErrInvalidMessage, http.StatusBadRequest},
		{taskfile.ErrInvalidTaskFile, http.StatusBadRequest},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestServe_StopsOnContext(t *testing.T) {
	p := pool.New(pool.Config{Size: 1})
	defer p.Shutdown()
	s := New(Config{Engine: p})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.Fail(t, "server did not stop")
	}
}
