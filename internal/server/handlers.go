package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/zjrosen/sortpool/internal/events"
	"github.com/zjrosen/sortpool/internal/log"
	"github.com/zjrosen/sortpool/internal/pool"
	"github.com/zjrosen/sortpool/internal/progress"
	"github.com/zjrosen/sortpool/internal/protocol"
	"github.com/zjrosen/sortpool/internal/taskfile"
)

// AlgorithmView describes a registry entry.
type AlgorithmView struct {
	Name        string `json:"name"`
	Stable      bool   `json:"stable"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
}

// StatusView is the body of GET /api/status.
type StatusView struct {
	Snapshot events.Snapshot  `json:"snapshot"`
	Summary  progress.Summary `json:"summary"`
	Percent  int              `json:"percent"`
	// Capacity counts workers that can still take tasks. Terminated workers
	// stay retired until the server restarts.
	Capacity int `json:"capacity"`
}

// RunAccepted is the body of a 202 from POST /api/runs.
type RunAccepted struct {
	RunID   string   `json:"runId"`
	TaskIDs []string `json:"taskIds"`
}

func (s *Server) handleAlgorithms(w http.ResponseWriter, _ *http.Request) {
	list := s.registry.List()
	out := make([]AlgorithmView, len(list))
	for i, a := range list {
		out[i] = AlgorithmView{Name: a.Name, Stable: a.Stable, Summary: a.Summary}
	}
	sendJSON(w, http.StatusOK, out)
}

func (s *Server) handleAlgorithm(w http.ResponseWriter, r *http.Request) {
	a, err := s.registry.Lookup(mux.Vars(r)["name"])
	if err != nil {
		sendError(w, http.StatusNotFound, err)
		return
	}
	sendJSON(w, http.StatusOK, AlgorithmView{
		Name:        a.Name,
		Stable:      a.Stable,
		Summary:     a.Summary,
		Description: a.Description,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Snapshot()
	sendJSON(w, http.StatusOK, StatusView{
		Snapshot: snap,
		Summary:  progress.Summarize(snap.WorkerStatuses),
		Percent:  progress.Percent(snap.WorkerStatuses),
		Capacity: capacity(snap),
	})
}

func capacity(snap events.Snapshot) int {
	return len(snap.WorkerStatuses) - progress.Summarize(snap.WorkerStatuses).Terminated
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		sendError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	// Task bodies share the task-file schema, so generated data works here too.
	reqs, err := taskfile.Parse(body)
	if err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}

	ids, err := s.engine.RunParallel(reqs)
	if err != nil {
		sendError(w, statusFor(err), err)
		return
	}

	snap := s.engine.Snapshot()
	s.history.Record(r.Context(), snap)
	if s.timeout > 0 {
		pool.Guard(context.Background(), s.engine, ids, s.timeout)
	}

	log.Info(log.CatServer, "Run submitted", "runID", snap.RunID, "tasks", len(ids))
	sendJSON(w, http.StatusAccepted, RunAccepted{RunID: snap.RunID, TaskIDs: ids})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pool.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, pool.ErrNoIdleWorker), errors.Is(err, pool.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, pool.ErrWorkerNotFound):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrInvalidMessage), errors.Is(err, taskfile.ErrInvalidTaskFile):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.history.List(r.Context()))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// The live run is always fresher than the history copy.
	if snap := s.engine.Snapshot(); snap.RunID == id {
		sendJSON(w, http.StatusOK, snap)
		return
	}
	snap, ok := s.history.Get(r.Context(), id)
	if !ok {
		sendError(w, http.StatusNotFound, fmt.Errorf("run %q not found", id))
		return
	}
	sendJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.Terminate(id); err != nil {
		sendError(w, statusFor(err), err)
		return
	}
	snap := s.engine.Snapshot()
	log.Warn(log.CatServer, "Worker retired", "workerID", id, "capacity", capacity(snap))
	ws, _ := snap.Worker(id)
	sendJSON(w, http.StatusOK, ws)
}
