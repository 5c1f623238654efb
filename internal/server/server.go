// Package server exposes the pool over HTTP: a small JSON API to submit runs
// and inspect workers, plus a websocket stream of status snapshots.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/zjrosen/sortpool/internal/algorithm"
	"github.com/zjrosen/sortpool/internal/history"
	"github.com/zjrosen/sortpool/internal/log"
	"github.com/zjrosen/sortpool/internal/pool"
	"github.com/zjrosen/sortpool/internal/protocol"
	"github.com/zjrosen/sortpool/internal/pubsub"
)

const (
	maxBodyBytes    = 32 << 20
	shutdownTimeout = 5 * time.Second
)

// Engine is the pool surface the server drives.
type Engine interface {
	pool.Supervised
	RunParallel(tasks []pool.TaskRequest) ([]string, error)
	Terminate(workerID int) error
	SubscribeMessages(ctx context.Context) <-chan pubsub.Event[protocol.Message]
}

// Config wires a Server.
type Config struct {
	Engine   Engine
	Registry *algorithm.Registry
	History  *history.History
	// TaskTimeout installs a watchdog on every submitted task. 0 disables it.
	TaskTimeout time.Duration
}

// Server serves the HTTP API.
type Server struct {
	engine   Engine
	registry *algorithm.Registry
	history  *history.History
	timeout  time.Duration
	upgrader websocket.Upgrader
	router   *mux.Router
}

// New builds the router. Call Start to begin recording run history.
func New(cfg Config) *Server {
	if cfg.Registry == nil {
		cfg.Registry = algorithm.Default()
	}
	if cfg.History == nil {
		cfg.History = history.NewInMemory(0)
	}

	s := &Server{
		engine:   cfg.Engine,
		registry: cfg.Registry,
		history:  cfg.History,
		timeout:  cfg.TaskTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/algorithms", s.handleAlgorithms).Methods(http.MethodGet)
	api.HandleFunc("/algorithms/{name}", s.handleAlgorithm).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.handleSubmitRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/workers/{id:[0-9]+}/terminate", s.handleTerminate).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWebSocket)
	r.Use(logRequests)
	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start records every snapshot into the run history until ctx ends or the
// pool shuts down.
func (s *Server) Start(ctx context.Context) {
	go s.history.Follow(ctx, s.engine.Subscribe(ctx))
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.Start(ctx)

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info(log.CatServer, "Listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data}); err != nil {
		log.ErrorErr(log.CatServer, "Encoding response failed", err)
	}
}

func sendError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug(log.CatServer, "Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
