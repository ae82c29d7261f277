package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arenabench/arena/pkg/errdefs"
	"github.com/arenabench/arena/pkg/gateway"
	"github.com/arenabench/arena/pkg/log"
	"github.com/arenabench/arena/pkg/metrics"
	"github.com/arenabench/arena/pkg/ports"
	"github.com/arenabench/arena/pkg/runtime"
	"github.com/arenabench/arena/pkg/store"
	"github.com/arenabench/arena/pkg/types"
)

// Session validation bounds.
const (
	MinPromptLen = 10
	MaxModels    = 6
)

// Lifecycle is the slice of the engine the HTTP surface drives.
type Lifecycle interface {
	StartSession(sessionID string) error
	StartRun(runID string) error
	Kill(runID string) error
}

// Server is the orchestrator's HTTP surface: the session/run API for the
// UI, the resolve endpoint for the reverse proxy, and health/stats/metrics.
type Server struct {
	store   *store.Store
	engine  Lifecycle
	gateway *gateway.Registry
	ports   *ports.Allocator
	runtime runtime.Runtime
	logger  zerolog.Logger

	mux  *http.ServeMux
	http *http.Server
}

// NewServer creates the API server and registers all routes.
func NewServer(st *store.Store, eng Lifecycle, gw *gateway.Registry, alloc *ports.Allocator, rt runtime.Runtime) *Server {
	s := &Server{
		store:   st,
		engine:  eng,
		gateway: gw,
		ports:   alloc,
		runtime: rt,
		logger:  log.WithComponent("api"),
		mux:     http.NewServeMux(),
	}

	s.handle("POST /api/sessions", "create_session", s.createSession)
	s.handle("GET /api/sessions/{id}", "get_session", s.getSession)
	s.handle("POST /api/sessions/{id}/start", "start_session", s.startSession)
	s.handle("DELETE /api/sessions/{id}", "delete_session", s.deleteSession)
	s.handle("GET /api/runs/{id}", "get_run", s.getRun)
	s.handle("PATCH /api/runs/{id}", "patch_run", s.patchRun)
	s.handle("DELETE /api/runs/{id}", "delete_run", s.deleteRun)
	s.handle("POST /api/runs/{id}/start", "start_run", s.startRun)
	s.handle("GET /api/runs/{id}/logs", "run_logs", s.runLogs)
	s.handle("GET /gateway/resolve/{id}", "resolve", s.resolve)
	s.handle("GET /health", "health", s.health)
	s.handle("GET /stats", "stats", s.stats)
	s.mux.Handle("GET /metrics", metrics.Handler())

	return s
}

// Start serves HTTP on addr and blocks until the listener closes.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")
	return s.http.ListenAndServe()
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler returns the routing mux, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// handle registers a route with request counting by route label and
// response status.
func (s *Server) handle(pattern, route string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type createSessionRequest struct {
	Prompt string           `json:"prompt"`
	Models []types.ModelRef `json:"models"`
}

type createSessionResponse struct {
	SessionID string   `json:"sessionId"`
	RunIDs    []string `json:"runIds"`
}

// createSession validates the submission, creates the session with one run
// per model, and starts every run immediately. The start endpoints exist
// for restarting terminal runs, not for deferred kickoff.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: malformed request body: %v", errdefs.ErrValidation, err))
		return
	}
	if err := validateSession(&req); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now()
	sess := &types.Session{
		ID:        uuid.New().String(),
		Prompt:    req.Prompt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	runs := make([]*types.Run, 0, len(req.Models))
	for _, m := range req.Models {
		run := &types.Run{
			ID:        uuid.New().String(),
			SessionID: sess.ID,
			Provider:  m.Provider,
			Model:     m.Model,
			Status:    types.RunStatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		}
		sess.RunIDs = append(sess.RunIDs, run.ID)
		runs = append(runs, run)
	}

	if err := s.store.CreateSession(sess, runs); err != nil {
		writeError(w, err)
		return
	}
	metrics.RunsByStatus.WithLabelValues(string(types.RunStatusQueued)).Add(float64(len(runs)))
	if err := s.engine.StartSession(sess.ID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to start session runs")
	}

	s.logger.Info().Str("session_id", sess.ID).Int("runs", len(runs)).Msg("session created")
	writeJSON(w, http.StatusOK, createSessionResponse{SessionID: sess.ID, RunIDs: sess.RunIDs})
}

func validateSession(req *createSessionRequest) error {
	if len(strings.TrimSpace(req.Prompt)) < MinPromptLen {
		return fmt.Errorf("%w: prompt must be at least %d characters", errdefs.ErrValidation, MinPromptLen)
	}
	if len(req.Models) == 0 || len(req.Models) > MaxModels {
		return fmt.Errorf("%w: between 1 and %d models required, got %d", errdefs.ErrValidation, MaxModels, len(req.Models))
	}
	for _, m := range req.Models {
		if !types.KnownProviders[m.Provider] {
			return fmt.Errorf("%w: unknown provider %q", errdefs.ErrValidation, m.Provider)
		}
		if m.Model == "" {
			return fmt.Errorf("%w: model name must not be empty", errdefs.ErrValidation)
		}
	}
	return nil
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.store.Session(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.StartSession(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

// deleteSession purges a session: every run is killed, then the session
// and its runs leave the store.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, err := s.store.Session(id)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, run := range view.Runs {
		if err := s.engine.Kill(run.ID); err != nil {
			writeError(w, fmt.Errorf("failed to kill run %s: %w", run.ID, err))
			return
		}
	}
	if view, err = s.store.Session(id); err == nil {
		for _, run := range view.Runs {
			metrics.RunsByStatus.WithLabelValues(string(run.Status)).Dec()
		}
	}
	if err := s.store.DeleteSession(id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Run(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// patchRun merges a partial run record; non-zero fields win. This is the
// advisory callback channel, so it never touches lifecycle resources.
func (s *Server) patchRun(w http.ResponseWriter, r *http.Request) {
	var patch types.Run
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, fmt.Errorf("%w: malformed request body: %v", errdefs.ErrValidation, err))
		return
	}
	run, err := s.store.PatchRun(r.PathValue("id"), &patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// deleteRun terminates a run. With ?purge=true the record is removed from
// the store after the kill; otherwise it survives as terminated for the
// polling UI.
func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.Kill(id); err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("purge") == "true" {
		if run, err := s.store.Run(id); err == nil {
			metrics.RunsByStatus.WithLabelValues(string(run.Status)).Dec()
		}
		if err := s.store.DeleteRun(id); err != nil {
			writeError(w, err)
			return
		}
	}
	writeOK(w)
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.StartRun(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

// runLogs returns the concatenated logs of a run. While the runtime
// container is live its stream is fetched fresh; otherwise the stored
// buffers are served.
func (s *Server) runLogs(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Run(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	start := run.LogsStart
	if run.Container != nil {
		if live, err := s.runtime.Logs(r.Context(), run.Container); err == nil {
			start = live
		}
	}

	var b strings.Builder
	for _, chunk := range []string{run.LogsInstall, run.LogsBuild, start, run.LogsError} {
		if chunk == "" {
			continue
		}
		b.WriteString(chunk)
		if !strings.HasSuffix(chunk, "\n") {
			b.WriteString("\n")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": b.String()})
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	url, ok := s.gateway.Resolve(r.PathValue("id"))
	if !ok {
		writeError(w, fmt.Errorf("%w: run %s is not ready", errdefs.ErrNotFound, r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now()})
}

type statsResponse struct {
	Sessions         int            `json:"sessions"`
	Runs             int            `json:"runs"`
	RunsByStatus     map[string]int `json:"runsByStatus"`
	ActiveContainers int            `json:"activeContainers"`
	RegisteredRuns   int            `json:"registeredRuns"`
	PortsAllocated   int            `json:"portsAllocated"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	sessions, runs := s.store.Counts()
	resp := statsResponse{
		Sessions:       sessions,
		Runs:           runs,
		RunsByStatus:   make(map[string]int),
		RegisteredRuns: s.gateway.Size(),
		PortsAllocated: s.ports.Used(),
	}
	for _, run := range s.store.ListRuns() {
		resp.RunsByStatus[string(run.Status)]++
		if run.Container != nil {
			resp.ActiveContainers++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps error kinds to HTTP statuses: validation → 400, not
// found → 404, anything else → 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errdefs.IsValidation(err):
		status = http.StatusBadRequest
	case errdefs.IsNotFound(err):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
