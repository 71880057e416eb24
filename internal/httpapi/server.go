// Package httpapi exposes the run graph over HTTP: starting and inspecting
// runs, streaming their events and listing the registered agents.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"agentrouter/internal/agent"
	"agentrouter/internal/domain"
	"agentrouter/internal/messaging/inproc"
	"agentrouter/internal/orchestrator"
)

type Runs interface {
	Run(ctx context.Context, task string, opts ...orchestrator.RunOption) (domain.GraphState, error)
	Start(ctx context.Context, task string, opts ...orchestrator.RunOption) (string, error)
	Get(ctx context.Context, taskID string) (domain.GraphState, error)
	List(ctx context.Context, limit int) ([]domain.RunSummary, error)
	Events(ctx context.Context, taskID string) (iter.Seq[domain.Event], error)
	Cancel(taskID string) bool
	Graph() orchestrator.Structure
}

type Agents interface {
	AllInfo() []agent.Info
}

type Config struct {
	CORSOrigins []string
	Heartbeat   time.Duration
}

type Server struct {
	runs    Runs
	agents  Agents
	bus     *inproc.Bus
	cfg     Config
	logger  *slog.Logger
	started time.Time
	router  chi.Router
}

// New builds the API. bus may be nil, in which case the live stream of all
// runs is not served.
func New(runs Runs, agents Agents, bus *inproc.Bus, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	s := &Server{
		runs:    runs,
		agents:  agents,
		bus:     bus,
		cfg:     cfg,
		logger:  logger,
		started: time.Now().UTC(),
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "X-Task-ID"},
			MaxAge:         300,
		}).Handler)
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/agents", s.handleAgents)
	r.Route("/api/graph", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Post("/stream", s.handleRunAndStream)
		r.Get("/presets", s.handlePresets)
		r.Get("/structure", s.handleStructure)
		if s.bus != nil {
			r.Get("/events", s.handleLiveEvents)
		}
		r.Get("/runs", s.handleListRuns)
		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Post("/cancel", s.handleCancel)
			r.Get("/events", s.handleRunEvents)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.agents.AllInfo())
}

func (s *Server) handleStructure(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runs.Graph())
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, orchestrator.Presets())
}

type runRequest struct {
	Task   string `json:"task"`
	Async  bool   `json:"async"`
	Preset string `json:"preset,omitempty"`
}

// decodeRunRequest reads and checks a run request. On failure it has already
// written the error response.
func decodeRunRequest(w http.ResponseWriter, r *http.Request) (runRequest, []orchestrator.RunOption, bool) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return req, nil, false
	}
	if strings.TrimSpace(req.Task) == "" {
		writeError(w, http.StatusBadRequest, domain.ErrEmptyTask)
		return req, nil, false
	}
	var opts []orchestrator.RunOption
	if name := strings.TrimSpace(req.Preset); name != "" {
		p, ok := orchestrator.LookupPreset(name)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown preset %q", name))
			return req, nil, false
		}
		opts = append(opts, orchestrator.WithPreset(p))
	}
	return req, opts, true
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, opts, ok := decodeRunRequest(w, r)
	if !ok {
		return
	}

	if req.Async {
		id, err := s.runs.Start(r.Context(), req.Task, opts...)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"task_id": id,
			"status":  domain.StatusPending,
		})
		return
	}

	// A failed run is still a result; only errors without a run are reported
	// as such.
	state, err := s.runs.Run(r.Context(), req.Task, opts...)
	if err != nil && state.TaskID == "" {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.List(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	state, err := s.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.runs.Cancel(id) {
		writeJSON(w, http.StatusAccepted, map[string]any{"task_id": id, "cancelled": true})
		return
	}
	if _, err := s.runs.Get(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeError(w, http.StatusConflict, fmt.Errorf("run %s is not running", id))
}

// handleRunEvents replays the events of one run from the start and follows
// it until its terminal event.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	seq, err := s.runs.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	setStreamHeaders(w)
	for ev := range seq {
		writeEvent(w, ev)
		flusher.Flush()
	}
}

// handleRunAndStream starts a run and streams its events until the terminal
// one, then sends a closing "done" event. A client that disconnects early
// stops the stream, not the run.
func (s *Server) handleRunAndStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	req, opts, ok := decodeRunRequest(w, r)
	if !ok {
		return
	}
	id, err := s.runs.Start(r.Context(), req.Task, opts...)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	seq, err := s.runs.Events(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("X-Task-ID", id)
	setStreamHeaders(w)
	var last domain.Event
	for ev := range seq {
		writeEvent(w, ev)
		flusher.Flush()
		last = ev
	}
	if !last.IsTerminal() {
		return
	}
	done, _ := json.Marshal(map[string]any{"task_id": id, "status": last.Status})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", done)
	flusher.Flush()
}

// handleLiveEvents streams events of every run, or of ?task=<id>, as they
// happen. Nothing is replayed.
func (s *Server) handleLiveEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	sub := s.bus.Subscribe(r.URL.Query().Get("task"))
	defer s.bus.Unsubscribe(sub)

	setStreamHeaders(w)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
		}
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeEvent(w http.ResponseWriter, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyTask):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
