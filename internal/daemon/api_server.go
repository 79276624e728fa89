package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"cropwatch/internal/config"
	"cropwatch/internal/cycle"
	"cropwatch/internal/logging"
	"cropwatch/internal/logs"
)

const (
	defaultLogLines = 100
	maxLogLines     = 1000
	maxLogWait      = 30 * time.Second
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

type clearRequest struct {
	Reason string `json:"reason"`
}

type clearResponse struct {
	Category string `json:"category"`
	Identity string `json:"identity"`
	Cleared  bool   `json:"cleared"`
}

type notifyResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, nil
	}
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(cfg.API.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: cfg.API.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		}).Handler)
	}

	// Health is the only route open when api.token is set.
	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(strings.TrimSpace(cfg.API.Token)))
		if s.daemon.deps.Metrics != nil {
			r.Handle("/metrics", s.daemon.deps.Metrics.Handler())
		}
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/scheduled", s.handleScheduled)
		r.Get("/api/state", s.handleState)
		r.Get("/api/transitions", s.handleTransitions)
		r.Get("/api/logs", s.handleLogs)
		r.Post("/api/cycle", s.handleCycle)
		r.Post("/api/transitions/{category}/{identity}/clear", s.handleClear)
		r.Post("/api/notifications/test", s.handleTestNotification)
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	healthy := s.daemon.running.Load()
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]bool{"healthy": healthy})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleScheduled(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"deliveries": s.daemon.Scheduled()})
}

func (s *apiServer) handleState(w http.ResponseWriter, r *http.Request) {
	entries, err := s.daemon.ListState(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type stateEntry struct {
		Key       string          `json:"key"`
		Value     json.RawMessage `json:"value"`
		UpdatedAt time.Time       `json:"updatedAt"`
	}
	out := make([]stateEntry, 0, len(entries))
	for _, entry := range entries {
		value := json.RawMessage(entry.Value)
		if !json.Valid(value) {
			quoted, _ := json.Marshal(string(entry.Value))
			value = quoted
		}
		out = append(out, stateEntry{Key: entry.Key, Value: value, UpdatedAt: entry.UpdatedAt})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (s *apiServer) handleTransitions(w http.ResponseWriter, r *http.Request) {
	states, err := s.daemon.Transitions(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transitions": states})
}

// handleLogs serves the daemon log file. Query parameters: offset (byte
// position from a previous response, default tail), lines, wait (seconds to
// long-poll for new output), and the correlation_id, category, and
// group_id field filters.
func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := logs.Query{Offset: -1, Limit: defaultLogLines, Fields: map[string]string{}}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		query.Offset = offset
	}
	if raw := q.Get("lines"); raw != "" {
		lines, err := strconv.Atoi(raw)
		if err != nil || lines < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid lines")
			return
		}
		query.Limit = min(lines, maxLogLines)
	}
	if raw := q.Get("wait"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid wait")
			return
		}
		query.Follow = true
		query.Wait = min(time.Duration(seconds)*time.Second, maxLogWait)
	}
	for _, key := range []string{logging.FieldCorrelationID, logging.FieldCategory, logging.FieldGroupID} {
		if value := q.Get(key); value != "" {
			query.Fields[key] = value
		}
	}

	page, err := s.daemon.Logs(r.Context(), query)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if page.Lines == nil {
		page.Lines = []string{}
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *apiServer) handleCycle(w http.ResponseWriter, r *http.Request) {
	report, err := s.daemon.RunCycle(r.Context())
	switch {
	case errors.Is(err, cycle.ErrBusy):
		s.writeError(w, http.StatusConflict, err.Error())
	case err != nil && report.CorrelationID == "":
		s.writeError(w, http.StatusInternalServerError, err.Error())
	case err != nil:
		s.writeJSON(w, http.StatusBadGateway, report)
	default:
		s.writeJSON(w, http.StatusOK, report)
	}
}

func (s *apiServer) handleClear(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	identity := chi.URLParam(r, "identity")
	var req clearRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "api"
	}
	cleared, err := s.daemon.ClearTransition(r.Context(), category, identity, req.Reason)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, clearResponse{Category: category, Identity: identity, Cleared: cleared})
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	sent, message, err := s.daemon.TestNotification(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("%s: %v", message, err))
		return
	}
	s.writeJSON(w, http.StatusOK, notifyResponse{Sent: sent, Message: message})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
