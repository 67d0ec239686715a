package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sana/internal/config"
	"sana/internal/database"
	"sana/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HTTPServer exposes the operational read API: workflow state, payout state,
// booking state, health and metrics.
type HTTPServer struct {
	cfg    config.APIConfig
	db     *database.DB
	server *http.Server
	auth   *HTTPAuth
	logger zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, db *database.DB, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{cfg: cfg, db: db}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http_api").Logger()
	}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/workflows/", srv.auth.Wrap(http.HandlerFunc(srv.handleWorkflow)))
	mux.Handle("/api/v1/payouts/", srv.auth.Wrap(http.HandlerFunc(srv.handlePayout)))
	mux.Handle("/api/v1/bookings/", srv.auth.Wrap(http.HandlerFunc(srv.handleBooking)))
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWorkflow returns the task history of one workflow:
// GET /api/v1/workflows/{domain}/{entity_id}
func (s *HTTPServer) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("workflows")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/workflows/"), "/")
	if len(parts) != 2 {
		writeError(w, http.StatusBadRequest, "expected /api/v1/workflows/{domain}/{entity_id}")
		return
	}
	domainName := parts[0]
	entityID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity id")
		return
	}

	tasks, err := s.db.GetTasksByEntity(r.Context(), domainName, entityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load workflow state")
		return
	}
	if len(tasks) == 0 {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"domain":    domainName,
		"entity_id": entityID,
		"tasks":     tasks,
	})
}

// handlePayout returns one payout with its claimed transactions:
// GET /api/v1/payouts/{id}
func (s *HTTPServer) handlePayout(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("payouts")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, err := pathID(r.URL.Path, "/api/v1/payouts/")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payout, err := s.db.GetPayout(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "payout not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load payout")
		return
	}

	transactions, err := s.db.GetEarningsByPayout(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load transactions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"payout":       payout,
		"transactions": transactions,
	})
}

// handleBooking returns one booking with its reminder schedules:
// GET /api/v1/bookings/{id}
func (s *HTTPServer) handleBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("bookings")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, err := pathID(r.URL.Path, "/api/v1/bookings/")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	booking, err := s.db.GetBooking(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "booking not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load booking")
		return
	}

	reminders, err := s.db.GetRemindersByBooking(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load reminders")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"booking":   booking,
		"reminders": reminders,
	})
}

func pathID(path, prefix string) (int64, error) {
	raw := strings.TrimPrefix(path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		return 0, fmt.Errorf("id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("dur", time.Since(start)).
			Msg("http request")
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

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
