package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/storm-impact-alerts/internal/dispatch"
	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// AlertService is the alert ledger surface exposed to reps and operators.
type AlertService interface {
	Get(ctx context.Context, alertID string) (domain.ImpactAlert, error)
	PendingAlerts(ctx context.Context, repID string) ([]domain.ImpactAlert, error)
	ImpactStats(ctx context.Context, repID string, days int) (domain.ImpactStats, error)
	Transition(ctx context.Context, alertID string, change domain.StatusChange) (domain.ImpactAlert, error)
	Dismiss(ctx context.Context, alertID string) (domain.ImpactAlert, error)
}

// Resender triggers a manual resend of one alert channel.
type Resender interface {
	Resend(ctx context.Context, alertID string, ch domain.Channel) (dispatch.Result, error)
}

// Server exposes health, readiness, metrics and the alert API.
type Server struct {
	httpServer *http.Server
	alerts     AlertService
	resender   Resender
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// rep/alert routes.
func NewServer(addr string, ready ReadinessChecker, alerts AlertService, resender Resender, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		alerts:   alerts,
		resender: resender,
		logger:   logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /reps/{repID}/alerts/pending", s.handlePending)
	mux.HandleFunc("GET /reps/{repID}/impact-stats", s.handleStats)
	mux.HandleFunc("GET /alerts/{alertID}", s.handleGetAlert)
	mux.HandleFunc("POST /alerts/{alertID}/status", s.handleStatus)
	mux.HandleFunc("POST /alerts/{alertID}/dismiss", s.handleDismiss)
	mux.HandleFunc("POST /alerts/{alertID}/resend", s.handleResend)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.alerts.PendingAlerts(r.Context(), r.PathValue("repID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []domain.ImpactAlert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be an integer"})
			return
		}
		days = n
	}
	stats, err := s.alerts.ImpactStats(r.Context(), r.PathValue("repID"), days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.alerts.Get(r.Context(), r.PathValue("alertID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

type statusRequest struct {
	Status         string     `json:"status"`
	JobID          string     `json:"job_id"`
	ConversionDate *time.Time `json:"conversion_date"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	alert, err := s.alerts.Transition(r.Context(), r.PathValue("alertID"), domain.StatusChange{
		Status:         domain.AlertStatus(req.Status),
		JobID:          req.JobID,
		ConversionDate: req.ConversionDate,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	alert, err := s.alerts.Dismiss(r.Context(), r.PathValue("alertID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

type resendRequest struct {
	Channel string `json:"channel"`
}

type resendResponse struct {
	AlertID           string           `json:"alert_id"`
	Channel           domain.Channel   `json:"channel"`
	Outcome           dispatch.Outcome `json:"outcome"`
	ProviderMessageID string           `json:"provider_message_id,omitempty"`
	Reason            string           `json:"reason,omitempty"`
	Error             string           `json:"error,omitempty"`
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	ch, ok := domain.ParseChannel(req.Channel)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown channel " + strconv.Quote(req.Channel)})
		return
	}
	res, err := s.resender.Resend(r.Context(), r.PathValue("alertID"), ch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body := resendResponse{
		AlertID:           res.AlertID,
		Channel:           res.Channel,
		Outcome:           res.Outcome,
		ProviderMessageID: res.ProviderMessageID,
		Reason:            res.Reason,
	}
	if res.Err != nil {
		body.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStatus), errors.Is(err, domain.ErrMissingConversion):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
