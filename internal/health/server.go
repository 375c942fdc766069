// Package health exposes a lightweight HTTP health endpoint for container probes.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/HappyTetrahedron/printer-bot/internal/logging"
)

const (
	pingTimeout        = 2 * time.Second
	readHeaderTimeout  = 2 * time.Second
	healthListenPrefix = ":"
)

// Pinger is a dependency the health endpoint probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server hosts the health endpoint and owns the underlying HTTP server.
type Server struct {
	server  *http.Server
	logger  *logrus.Entry
	printer Pinger
	audit   Pinger
}

type response struct {
	Status  string `json:"status"`
	Printer string `json:"printer,omitempty"`
	Audit   string `json:"audit,omitempty"`
}

// NewServer constructs a health server that exposes GET /healthz on the
// provided port. audit may be nil when no audit store is configured.
func NewServer(port int, printer, audit Pinger, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger:  logger,
		printer: printer,
		audit:   audit,
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", srv.handleHealth)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", healthListenPrefix, port),
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// ListenAndServe starts the health server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok"}

	if s.printer == nil {
		resp.Printer = "error"
		s.logger.WithField("event", "health_printer_missing").Warn("printer checker is not configured for health endpoint")
	} else if err := s.ping(r.Context(), s.printer); err != nil {
		resp.Printer = "error"
		s.logger.WithField("event", "health_printer_error").WithError(err).Warn("printer ping failed during health check")
	}

	if s.audit != nil {
		if err := s.ping(r.Context(), s.audit); err != nil {
			resp.Audit = "error"
			s.logger.WithField("event", "health_audit_error").WithError(err).Warn("audit store ping failed during health check")
		}
	}

	if resp.Printer != "" || resp.Audit != "" {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}

func (s *Server) ping(ctx context.Context, p Pinger) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return p.Ping(pingCtx)
}
