package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

func serveHealth(t *testing.T, server *Server) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", rr.Code)
	}
	return rr
}

func TestHealthHandlerOK(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0, stubPinger{}, stubPinger{}, logrus.NewEntry(logger))

	rr := serveHealth(t, server)

	body := strings.TrimSpace(rr.Body.String())
	if body != `{"status":"ok"}` {
		t.Fatalf("unexpected body: %s", body)
	}

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content-type application/json, got %s", ct)
	}
}

func TestHealthHandlerWithoutAuditStore(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0, stubPinger{}, nil, logrus.NewEntry(logger))

	body := strings.TrimSpace(serveHealth(t, server).Body.String())
	if body != `{"status":"ok"}` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestHealthHandlerDegraded(t *testing.T) {
	tests := []struct {
		name    string
		printer Pinger
		audit   Pinger
		want    string
		event   string
	}{
		{
			name:    "printer down",
			printer: stubPinger{err: errors.New("connection refused")},
			want:    `{"status":"degraded","printer":"error"}`,
			event:   "health_printer_error",
		},
		{
			name:    "audit down",
			printer: stubPinger{},
			audit:   stubPinger{err: errors.New("mongo down")},
			want:    `{"status":"degraded","audit":"error"}`,
			event:   "health_audit_error",
		},
		{
			name:    "both down",
			printer: stubPinger{err: errors.New("timeout")},
			audit:   stubPinger{err: errors.New("mongo down")},
			want:    `{"status":"degraded","printer":"error","audit":"error"}`,
			event:   "health_audit_error",
		},
		{
			name:  "printer checker missing",
			want:  `{"status":"degraded","printer":"error"}`,
			event: "health_printer_missing",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := logtest.NewNullLogger()
			server := NewServer(0, tt.printer, tt.audit, logrus.NewEntry(logger))

			body := strings.TrimSpace(serveHealth(t, server).Body.String())
			if body != tt.want {
				t.Fatalf("unexpected body: %s", body)
			}

			entry := hook.LastEntry()
			if entry == nil || entry.Data["event"] != tt.event {
				t.Fatalf("expected %s log entry, got %+v", tt.event, entry)
			}
		})
	}
}

func TestHealthRejectsOtherMethods(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0, stubPinger{}, nil, logrus.NewEntry(logger))

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rr := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected HTTP 405, got %d", rr.Code)
	}
}

func TestShutdownNilServer(t *testing.T) {
	var server *Server
	if err := server.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
