// Package audit records control-path outcomes to the log and, when configured,
// to the MongoDB audit trail.
package audit

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/HappyTetrahedron/printer-bot/internal/domain"
	"github.com/HappyTetrahedron/printer-bot/internal/logging"
)

type eventRepository interface {
	Create(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
}

// Recorder writes audit events. A Recorder without a repository only logs.
type Recorder struct {
	events eventRepository
	logger *logrus.Entry
}

// NewRecorder constructs a Recorder; events may be nil.
func NewRecorder(events eventRepository, logger *logrus.Entry) *Recorder {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Recorder{
		events: events,
		logger: logger,
	}
}

// Record logs the event and persists it when a repository is configured.
// Persistence failures are logged and returned for callers that care; the
// relay ignores them.
func (r *Recorder) Record(ctx context.Context, event domain.AuditEvent) error {
	if r == nil {
		return errors.New("audit recorder is not initialized")
	}

	fields := logging.Fields{
		"event":        "audit",
		"audit_action": event.Action,
		"user_id":      event.UserID,
		"chat_id":      event.ChatID,
		"allowed":      event.Allowed,
	}
	if event.Detail != "" {
		fields["detail"] = event.Detail
	}
	r.logger.WithFields(fields).Info("control action audited")

	if r.events == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	stored, err := r.events.Create(ctx, event)
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"event":        "audit_store_error",
			"audit_action": event.Action,
			"user_id":      event.UserID,
		}).WithError(err).Error("failed to persist audit event")
		return err
	}

	r.logger.WithFields(logging.Fields{
		"event":    "audit_stored",
		"audit_id": stored.ID,
	}).Debug("persisted audit event")

	return nil
}
