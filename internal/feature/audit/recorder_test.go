package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/HappyTetrahedron/printer-bot/internal/domain"
)

type fakeRepository struct {
	created []domain.AuditEvent
	err     error
}

func (f *fakeRepository) Create(_ context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if f.err != nil {
		return domain.AuditEvent{}, f.err
	}
	event.ID = "stored-id"
	f.created = append(f.created, event)
	return event, nil
}

func TestRecordPersistsAndLogs(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	repo := &fakeRepository{}
	recorder := NewRecorder(repo, logrus.NewEntry(hookLogger))

	err := recorder.Record(context.Background(), domain.AuditEvent{
		Action:  domain.ActionAbortConfirmed,
		UserID:  42,
		ChatID:  99,
		Allowed: true,
		Detail:  "benchy.gcode",
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	if len(repo.created) != 1 || repo.created[0].Action != domain.ActionAbortConfirmed {
		t.Fatalf("expected one stored event, got %+v", repo.created)
	}

	first := hook.AllEntries()[0]
	if first.Data["event"] != "audit" || first.Data["audit_action"] != domain.ActionAbortConfirmed || first.Data["user_id"] != int64(42) {
		t.Fatalf("unexpected audit log entry %v", first.Data)
	}
	if first.Data["detail"] != "benchy.gcode" {
		t.Fatalf("expected detail field, got %v", first.Data["detail"])
	}
}

func TestRecordWithoutRepositoryOnlyLogs(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	recorder := NewRecorder(nil, logrus.NewEntry(hookLogger))

	if err := recorder.Record(context.Background(), domain.AuditEvent{Action: domain.ActionControlDenied, UserID: 5}); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	if len(hook.AllEntries()) != 1 {
		t.Fatalf("expected a single log entry, got %d", len(hook.AllEntries()))
	}
	if hook.LastEntry().Data["allowed"] != false {
		t.Fatalf("expected allowed=false, got %v", hook.LastEntry().Data["allowed"])
	}
}

func TestRecordLogsStoreErrors(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	repo := &fakeRepository{err: errors.New("mongo down")}
	recorder := NewRecorder(repo, logrus.NewEntry(hookLogger))

	err := recorder.Record(context.Background(), domain.AuditEvent{Action: domain.ActionAbortRequested, UserID: 1})
	if !errors.Is(err, repo.err) {
		t.Fatalf("expected store error, got %v", err)
	}

	last := hook.LastEntry()
	if last.Level != logrus.ErrorLevel || last.Data["event"] != "audit_store_error" {
		t.Fatalf("expected audit_store_error entry, got level=%s data=%v", last.Level, last.Data)
	}
}

func TestRecordNilRecorder(t *testing.T) {
	var recorder *Recorder
	if err := recorder.Record(context.Background(), domain.AuditEvent{}); err == nil {
		t.Fatalf("expected error for nil recorder")
	}
}
