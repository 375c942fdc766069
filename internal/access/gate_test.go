package access

import (
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/HappyTetrahedron/printer-bot/internal/config"
)

func TestGateAuthorized(t *testing.T) {
	tests := []struct {
		name     string
		users    []int64
		watchers []int64
		userID   int64
		action   Action
		want     bool
	}{
		{name: "control without list", userID: 5, action: Control, want: true},
		{name: "control listed", users: []int64{1, 2}, userID: 2, action: Control, want: true},
		{name: "control not listed", users: []int64{1, 2}, userID: 3, action: Control, want: false},
		{name: "control empty list", users: []int64{}, userID: 1, action: Control, want: false},
		{name: "watch without lists", userID: 9, action: Watch, want: true},
		{name: "watch listed watcher not controller", users: []int64{1}, watchers: []int64{7}, userID: 7, action: Watch, want: true},
		{name: "watch falls back to control list", users: []int64{1}, watchers: []int64{7}, userID: 1, action: Watch, want: true},
		{name: "watch no list falls back to control", users: []int64{1}, userID: 8, action: Watch, want: false},
		{name: "watch unknown user", users: []int64{1}, watchers: []int64{7}, userID: 8, action: Watch, want: false},
		{name: "watch list without control list", watchers: []int64{7}, userID: 8, action: Watch, want: true},
		{name: "unknown action", userID: 1, action: Action(99), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := logtest.NewNullLogger()
			gate := NewGate(config.Config{ApprovedUsers: tt.users, ApprovedWatchers: tt.watchers}, logrus.NewEntry(logger))

			if got := gate.Authorized(tt.userID, tt.action); got != tt.want {
				t.Fatalf("Authorized(%d, %s) = %v, want %v", tt.userID, tt.action, got, tt.want)
			}
		})
	}
}

func TestGateLogsDeniedControl(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	gate := NewGate(config.Config{ApprovedUsers: []int64{1}}, logrus.NewEntry(logger))

	if gate.Authorized(1, Control) {
		if len(hook.AllEntries()) != 0 {
			t.Fatalf("expected no log for authorized user")
		}
	}

	gate.Authorized(66, Control)

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("expected warning for denied control")
	}
	if entry.Level != logrus.WarnLevel || entry.Data["event"] != "permission_denied" || entry.Data["user_id"] != int64(66) {
		t.Fatalf("unexpected log entry level=%s data=%v", entry.Level, entry.Data)
	}
}
