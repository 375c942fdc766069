// Package domain defines the audit records persisted for printer control actions.
package domain

import "time"

// Audit actions recorded for the control path.
const (
	ActionAbortRequested = "abort_requested"
	ActionAbortConfirmed = "abort_confirmed"
	ActionAbortCancelled = "abort_cancelled"
	ActionAbortExpired   = "abort_expired"
	ActionControlDenied  = "control_denied"
)

// AuditEvent is one control-path outcome attributed to a Telegram user.
type AuditEvent struct {
	ID        string    `bson:"_id" json:"id"`
	Action    string    `bson:"action" json:"action"`
	UserID    int64     `bson:"user_id" json:"user_id"`
	ChatID    int64     `bson:"chat_id" json:"chat_id"`
	Allowed   bool      `bson:"allowed" json:"allowed"`
	Detail    string    `bson:"detail,omitempty" json:"detail,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
