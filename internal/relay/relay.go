// Package relay maps chat events to printer calls and reply instructions. It
// knows nothing about the chat transport; the transport translates its updates
// into Events and executes the returned Replies.
package relay

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/HappyTetrahedron/printer-bot/internal/access"
	"github.com/HappyTetrahedron/printer-bot/internal/dialog"
	"github.com/HappyTetrahedron/printer-bot/internal/domain"
	"github.com/HappyTetrahedron/printer-bot/internal/logging"
	"github.com/HappyTetrahedron/printer-bot/internal/octoprint"
	"github.com/HappyTetrahedron/printer-bot/internal/status"
)

// Commands understood by the relay.
const (
	CommandStatus = "status"
	CommandStart  = "start"
	CommandAbort  = "abort"
	CommandHelp   = "help"
)

// Callback codes bound to inline buttons.
const (
	CallbackUpdate       = "us"
	CallbackConfirmAbort = "ay"
	CallbackCancelAbort  = "an"
)

// Fixed reply texts.
const (
	HelpText           = "WRRR-wrrr-WRRR-wrrr-wrp-wrp-wrp-WRRR-wrrr-WRRR"
	NoJobText          = "No job ongoing, nothing to abort."
	AbortCancelledText = "Abort cancelled. The print goes on."
	AbortingText       = "Aborting job."
	AbortFailedText    = "The printer did not accept the abort request."
	AbortExpiredText   = "This confirmation has expired. Send /abort again."

	UpdateButtonText  = "Update"
	ConfirmButtonText = "Yes, abort"
	CancelButtonText  = "No, keep printing"
)

// EventKind distinguishes inbound chat events.
type EventKind int

const (
	EventCommand EventKind = iota + 1
	EventText
	EventCallback
)

func (k EventKind) String() string {
	switch k {
	case EventCommand:
		return "command"
	case EventText:
		return "text"
	case EventCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// Event is one inbound chat event.
type Event struct {
	Kind    EventKind
	UserID  int64
	ChatID  int64
	Private bool

	// Command is the lowercased command name without slash or bot suffix.
	Command string
	Text    string

	// Callback fields: the pressed button's data and the message carrying it.
	CallbackID   string
	CallbackData string
	MessageID    int
	HasPhoto     bool
}

// ReplyKind enumerates the outbound instructions.
type ReplyKind int

const (
	SendText ReplyKind = iota + 1
	SendPhoto
	EditText
	EditCaption
	AnswerCallback
)

func (k ReplyKind) String() string {
	switch k {
	case SendText:
		return "send_text"
	case SendPhoto:
		return "send_photo"
	case EditText:
		return "edit_text"
	case EditCaption:
		return "edit_caption"
	case AnswerCallback:
		return "answer_callback"
	default:
		return "unknown"
	}
}

// Button is an inline button bound to a callback code.
type Button struct {
	Text string
	Data string
}

// Reply is one outbound instruction. Text is Telegram HTML except for
// AnswerCallback, which is plain.
type Reply struct {
	Kind       ReplyKind
	ChatID     int64
	MessageID  int
	CallbackID string
	Text       string
	// Photo is set for SendPhoto; for EditCaption it replaces the photo when non-nil.
	Photo   []byte
	Buttons []Button
	// OpensDialog asks the transport to report the sent message back through
	// Relay.DialogOpened.
	OpensDialog dialog.Kind
}

// Printer is the printer API used by the relay.
type Printer interface {
	FetchJobStatus(ctx context.Context) (octoprint.JobStatus, error)
	SendJobCommand(ctx context.Context, command string) error
	FetchSnapshot(ctx context.Context) ([]byte, bool)
}

// Authorizer is the permission gate.
type Authorizer interface {
	Authorized(userID int64, action access.Action) bool
}

// Auditor receives control-path outcomes.
type Auditor interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}

// Relay is the command dispatcher and dialog controller.
type Relay struct {
	printer   Printer
	gate      Authorizer
	formatter *status.Formatter
	dialogs   *dialog.Registry
	auditor   Auditor
	logger    *logrus.Entry
	newID     func() string
}

// Option customizes a Relay.
type Option func(*Relay)

// WithAuditor sends control-path outcomes to a.
func WithAuditor(a Auditor) Option {
	return func(r *Relay) {
		r.auditor = a
	}
}

// New wires a Relay.
func New(printer Printer, gate Authorizer, formatter *status.Formatter, dialogs *dialog.Registry, logger *logrus.Entry, opts ...Option) *Relay {
	if logger == nil {
		logger = logging.Logger()
	}
	if formatter == nil {
		formatter = status.NewFormatter()
	}

	r := &Relay{
		printer:   printer,
		gate:      gate,
		formatter: formatter,
		dialogs:   dialogs,
		logger:    logger,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialogOpened binds a sent prompt message to its dialog.
func (r *Relay) DialogOpened(chatID int64, messageID int, kind dialog.Kind) {
	d := r.dialogs.Open(chatID, messageID, kind)

	logging.WithContext(r.logger, logging.Context{
		ChatID:    chatID,
		MessageID: messageID,
		Event:     "dialog_opened",
	}).WithField("dialog_kind", string(d.Kind)).Info("confirmation dialog opened")
}
