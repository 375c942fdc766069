package relay

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/sirupsen/logrus"

	"github.com/HappyTetrahedron/printer-bot/internal/access"
	"github.com/HappyTetrahedron/printer-bot/internal/dialog"
	"github.com/HappyTetrahedron/printer-bot/internal/domain"
	"github.com/HappyTetrahedron/printer-bot/internal/logging"
	"github.com/HappyTetrahedron/printer-bot/internal/octoprint"
)

// Dispatch handles one event to completion and returns the replies to send.
// Faults are logged with the event context and never propagate. A faulting
// event yields no replies, except that callbacks keep their acknowledgement.
func (r *Relay) Dispatch(ctx context.Context, ev Event) (replies []Reply) {
	if ctx == nil {
		ctx = context.Background()
	}

	log := logging.WithContext(r.logger, logging.Context{
		EventID:   r.newID(),
		UserID:    ev.UserID,
		ChatID:    ev.ChatID,
		MessageID: ev.MessageID,
	}).WithField("event_kind", ev.Kind.String())

	var ack []Reply
	if ev.Kind == EventCallback {
		ack = []Reply{{
			Kind:       AnswerCallback,
			CallbackID: ev.CallbackID,
			Text:       r.formatter.Affirmation(),
		}}
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.WithFields(logging.Fields{
				"event": "dispatch_panic",
				"panic": fmt.Sprint(rec),
			}).Error("recovered from panic while handling chat event")
			replies = ack
		}
	}()

	var err error
	switch ev.Kind {
	case EventCommand:
		replies, err = r.handleCommand(ctx, log, ev)
	case EventText:
		replies = r.handleText(log, ev)
	case EventCallback:
		replies, err = r.handleCallback(ctx, log, ev, ack)
	default:
		log.WithField("event", "dispatch_ignored").Debug("ignoring unknown event kind")
	}

	if err != nil {
		log.WithFields(logging.Fields{
			"event":   "dispatch_fault",
			"command": ev.Command,
			"data":    ev.CallbackData,
		}).WithError(err).Error("failed to handle chat event")
	}

	return replies
}

func (r *Relay) handleCommand(ctx context.Context, log *logrus.Entry, ev Event) ([]Reply, error) {
	switch ev.Command {
	case CommandHelp:
		return []Reply{r.sendText(ev.ChatID, HelpText)}, nil
	case CommandStatus, CommandStart:
		return r.handleStatus(ctx, ev)
	case CommandAbort:
		return r.handleAbort(ctx, ev)
	default:
		return r.handleText(log, ev), nil
	}
}

func (r *Relay) handleStatus(ctx context.Context, ev Event) ([]Reply, error) {
	if !r.gate.Authorized(ev.UserID, access.Watch) {
		return []Reply{r.sendText(ev.ChatID, r.formatter.Affirmation())}, nil
	}

	jobStatus, err := r.printer.FetchJobStatus(ctx)
	if err != nil {
		return nil, err
	}
	text := r.formatter.Format(jobStatus)

	if photo, ok := r.printer.FetchSnapshot(ctx); ok {
		return []Reply{{
			Kind:    SendPhoto,
			ChatID:  ev.ChatID,
			Text:    text,
			Photo:   photo,
			Buttons: updateButtons(),
		}}, nil
	}

	return []Reply{{
		Kind:    SendText,
		ChatID:  ev.ChatID,
		Text:    text,
		Buttons: updateButtons(),
	}}, nil
}

func (r *Relay) handleAbort(ctx context.Context, ev Event) ([]Reply, error) {
	if !r.gate.Authorized(ev.UserID, access.Control) {
		r.audit(ctx, ev, domain.ActionControlDenied, false, "/"+CommandAbort)
		return []Reply{r.sendText(ev.ChatID, r.formatter.Affirmation())}, nil
	}

	jobStatus, err := r.printer.FetchJobStatus(ctx)
	if err != nil {
		return nil, err
	}
	if !jobStatus.Printing() {
		return []Reply{r.sendText(ev.ChatID, NoJobText)}, nil
	}

	r.audit(ctx, ev, domain.ActionAbortRequested, true, jobStatus.File)

	return []Reply{{
		Kind:   SendText,
		ChatID: ev.ChatID,
		Text:   abortPrompt(jobStatus),
		Buttons: []Button{
			{Text: ConfirmButtonText, Data: CallbackConfirmAbort},
			{Text: CancelButtonText, Data: CallbackCancelAbort},
		},
		OpensDialog: dialog.KindAbort,
	}}, nil
}

// handleText answers private free text with an affirmation. The watch check
// does not change the reply; it only shows up in the debug log.
func (r *Relay) handleText(log *logrus.Entry, ev Event) []Reply {
	if !ev.Private {
		return nil
	}

	if !r.gate.Authorized(ev.UserID, access.Watch) {
		log.WithField("event", "text_unauthorized").Debug("free text from user without watch permission")
	}

	return []Reply{r.sendText(ev.ChatID, r.formatter.Affirmation())}
}

func (r *Relay) handleCallback(ctx context.Context, log *logrus.Entry, ev Event, ack []Reply) ([]Reply, error) {
	replies := append([]Reply(nil), ack...)

	switch ev.CallbackData {
	case CallbackUpdate:
		return r.handleUpdate(ctx, ev, replies)
	case CallbackCancelAbort:
		return r.handleCancelAbort(ctx, ev, replies)
	case CallbackConfirmAbort:
		return r.handleConfirmAbort(ctx, ev, replies)
	default:
		log.WithFields(logging.Fields{
			"event": "callback_unknown",
			"data":  ev.CallbackData,
		}).Debug("ignoring unknown callback data")
		return replies, nil
	}
}

func (r *Relay) handleUpdate(ctx context.Context, ev Event, replies []Reply) ([]Reply, error) {
	if !r.gate.Authorized(ev.UserID, access.Watch) {
		return replies, nil
	}

	jobStatus, err := r.printer.FetchJobStatus(ctx)
	if err != nil {
		return replies, err
	}
	text := r.formatter.Format(jobStatus)

	if ev.HasPhoto {
		photo, _ := r.printer.FetchSnapshot(ctx)
		return append(replies, Reply{
			Kind:      EditCaption,
			ChatID:    ev.ChatID,
			MessageID: ev.MessageID,
			Text:      text,
			Photo:     photo,
			Buttons:   updateButtons(),
		}), nil
	}

	return append(replies, r.editText(ev, text, updateButtons())), nil
}

func (r *Relay) handleCancelAbort(ctx context.Context, ev Event, replies []Reply) ([]Reply, error) {
	if !r.gate.Authorized(ev.UserID, access.Control) {
		r.audit(ctx, ev, domain.ActionControlDenied, false, CallbackCancelAbort)
		return replies, nil
	}

	if _, err := r.dialogs.Take(ev.ChatID, ev.MessageID, dialog.KindAbort); err != nil {
		return r.staleDialog(ctx, ev, replies, err), nil
	}

	r.audit(ctx, ev, domain.ActionAbortCancelled, true, "")
	return append(replies, r.editText(ev, AbortCancelledText, nil)), nil
}

func (r *Relay) handleConfirmAbort(ctx context.Context, ev Event, replies []Reply) ([]Reply, error) {
	if !r.gate.Authorized(ev.UserID, access.Control) {
		r.audit(ctx, ev, domain.ActionControlDenied, false, CallbackConfirmAbort)
		return replies, nil
	}

	if _, err := r.dialogs.Take(ev.ChatID, ev.MessageID, dialog.KindAbort); err != nil {
		return r.staleDialog(ctx, ev, replies, err), nil
	}

	if err := r.printer.SendJobCommand(ctx, octoprint.CommandCancel); err != nil {
		return append(replies, r.editText(ev, AbortFailedText, nil)), err
	}
	r.audit(ctx, ev, domain.ActionAbortConfirmed, true, "")

	jobStatus, err := r.printer.FetchJobStatus(ctx)
	if err != nil {
		return append(replies, r.editText(ev, AbortingText, nil)), err
	}

	return append(replies, r.editText(ev, AbortingText+"\n\n"+r.formatter.Format(jobStatus), nil)), nil
}

// staleDialog makes an answered, superseded or expired prompt visibly inert.
func (r *Relay) staleDialog(ctx context.Context, ev Event, replies []Reply, err error) []Reply {
	detail := "not_found"
	if errors.Is(err, dialog.ErrExpired) {
		detail = "expired"
	}
	r.audit(ctx, ev, domain.ActionAbortExpired, true, detail)

	return append(replies, r.editText(ev, AbortExpiredText, nil))
}

func (r *Relay) audit(ctx context.Context, ev Event, action string, allowed bool, detail string) {
	if r.auditor == nil {
		return
	}

	// Errors are logged by the auditor and must not change the reply.
	_ = r.auditor.Record(ctx, domain.AuditEvent{
		Action:  action,
		UserID:  ev.UserID,
		ChatID:  ev.ChatID,
		Allowed: allowed,
		Detail:  detail,
	})
}

func (r *Relay) sendText(chatID int64, text string) Reply {
	return Reply{Kind: SendText, ChatID: chatID, Text: html.EscapeString(text)}
}

func (r *Relay) editText(ev Event, text string, buttons []Button) Reply {
	return Reply{
		Kind:      EditText,
		ChatID:    ev.ChatID,
		MessageID: ev.MessageID,
		Text:      text,
		Buttons:   buttons,
	}
}

func updateButtons() []Button {
	return []Button{{Text: UpdateButtonText, Data: CallbackUpdate}}
}

func abortPrompt(s octoprint.JobStatus) string {
	if s.File == "" {
		return "Really abort the current print?"
	}
	return fmt.Sprintf("Really abort printing <b>%s</b>?", html.EscapeString(s.File))
}
