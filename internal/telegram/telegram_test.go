package telegram

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/HappyTetrahedron/printer-bot/internal/config"
	"github.com/HappyTetrahedron/printer-bot/internal/dialog"
	"github.com/HappyTetrahedron/printer-bot/internal/relay"
)

type fakeBot struct {
	startedWith context.Context

	sent      []*bot.SendMessageParams
	photos    []*bot.SendPhotoParams
	edits     []*bot.EditMessageTextParams
	captions  []*bot.EditMessageCaptionParams
	media     []*bot.EditMessageMediaParams
	answers   []*bot.AnswerCallbackQueryParams
	nextID    int
	editErr   error
	sendError error
}

func (f *fakeBot) Start(ctx context.Context) {
	f.startedWith = ctx
}

func (f *fakeBot) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.sent = append(f.sent, params)
	if f.sendError != nil {
		return nil, f.sendError
	}
	f.nextID++
	return &models.Message{ID: f.nextID}, nil
}

func (f *fakeBot) SendPhoto(_ context.Context, params *bot.SendPhotoParams) (*models.Message, error) {
	f.photos = append(f.photos, params)
	f.nextID++
	return &models.Message{ID: f.nextID}, nil
}

func (f *fakeBot) EditMessageText(_ context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	f.edits = append(f.edits, params)
	return &models.Message{ID: params.MessageID}, f.editErr
}

func (f *fakeBot) EditMessageCaption(_ context.Context, params *bot.EditMessageCaptionParams) (*models.Message, error) {
	f.captions = append(f.captions, params)
	return &models.Message{ID: params.MessageID}, nil
}

func (f *fakeBot) EditMessageMedia(_ context.Context, params *bot.EditMessageMediaParams) (*models.Message, error) {
	f.media = append(f.media, params)
	return &models.Message{ID: params.MessageID}, nil
}

func (f *fakeBot) AnswerCallbackQuery(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	f.answers = append(f.answers, params)
	return true, nil
}

type fakeDispatcher struct {
	events  []relay.Event
	replies []relay.Reply
	opened  []dialog.Dialog
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev relay.Event) []relay.Reply {
	f.events = append(f.events, ev)
	return f.replies
}

func (f *fakeDispatcher) DialogOpened(chatID int64, messageID int, kind dialog.Kind) {
	f.opened = append(f.opened, dialog.Dialog{ChatID: chatID, MessageID: messageID, Kind: kind})
}

func newTestClient(replies ...relay.Reply) (*Client, *fakeBot, *fakeDispatcher, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	b := &fakeBot{nextID: 100}
	d := &fakeDispatcher{replies: replies}
	return &Client{bot: b, dispatcher: d, logger: logrus.NewEntry(logger)}, b, d, hook
}

func privateMessage(text string) *models.Update {
	return &models.Update{
		Message: &models.Message{
			ID:   7,
			From: &models.User{ID: 10},
			Chat: models.Chat{ID: 20, Type: models.ChatTypePrivate},
			Text: text,
		},
	}
}

func TestNewClientCreatesBot(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	var gotToken string
	var gotOptions []bot.Option
	b := &fakeBot{}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		gotToken = token
		gotOptions = options
		return b, nil
	}

	cfg := config.Config{TelegramToken: "token-123"}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client, err := NewClient(cfg, logrus.NewEntry(logger), &fakeDispatcher{})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if client == nil || client.bot == nil {
		t.Fatalf("expected client and bot to be initialized")
	}

	if gotToken != cfg.TelegramToken {
		t.Fatalf("expected token %q, got %q", cfg.TelegramToken, gotToken)
	}

	if len(gotOptions) != 4 {
		t.Fatalf("expected 4 bot options (allowed updates, sequential handlers, default handler, error handler), got %d", len(gotOptions))
	}
}

func TestNewClientHandlesUpdatesSequentially(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	var built *bot.Bot
	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		b, err := bot.New(token, append(options, bot.WithSkipGetMe())...)
		built = b
		return b, err
	}

	d := &fakeDispatcher{}
	if _, err := NewClient(config.Config{TelegramToken: "123:abc"}, nil, d); err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	// With synchronous handlers the dispatch has finished when ProcessUpdate returns.
	built.ProcessUpdate(context.Background(), privateMessage("/status"))
	if len(d.events) != 1 || d.events[0].Command != "status" {
		t.Fatalf("expected update to be dispatched before ProcessUpdate returned, got %+v", d.events)
	}
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient(config.Config{}, nil, &fakeDispatcher{}); err == nil {
		t.Fatalf("expected error for missing token")
	}
	if _, err := NewClient(config.Config{TelegramToken: "token"}, nil, nil); err == nil {
		t.Fatalf("expected error for missing dispatcher")
	}
}

func TestNewClientPropagatesBotError(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	expected := errors.New("boom")
	createBot = func(string, ...bot.Option) (botAPI, error) {
		return nil, expected
	}

	_, err := NewClient(config.Config{TelegramToken: "token"}, nil, &fakeDispatcher{})
	if !errors.Is(err, expected) {
		t.Fatalf("expected error %v, got %v", expected, err)
	}
}

func TestClientStartLogsAndUsesContext(t *testing.T) {
	client, b, _, hook := newTestClient()

	ctx := context.Background()
	client.Start(ctx)

	if b.startedWith != ctx {
		t.Fatalf("expected bot to start with provided context")
	}

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries (start/stop), got %d", len(entries))
	}
	if entries[0].Data["event"] != "telegram_listen" {
		t.Fatalf("expected start log event, got %v", entries[0].Data["event"])
	}
	if entries[1].Data["event"] != "telegram_stopped" {
		t.Fatalf("expected stop log event, got %v", entries[1].Data["event"])
	}
}

func TestToEvent(t *testing.T) {
	tests := []struct {
		name   string
		update *models.Update
		ok     bool
		want   relay.Event
	}{
		{
			name:   "command with bot suffix and args",
			update: privateMessage("/Status@printer_bot now"),
			ok:     true,
			want:   relay.Event{Kind: relay.EventCommand, UserID: 10, ChatID: 20, Private: true, Command: "status", Text: "/Status@printer_bot now", MessageID: 7},
		},
		{
			name:   "free text",
			update: privateMessage(" hello "),
			ok:     true,
			want:   relay.Event{Kind: relay.EventText, UserID: 10, ChatID: 20, Private: true, Text: "hello", MessageID: 7},
		},
		{
			name: "group text",
			update: &models.Update{Message: &models.Message{
				ID:   8,
				From: &models.User{ID: 11},
				Chat: models.Chat{ID: -30, Type: models.ChatTypeSupergroup},
				Text: "hi all",
			}},
			ok:   true,
			want: relay.Event{Kind: relay.EventText, UserID: 11, ChatID: -30, Text: "hi all", MessageID: 8},
		},
		{
			name:   "message without text",
			update: privateMessage(""),
		},
		{
			name: "message without sender",
			update: &models.Update{Message: &models.Message{
				Chat: models.Chat{ID: 20},
				Text: "/status",
			}},
		},
		{
			name: "callback on photo",
			update: &models.Update{CallbackQuery: &models.CallbackQuery{
				ID:   "cb",
				From: models.User{ID: 12},
				Data: "us",
				Message: models.MaybeInaccessibleMessage{
					Type: models.MaybeInaccessibleMessageTypeMessage,
					Message: &models.Message{
						ID:    44,
						Chat:  models.Chat{ID: 22, Type: models.ChatTypePrivate},
						Photo: []models.PhotoSize{{FileID: "p"}},
					},
				},
			}},
			ok:   true,
			want: relay.Event{Kind: relay.EventCallback, UserID: 12, ChatID: 22, Private: true, CallbackID: "cb", CallbackData: "us", MessageID: 44, HasPhoto: true},
		},
		{
			name: "callback on inaccessible message",
			update: &models.Update{CallbackQuery: &models.CallbackQuery{
				ID:   "cb",
				From: models.User{ID: 12},
				Data: "ay",
				Message: models.MaybeInaccessibleMessage{
					Type:                models.MaybeInaccessibleMessageTypeInaccessibleMessage,
					InaccessibleMessage: &models.InaccessibleMessage{Chat: models.Chat{ID: 23}, MessageID: 45},
				},
			}},
			ok:   true,
			want: relay.Event{Kind: relay.EventCallback, UserID: 12, ChatID: 23, CallbackID: "cb", CallbackData: "ay", MessageID: 45},
		},
		{
			name:   "other update",
			update: &models.Update{MyChatMember: &models.ChatMemberUpdated{}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toEvent(tt.update)
			if ok != tt.ok {
				t.Fatalf("toEvent() ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("toEvent() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := map[string]string{
		"/abort":           "abort",
		"/HELP":            "help",
		"/start@bot":       "start",
		"/status extra":    "status",
		"/status@bot more": "status",
	}
	for text, want := range tests {
		got, ok := parseCommand(text)
		if !ok || got != want {
			t.Fatalf("parseCommand(%q) = %q, %v; want %q", text, got, ok, want)
		}
	}

	for _, text := range []string{"status", "/", "/@bot"} {
		if _, ok := parseCommand(text); ok {
			t.Fatalf("parseCommand(%q) should not match", text)
		}
	}
}

func TestHandleUpdateExecutesReplies(t *testing.T) {
	client, b, d, _ := newTestClient(
		relay.Reply{Kind: relay.SendText, ChatID: 20, Text: "<b>Printing</b>", Buttons: []relay.Button{{Text: "Update", Data: "us"}}},
		relay.Reply{Kind: relay.SendPhoto, ChatID: 20, Text: "caption", Photo: []byte("jpeg")},
	)

	client.handleUpdate(context.Background(), nil, privateMessage("/status"))

	if len(d.events) != 1 || d.events[0].Command != "status" {
		t.Fatalf("expected dispatched status command, got %+v", d.events)
	}
	if len(b.sent) != 1 || len(b.photos) != 1 {
		t.Fatalf("expected one message and one photo, got %d and %d", len(b.sent), len(b.photos))
	}

	msg := b.sent[0]
	if msg.ChatID != int64(20) || msg.ParseMode != models.ParseModeHTML || msg.Text != "<b>Printing</b>" {
		t.Fatalf("unexpected message params %+v", msg)
	}
	markup, ok := msg.ReplyMarkup.(*models.InlineKeyboardMarkup)
	if !ok || len(markup.InlineKeyboard) != 1 || markup.InlineKeyboard[0][0].CallbackData != "us" {
		t.Fatalf("expected inline Update button, got %#v", msg.ReplyMarkup)
	}

	photo := b.photos[0]
	upload, ok := photo.Photo.(*models.InputFileUpload)
	if !ok || upload.Filename != snapshotFilename {
		t.Fatalf("expected uploaded snapshot, got %#v", photo.Photo)
	}
	data, _ := io.ReadAll(upload.Data)
	if string(data) != "jpeg" || photo.Caption != "caption" || photo.ReplyMarkup != nil {
		t.Fatalf("unexpected photo params %+v", photo)
	}
}

func TestHandleUpdateReportsOpenedDialog(t *testing.T) {
	client, _, d, _ := newTestClient(relay.Reply{
		Kind:        relay.SendText,
		ChatID:      20,
		Text:        "Really abort?",
		OpensDialog: dialog.KindAbort,
	})

	client.handleUpdate(context.Background(), nil, privateMessage("/abort"))

	if len(d.opened) != 1 || d.opened[0].ChatID != 20 || d.opened[0].MessageID != 101 || d.opened[0].Kind != dialog.KindAbort {
		t.Fatalf("expected dialog bound to sent message, got %+v", d.opened)
	}
}

func TestFailedPromptOpensNoDialog(t *testing.T) {
	client, b, d, hook := newTestClient(relay.Reply{Kind: relay.SendText, ChatID: 20, Text: "x", OpensDialog: dialog.KindAbort})
	b.sendError = errors.New("forbidden")

	client.handleUpdate(context.Background(), nil, privateMessage("/abort"))

	if len(d.opened) != 0 {
		t.Fatalf("expected no dialog after failed send")
	}
	if entry := hook.LastEntry(); entry.Data["event"] != "telegram_reply_error" {
		t.Fatalf("expected reply error log, got %v", entry.Data)
	}
}

func TestCallbackRepliesUseEdits(t *testing.T) {
	client, b, _, _ := newTestClient(
		relay.Reply{Kind: relay.AnswerCallback, CallbackID: "cb", Text: "WRRR"},
		relay.Reply{Kind: relay.EditText, ChatID: 20, MessageID: 44, Text: "Abort cancelled."},
		relay.Reply{Kind: relay.EditCaption, ChatID: 20, MessageID: 45, Text: "cap"},
		relay.Reply{Kind: relay.EditCaption, ChatID: 20, MessageID: 46, Text: "cap", Photo: []byte("new")},
	)

	client.handleUpdate(context.Background(), nil, &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb",
		From: models.User{ID: 10},
		Data: "an",
		Message: models.MaybeInaccessibleMessage{
			Type:    models.MaybeInaccessibleMessageTypeMessage,
			Message: &models.Message{ID: 44, Chat: models.Chat{ID: 20}},
		},
	}})

	if len(b.answers) != 1 || b.answers[0].CallbackQueryID != "cb" || b.answers[0].Text != "WRRR" {
		t.Fatalf("expected callback answer, got %+v", b.answers)
	}
	if len(b.edits) != 1 || b.edits[0].MessageID != 44 || b.edits[0].ReplyMarkup != nil {
		t.Fatalf("expected keyboard-free text edit, got %+v", b.edits)
	}
	if len(b.captions) != 1 || b.captions[0].MessageID != 45 {
		t.Fatalf("expected caption edit, got %+v", b.captions)
	}
	if len(b.media) != 1 {
		t.Fatalf("expected media edit, got %+v", b.media)
	}
	media, ok := b.media[0].Media.(*models.InputMediaPhoto)
	if !ok || media.Media != "attach://"+snapshotFilename || media.Caption != "cap" || media.ParseMode != models.ParseModeHTML {
		t.Fatalf("unexpected media params %#v", b.media[0].Media)
	}
}

func TestNotModifiedIsDebug(t *testing.T) {
	client, b, _, hook := newTestClient(relay.Reply{Kind: relay.EditText, ChatID: 20, MessageID: 44, Text: "same"})
	b.editErr = errors.New("bad request, Bad Request: message is not modified: specified new message content is the same")

	client.handleUpdate(context.Background(), nil, privateMessage("hi"))

	entry := hook.LastEntry()
	if entry.Level != logrus.DebugLevel || entry.Data["event"] != "telegram_reply_unchanged" {
		t.Fatalf("expected debug unchanged log, got level=%s data=%v", entry.Level, entry.Data)
	}
}

func TestHandleUpdateLogsUpdate(t *testing.T) {
	client, _, _, hook := newTestClient()

	client.handleUpdate(context.Background(), nil, &models.Update{
		Message: &models.Message{
			From: &models.User{ID: 99},
			Chat: models.Chat{ID: 199},
			Text: "ping",
		},
	})

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("expected log entry from handler")
	}
	if entry.Data["event"] != "telegram_update" {
		t.Fatalf("expected event=telegram_update, got %v", entry.Data["event"])
	}
	if entry.Data["user_id"] != int64(99) || entry.Data["chat_id"] != int64(199) {
		t.Fatalf("expected user_id=99 and chat_id=199, got user_id=%v chat_id=%v", entry.Data["user_id"], entry.Data["chat_id"])
	}
	if entry.Data["text"] != "ping" || entry.Data["update_type"] != "message" {
		t.Fatalf("unexpected fields %v", entry.Data)
	}
}

func TestHandleUpdateIgnoresNil(t *testing.T) {
	client, _, d, hook := newTestClient()

	client.handleUpdate(context.Background(), nil, nil)

	if len(d.events) != 0 || len(hook.AllEntries()) != 0 {
		t.Fatalf("expected nil update to be ignored")
	}
}

func TestErrorHandlerLogs(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	handler := errorHandler(logrus.NewEntry(logger))

	handler(nil)
	handler(errors.New("conflict"))

	if len(hook.AllEntries()) != 1 || hook.LastEntry().Data["event"] != "telegram_error" {
		t.Fatalf("expected a single telegram_error entry, got %d", len(hook.AllEntries()))
	}
}

type panickingDispatcher struct{}

func (panickingDispatcher) Dispatch(context.Context, relay.Event) []relay.Reply {
	panic("dispatcher exploded")
}

func (panickingDispatcher) DialogOpened(int64, int, dialog.Kind) {}

func TestHandleUpdateRecoversFromDispatchPanic(t *testing.T) {
	client, _, _, hook := newTestClient()
	client.dispatcher = panickingDispatcher{}

	client.handleUpdate(context.Background(), nil, privateMessage("/status"))

	entry := hook.LastEntry()
	if entry.Level != logrus.ErrorLevel || entry.Data["event"] != "telegram_update_panic" {
		t.Fatalf("expected telegram_update_panic log, got level=%s data=%v", entry.Level, entry.Data)
	}
}

type panickingSendBot struct {
	*fakeBot
}

func (panickingSendBot) SendMessage(context.Context, *bot.SendMessageParams) (*models.Message, error) {
	panic("send exploded")
}

func TestReplyPanicDoesNotDropLaterReplies(t *testing.T) {
	client, b, _, hook := newTestClient(
		relay.Reply{Kind: relay.SendText, ChatID: 20, Text: "boom"},
		relay.Reply{Kind: relay.AnswerCallback, CallbackID: "cb", Text: "WRRR"},
	)
	client.bot = panickingSendBot{fakeBot: b}

	client.handleUpdate(context.Background(), nil, privateMessage("hi"))

	if len(b.answers) != 1 || b.answers[0].CallbackQueryID != "cb" {
		t.Fatalf("expected the acknowledgement to be delivered after a failed reply, got %+v", b.answers)
	}
	found := false
	for _, entry := range hook.AllEntries() {
		if entry.Data["event"] == "telegram_reply_panic" && entry.Data["reply_kind"] == "send_text" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected telegram_reply_panic log for the failed reply")
	}
}
