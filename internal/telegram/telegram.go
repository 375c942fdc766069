// Package telegram hosts the Telegram client and translates updates into relay
// events and relay replies into Bot API calls.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/HappyTetrahedron/printer-bot/internal/config"
	"github.com/HappyTetrahedron/printer-bot/internal/dialog"
	"github.com/HappyTetrahedron/printer-bot/internal/logging"
	"github.com/HappyTetrahedron/printer-bot/internal/relay"
)

const snapshotFilename = "snapshot.jpg"

// botAPI is the subset of *bot.Bot the client uses.
type botAPI interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	EditMessageCaption(ctx context.Context, params *bot.EditMessageCaptionParams) (*models.Message, error)
	EditMessageMedia(ctx context.Context, params *bot.EditMessageMediaParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// Dispatcher handles translated events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev relay.Event) []relay.Reply
	DialogOpened(chatID int64, messageID int, kind dialog.Kind)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"callback_query",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance and logging dependencies.
type Client struct {
	bot        botAPI
	dispatcher Dispatcher
	logger     *logrus.Entry
}

// NewClient initializes the Telegram bot with long polling and routes every
// update through dispatcher. Updates are handled one at a time, in order.
func NewClient(cfg config.Config, logger *logrus.Entry, dispatcher Dispatcher) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	c := &Client{
		dispatcher: dispatcher,
		logger:     logger,
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithNotAsyncHandlers(),
		bot.WithDefaultHandler(c.handleUpdate),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	c.bot = tgBot

	return c, nil
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

func (c *Client) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			c.logger.WithFields(logging.Fields{
				"event": "telegram_update_panic",
				"panic": fmt.Sprint(rec),
			}).Error("recovered from panic while handling telegram update")
		}
	}()

	meta := extractUpdateMeta(update)

	fields := logging.Fields{
		"event":       "telegram_update",
		"update_type": meta.updateType,
	}
	if meta.text != "" {
		fields["text"] = meta.text
	}
	if meta.userID != 0 {
		fields["user_id"] = meta.userID
	}
	if meta.chatID != 0 {
		fields["chat_id"] = meta.chatID
	}
	c.logger.WithFields(fields).Debug("telegram update received")

	ev, ok := toEvent(update)
	if !ok {
		return
	}

	for _, reply := range c.dispatcher.Dispatch(ctx, ev) {
		c.execute(ctx, reply)
	}
}

// execute delivers one reply. A panic is logged and confined to that reply.
func (c *Client) execute(ctx context.Context, reply relay.Reply) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.WithFields(logging.Fields{
				"event":      "telegram_reply_panic",
				"reply_kind": reply.Kind.String(),
				"panic":      fmt.Sprint(rec),
			}).Error("recovered from panic while delivering telegram reply")
		}
	}()

	var (
		sent *models.Message
		err  error
	)

	switch reply.Kind {
	case relay.SendText:
		sent, err = c.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      reply.ChatID,
			Text:        reply.Text,
			ParseMode:   models.ParseModeHTML,
			ReplyMarkup: keyboard(reply.Buttons),
		})
	case relay.SendPhoto:
		sent, err = c.bot.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:      reply.ChatID,
			Photo:       &models.InputFileUpload{Filename: snapshotFilename, Data: bytes.NewReader(reply.Photo)},
			Caption:     reply.Text,
			ParseMode:   models.ParseModeHTML,
			ReplyMarkup: keyboard(reply.Buttons),
		})
	case relay.EditText:
		_, err = c.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:      reply.ChatID,
			MessageID:   reply.MessageID,
			Text:        reply.Text,
			ParseMode:   models.ParseModeHTML,
			ReplyMarkup: keyboard(reply.Buttons),
		})
	case relay.EditCaption:
		if len(reply.Photo) > 0 {
			_, err = c.bot.EditMessageMedia(ctx, &bot.EditMessageMediaParams{
				ChatID:    reply.ChatID,
				MessageID: reply.MessageID,
				Media: &models.InputMediaPhoto{
					Media:           "attach://" + snapshotFilename,
					MediaAttachment: bytes.NewReader(reply.Photo),
					Caption:         reply.Text,
					ParseMode:       models.ParseModeHTML,
				},
				ReplyMarkup: keyboard(reply.Buttons),
			})
		} else {
			_, err = c.bot.EditMessageCaption(ctx, &bot.EditMessageCaptionParams{
				ChatID:      reply.ChatID,
				MessageID:   reply.MessageID,
				Caption:     reply.Text,
				ParseMode:   models.ParseModeHTML,
				ReplyMarkup: keyboard(reply.Buttons),
			})
		}
	case relay.AnswerCallback:
		_, err = c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
			CallbackQueryID: reply.CallbackID,
			Text:            reply.Text,
		})
	default:
		c.logger.WithField("event", "telegram_reply_unknown").Warn("ignoring unknown reply kind")
		return
	}

	log := logging.WithContext(c.logger, logging.Context{
		ChatID:    reply.ChatID,
		MessageID: reply.MessageID,
	}).WithField("reply_kind", reply.Kind.String())

	if err != nil {
		if isNotModified(err) {
			log.WithField("event", "telegram_reply_unchanged").Debug("message already shows this content")
			return
		}
		log.WithField("event", "telegram_reply_error").WithError(err).Error("failed to deliver telegram reply")
		return
	}

	if reply.OpensDialog != "" && sent != nil {
		c.dispatcher.DialogOpened(reply.ChatID, sent.ID, reply.OpensDialog)
	}
}

// keyboard returns nil for no buttons so edits drop any existing keyboard.
func keyboard(buttons []relay.Button) models.ReplyMarkup {
	if len(buttons) == 0 {
		return nil
	}

	row := make([]models.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, models.InlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{row}}
}

func isNotModified(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

// toEvent translates an update into a relay event. Updates without a sender,
// non-text messages and other update types are dropped.
func toEvent(update *models.Update) (relay.Event, bool) {
	switch {
	case update.Message != nil:
		msg := update.Message
		if msg.From == nil {
			return relay.Event{}, false
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return relay.Event{}, false
		}

		ev := relay.Event{
			Kind:      relay.EventText,
			UserID:    msg.From.ID,
			ChatID:    msg.Chat.ID,
			Private:   string(msg.Chat.Type) == "private",
			Text:      text,
			MessageID: msg.ID,
		}
		if name, ok := parseCommand(text); ok {
			ev.Kind = relay.EventCommand
			ev.Command = name
		}
		return ev, true

	case update.CallbackQuery != nil:
		query := update.CallbackQuery
		ev := relay.Event{
			Kind:         relay.EventCallback,
			UserID:       query.From.ID,
			ChatID:       messageChatID(query.Message),
			CallbackID:   query.ID,
			CallbackData: strings.TrimSpace(query.Data),
			MessageID:    messageID(query.Message),
		}
		if msg := query.Message.Message; msg != nil {
			ev.Private = string(msg.Chat.Type) == "private"
			ev.HasPhoto = len(msg.Photo) > 0
		}
		return ev, ev.UserID != 0

	default:
		return relay.Event{}, false
	}
}

// parseCommand extracts the lowercased command name from "/name@bot args".
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}

	name := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}

type updateMeta struct {
	userID     int64
	chatID     int64
	text       string
	updateType string
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     chatID(&update.Message.Chat),
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	case update.CallbackQuery != nil:
		return updateMeta{
			userID:     userID(&update.CallbackQuery.From),
			chatID:     messageChatID(update.CallbackQuery.Message),
			text:       strings.TrimSpace(update.CallbackQuery.Data),
			updateType: "callback_query",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func chatID(chat *models.Chat) int64 {
	if chat == nil {
		return 0
	}

	return chat.ID
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return chatID(&msg.Message.Chat)
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return chatID(&msg.InaccessibleMessage.Chat)
	default:
		return 0
	}
}

func messageID(msg models.MaybeInaccessibleMessage) int {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return msg.Message.ID
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return msg.InaccessibleMessage.MessageID
	default:
		return 0
	}
}
