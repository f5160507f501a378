// Package telegram bridges a Telegram bot to the gateway.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentconsole/internal/gateway"
	"github.com/user/agentconsole/internal/types"
)

const (
	maxTelegramMessage = 4096
	transport          = "telegram"
)

// Sender is the subset of the bot API used to talk back to chats.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Inbound accepts events for the gateway.
type Inbound interface {
	HandleInbound(ctx context.Context, event *types.InboundEvent, opts ...gateway.RunOption) (*gateway.Run, error)
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	api     Sender
	gateway Inbound
	allowed map[int64]bool
}

// New creates a Telegram adapter. An empty allowedUsers admits everyone.
func New(token string, gw Inbound, allowedUsers []int64) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, gw, allowedUsers)
	a.bot = bot
	slog.Info("telegram bot authorized", "username", bot.Self.UserName)
	return a, nil
}

func newAdapter(api Sender, gw Inbound, allowedUsers []int64) *Adapter {
	a := &Adapter{api: api, gateway: gw}
	if len(allowedUsers) > 0 {
		a.allowed = make(map[int64]bool, len(allowedUsers))
		for _, id := range allowedUsers {
			a.allowed[id] = true
		}
	}
	return a
}

// Start begins long-polling for Telegram updates and returns when ctx ends.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			a.handleUpdate(ctx, update)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// Deliver sends a reply to the chat encoded in key. It serves as the
// delivery handler for the "telegram" transport.
func (a *Adapter) Deliver(key types.ReplyKey, reply types.Reply) error {
	chatID, err := chatFromKey(key)
	if err != nil {
		return err
	}
	return a.sendReply(chatID, reply)
}

func (a *Adapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		a.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.Text != "":
		a.handleMessage(ctx, update.Message)
	}
}

func (a *Adapter) permitted(from *tgbotapi.User) bool {
	if from == nil {
		return false
	}
	if a.allowed == nil {
		return true
	}
	return a.allowed[from.ID]
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !a.permitted(msg.From) {
		slog.Info("ignoring message from unlisted telegram user", "from", fromID(msg.From))
		return
	}

	event := &types.InboundEvent{
		Source:   transport,
		UserID:   userID(msg.From.ID),
		ReplyKey: buildReplyKey(msg.Chat.ID),
		Text:     msg.Text,
	}
	if msg.IsCommand() {
		action, ok := commandAction(msg.Command())
		if !ok {
			a.send(msg.Chat.ID, "Unknown command. Available: /start, /menu, /new, /flags, /send, /exit, /delete")
			return
		}
		event.Text = ""
		event.Action = action
	}
	a.submit(ctx, msg.Chat.ID, event)
}

func (a *Adapter) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	// Clears the button's loading indicator.
	if _, err := a.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		slog.Debug("answer callback failed", "error", err)
	}
	if !a.permitted(cb.From) || cb.Message == nil {
		return
	}

	action, ok := types.ParseAction(cb.Data)
	if !ok {
		slog.Warn("unknown callback token", "data", cb.Data)
		return
	}
	chatID := cb.Message.Chat.ID
	a.submit(ctx, chatID, &types.InboundEvent{
		Source:   transport,
		UserID:   userID(cb.From.ID),
		ReplyKey: buildReplyKey(chatID),
		Action:   action,
	})
}

func (a *Adapter) submit(ctx context.Context, chatID int64, event *types.InboundEvent) {
	_, err := a.gateway.HandleInbound(ctx, event, gateway.WithOnReply(func(reply types.Reply) {
		if err := a.sendReply(chatID, reply); err != nil {
			slog.Error("send reply failed", "chat_id", chatID, "error", err)
		}
	}))
	if err != nil {
		slog.Error("handle inbound failed", "user_id", string(event.UserID), "error", err)
		a.send(chatID, "Sorry, I could not accept that right now. Try again shortly.")
	}
}

// commandAction maps slash commands to console actions.
func commandAction(cmd string) (types.Action, bool) {
	switch cmd {
	case "start", "menu":
		return types.Action{Kind: types.ActionMenu}, true
	case "new":
		return types.Action{Kind: types.ActionNew}, true
	case "flags":
		return types.Action{Kind: types.ActionFlags}, true
	case "send":
		return types.Action{Kind: types.ActionSend}, true
	case "exit":
		return types.Action{Kind: types.ActionExit}, true
	case "delete":
		return types.Action{Kind: types.ActionDelete}, true
	}
	return types.Action{}, false
}

// sendReply sends the reply text in as many messages as needed, with the
// keyboard on the last one.
func (a *Adapter) sendReply(chatID int64, reply types.Reply) error {
	parts := splitMessage(reply.Text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == len(parts)-1 && len(reply.Buttons) > 0 {
			msg.ReplyMarkup = keyboard(reply.Buttons)
		}
		if _, err := a.api.Send(msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (a *Adapter) send(chatID int64, text string) {
	if err := a.sendReply(chatID, types.Reply{Text: text}); err != nil {
		slog.Error("send message failed", "chat_id", chatID, "error", err)
	}
}

func keyboard(rows [][]types.Button) tgbotapi.InlineKeyboardMarkup {
	markup := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Action.Token()))
		}
		markup = append(markup, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(markup...)
}

// splitMessage cuts text into chunks Telegram accepts, preferring to break
// after a newline. Telegram measures message length in UTF-16 code units.
func splitMessage(text string) []string {
	if utf16Len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for text != "" {
		if utf16Len(text) <= maxTelegramMessage {
			parts = append(parts, text)
			break
		}
		end := utf16Offset(text, maxTelegramMessage)
		if nl := strings.LastIndexByte(text[:end], '\n'); nl > end/2 {
			end = nl + 1
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// utf16Offset returns the byte offset of the longest prefix of s that fits
// in max UTF-16 code units.
func utf16Offset(s string, max int) int {
	units := 0
	for i, r := range s {
		units += utf16.RuneLen(r)
		if units > max {
			return i
		}
	}
	return len(s)
}

func buildReplyKey(chatID int64) types.ReplyKey {
	return types.NewReplyKey(transport, strconv.FormatInt(chatID, 10))
}

func chatFromKey(key types.ReplyKey) (int64, error) {
	rest, ok := strings.CutPrefix(string(key), transport+":")
	if !ok {
		return 0, fmt.Errorf("not a telegram reply key: %s", key)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad telegram chat id in %s: %w", key, err)
	}
	return id, nil
}

func userID(id int64) types.UserID {
	return types.UserID(strconv.FormatInt(id, 10))
}

func fromID(u *tgbotapi.User) int64 {
	if u == nil {
		return 0
	}
	return u.ID
}
