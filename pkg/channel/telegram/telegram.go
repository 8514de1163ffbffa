// Package telegram is the secondary channel: long polling in, placeholder
// plus edit-in-place updates out.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"slackclaw/pkg/bus"
	"slackclaw/pkg/channel"
	"slackclaw/pkg/config"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const placeholderText = "On it…"

// botAPI is the slice of the telego client the adapter and sender use.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error)
}

// Adapter bridges Telegram updates into gateway inbound messages.
type Adapter struct {
	cfg       config.Telegram
	allowFrom map[string]struct{}
	log       *slog.Logger

	bot     *telego.Bot
	send    *sender
	healthy atomic.Bool
}

// NewAdapter validates Telegram configuration and constructs an adapter.
func NewAdapter(cfg config.Telegram, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "channel.telegram")

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log,
		bot:       bot,
		send:      &sender{api: bot, log: log},
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Sender returns the outbound delivery surface for this channel.
func (a *Adapter) Sender() channel.Sender {
	return a.send
}

// Healthy reports whether long polling is currently established.
func (a *Adapter) Healthy() bool {
	return a.healthy.Load()
}

// Run starts long polling and forwards text messages to the handler. The
// placeholder reply is sent first so progressive updates edit it in place.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	updates, err := a.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.healthy.Store(true)
	defer a.healthy.Store(false)
	a.log.Info("Telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return errors.New("telegram updates channel closed")
			}

			if msg, ok := a.parseUpdate(update); ok {
				a.attachPlaceholder(ctx, &msg)
				if err := handler(ctx, msg); err != nil {
					a.log.Error("Failed to process inbound message", "chat_id", msg.ChatID, "error", err)
				}
			}
		}
	}
}

// parseUpdate filters one long-polling update down to a dispatchable inbound
// message.
func (a *Adapter) parseUpdate(update telego.Update) (bus.InboundMessage, bool) {
	message := update.Message
	if message == nil {
		return bus.InboundMessage{}, false
	}

	content := strings.TrimSpace(message.Text)
	if content == "" {
		// Non-text updates are out of scope for the assistant bridge.
		return bus.InboundMessage{}, false
	}
	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return bus.InboundMessage{}, false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return bus.InboundMessage{}, false
	}

	chatID := strconv.FormatInt(message.Chat.ID, 10)
	inbound := bus.InboundMessage{
		Channel:    channelName,
		SenderID:   senderID,
		ChatID:     chatID,
		SessionKey: sessionKey(chatID),
		Content:    content,
		Metadata: map[string]string{
			"update_id": strconv.Itoa(update.UpdateID),
		},
	}
	a.log.Info("Received message", "chat_id", chatID, "sender_id", senderID, "session_key", inbound.SessionKey, "content", previewText(content))

	return inbound, true
}

func (a *Adapter) attachPlaceholder(ctx context.Context, msg *bus.InboundMessage) {
	receipt, err := a.send.Send(ctx, channel.Delivery{ChatID: msg.ChatID, Text: placeholderText})
	if err != nil {
		a.log.Warn("Placeholder send failed", "chat_id", msg.ChatID, "error", err)
		return
	}
	msg.Metadata[bus.MetaPlaceholderID] = receipt.MessageID
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// sessionKey maps one Telegram chat to one session namespace.
func sessionKey(chatID string) string {
	return "telegram:" + strings.TrimSpace(chatID)
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// sender delivers over the Bot API: sendMessage for new messages,
// editMessageText when a prior message ID is supplied.
type sender struct {
	api botAPI
	log *slog.Logger
}

func (s *sender) Send(ctx context.Context, d channel.Delivery) (channel.Receipt, error) {
	chatID, err := strconv.ParseInt(d.ChatID, 10, 64)
	if err != nil {
		return channel.Receipt{}, fmt.Errorf("parse chat id %q: %w", d.ChatID, err)
	}

	if d.UpdateID != "" {
		messageID, err := strconv.Atoi(d.UpdateID)
		if err != nil {
			return channel.Receipt{}, fmt.Errorf("parse message id %q: %w", d.UpdateID, err)
		}

		edited, err := s.api.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:    tu.ID(chatID),
			MessageID: messageID,
			Text:      d.Text,
		})
		if err != nil {
			return channel.Receipt{}, fmt.Errorf("edit telegram message: %w", err)
		}
		return channel.Receipt{MessageID: strconv.Itoa(edited.MessageID)}, nil
	}

	sent, err := s.api.SendMessage(ctx, tu.Message(tu.ID(chatID), d.Text))
	if err != nil {
		return channel.Receipt{}, fmt.Errorf("send telegram message: %w", err)
	}

	return channel.Receipt{MessageID: strconv.Itoa(sent.MessageID)}, nil
}

var _ channel.Adapter = (*Adapter)(nil)
var _ channel.Sender = (*sender)(nil)
