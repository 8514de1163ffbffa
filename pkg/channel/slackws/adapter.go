// Package slackws owns the persistent Slack Socket Mode connection: the
// apps.connections.open handshake, the websocket receive loop with envelope
// acks and reconnect backoff, and outbound delivery over the Web API.
package slackws

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/slack-go/slack"

	"slackclaw/pkg/bus"
	"slackclaw/pkg/channel"
	"slackclaw/pkg/config"
	"slackclaw/pkg/dedupe"
)

const placeholderText = "On it…"

// disconnectRedialDelay is used when the server asked for a reconnect; the
// normal backoff would only slow down an orderly handover.
const disconnectRedialDelay = 250 * time.Millisecond

// slackAPI is the slice of the slack-go client the adapter uses.
type slackAPI interface {
	StartSocketModeContext(ctx context.Context) (*slack.SocketModeConnection, string, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
}

// wsConn is the slice of a websocket connection the receive loop uses.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Adapter is the Slack Socket Mode channel.
type Adapter struct {
	cfg     config.Slack
	api     slackAPI
	send    channel.Sender
	log     *slog.Logger
	seen    *dedupe.Cache
	dial    func(ctx context.Context, url string) (wsConn, error)
	healthy atomic.Bool

	botUserID string
}

func New(cfg config.Slack, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	a := &Adapter{
		cfg:  cfg,
		api:  api,
		log:  log.With("component", "channel.slack"),
		seen: dedupe.New(time.Duration(cfg.DedupeWindowSeconds) * time.Second),
		dial: func(ctx context.Context, url string) (wsConn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
	}
	a.send = &sender{api: api}

	return a
}

func (a *Adapter) Name() string { return "slack" }

// Healthy reports whether the socket is currently connected.
func (a *Adapter) Healthy() bool { return a.healthy.Load() }

// Sender returns the outbound delivery surface for this channel.
func (a *Adapter) Sender() channel.Sender { return a.send }

// Run connects and receives until ctx is cancelled. Connection failures are
// retried with capped exponential backoff; a server-initiated disconnect
// redials almost immediately, reusing the offered reconnect URL when present.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	retry := newBackoff()
	reconnectURL := ""

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if a.botUserID == "" {
			if err := a.identify(ctx); err != nil {
				a.log.Warn("Slack auth test failed", "error", err)
				if !sleepCtx(ctx, retry.next()) {
					return ctx.Err()
				}
				continue
			}
		}

		url := reconnectURL
		reconnectURL = ""
		if url == "" {
			var err error
			url, err = a.openConnection(ctx)
			if err != nil {
				a.log.Warn("Socket Mode handshake failed", "error", err)
				if !sleepCtx(ctx, retry.next()) {
					return ctx.Err()
				}
				continue
			}
		}

		conn, err := a.dial(ctx, url)
		if err != nil {
			a.log.Warn("Websocket dial failed", "error", err)
			if !sleepCtx(ctx, retry.next()) {
				return ctx.Err()
			}
			continue
		}

		retry.reset()
		a.healthy.Store(true)
		a.log.Info("Slack socket connected")

		nextURL, loopErr := a.receiveLoop(ctx, conn, handler)
		a.healthy.Store(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if nextURL != "" || loopErr == nil {
			// Orderly server-side handover.
			reconnectURL = nextURL
			if !sleepCtx(ctx, disconnectRedialDelay) {
				return ctx.Err()
			}
			continue
		}

		a.log.Warn("Slack socket dropped", "error", loopErr)
		if !sleepCtx(ctx, retry.next()) {
			return ctx.Err()
		}
	}
}

func (a *Adapter) identify(ctx context.Context) error {
	resp, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("auth test: %w", err)
	}
	a.botUserID = resp.UserID
	a.log.Info("Slack identity resolved", "bot_user_id", a.botUserID)

	return nil
}

func (a *Adapter) openConnection(ctx context.Context) (string, error) {
	_, url, err := a.api.StartSocketModeContext(ctx)
	if err != nil {
		return "", fmt.Errorf("apps.connections.open: %w", err)
	}

	return url, nil
}

// receiveLoop reads envelopes until the socket closes, ctx is cancelled, or
// the server asks for a reconnect. The returned URL, when non-empty, is the
// server-offered redial target.
func (a *Adapter) receiveLoop(ctx context.Context, conn wsConn, handler channel.Handler) (string, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"), deadline)
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", err
		}

		env, err := decodeEnvelope(data)
		if err != nil {
			a.log.Warn("Undecodable frame dropped", "error", err)
			continue
		}

		// Ack before any processing; the platform redelivers late acks.
		if env.EnvelopeID != "" {
			if err := conn.WriteJSON(ackFrame{EnvelopeID: env.EnvelopeID}); err != nil {
				return "", fmt.Errorf("ack envelope: %w", err)
			}
		}

		switch env.Type {
		case envelopeHello:
			a.log.Debug("Socket Mode hello received")
		case envelopeDisconnect:
			a.log.Info("Server requested reconnect", "reason", env.Reason)
			return env.ReconnectURL, nil
		case envelopeEventsAPI:
			a.handleEvents(ctx, env, handler)
		case envelopeSlash:
			a.handleSlash(ctx, env, handler)
		case envelopeInteractive:
			// Acked above; no interactive flows are wired.
		default:
			a.log.Warn("Unknown envelope type dropped", "type", env.Type)
		}
	}
}

func (a *Adapter) handleEvents(ctx context.Context, env envelope, handler channel.Handler) {
	payload, err := decodeEventsPayload(env.Payload)
	if err != nil {
		a.log.Warn("Undecodable events payload dropped", "error", err)
		return
	}

	event := payload.Event
	if !a.acceptEvent(event) {
		return
	}

	key := payload.EventID
	if key == "" {
		key = strings.Join([]string{event.Type, event.Channel, event.TS, event.User}, ":")
	}
	if a.seen.CheckAndMark(key) {
		a.log.Debug("Duplicate event dropped", "key", key)
		return
	}

	text := stripMention(event.Text, a.botUserID)
	if strings.TrimSpace(text) == "" {
		return
	}

	msg := bus.InboundMessage{
		Channel:    a.Name(),
		SenderID:   event.User,
		ChatID:     event.Channel,
		ThreadID:   event.ThreadTS,
		Content:    text,
		SessionKey: a.sessionKey(event.Channel, event.ThreadTS, event.User),
		Metadata:   map[string]string{},
	}
	a.attachPlaceholder(ctx, &msg)
	a.dispatch(ctx, handler, msg)
}

// acceptEvent filters out traffic that must never reach the router: our own
// messages, other bots, non-primary subtypes, and disallowed senders.
func (a *Adapter) acceptEvent(event innerEvent) bool {
	if event.Type != "message" && event.Type != "app_mention" {
		return false
	}
	if event.BotID != "" || event.User == "" || event.User == a.botUserID {
		return false
	}
	if event.Subtype != "" && event.Subtype != "thread_broadcast" {
		return false
	}
	if len(a.cfg.AllowFrom) > 0 && !contains(a.cfg.AllowFrom, event.User) {
		a.log.Warn("Sender not in allow list", "user", event.User)
		return false
	}

	return true
}

func (a *Adapter) handleSlash(ctx context.Context, env envelope, handler channel.Handler) {
	payload, err := decodeSlashPayload(env.Payload)
	if err != nil {
		a.log.Warn("Undecodable slash payload dropped", "error", err)
		return
	}

	if len(a.cfg.AllowFrom) > 0 && !contains(a.cfg.AllowFrom, payload.UserID) {
		a.log.Warn("Sender not in allow list", "user", payload.UserID)
		return
	}

	if payload.TriggerID != "" && a.seen.CheckAndMark("slash:"+payload.TriggerID) {
		return
	}

	content := strings.TrimSpace(payload.Text)
	if content == "" {
		content = "/help"
	} else if !strings.HasPrefix(content, "/") {
		// "/claw reset" arrives as command="/claw" text="reset".
		content = "/" + content
	}

	msg := bus.InboundMessage{
		Channel:    a.Name(),
		SenderID:   payload.UserID,
		ChatID:     payload.ChannelID,
		Content:    content,
		SessionKey: a.sessionKey(payload.ChannelID, "", payload.UserID),
		Metadata:   map[string]string{},
	}
	a.dispatch(ctx, handler, msg)
}

// attachPlaceholder posts the immediate low-latency reply and records its
// timestamp so every later update edits that one message.
func (a *Adapter) attachPlaceholder(ctx context.Context, msg *bus.InboundMessage) {
	receipt, err := a.send.Send(ctx, channel.Delivery{
		ChatID:   msg.ChatID,
		ThreadID: msg.ThreadID,
		Text:     placeholderText,
	})
	if err != nil {
		a.log.Warn("Placeholder send failed", "chat_id", msg.ChatID, "error", err)
		return
	}
	msg.Metadata[bus.MetaPlaceholderID] = receipt.MessageID
}

func (a *Adapter) dispatch(ctx context.Context, handler channel.Handler, msg bus.InboundMessage) {
	if err := handler(ctx, msg); err != nil {
		a.log.Error("Handler rejected message", "chat_id", msg.ChatID, "error", err)
	}
}

// sessionKey derives conversation identity: thread when present, otherwise
// channel plus user.
func (a *Adapter) sessionKey(channelID, threadTS, user string) string {
	if channelID == "" {
		return ""
	}
	if threadTS != "" {
		return "slack:" + channelID + ":" + threadTS
	}

	return "slack:" + channelID + ":" + user
}

// stripMention removes the leading <@UXXXX> token a mention-style message
// starts with.
func stripMention(text, botUserID string) string {
	trimmed := strings.TrimSpace(text)
	if botUserID != "" {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "<@"+botUserID+">"))
		return trimmed
	}
	if strings.HasPrefix(trimmed, "<@") {
		if end := strings.Index(trimmed, ">"); end > 0 {
			return strings.TrimSpace(trimmed[end+1:])
		}
	}

	return trimmed
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}

	return false
}

// sleepCtx waits for d or cancellation, reporting false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var _ channel.Adapter = (*Adapter)(nil)
