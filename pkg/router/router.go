// Package router decides what to do with each inbound message: command
// dispatch or an orchestrator turn with the placeholder-then-edit reply
// pattern. All failure categories collapse to a single user-facing message
// here; errors never reach the transport raw.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"slackclaw/pkg/bus"
	"slackclaw/pkg/channel"
	"slackclaw/pkg/claude"
	"slackclaw/pkg/mcp"
)

const helpText = `Talk to me in plain language and I will run the request through the assistant.

Commands:
/help   show this message
/reset  forget this conversation's history
/tools  list the external tools available to the assistant`

// TurnRunner is the orchestrator surface the router needs.
type TurnRunner interface {
	RunTurn(ctx context.Context, key string, prompt string, onDelta claude.DeltaFunc) (string, error)
	Tools() (mcp.Resolved, error)
	ResetSession(key string)
}

// Router handles parsed inbound messages for every channel adapter.
type Router struct {
	runner TurnRunner
	events *bus.MessageBus
	log    *slog.Logger
}

func New(runner TurnRunner, events *bus.MessageBus, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}

	return &Router{
		runner: runner,
		events: events,
		log:    log.With("component", "router"),
	}
}

// Handle processes one inbound message end to end: command or turn, then the
// definitive reply. The returned error is for supervision only; the user has
// already been answered on every path except delivery failure.
func (r *Router) Handle(ctx context.Context, msg bus.InboundMessage, sender channel.Sender) error {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}

	if strings.HasPrefix(content, "/") {
		return r.handleCommand(ctx, msg, sender, content)
	}

	return r.handleTurn(ctx, msg, sender, content)
}

func (r *Router) handleCommand(ctx context.Context, msg bus.InboundMessage, sender channel.Sender, content string) error {
	command := strings.ToLower(strings.Fields(content)[0])

	var reply string
	switch command {
	case "/help", "/start":
		reply = helpText
	case "/reset":
		if msg.SessionKey != "" {
			r.runner.ResetSession(msg.SessionKey)
		}
		reply = "Conversation history cleared. The next message starts fresh."
	case "/tools":
		reply = r.describeTools()
	default:
		reply = fmt.Sprintf("Unknown command %q. Try /help.", command)
	}

	return r.deliver(ctx, msg, sender, reply)
}

func (r *Router) describeTools() string {
	resolved, err := r.runner.Tools()
	if err != nil {
		return "Tool configuration could not be read right now. Please try again shortly."
	}
	if resolved.Empty() {
		return "No external tools are configured."
	}

	names := append([]string(nil), resolved.ToolNames...)
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Available external tools:\n")
	for _, name := range names {
		sb.WriteString("• ")
		sb.WriteString(name)
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

func (r *Router) handleTurn(ctx context.Context, msg bus.InboundMessage, sender channel.Sender, prompt string) error {
	requestID := uuid.NewString()
	r.publish(ctx, bus.Event{
		Type:       bus.EventTurnStarted,
		Channel:    msg.Channel,
		ChatID:     msg.ChatID,
		SessionKey: msg.SessionKey,
		RequestID:  requestID,
	})

	progress := newUpdater(sender, msg.ChatID, msg.ThreadID, msg.Metadata[bus.MetaPlaceholderID], r.log)
	onProgress := progress.observe(ctx)

	answer, err := r.runner.RunTurn(ctx, msg.SessionKey, prompt, func(delta claude.Delta) {
		r.publish(ctx, bus.Event{
			Type:       bus.EventTurnDelta,
			Channel:    msg.Channel,
			ChatID:     msg.ChatID,
			SessionKey: msg.SessionKey,
			RequestID:  requestID,
			Payload:    map[string]string{"kind": string(delta.Kind)},
		})
		onProgress(delta)
	})
	if err != nil {
		r.log.Error("Turn failed", "request_id", requestID, "session_key", msg.SessionKey, "error", err)
		r.publish(ctx, bus.Event{
			Type:       bus.EventTurnFailed,
			Channel:    msg.Channel,
			ChatID:     msg.ChatID,
			SessionKey: msg.SessionKey,
			RequestID:  requestID,
			Error:      err.Error(),
		})

		return r.deliver(ctx, msg, sender, userMessageForError(err))
	}

	final := SanitizeOutput(answer)
	// Trivial questions get their answer as-is; completion classification
	// only makes sense for task-like requests.
	if !claude.IsTrivialPrompt(prompt) {
		final = BuildFinalMessage(final)
	}
	if final == "" {
		final = strings.TrimSpace(unconfirmedSuffix)
	}

	r.publish(ctx, bus.Event{
		Type:       bus.EventTurnCompleted,
		Channel:    msg.Channel,
		ChatID:     msg.ChatID,
		SessionKey: msg.SessionKey,
		RequestID:  requestID,
	})

	return r.deliver(ctx, msg, sender, final)
}

// deliver edits the placeholder when one exists, otherwise sends a new
// message.
func (r *Router) deliver(ctx context.Context, msg bus.InboundMessage, sender channel.Sender, text string) error {
	_, err := sender.Send(ctx, channel.Delivery{
		ChatID:   msg.ChatID,
		ThreadID: msg.ThreadID,
		Text:     text,
		UpdateID: msg.Metadata[bus.MetaPlaceholderID],
	})
	if err != nil {
		return fmt.Errorf("deliver reply to %s: %w", msg.ChatID, err)
	}

	return nil
}

func (r *Router) publish(ctx context.Context, event bus.Event) {
	if r.events == nil {
		return
	}
	r.events.PublishEvent(ctx, event)
}

// userMessageForError maps orchestrator failures onto single user-facing
// messages. Raw errors and stack traces stay in the logs.
func userMessageForError(err error) string {
	var timeoutErr *claude.TimeoutError
	var exitErr *claude.ExitError

	switch {
	case errors.Is(err, claude.ErrToolPolicy):
		return claude.PolicyViolationMessage
	case errors.Is(err, claude.ErrNotInstalled):
		return "The assistant CLI is not installed on this gateway. Ask the operator to install it and run `claude login` once."
	case errors.Is(err, claude.ErrToolsUnavailable):
		return "External tools are temporarily unavailable, so I could not run that request. Please try again shortly."
	case errors.As(err, &timeoutErr):
		return "That took too long and the run was stopped. Try again, or break the request into smaller steps."
	case errors.As(err, &exitErr):
		if exitErr.Message != "" {
			return exitErr.Message
		}
		return "The assistant exited unexpectedly before finishing. Please try again."
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled before it finished."
	default:
		return "Something went wrong while handling that message. Please try again."
	}
}
