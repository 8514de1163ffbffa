package channel

import (
	"context"

	"slackclaw/pkg/bus"
)

// Handler processes one inbound channel message. Progressive updates flow
// through the channel's Sender; the returned error is for supervision only,
// user-visible failures must already have been delivered by the handler.
type Handler func(context.Context, bus.InboundMessage) error

// Adapter bridges one external transport (Slack Socket Mode, Telegram) into
// the gateway.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
	// Healthy reports whether the transport is currently connected, as
	// opposed to merely supervised while it retries internally.
	Healthy() bool
}

// Delivery is one outbound send or in-place update request.
type Delivery struct {
	ChatID   string
	ThreadID string
	Text     string
	// UpdateID is the server-assigned identifier of a previously sent
	// message. When set, the delivery edits that message in place.
	UpdateID string
}

// Receipt reports the server-assigned identifier of a delivered message.
type Receipt struct {
	MessageID string
}

// Sender is the outbound delivery contract a channel exposes to the router.
type Sender interface {
	Send(ctx context.Context, delivery Delivery) (Receipt, error)
}
