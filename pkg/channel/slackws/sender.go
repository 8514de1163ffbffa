package slackws

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"slackclaw/pkg/channel"
)

// sender delivers over the Web API: chat.postMessage for new messages,
// chat.update when a prior message ID is supplied.
type sender struct {
	api slackAPI
}

func (s *sender) Send(ctx context.Context, d channel.Delivery) (channel.Receipt, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(d.Text, false)}
	if d.ThreadID != "" {
		opts = append(opts, slack.MsgOptionTS(d.ThreadID))
	}

	if d.UpdateID != "" {
		_, ts, _, err := s.api.UpdateMessageContext(ctx, d.ChatID, d.UpdateID, opts...)
		if err != nil {
			return channel.Receipt{}, fmt.Errorf("chat.update: %w", err)
		}
		return channel.Receipt{MessageID: ts}, nil
	}

	_, ts, err := s.api.PostMessageContext(ctx, d.ChatID, opts...)
	if err != nil {
		return channel.Receipt{}, fmt.Errorf("chat.postMessage: %w", err)
	}

	return channel.Receipt{MessageID: ts}, nil
}

var _ channel.Sender = (*sender)(nil)
