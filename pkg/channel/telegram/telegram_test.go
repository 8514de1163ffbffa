package telegram

import (
	"context"
	"strings"
	"testing"

	"github.com/mymmrac/telego"

	"slackclaw/pkg/channel"
)

type fakeBot struct {
	sent   []*telego.SendMessageParams
	edited []*telego.EditMessageTextParams
}

func (f *fakeBot) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	f.sent = append(f.sent, params)
	return &telego.Message{MessageID: 77}, nil
}

func (f *fakeBot) EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error) {
	f.edited = append(f.edited, params)
	return &telego.Message{MessageID: params.MessageID}, nil
}

func TestAllowFromSet(t *testing.T) {
	allowed := allowFromSet([]string{" 123 ", "", "456", "123"})
	if len(allowed) != 2 {
		t.Fatalf("allowFromSet len = %d, want 2", len(allowed))
	}
	if _, ok := allowed["123"]; !ok {
		t.Fatal("allowFromSet missing 123")
	}
	if _, ok := allowed["456"]; !ok {
		t.Fatal("allowFromSet missing 456")
	}
}

func TestSenderAllowed(t *testing.T) {
	adapter := &Adapter{allowFrom: map[string]struct{}{"1": {}}}
	if !adapter.senderAllowed("1") {
		t.Fatal("expected sender 1 to be allowed")
	}
	if adapter.senderAllowed("2") {
		t.Fatal("expected sender 2 to be denied")
	}

	adapter.allowFrom = nil
	if !adapter.senderAllowed("any") {
		t.Fatal("expected sender to be allowed when allowlist empty")
	}
}

func TestSessionKey(t *testing.T) {
	if got := sessionKey(" 42 "); got != "telegram:42" {
		t.Fatalf("sessionKey = %q, want %q", got, "telegram:42")
	}
}

func TestPreviewText(t *testing.T) {
	short := " hello "
	if got := previewText(short); got != "hello" {
		t.Fatalf("previewText short = %q, want %q", got, "hello")
	}

	long := strings.Repeat("a", messagePreviewLimit+20)
	got := previewText(long)
	if len(got) != messagePreviewLimit+3 {
		t.Fatalf("previewText long len = %d, want %d", len(got), messagePreviewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("previewText long = %q, want ellipsis suffix", got)
	}
}

func TestSenderPostsNewMessage(t *testing.T) {
	bot := &fakeBot{}
	s := &sender{api: bot, log: nil}

	receipt, err := s.Send(context.Background(), channel.Delivery{ChatID: "42", Text: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipt.MessageID != "77" {
		t.Fatalf("MessageID = %q", receipt.MessageID)
	}
	if len(bot.sent) != 1 || len(bot.edited) != 0 {
		t.Fatalf("sent = %d, edited = %d", len(bot.sent), len(bot.edited))
	}
}

func TestSenderEditsInPlace(t *testing.T) {
	bot := &fakeBot{}
	s := &sender{api: bot, log: nil}

	receipt, err := s.Send(context.Background(), channel.Delivery{ChatID: "42", Text: "updated", UpdateID: "77"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipt.MessageID != "77" {
		t.Fatalf("MessageID = %q", receipt.MessageID)
	}
	if len(bot.edited) != 1 || bot.edited[0].MessageID != 77 {
		t.Fatalf("edited = %+v", bot.edited)
	}
}

func TestSenderRejectsBadChatID(t *testing.T) {
	s := &sender{api: &fakeBot{}}
	if _, err := s.Send(context.Background(), channel.Delivery{ChatID: "not-a-number", Text: "x"}); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}
