package router

import (
	"context"
	"strings"
	"testing"

	"slackclaw/pkg/bus"
	"slackclaw/pkg/channel"
	"slackclaw/pkg/claude"
	"slackclaw/pkg/mcp"
)

type fakeRunner struct {
	answer     string
	err        error
	deltas     []claude.Delta
	resolved   mcp.Resolved
	toolsErr   error
	lastPrompt string
	resetKeys  []string
}

func (f *fakeRunner) RunTurn(ctx context.Context, key string, prompt string, onDelta claude.DeltaFunc) (string, error) {
	f.lastPrompt = prompt
	for _, d := range f.deltas {
		if onDelta != nil {
			onDelta(d)
		}
	}
	return f.answer, f.err
}

func (f *fakeRunner) Tools() (mcp.Resolved, error) {
	return f.resolved, f.toolsErr
}

func (f *fakeRunner) ResetSession(key string) {
	f.resetKeys = append(f.resetKeys, key)
}

type fakeSender struct {
	deliveries []channel.Delivery
	err        error
}

func (f *fakeSender) Send(ctx context.Context, d channel.Delivery) (channel.Receipt, error) {
	f.deliveries = append(f.deliveries, d)
	if f.err != nil {
		return channel.Receipt{}, f.err
	}
	return channel.Receipt{MessageID: "m1"}, nil
}

func (f *fakeSender) last(t *testing.T) channel.Delivery {
	t.Helper()
	if len(f.deliveries) == 0 {
		t.Fatal("no deliveries")
	}
	return f.deliveries[len(f.deliveries)-1]
}

func inbound(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    "slack",
		ChatID:     "C1",
		SenderID:   "U1",
		Content:    content,
		SessionKey: "slack:C1:U1",
		Metadata:   map[string]string{bus.MetaPlaceholderID: "ph1"},
	}
}

func TestHandleTrivialQuestionRelaysAnswerUnmodified(t *testing.T) {
	runner := &fakeRunner{answer: "UTC is Coordinated Universal Time."}
	sender := &fakeSender{}
	r := New(runner, nil, nil)

	if err := r.Handle(context.Background(), inbound("What is UTC?"), sender); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got := sender.last(t)
	if got.Text != "UTC is Coordinated Universal Time." {
		t.Fatalf("text = %q", got.Text)
	}
	if got.UpdateID != "ph1" {
		t.Fatalf("expected placeholder edit, got UpdateID %q", got.UpdateID)
	}
}

func TestHandleTaskPromptGetsFinalized(t *testing.T) {
	runner := &fakeRunner{answer: "I finished the refactor successfully."}
	sender := &fakeSender{}
	r := New(runner, nil, nil)

	if err := r.Handle(context.Background(), inbound("Fix this bug in my repository and run tests"), sender); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if got := sender.last(t); got.Text != CompletionStatement {
		t.Fatalf("text = %q", got.Text)
	}
}

func TestHandleMapsPolicyViolation(t *testing.T) {
	runner := &fakeRunner{err: claude.ErrToolPolicy}
	sender := &fakeSender{}
	r := New(runner, nil, nil)

	if err := r.Handle(context.Background(), inbound("Refactor the parser"), sender); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if got := sender.last(t); got.Text != claude.PolicyViolationMessage {
		t.Fatalf("text = %q", got.Text)
	}
}

func TestHandleMapsTimeout(t *testing.T) {
	runner := &fakeRunner{err: &claude.TimeoutError{Partial: "half done"}}
	sender := &fakeSender{}
	r := New(runner, nil, nil)

	if err := r.Handle(context.Background(), inbound("Deploy the service"), sender); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if got := sender.last(t); !strings.Contains(got.Text, "took too long") {
		t.Fatalf("text = %q", got.Text)
	}
}

func TestResetCommandClearsSession(t *testing.T) {
	runner := &fakeRunner{}
	sender := &fakeSender{}
	r := New(runner, nil, nil)

	if err := r.Handle(context.Background(), inbound("/reset"), sender); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(runner.resetKeys) != 1 || runner.resetKeys[0] != "slack:C1:U1" {
		t.Fatalf("resetKeys = %v", runner.resetKeys)
	}
	if got := sender.last(t); !strings.Contains(got.Text, "starts fresh") {
		t.Fatalf("text = %q", got.Text)
	}
}

func TestToolsCommandListsResolvedTools(t *testing.T) {
	runner := &fakeRunner{resolved: mcp.Resolved{
		Servers:   map[string]mcp.ServerSpec{"files": {Command: "files-server"}},
		ToolNames: []string{"files.read", "files.write"},
	}}
	sender := &fakeSender{}
	r := New(runner, nil, nil)

	if err := r.Handle(context.Background(), inbound("/tools"), sender); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got := sender.last(t)
	if !strings.Contains(got.Text, "files.read") || !strings.Contains(got.Text, "files.write") {
		t.Fatalf("text = %q", got.Text)
	}
}

func TestToolsCommandWithNoTools(t *testing.T) {
	runner := &fakeRunner{}
	sender := &fakeSender{}
	r := New(runner, nil, nil)

	if err := r.Handle(context.Background(), inbound("/tools"), sender); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if got := sender.last(t); got.Text != "No external tools are configured." {
		t.Fatalf("text = %q", got.Text)
	}
}

func TestUnknownCommandSuggestsHelp(t *testing.T) {
	runner := &fakeRunner{}
	sender := &fakeSender{}
	r := New(runner, nil, nil)

	if err := r.Handle(context.Background(), inbound("/bogus"), sender); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if got := sender.last(t); !strings.Contains(got.Text, "/help") {
		t.Fatalf("text = %q", got.Text)
	}
}

func TestHandleIgnoresEmptyContent(t *testing.T) {
	runner := &fakeRunner{}
	sender := &fakeSender{}
	r := New(runner, nil, nil)

	if err := r.Handle(context.Background(), inbound("   "), sender); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(sender.deliveries) != 0 {
		t.Fatalf("unexpected deliveries: %v", sender.deliveries)
	}
}

func TestHandlePublishesLifecycleEvents(t *testing.T) {
	events := bus.New()
	defer events.Close()

	ch, unsubscribe := events.SubscribeEvents(context.Background(), 8)
	defer unsubscribe()

	runner := &fakeRunner{
		answer: "hi",
		deltas: []claude.Delta{
			{Kind: claude.DeltaThinking, Text: "hmm"},
			{Kind: claude.DeltaAnswer, Text: "hi"},
		},
	}
	sender := &fakeSender{}
	r := New(runner, events, nil)

	if err := r.Handle(context.Background(), inbound("hello there"), sender); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	first := <-ch
	if first.Type != bus.EventTurnStarted {
		t.Fatalf("first event = %v", first.Type)
	}
	thinking := <-ch
	if thinking.Type != bus.EventTurnDelta || thinking.Payload["kind"] != string(claude.DeltaThinking) {
		t.Fatalf("thinking event = %+v", thinking)
	}
	answer := <-ch
	if answer.Type != bus.EventTurnDelta || answer.Payload["kind"] != string(claude.DeltaAnswer) {
		t.Fatalf("answer event = %+v", answer)
	}
	last := <-ch
	if last.Type != bus.EventTurnCompleted {
		t.Fatalf("last event = %v", last.Type)
	}
	if first.RequestID == "" || first.RequestID != last.RequestID || thinking.RequestID != first.RequestID {
		t.Fatalf("request ids: %q / %q / %q", first.RequestID, thinking.RequestID, last.RequestID)
	}
}
