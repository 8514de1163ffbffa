package router

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"slackclaw/pkg/channel"
	"slackclaw/pkg/claude"
)

// Update cadences. Thinking status is background noise and refreshes slowly;
// answer content is what the user is waiting for and refreshes faster, but
// only when it actually changed.
const (
	thinkingCadence = 2 * time.Second
	answerCadence   = 900 * time.Millisecond
)

// updater edits one placeholder message in place as turn deltas stream in.
// Once answer content appears, thinking status stops touching the message.
type updater struct {
	sender   channel.Sender
	chatID   string
	threadID string
	updateID string
	log      *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	lastFlush   time.Time
	lastText    string
	sawAnswer   bool
	answerParts []string
}

func newUpdater(sender channel.Sender, chatID, threadID, updateID string, log *slog.Logger) *updater {
	if log == nil {
		log = slog.Default()
	}

	return &updater{
		sender:   sender,
		chatID:   chatID,
		threadID: threadID,
		updateID: updateID,
		log:      log,
		now:      time.Now,
	}
}

// observe is the delta callback handed to the orchestrator. It runs on the
// subprocess pump goroutine, so flushes are throttled to keep transport
// traffic bounded.
func (u *updater) observe(ctx context.Context) claude.DeltaFunc {
	return func(delta claude.Delta) {
		switch delta.Kind {
		case claude.DeltaAnswer:
			u.onAnswer(ctx, delta.Text)
		case claude.DeltaThinking, claude.DeltaTool:
			u.onStatus(ctx, delta.Text)
		}
	}
}

func (u *updater) onStatus(ctx context.Context, text string) {
	if u.updateID == "" {
		return
	}

	u.mu.Lock()
	if u.sawAnswer || u.now().Sub(u.lastFlush) < thinkingCadence {
		u.mu.Unlock()
		return
	}
	u.lastFlush = u.now()
	u.mu.Unlock()

	u.flush(ctx, "_"+strings.TrimSpace(text)+"_")
}

func (u *updater) onAnswer(ctx context.Context, text string) {
	if u.updateID == "" {
		return
	}

	u.mu.Lock()
	u.sawAnswer = true
	u.answerParts = append(u.answerParts, text)
	accumulated := strings.Join(u.answerParts, "\n")
	if accumulated == u.lastText || u.now().Sub(u.lastFlush) < answerCadence {
		u.mu.Unlock()
		return
	}
	u.lastFlush = u.now()
	u.lastText = accumulated
	u.mu.Unlock()

	u.flush(ctx, accumulated)
}

// flush pushes one in-place edit; delivery failures are logged and progress
// continues, the final message will try again.
func (u *updater) flush(ctx context.Context, text string) {
	_, err := u.sender.Send(ctx, channel.Delivery{
		ChatID:   u.chatID,
		ThreadID: u.threadID,
		Text:     text,
		UpdateID: u.updateID,
	})
	if err != nil {
		u.log.Warn("Progressive update failed", "chat_id", u.chatID, "error", err)
	}
}
