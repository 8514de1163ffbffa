package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishEventReachesSubscriber(t *testing.T) {
	t.Parallel()

	mb := New()
	defer mb.Close()

	events, unsubscribe := mb.SubscribeEvents(context.Background(), 4)
	defer unsubscribe()

	ok := mb.PublishEvent(context.Background(), Event{
		Type:       EventTurnStarted,
		SessionKey: "slack:C1:T1",
		RequestID:  "req-1",
	})
	if !ok {
		t.Fatal("PublishEvent returned false on open bus")
	}

	select {
	case event := <-events:
		if event.Type != EventTurnStarted {
			t.Fatalf("event type = %q, want %q", event.Type, EventTurnStarted)
		}
		if event.At.IsZero() {
			t.Fatal("expected event timestamp to be stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishEventDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()

	mb := New()
	defer mb.Close()

	_, unsubscribe := mb.SubscribeEvents(context.Background(), 1)
	defer unsubscribe()

	// Both publishes must return without blocking even though the buffer holds one.
	for i := 0; i < 2; i++ {
		if !mb.PublishEvent(context.Background(), Event{Type: EventTurnDelta}) {
			t.Fatal("PublishEvent returned false on open bus")
		}
	}
}

func TestPublishEventAfterClose(t *testing.T) {
	t.Parallel()

	mb := New()
	mb.Close()

	if mb.PublishEvent(context.Background(), Event{Type: EventTurnCompleted}) {
		t.Fatal("PublishEvent returned true on closed bus")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	mb := New()
	defer mb.Close()

	events, unsubscribe := mb.SubscribeEvents(context.Background(), 1)
	unsubscribe()

	select {
	case _, open := <-events:
		if open {
			t.Fatal("expected closed channel after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
