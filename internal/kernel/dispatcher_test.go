package kernel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"meadow/pkg/meadow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newMessageEvent(id, text string) *meadow.Event {
	return &meadow.Event{
		ID:         id,
		Kind:       meadow.EventKindMessageCreated,
		OccurredAt: time.Unix(1700000000, 0).UTC(),
		Platform:   meadow.PlatformTelegram,
		Channel:    meadow.Channel{ID: "chan-1", Type: meadow.ChannelTypeGroup},
		Actor:      meadow.Actor{ID: "user-1"},
		Message:    &meadow.Message{ID: id, Text: text},
	}
}

func newControlEvent(id string) *meadow.Event {
	return &meadow.Event{
		ID:         id,
		Kind:       meadow.EventKindControlActivated,
		OccurredAt: time.Unix(1700000000, 0).UTC(),
		Platform:   meadow.PlatformTelegram,
		Channel:    meadow.Channel{ID: "dm-1", Type: meadow.ChannelTypeDirect},
		Actor:      meadow.Actor{ID: "user-1"},
		Control: &meadow.Control{
			Action:  meadow.ControlActionUnsubscribe,
			OwnerID: "user-1",
			Pattern: "release",
		},
	}
}

func closeDispatcher(t *testing.T, dispatcher *Dispatcher) {
	t.Helper()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dispatcher.Close(closeCtx); err != nil {
		t.Fatalf("close dispatcher failed: %v", err)
	}
}

func TestDispatcherRoutesByKind(t *testing.T) {
	dispatcher := NewDispatcher(16, 1, time.Second, nil)

	var messageCount, controlCount atomic.Int64
	delivered := make(chan struct{}, 4)

	mustBind(t, dispatcher, meadow.HandlerBinding{
		Name:  "messages",
		Kinds: []meadow.EventKind{meadow.EventKindMessageCreated},
		Handler: func(context.Context, *meadow.Event) error {
			messageCount.Add(1)
			delivered <- struct{}{}
			return nil
		},
	})
	mustBind(t, dispatcher, meadow.HandlerBinding{
		Name:  "controls",
		Kinds: []meadow.EventKind{meadow.EventKindControlActivated},
		Handler: func(context.Context, *meadow.Event) error {
			controlCount.Add(1)
			delivered <- struct{}{}
			return nil
		},
	})

	dispatcher.Start()
	defer closeDispatcher(t, dispatcher)

	ctx := context.Background()
	if err := dispatcher.Publish(ctx, newMessageEvent("evt-1", "hello")); err != nil {
		t.Fatalf("publish message failed: %v", err)
	}
	if err := dispatcher.Publish(ctx, newControlEvent("evt-2")); err != nil {
		t.Fatalf("publish control failed: %v", err)
	}

	waitDeliveries(t, delivered, 2)
	if got := messageCount.Load(); got != 1 {
		t.Fatalf("message handler calls = %d, want 1", got)
	}
	if got := controlCount.Load(); got != 1 {
		t.Fatalf("control handler calls = %d, want 1", got)
	}
}

func TestDispatcherFanOutSurvivesHandlerFailure(t *testing.T) {
	var reported atomic.Int64
	dispatcher := NewDispatcher(16, 1, time.Second, func(_ context.Context, _ string, _ error) {
		reported.Add(1)
	})

	delivered := make(chan struct{}, 2)
	mustBind(t, dispatcher, meadow.HandlerBinding{
		Name:  "panics",
		Kinds: []meadow.EventKind{meadow.EventKindMessageCreated},
		Handler: func(context.Context, *meadow.Event) error {
			defer func() { delivered <- struct{}{} }()
			panic("boom")
		},
	})
	mustBind(t, dispatcher, meadow.HandlerBinding{
		Name:  "survives",
		Kinds: []meadow.EventKind{meadow.EventKindMessageCreated},
		Handler: func(context.Context, *meadow.Event) error {
			delivered <- struct{}{}
			return nil
		},
	})

	dispatcher.Start()
	defer closeDispatcher(t, dispatcher)

	if err := dispatcher.Publish(context.Background(), newMessageEvent("evt-1", "hello")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitDeliveries(t, delivered, 2)
	waitCondition(t, func() bool { return reported.Load() == 1 })
}

func TestDispatcherDropsNewestWhenQueueFull(t *testing.T) {
	// Workers are never started, so the queue fills and stays full.
	dispatcher := NewDispatcher(1, 1, time.Second, nil)
	mustBind(t, dispatcher, meadow.HandlerBinding{
		Name:    "sink",
		Kinds:   []meadow.EventKind{meadow.EventKindMessageCreated},
		Handler: func(context.Context, *meadow.Event) error { return nil },
	})

	ctx := context.Background()
	if err := dispatcher.Publish(ctx, newMessageEvent("evt-1", "first")); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}
	err := dispatcher.Publish(ctx, newMessageEvent("evt-2", "second"))
	if !errors.Is(err, meadow.ErrEventDropped) {
		t.Fatalf("error = %v, want ErrEventDropped", err)
	}

	closeDispatcher(t, dispatcher)
}

func TestDispatcherRejectsInvalidEvent(t *testing.T) {
	dispatcher := NewDispatcher(4, 1, time.Second, nil)
	defer closeDispatcher(t, dispatcher)

	err := dispatcher.Publish(context.Background(), &meadow.Event{Kind: meadow.EventKindMessageCreated})
	if !errors.Is(err, meadow.ErrInvalidEvent) {
		t.Fatalf("error = %v, want ErrInvalidEvent", err)
	}
}

func TestDispatcherPublishAfterCloseFails(t *testing.T) {
	dispatcher := NewDispatcher(4, 1, time.Second, nil)
	dispatcher.Start()
	closeDispatcher(t, dispatcher)

	err := dispatcher.Publish(context.Background(), newMessageEvent("evt-1", "hello"))
	if !errors.Is(err, meadow.ErrDispatcherClosed) {
		t.Fatalf("error = %v, want ErrDispatcherClosed", err)
	}
}

func TestDispatcherBindAfterStartFails(t *testing.T) {
	dispatcher := NewDispatcher(4, 1, time.Second, nil)
	dispatcher.Start()
	defer closeDispatcher(t, dispatcher)

	err := dispatcher.Bind(meadow.HandlerBinding{
		Name:    "late",
		Kinds:   []meadow.EventKind{meadow.EventKindMessageCreated},
		Handler: func(context.Context, *meadow.Event) error { return nil },
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func mustBind(t *testing.T, dispatcher *Dispatcher, binding meadow.HandlerBinding) {
	t.Helper()

	if err := dispatcher.Bind(binding); err != nil {
		t.Fatalf("bind %s failed: %v", binding.Name, err)
	}
}

func waitDeliveries(t *testing.T, delivered <-chan struct{}, count int) {
	t.Helper()

	for idx := 0; idx < count; idx++ {
		select {
		case <-delivered:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of %d", idx+1, count)
		}
	}
}

func waitCondition(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
