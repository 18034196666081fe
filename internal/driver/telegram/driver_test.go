package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"meadow/pkg/meadow"
)

func quietTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// passthroughRunner invokes the callback directly, standing in for the gotd
// client lifecycle.
type passthroughRunner struct{}

func (passthroughRunner) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	return fn(ctx)
}

type recordingSink struct {
	events chan *meadow.Event
}

func (s *recordingSink) Publish(_ context.Context, event *meadow.Event) error {
	s.events <- event
	return nil
}

func TestDriverPublishesMappedEvents(t *testing.T) {
	t.Parallel()

	updates := newUpdateChannel(8)
	peers := NewPeerCache()
	driver, err := newDriver(passthroughRunner{}, nil, updates, peers, newMapper())
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}
	if driver.Name() != DriverName {
		t.Fatalf("name = %q, want %q", driver.Name(), DriverName)
	}

	sink := &recordingSink{events: make(chan *meadow.Event, 8)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- driver.Start(ctx, sink) }()

	container := &tg.Updates{
		Date: 1700000000,
		Updates: []tg.UpdateClass{
			&tg.UpdateNewMessage{
				Message: testMessage(3, "new release!", 42, &tg.PeerChat{ChatID: 100}),
			},
		},
		Users: []tg.UserClass{testUser(42, "poster")},
		Chats: []tg.ChatClass{&tg.Chat{ID: 100, Title: "dev chat"}},
	}
	if err := updates.Handle(ctx, container); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	select {
	case event := <-sink.events:
		if event.Kind != meadow.EventKindMessageCreated {
			t.Fatalf("kind = %s, want message.created", event.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published event")
	}

	// The batch entities were remembered for outbound resolution.
	if _, err := peers.ResolveUser("42"); err != nil {
		t.Fatalf("user peer not remembered: %v", err)
	}
	if _, err := peers.ResolveChannel(meadow.Channel{ID: "100", Type: meadow.ChannelTypeGroup}); err != nil {
		t.Fatalf("chat peer not remembered: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for driver exit")
	}
}

func TestDriverReportsFatalRunnerError(t *testing.T) {
	t.Parallel()

	runnerErr := errors.New("transport down")
	runner := failingRunner{err: runnerErr}
	driver, err := newDriver(runner, nil, newUpdateChannel(1), NewPeerCache(), newMapper())
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}

	err = driver.Start(context.Background(), &recordingSink{events: make(chan *meadow.Event, 1)})
	if !errors.Is(err, runnerErr) {
		t.Fatalf("error = %v, want wrapped runner error", err)
	}
}

type failingRunner struct {
	err error
}

func (r failingRunner) Run(context.Context, func(runCtx context.Context) error) error {
	return r.err
}

func TestPeerCacheResolvesAcrossGroupChannelKinds(t *testing.T) {
	t.Parallel()

	peers := NewPeerCache()
	peers.Remember(updateEnvelope{
		chatsByID: indexChats([]tg.ChatClass{&tg.Channel{ID: 200, Megagroup: true, AccessHash: 9}}),
	})

	// The megagroup was indexed as a group; channel-typed lookups fall back.
	if _, err := peers.ResolveChannel(meadow.Channel{ID: "200", Type: meadow.ChannelTypeGroup}); err != nil {
		t.Fatalf("group lookup failed: %v", err)
	}
	if _, err := peers.ResolveChannel(meadow.Channel{ID: "200", Type: meadow.ChannelTypeChannel}); err != nil {
		t.Fatalf("channel fallback lookup failed: %v", err)
	}
	if _, err := peers.ResolveChannel(meadow.Channel{ID: "404", Type: meadow.ChannelTypeGroup}); err == nil {
		t.Fatal("expected error for unseen channel")
	}
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	valid := Config{AppID: 1, AppHash: "hash", BotToken: "token"}
	if err := valid.validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "missing app id", cfg: Config{AppHash: "hash", BotToken: "token"}},
		{name: "missing app hash", cfg: Config{AppID: 1, BotToken: "token"}},
		{name: "missing bot token", cfg: Config{AppID: 1, AppHash: "hash"}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if err := testCase.cfg.validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
