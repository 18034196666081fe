package keywords

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"meadow/pkg/meadow"
)

// fakeOutbound records sends and control mutations in memory.
type fakeOutbound struct {
	mu          sync.Mutex
	sent        []meadow.SendRequest
	cleared     []meadow.MessageRef
	acked       []string
	failSendFor map[string]error
	nextMessage int
}

func newFakeOutbound() *fakeOutbound {
	return &fakeOutbound{failSendFor: make(map[string]error)}
}

func (o *fakeOutbound) SendMessage(_ context.Context, request meadow.SendRequest) (*meadow.SentMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.failSendFor[request.Channel.ID]; err != nil {
		return nil, err
	}

	o.sent = append(o.sent, request)
	o.nextMessage++
	return &meadow.SentMessage{
		ID:      fmt.Sprintf("sent-%d", o.nextMessage),
		Channel: request.Channel,
	}, nil
}

func (o *fakeOutbound) ClearControls(_ context.Context, ref meadow.MessageRef) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleared = append(o.cleared, ref)
	return nil
}

func (o *fakeOutbound) AckControl(_ context.Context, activationID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acked = append(o.acked, activationID)
	return nil
}

func (o *fakeOutbound) EnsureDirect(_ context.Context, userID string) (meadow.Channel, error) {
	return meadow.Channel{ID: "dm-" + userID, Type: meadow.ChannelTypeDirect}, nil
}

func (o *fakeOutbound) sentTo(channelID string) []meadow.SendRequest {
	o.mu.Lock()
	defer o.mu.Unlock()

	var matched []meadow.SendRequest
	for _, request := range o.sent {
		if request.Channel.ID == channelID {
			matched = append(matched, request)
		}
	}
	return matched
}

// fakeMembership serves a fixed member list for every channel.
type fakeMembership struct {
	members []meadow.Actor
	err     error
}

func (m *fakeMembership) ListMembers(context.Context, string) ([]meadow.Actor, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.members, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type matchFixture struct {
	store      *fakeStore
	cache      *Cache
	outbound   *fakeOutbound
	membership *fakeMembership
	matcher    *matcher
}

func newMatchFixture(t *testing.T, members ...meadow.Actor) *matchFixture {
	t.Helper()

	store := newFakeStore()
	cache := newTestCache(t, store, 10, 5)
	outbound := newFakeOutbound()
	membership := &fakeMembership{members: members}
	logger := quietLogger()
	notifier := newNotifier(logger, cache, outbound)

	return &matchFixture{
		store:      store,
		cache:      cache,
		outbound:   outbound,
		membership: membership,
		matcher:    newMatcher(logger, cache, membership, notifier),
	}
}

func messageEvent(channelID, parentID, authorID, text string) *meadow.Event {
	return &meadow.Event{
		ID:         "evt-" + text,
		Kind:       meadow.EventKindMessageCreated,
		OccurredAt: time.Unix(1700000000, 0).UTC(),
		Platform:   meadow.PlatformTelegram,
		Channel:    meadow.Channel{ID: channelID, ParentID: parentID, Type: meadow.ChannelTypeGroup},
		Actor:      meadow.Actor{ID: authorID, DisplayName: "Author"},
		Message:    &meadow.Message{ID: "msg-1", Text: text, Link: "https://t.me/c/1/1"},
	}
}

func TestMatcherNotifiesScopedAndUnscopedSubscribers(t *testing.T) {
	t.Parallel()

	fixture := newMatchFixture(t,
		meadow.Actor{ID: "author"},
		meadow.Actor{ID: "user-1"},
		meadow.Actor{ID: "user-2"},
	)
	ctx := context.Background()

	mustSubscribe(t, fixture.cache, meadow.Subscription{Owner: "user-1", Pattern: "release"})
	mustSubscribe(t, fixture.cache, meadow.Subscription{Owner: "user-2", Pattern: "release", Scope: "chan-1"})

	if err := fixture.matcher.HandleMessage(ctx, messageEvent("chan-1", "", "author", "new release!")); err != nil {
		t.Fatalf("handle message failed: %v", err)
	}

	if sent := fixture.outbound.sentTo("dm-user-1"); len(sent) != 1 {
		t.Fatalf("user-1 notifications = %d, want 1", len(sent))
	}
	if sent := fixture.outbound.sentTo("dm-user-2"); len(sent) != 1 {
		t.Fatalf("user-2 notifications = %d, want 1", len(sent))
	}
	if sent := fixture.outbound.sentTo("dm-author"); len(sent) != 0 {
		t.Fatalf("author notifications = %d, want 0", len(sent))
	}
}

func TestMatcherScopeFiltersUnrelatedChannel(t *testing.T) {
	t.Parallel()

	fixture := newMatchFixture(t,
		meadow.Actor{ID: "author"},
		meadow.Actor{ID: "user-1"},
		meadow.Actor{ID: "user-2"},
	)
	ctx := context.Background()

	mustSubscribe(t, fixture.cache, meadow.Subscription{Owner: "user-1", Pattern: "release"})
	mustSubscribe(t, fixture.cache, meadow.Subscription{Owner: "user-2", Pattern: "release", Scope: "chan-1"})

	if err := fixture.matcher.HandleMessage(ctx, messageEvent("chan-2", "", "author", "new release!")); err != nil {
		t.Fatalf("handle message failed: %v", err)
	}

	if sent := fixture.outbound.sentTo("dm-user-1"); len(sent) != 1 {
		t.Fatalf("user-1 notifications = %d, want 1", len(sent))
	}
	if sent := fixture.outbound.sentTo("dm-user-2"); len(sent) != 0 {
		t.Fatalf("user-2 notifications = %d, want 0", len(sent))
	}
}

func TestMatcherScopeMatchesParentCategory(t *testing.T) {
	t.Parallel()

	fixture := newMatchFixture(t,
		meadow.Actor{ID: "author"},
		meadow.Actor{ID: "user-1"},
	)
	ctx := context.Background()

	mustSubscribe(t, fixture.cache, meadow.Subscription{Owner: "user-1", Pattern: "release", Scope: "category-1"})

	if err := fixture.matcher.HandleMessage(ctx, messageEvent("chan-1", "category-1", "author", "new release!")); err != nil {
		t.Fatalf("handle message failed: %v", err)
	}

	if sent := fixture.outbound.sentTo("dm-user-1"); len(sent) != 1 {
		t.Fatalf("user-1 notifications = %d, want 1", len(sent))
	}
}

func TestMatcherFirstMatchWins(t *testing.T) {
	t.Parallel()

	fixture := newMatchFixture(t,
		meadow.Actor{ID: "author"},
		meadow.Actor{ID: "user-1"},
	)
	ctx := context.Background()

	mustSubscribe(t, fixture.cache, meadow.Subscription{Owner: "user-1", Pattern: "release"})
	mustSubscribe(t, fixture.cache, meadow.Subscription{Owner: "user-1", Pattern: "new"})

	if err := fixture.matcher.HandleMessage(ctx, messageEvent("chan-1", "", "author", "new release!")); err != nil {
		t.Fatalf("handle message failed: %v", err)
	}

	sent := fixture.outbound.sentTo("dm-user-1")
	if len(sent) != 1 {
		t.Fatalf("user-1 notifications = %d, want exactly 1", len(sent))
	}
	if sent[0].Control == nil || sent[0].Control.Pattern != "release" {
		t.Fatalf("control = %+v, want first subscribed pattern %q", sent[0].Control, "release")
	}
}

func TestMatcherMatchIsCaseSensitive(t *testing.T) {
	t.Parallel()

	fixture := newMatchFixture(t,
		meadow.Actor{ID: "author"},
		meadow.Actor{ID: "user-1"},
	)
	ctx := context.Background()

	mustSubscribe(t, fixture.cache, meadow.Subscription{Owner: "user-1", Pattern: "Release"})

	if err := fixture.matcher.HandleMessage(ctx, messageEvent("chan-1", "", "author", "new release!")); err != nil {
		t.Fatalf("handle message failed: %v", err)
	}

	if sent := fixture.outbound.sentTo("dm-user-1"); len(sent) != 0 {
		t.Fatalf("user-1 notifications = %d, want 0 for case mismatch", len(sent))
	}
}

func TestMatcherSkipsBotsAndBotAuthors(t *testing.T) {
	t.Parallel()

	fixture := newMatchFixture(t,
		meadow.Actor{ID: "author"},
		meadow.Actor{ID: "bot-1", IsBot: true},
		meadow.Actor{ID: "user-1"},
	)
	ctx := context.Background()

	mustSubscribe(t, fixture.cache, meadow.Subscription{Owner: "bot-1", Pattern: "release"})
	mustSubscribe(t, fixture.cache, meadow.Subscription{Owner: "user-1", Pattern: "release"})

	if err := fixture.matcher.HandleMessage(ctx, messageEvent("chan-1", "", "author", "new release!")); err != nil {
		t.Fatalf("handle message failed: %v", err)
	}
	if sent := fixture.outbound.sentTo("dm-bot-1"); len(sent) != 0 {
		t.Fatalf("bot notifications = %d, want 0", len(sent))
	}

	botMessage := messageEvent("chan-1", "", "bot-2", "another release!")
	botMessage.Actor.IsBot = true
	if err := fixture.matcher.HandleMessage(ctx, botMessage); err != nil {
		t.Fatalf("handle bot message failed: %v", err)
	}
	if sent := fixture.outbound.sentTo("dm-user-1"); len(sent) != 1 {
		t.Fatalf("user-1 notifications = %d, want 1: bot-authored messages are ignored", len(sent))
	}
}

func TestMatcherDispatchFailureDoesNotBlockOtherMembers(t *testing.T) {
	t.Parallel()

	fixture := newMatchFixture(t,
		meadow.Actor{ID: "author"},
		meadow.Actor{ID: "user-1"},
		meadow.Actor{ID: "user-2"},
	)
	ctx := context.Background()

	mustSubscribe(t, fixture.cache, meadow.Subscription{Owner: "user-1", Pattern: "release"})
	mustSubscribe(t, fixture.cache, meadow.Subscription{Owner: "user-2", Pattern: "release"})
	fixture.outbound.failSendFor["dm-user-1"] = errors.New("delivery rejected")

	if err := fixture.matcher.HandleMessage(ctx, messageEvent("chan-1", "", "author", "new release!")); err != nil {
		t.Fatalf("handle message failed: %v", err)
	}

	if sent := fixture.outbound.sentTo("dm-user-2"); len(sent) != 1 {
		t.Fatalf("user-2 notifications = %d, want 1 despite user-1 failure", len(sent))
	}
}

func TestMatcherMembershipFailureIsSurfaced(t *testing.T) {
	t.Parallel()

	fixture := newMatchFixture(t)
	fixture.membership.err = errors.New("channel unavailable")

	err := fixture.matcher.HandleMessage(context.Background(), messageEvent("chan-1", "", "author", "new release!"))
	if err == nil {
		t.Fatal("expected membership failure to surface")
	}
}

func TestNotifierAttachesUnsubscribeControl(t *testing.T) {
	t.Parallel()

	fixture := newMatchFixture(t,
		meadow.Actor{ID: "author"},
		meadow.Actor{ID: "user-1"},
	)
	ctx := context.Background()

	mustSubscribe(t, fixture.cache, meadow.Subscription{Owner: "user-1", Pattern: "release"})

	if err := fixture.matcher.HandleMessage(ctx, messageEvent("chan-1", "", "author", "new release!")); err != nil {
		t.Fatalf("handle message failed: %v", err)
	}

	sent := fixture.outbound.sentTo("dm-user-1")
	if len(sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sent))
	}
	control := sent[0].Control
	if control == nil {
		t.Fatal("notification carries no control")
	}
	if control.Action != meadow.ControlActionUnsubscribe {
		t.Fatalf("control action = %q, want unsubscribe", control.Action)
	}
	if control.OwnerID != "user-1" || control.Pattern != "release" {
		t.Fatalf("control = %+v, want owner user-1 pattern release", control)
	}
}

func TestNotifierControlActivationIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	cache := newTestCache(t, store, 10, 5)
	outbound := newFakeOutbound()
	notifier := newNotifier(quietLogger(), cache, outbound)
	ctx := context.Background()

	mustSubscribe(t, cache, meadow.Subscription{Owner: "user-1", Pattern: "release"})

	event := &meadow.Event{
		ID:         "evt-control",
		Kind:       meadow.EventKindControlActivated,
		OccurredAt: time.Unix(1700000000, 0).UTC(),
		Platform:   meadow.PlatformTelegram,
		Channel:    meadow.Channel{ID: "dm-user-1", Type: meadow.ChannelTypeDirect},
		Actor:      meadow.Actor{ID: "user-1"},
		Control: &meadow.Control{
			ActivationID: "query-1",
			Action:       meadow.ControlActionUnsubscribe,
			OwnerID:      "user-1",
			Pattern:      "release",
			Message: meadow.MessageRef{
				Channel:   meadow.Channel{ID: "dm-user-1", Type: meadow.ChannelTypeDirect},
				MessageID: "sent-1",
			},
		},
	}

	if err := notifier.HandleControl(ctx, event); err != nil {
		t.Fatalf("first activation failed: %v", err)
	}
	// Second activation: the subscription is already gone, still a success.
	if err := notifier.HandleControl(ctx, event); err != nil {
		t.Fatalf("second activation failed: %v", err)
	}

	count, err := store.CountFor(ctx, "user-1")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("store count = %d, want 0", count)
	}
	if len(outbound.cleared) != 2 {
		t.Fatalf("cleared controls = %d, want 2", len(outbound.cleared))
	}
	if len(outbound.acked) != 2 {
		t.Fatalf("acked activations = %d, want 2", len(outbound.acked))
	}
}

func mustSubscribe(t *testing.T, cache *Cache, subscription meadow.Subscription) {
	t.Helper()

	if err := cache.Subscribe(context.Background(), subscription); err != nil {
		t.Fatalf("subscribe %s/%s failed: %v", subscription.Owner, subscription.Pattern, err)
	}
}
