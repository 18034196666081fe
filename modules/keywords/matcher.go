package keywords

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"meadow/pkg/meadow"
)

// matcher evaluates one inbound message against the subscriptions of every
// member able to see it.
type matcher struct {
	logger     *slog.Logger
	cache      *Cache
	membership meadow.MembershipProvider
	notifier   *notifier
}

func newMatcher(logger *slog.Logger, cache *Cache, membership meadow.MembershipProvider, notifier *notifier) *matcher {
	return &matcher{
		logger:     logger,
		cache:      cache,
		membership: membership,
		notifier:   notifier,
	}
}

// HandleMessage runs the match pass for one posted message.
//
// Each member other than the author is checked independently: the first
// in-scope pattern contained in the message text wins, so a member receives
// at most one notification per message. A failure while checking or notifying
// one member never aborts the pass for the rest.
func (m *matcher) HandleMessage(ctx context.Context, event *meadow.Event) error {
	if event.Message == nil || event.Message.Text == "" {
		return nil
	}
	if event.Actor.IsBot {
		return nil
	}

	members, err := m.membership.ListMembers(ctx, event.Channel.ID)
	if err != nil {
		return fmt.Errorf("match message %s: %w", event.Message.ID, err)
	}

	for _, member := range members {
		if member.IsBot || member.ID == event.Actor.ID {
			continue
		}
		m.evaluateMember(ctx, event, member)
	}

	return nil
}

// evaluateMember finds the member's first matching subscription and hands it
// to the notifier.
func (m *matcher) evaluateMember(ctx context.Context, event *meadow.Event, member meadow.Actor) {
	subscriptions, err := m.cache.For(ctx, member.ID)
	if err != nil {
		m.logger.WarnContext(ctx, "skipping member in match pass",
			"member_id", member.ID,
			"message_id", event.Message.ID,
			"error", err,
		)
		return
	}

	for _, subscription := range subscriptions {
		if !subscription.InScope(event.Channel.ID, event.Channel.ParentID) {
			continue
		}
		if !strings.Contains(event.Message.Text, subscription.Pattern) {
			continue
		}

		if err := m.notifier.Notify(ctx, member, subscription.Pattern, event); err != nil {
			m.logger.WarnContext(ctx, "keyword notification failed",
				"member_id", member.ID,
				"message_id", event.Message.ID,
				"error", err,
			)
		}
		return
	}
}
