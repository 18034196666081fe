package keywords

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"meadow/pkg/meadow"
)

// commands turns subscribe/unsubscribe/list requests into cache operations and
// replies in the channel the command was issued from.
type commands struct {
	logger   *slog.Logger
	cache    *Cache
	outbound meadow.Outbound
}

func newCommands(logger *slog.Logger, cache *Cache, outbound meadow.Outbound) *commands {
	return &commands{
		logger:   logger,
		cache:    cache,
		outbound: outbound,
	}
}

// HandleSubscribe registers a new pattern for the requesting account.
// Pattern length is validated here, at the command boundary; the cache and
// store check only uniqueness and capacity.
func (c *commands) HandleSubscribe(ctx context.Context, event *meadow.Event) error {
	request := event.Command

	if err := meadow.ValidatePattern(request.Pattern); err != nil {
		return c.reply(ctx, event, fmt.Sprintf(
			"Input must be within %d and %d characters in length.",
			meadow.PatternMinLength, meadow.PatternMaxLength,
		))
	}

	err := c.cache.Subscribe(ctx, meadow.Subscription{
		Owner:   event.Actor.ID,
		Pattern: request.Pattern,
		Scope:   request.ScopeID,
	})
	switch {
	case err == nil:
		text := fmt.Sprintf("Subscribed to %q", request.Pattern)
		if request.ScopeID != "" {
			text += " in " + request.ScopeID
		}
		return c.reply(ctx, event, text+"!")
	case errors.Is(err, meadow.ErrDuplicateSubscription):
		return c.reply(ctx, event, fmt.Sprintf("You are already subscribed to %q.", request.Pattern))
	case errors.Is(err, meadow.ErrCapacityExceeded):
		return c.reply(ctx, event, fmt.Sprintf(
			"Could not subscribe to %q, you reached the maximum of %d subscriptions.",
			request.Pattern, c.cache.MaxPerAccount(),
		))
	default:
		c.logger.ErrorContext(ctx, "subscribe command failed", "owner_id", event.Actor.ID, "error", err)
		return c.reply(ctx, event, "Could not subscribe right now, please try again later.")
	}
}

// HandleUnsubscribe removes one pattern, or every pattern when the request
// carries none.
func (c *commands) HandleUnsubscribe(ctx context.Context, event *meadow.Event) error {
	request := event.Command

	if request.Pattern == "" {
		if err := c.cache.UnsubscribeAll(ctx, event.Actor.ID); err != nil {
			c.logger.ErrorContext(ctx, "unsubscribe command failed", "owner_id", event.Actor.ID, "error", err)
			return c.reply(ctx, event, "Could not unsubscribe right now, please try again later.")
		}
		return c.reply(ctx, event, "Unsubscribed from all patterns!")
	}

	err := c.cache.Unsubscribe(ctx, event.Actor.ID, request.Pattern)
	switch {
	case err == nil:
		return c.reply(ctx, event, fmt.Sprintf("Unsubscribed from %q!", request.Pattern))
	case errors.Is(err, meadow.ErrNotSubscribed):
		return c.reply(ctx, event, fmt.Sprintf("You are not subscribed to %q.", request.Pattern))
	default:
		c.logger.ErrorContext(ctx, "unsubscribe command failed", "owner_id", event.Actor.ID, "error", err)
		return c.reply(ctx, event, "Could not unsubscribe right now, please try again later.")
	}
}

// HandleList replies with the requesting account's current patterns.
func (c *commands) HandleList(ctx context.Context, event *meadow.Event) error {
	subscriptions, err := c.cache.For(ctx, event.Actor.ID)
	if err != nil {
		c.logger.ErrorContext(ctx, "list command failed", "owner_id", event.Actor.ID, "error", err)
		return c.reply(ctx, event, "Could not load your subscriptions right now, please try again later.")
	}
	if len(subscriptions) == 0 {
		return c.reply(ctx, event, "You have no subscriptions.")
	}

	var builder strings.Builder
	builder.WriteString("Your subscriptions:")
	for _, subscription := range subscriptions {
		builder.WriteString("\n- ")
		builder.WriteString(subscription.Pattern)
		if subscription.Scope != "" {
			builder.WriteString(" (in ")
			builder.WriteString(subscription.Scope)
			builder.WriteString(")")
		}
	}

	return c.reply(ctx, event, builder.String())
}

func (c *commands) reply(ctx context.Context, event *meadow.Event, text string) error {
	request := meadow.SendRequest{
		Channel:            event.Channel,
		Text:               text,
		DisableLinkPreview: true,
	}
	if event.Message != nil {
		request.ReplyToMessageID = event.Message.ID
	}

	if _, err := c.outbound.SendMessage(ctx, request); err != nil {
		return fmt.Errorf("reply to command: %w", err)
	}

	return nil
}
