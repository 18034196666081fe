package keywords

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"meadow/pkg/meadow"
)

const unsubscribeControlLabel = "Unsubscribe"

// notifier delivers keyword matches as private messages carrying an inline
// unsubscribe control, and handles activations of that control.
type notifier struct {
	logger   *slog.Logger
	cache    *Cache
	outbound meadow.Outbound
}

func newNotifier(logger *slog.Logger, cache *Cache, outbound meadow.Outbound) *notifier {
	return &notifier{
		logger:   logger,
		cache:    cache,
		outbound: outbound,
	}
}

// Notify sends one private notification for a matched pattern.
func (n *notifier) Notify(ctx context.Context, member meadow.Actor, pattern string, event *meadow.Event) error {
	direct, err := n.outbound.EnsureDirect(ctx, member.ID)
	if err != nil {
		return fmt.Errorf("notify %s: %w", member.ID, err)
	}

	request := meadow.SendRequest{
		Channel:            direct,
		Text:               notificationText(event),
		DisableLinkPreview: true,
		Control: &meadow.ControlSpec{
			Label:   unsubscribeControlLabel,
			Action:  meadow.ControlActionUnsubscribe,
			OwnerID: member.ID,
			Pattern: pattern,
		},
	}
	if _, err := n.outbound.SendMessage(ctx, request); err != nil {
		return fmt.Errorf("notify %s: %w", member.ID, err)
	}

	n.logger.DebugContext(ctx, "keyword notification delivered",
		"member_id", member.ID,
		"pattern", pattern,
		"message_id", event.Message.ID,
	)

	return nil
}

// HandleControl processes an activated unsubscribe control. The subscription
// may already be gone when the control fires, so a missing record counts as
// success; the control is stripped from the notification either way.
func (n *notifier) HandleControl(ctx context.Context, event *meadow.Event) error {
	control := event.Control
	if control.Action != meadow.ControlActionUnsubscribe {
		return nil
	}

	// Acknowledge first so the platform stops its pending indicator; the
	// activation itself proceeds regardless of ack delivery.
	if control.ActivationID != "" {
		if err := n.outbound.AckControl(ctx, control.ActivationID); err != nil {
			n.logger.WarnContext(ctx, "control acknowledgement failed",
				"activation_id", control.ActivationID,
				"error", err,
			)
		}
	}

	err := n.cache.Unsubscribe(ctx, control.OwnerID, control.Pattern)
	if err != nil && !errors.Is(err, meadow.ErrNotSubscribed) {
		return fmt.Errorf("handle unsubscribe control: %w", err)
	}

	if err := n.outbound.ClearControls(ctx, control.Message); err != nil {
		return fmt.Errorf("handle unsubscribe control: %w", err)
	}

	return nil
}

// notificationText renders the private notification body: who posted, what
// they said, and a link back to the original message when one exists.
func notificationText(event *meadow.Event) string {
	var builder strings.Builder

	author := event.Actor.DisplayName
	if author == "" {
		author = event.Actor.Username
	}
	if author == "" {
		author = event.Actor.ID
	}
	builder.WriteString(author)
	if event.Actor.ProfileLink != "" {
		builder.WriteString(" (")
		builder.WriteString(event.Actor.ProfileLink)
		builder.WriteString(")")
	}
	builder.WriteString(":\n")
	builder.WriteString(event.Message.Text)
	if event.Message.Link != "" {
		builder.WriteString("\n\n")
		builder.WriteString(event.Message.Link)
	}

	return builder.String()
}
