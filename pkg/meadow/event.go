package meadow

import (
	"context"
	"fmt"
	"time"
)

// EventKind identifies a neutral inbound event type.
type EventKind string

const (
	// EventKindMessageCreated is emitted when a member posts a new message.
	EventKindMessageCreated EventKind = "message.created"
	// EventKindSubscribeRequested is emitted when a member issues a subscribe command.
	EventKindSubscribeRequested EventKind = "command.subscribe"
	// EventKindUnsubscribeRequested is emitted when a member issues an unsubscribe command.
	EventKindUnsubscribeRequested EventKind = "command.unsubscribe"
	// EventKindListRequested is emitted when a member asks for their subscription list.
	EventKindListRequested EventKind = "command.subscriptions"
	// EventKindControlActivated is emitted when a member activates an inline control
	// attached to a delivered notification.
	EventKindControlActivated EventKind = "control.activated"
)

// Platform identifies an external chat platform source.
type Platform string

const (
	// PlatformTelegram is Telegram.
	PlatformTelegram Platform = "telegram"
)

// ChannelType identifies conversation scope.
type ChannelType string

const (
	// ChannelTypeDirect is a direct/private conversation.
	ChannelTypeDirect ChannelType = "direct"
	// ChannelTypeGroup is a group conversation.
	ChannelTypeGroup ChannelType = "group"
	// ChannelTypeChannel is a broadcast-style channel.
	ChannelTypeChannel ChannelType = "channel"
)

// Channel identifies where an event happened.
type Channel struct {
	// ID is the stable channel identifier on the source platform.
	ID string
	// ParentID is the parent category/topic identifier when the platform has one.
	ParentID string
	// Type describes the conversation scope.
	Type ChannelType
	// Title is a best-effort display label.
	Title string
}

// Actor identifies the account that initiated an event.
type Actor struct {
	// ID is the stable account identifier on the source platform.
	ID string
	// Username is the platform handle when available.
	Username string
	// DisplayName is the human-readable account name.
	DisplayName string
	// ProfileLink is a URL to the account's profile when the platform has one.
	ProfileLink string
	// IsBot reports whether the account is an automated account.
	IsBot bool
}

// Message holds neutral message content.
type Message struct {
	// ID is the message identifier on the source platform.
	ID string
	// Text is the message text body.
	Text string
	// Link is a URL back to the original message when the platform has one.
	Link string
}

// CommandRequest carries the payload of a subscribe/unsubscribe/list command.
type CommandRequest struct {
	// Pattern is the requested keyword/phrase. Empty for bare unsubscribe
	// (clear everything) and for list requests.
	Pattern string
	// ScopeID optionally restricts a subscription to one channel or category.
	ScopeID string
}

// ControlAction identifies what an inline control does when activated.
type ControlAction string

const (
	// ControlActionUnsubscribe removes one (owner, pattern) subscription.
	ControlActionUnsubscribe ControlAction = "unsubscribe"
)

// MessageRef points at one delivered message for later mutation.
type MessageRef struct {
	// Channel identifies the conversation holding the message.
	Channel Channel
	// MessageID identifies the message inside the conversation.
	MessageID string
}

// Control carries the payload of an activated inline control.
type Control struct {
	// ActivationID is the platform token for this activation, used to
	// acknowledge receipt back to the platform. Empty when the platform
	// needs no acknowledgement.
	ActivationID string
	// Action identifies the control behavior.
	Action ControlAction
	// OwnerID is the account the control is bound to.
	OwnerID string
	// Pattern is the subscription pattern the control is bound to.
	Pattern string
	// Message points at the notification carrying the control.
	Message MessageRef
}

// Event is the neutral envelope that the platform driver publishes and the
// keywords pipeline consumes. Message, Command, and Control are payload
// branches selected by Kind.
type Event struct {
	// ID is a stable identifier for this event instance.
	ID string
	// Kind selects which payload branch is expected.
	Kind EventKind
	// OccurredAt is the source-platform timestamp for the event.
	OccurredAt time.Time
	// Platform identifies the upstream platform that produced the event.
	Platform Platform
	// Channel identifies where the event happened.
	Channel Channel
	// Actor identifies who initiated the event.
	Actor Actor
	// Message carries message content for message events.
	Message *Message
	// Command carries subscribe/unsubscribe payloads for command events.
	Command *CommandRequest
	// Control carries inline-control payloads for control events.
	Control *Control
}

// Validate checks event envelope and payload coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.Actor.ID == "" {
		return fmt.Errorf("%w: missing actor id", ErrInvalidEvent)
	}

	return validatePayloadByKind(e)
}

// validatePayloadByKind enforces payload branch requirements for each event kind.
func validatePayloadByKind(e *Event) error {
	switch e.Kind {
	case EventKindMessageCreated:
		if e.Message == nil {
			return fmt.Errorf("%w: message.created requires message payload", ErrInvalidEvent)
		}
		if e.Channel.ID == "" {
			return fmt.Errorf("%w: message.created requires channel id", ErrInvalidEvent)
		}
	case EventKindSubscribeRequested, EventKindUnsubscribeRequested, EventKindListRequested:
		if e.Command == nil {
			return fmt.Errorf("%w: command event requires command payload", ErrInvalidEvent)
		}
	case EventKindControlActivated:
		if e.Control == nil {
			return fmt.Errorf("%w: control event requires control payload", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}

// EventHandler processes a single neutral event.
type EventHandler func(ctx context.Context, event *Event) error
