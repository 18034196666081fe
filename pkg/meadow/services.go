package meadow

import (
	"context"
	"fmt"
)

// Canonical service registry keys shared across modules and wiring code.
const (
	// ServiceLogger is the registry key for the process-wide structured logger.
	ServiceLogger = "meadow.logger"
	// ServiceSubscriptionStore is the registry key for durable subscription storage.
	ServiceSubscriptionStore = "meadow.subscription_store"
	// ServiceSubscriptions is the registry key for the bounded subscription cache.
	ServiceSubscriptions = "meadow.subscriptions"
	// ServiceOutbound is the registry key for outbound platform messaging.
	ServiceOutbound = "meadow.outbound"
	// ServiceMembership is the registry key for channel membership lookup.
	ServiceMembership = "meadow.membership"
)

// ServiceRegistry provides named singleton lookup for module dependencies.
type ServiceRegistry interface {
	// Register registers a named service singleton.
	Register(name string, service any) error
	// Resolve returns a registered named service.
	Resolve(name string) (any, error)
}

// ResolveAs resolves a named service and asserts its concrete capability type.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T
	if registry == nil {
		return zero, fmt.Errorf("resolve service %s: nil registry", name)
	}

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, err
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: unexpected type %T", name, service)
	}

	return typed, nil
}

// MembershipProvider lists accounts able to see a channel.
type MembershipProvider interface {
	// ListMembers returns the members visible in one channel. Implementations
	// may include bot accounts; the match pipeline filters them out.
	ListMembers(ctx context.Context, channelID string) ([]Actor, error)
}

// ControlSpec describes one interactive control attached to an outbound message.
type ControlSpec struct {
	// Label is the user-visible control label.
	Label string
	// Action identifies control behavior on activation.
	Action ControlAction
	// OwnerID binds the control to one account.
	OwnerID string
	// Pattern binds the control to one subscription pattern.
	Pattern string
}

// SendRequest describes one outbound text message.
type SendRequest struct {
	// Channel identifies where the message should be sent.
	Channel Channel
	// Text is the message body.
	Text string
	// ReplyToMessageID optionally links this message as a reply.
	ReplyToMessageID string
	// DisableLinkPreview disables link previews when the platform supports it.
	DisableLinkPreview bool
	// Control optionally attaches a single interactive control.
	Control *ControlSpec
}

// Validate checks the request envelope before dispatch.
func (r SendRequest) Validate() error {
	if r.Channel.ID == "" {
		return fmt.Errorf("validate send request: missing channel id")
	}
	if r.Channel.Type == "" {
		return fmt.Errorf("validate send request: missing channel type")
	}
	if r.Text == "" {
		return fmt.Errorf("validate send request: missing message text")
	}
	if r.Control != nil {
		if r.Control.Action == "" {
			return fmt.Errorf("validate send request: missing control action")
		}
		if r.Control.Pattern == "" {
			return fmt.Errorf("validate send request: missing control pattern")
		}
	}

	return nil
}

// SentMessage identifies a message successfully delivered by the outbound port.
type SentMessage struct {
	// ID is the destination-platform message identifier.
	ID string
	// Channel is the destination where the message was delivered.
	Channel Channel
}

// Outbound is the platform messaging capability the keyword pipeline consumes.
//
// Implementations own transport mechanics; these operations carry only
// protocol-level semantics.
type Outbound interface {
	// SendMessage delivers one outbound message.
	SendMessage(ctx context.Context, request SendRequest) (*SentMessage, error)
	// ClearControls strips every interactive control from a delivered message.
	// Clearing a message that has no controls left is not an error.
	ClearControls(ctx context.Context, ref MessageRef) error
	// AckControl acknowledges receipt of a control activation so the platform
	// can stop its pending-action indicator. An expired or already-acknowledged
	// activation is not an error.
	AckControl(ctx context.Context, activationID string) error
	// EnsureDirect returns a direct conversation with one account, creating it
	// when absent. Safe to call when one already exists.
	EnsureDirect(ctx context.Context, userID string) (Channel, error)
}

// EventSink accepts neutral events for dispatching into the kernel.
type EventSink interface {
	// Publish submits an event to downstream handlers.
	Publish(ctx context.Context, event *Event) error
}

// Driver adapts an external platform into neutral events.
//
// Drivers own transport/session concerns and must publish only meadow.Event.
type Driver interface {
	// Name returns a stable driver identifier.
	Name() string
	// Start starts consuming platform updates and publishing neutral events.
	// It should return only after context cancellation or fatal error.
	Start(ctx context.Context, sink EventSink) error
	// Shutdown stops external resources that are not tied to Start context alone.
	Shutdown(ctx context.Context) error
}

// HandlerBinding declares interest in a set of event kinds.
type HandlerBinding struct {
	// Name is a stable binding identifier used in logs and errors.
	Name string
	// Kinds selects which event kinds reach Handler.
	Kinds []EventKind
	// Handler processes matching events.
	Handler EventHandler
}

// Module is a lifecycle-aware feature plugin.
//
// Modules must be concurrency-safe because handlers can run on multiple
// dispatcher workers.
type Module interface {
	// Name returns a stable module identifier.
	Name() string
	// OnRegister resolves dependencies and registers provided services.
	OnRegister(ctx context.Context, services ServiceRegistry) error
	// Bindings returns the dispatch-table rows owned by this module.
	// It is called after OnRegister.
	Bindings() []HandlerBinding
	// OnStart is called when the kernel begins runtime execution.
	OnStart(ctx context.Context) error
	// OnShutdown is called during orderly shutdown.
	OnShutdown(ctx context.Context) error
}
