package meadow

import "errors"

var (
	// ErrInvalidEvent indicates that an event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("meadow: invalid event")
	// ErrInvalidPattern indicates a pattern outside the allowed length bounds.
	ErrInvalidPattern = errors.New("meadow: invalid pattern")
	// ErrDuplicateSubscription indicates an (owner, pattern) pair that already exists.
	ErrDuplicateSubscription = errors.New("meadow: duplicate subscription")
	// ErrCapacityExceeded indicates an owner at their subscription limit.
	ErrCapacityExceeded = errors.New("meadow: subscription capacity exceeded")
	// ErrNotSubscribed indicates an unsubscribe for a pattern the owner never had.
	ErrNotSubscribed = errors.New("meadow: not subscribed")
	// ErrStoreUnavailable indicates an underlying storage I/O failure.
	ErrStoreUnavailable = errors.New("meadow: subscription store unavailable")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("meadow: event dropped due to backpressure")
	// ErrDispatcherClosed indicates the dispatcher no longer accepts events.
	ErrDispatcherClosed = errors.New("meadow: dispatcher closed")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("meadow: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("meadow: service not found")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("meadow: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("meadow: driver already registered")
)
