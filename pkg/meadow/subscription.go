package meadow

import (
	"context"
	"fmt"
	"unicode/utf8"
)

const (
	// PatternMinLength is the minimum accepted pattern length in runes.
	PatternMinLength = 3
	// PatternMaxLength is the maximum accepted pattern length in runes.
	PatternMaxLength = 30
)

// Subscription is one (owner, pattern, scope) interest registration.
//
// A subscription is created whole and never mutated; changing scope requires
// unsubscribe followed by resubscribe.
type Subscription struct {
	// Owner is the account that owns this subscription.
	Owner string
	// Pattern is the subscribed keyword/phrase, matched by substring containment.
	Pattern string
	// Scope optionally restricts matching to one channel or its parent category.
	// Empty means the pattern matches in every visible channel.
	Scope string
}

// InScope reports whether this subscription applies to a message posted in
// channelID under parentID. Unscoped subscriptions apply everywhere.
func (s Subscription) InScope(channelID, parentID string) bool {
	if s.Scope == "" {
		return true
	}

	return s.Scope == channelID || (parentID != "" && s.Scope == parentID)
}

// ValidatePattern checks pattern length bounds at the command boundary.
// Storage and cache layers re-check only uniqueness and capacity.
func ValidatePattern(pattern string) error {
	length := utf8.RuneCountInString(pattern)
	if length < PatternMinLength || length > PatternMaxLength {
		return fmt.Errorf(
			"%w: length must be within %d and %d characters",
			ErrInvalidPattern,
			PatternMinLength,
			PatternMaxLength,
		)
	}

	return nil
}

// SubscriptionStore is durable keyed storage for subscriptions; the
// authoritative state behind the bounded cache.
type SubscriptionStore interface {
	// ListFor returns all subscriptions for an owner in storage order.
	ListFor(ctx context.Context, owner string) ([]Subscription, error)
	// CountFor returns the current subscription count for capacity checks.
	CountFor(ctx context.Context, owner string) (int, error)
	// Insert adds one record. It fails with ErrDuplicateSubscription when the
	// (owner, pattern) pair already exists.
	Insert(ctx context.Context, subscription Subscription) error
	// Delete removes exactly one (owner, pattern) record. deleted is false
	// when no such record existed.
	Delete(ctx context.Context, owner, pattern string) (deleted bool, err error)
	// DeleteAll removes every record for one owner.
	DeleteAll(ctx context.Context, owner string) error
}
