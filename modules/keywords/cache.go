package keywords

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"meadow/pkg/meadow"
)

// Cache is a bounded owner-keyed write-through projection of the subscription
// store. Residency is FIFO by first load, not LRU: re-reading a resident owner
// never refreshes its eviction position.
//
// A single mutex serializes the count-check/insert/cache-mutate sequence and
// the eviction bookkeeping, so capacity and coherence hold even when dispatch
// workers touch the same owner concurrently.
type Cache struct {
	store             meadow.SubscriptionStore
	maxCachedAccounts int
	maxPerAccount     int

	mu        sync.Mutex
	residents map[string][]meadow.Subscription
	order     []string
}

// NewCache creates a bounded subscription cache over store.
// maxCachedAccounts must be at least 2 and maxPerAccount at least 1.
func NewCache(store meadow.SubscriptionStore, maxCachedAccounts, maxPerAccount int) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("new subscription cache: nil store")
	}
	if maxCachedAccounts < 2 {
		return nil, fmt.Errorf("new subscription cache: maxCachedAccounts %d, need at least 2", maxCachedAccounts)
	}
	if maxPerAccount < 1 {
		return nil, fmt.Errorf("new subscription cache: maxPerAccount %d, need at least 1", maxPerAccount)
	}

	return &Cache{
		store:             store,
		maxCachedAccounts: maxCachedAccounts,
		maxPerAccount:     maxPerAccount,
		residents:         make(map[string][]meadow.Subscription),
	}, nil
}

// MaxPerAccount returns the per-owner subscription capacity.
func (c *Cache) MaxPerAccount() int {
	return c.maxPerAccount
}

// For returns owner's subscriptions, loading through the store on a residency
// miss. Admitting a new owner enforces the residency bound after insertion:
// when the resident count reaches maxCachedAccounts, the single oldest
// resident is evicted.
func (c *Cache) For(ctx context.Context, owner string) ([]meadow.Subscription, error) {
	if owner == "" {
		return nil, fmt.Errorf("cache for: empty owner")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, resident := c.residents[owner]; resident {
		return slices.Clone(cached), nil
	}

	loaded, err := c.store.ListFor(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("cache for %s: %w", owner, err)
	}

	c.residents[owner] = loaded
	c.order = append(c.order, owner)
	if len(c.order) >= c.maxCachedAccounts {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.residents, oldest)
	}

	return slices.Clone(loaded), nil
}

// Subscribe registers one (owner, pattern, scope) interest. The store count is
// checked first; at or above maxPerAccount the call fails with
// ErrCapacityExceeded and writes nothing. A successful insert updates the
// cached list only when the owner is already resident — writes never admit an
// absent owner.
func (c *Cache) Subscribe(ctx context.Context, subscription meadow.Subscription) error {
	if subscription.Owner == "" {
		return fmt.Errorf("subscribe: empty owner")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	count, err := c.store.CountFor(ctx, subscription.Owner)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subscription.Owner, err)
	}
	if count >= c.maxPerAccount {
		return fmt.Errorf("subscribe %s: %w: at most %d patterns", subscription.Owner, meadow.ErrCapacityExceeded, c.maxPerAccount)
	}

	if err := c.store.Insert(ctx, subscription); err != nil {
		return fmt.Errorf("subscribe %s: %w", subscription.Owner, err)
	}

	if cached, resident := c.residents[subscription.Owner]; resident {
		c.residents[subscription.Owner] = append(cached, subscription)
	}

	return nil
}

// Unsubscribe removes one (owner, pattern) subscription, failing with
// ErrNotSubscribed when no such record exists.
func (c *Cache) Unsubscribe(ctx context.Context, owner, pattern string) error {
	if owner == "" {
		return fmt.Errorf("unsubscribe: empty owner")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deleted, err := c.store.Delete(ctx, owner, pattern)
	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", owner, err)
	}
	if !deleted {
		return fmt.Errorf("unsubscribe %s: pattern %q: %w", owner, pattern, meadow.ErrNotSubscribed)
	}

	if cached, resident := c.residents[owner]; resident {
		c.residents[owner] = slices.DeleteFunc(cached, func(subscription meadow.Subscription) bool {
			return subscription.Pattern == pattern
		})
	}

	return nil
}

// UnsubscribeAll clears every subscription for owner and fully evicts the
// owner from residency rather than leaving an empty cached list.
func (c *Cache) UnsubscribeAll(ctx context.Context, owner string) error {
	if owner == "" {
		return fmt.Errorf("unsubscribe all: empty owner")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.DeleteAll(ctx, owner); err != nil {
		return fmt.Errorf("unsubscribe all %s: %w", owner, err)
	}

	if _, resident := c.residents[owner]; resident {
		delete(c.residents, owner)
		c.order = slices.DeleteFunc(c.order, func(resident string) bool {
			return resident == owner
		})
	}

	return nil
}
