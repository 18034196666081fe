// Package keywords implements keyword/phrase subscription notifications.
//
// Accounts register interest in patterns, optionally scoped to one channel or
// its parent category. Every posted message is matched against the
// subscriptions of the members able to see it: matching is case-sensitive
// substring containment, the first matching pattern wins per member, and each
// member is notified at most once per message through a private message
// carrying an inline unsubscribe control.
//
// Subscriptions live in a durable store fronted by a bounded FIFO cache keyed
// by owner. The cache is write-through: completed writes for a resident owner
// are always reflected in the cached list.
package keywords
