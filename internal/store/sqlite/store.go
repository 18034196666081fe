// Package sqlite persists keyword subscriptions in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"meadow/pkg/meadow"
)

// Store is a durable meadow.SubscriptionStore backed by SQLite.
// It is suitable for single-process use; the database/sql pool serializes
// writes through the driver.
type Store struct {
	db *sql.DB
}

var _ meadow.SubscriptionStore = (*Store)(nil)

// Open opens (and if needed creates) the subscription database at path.
// Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open subscription store: empty path")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open subscription store: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS subscriptions (
			owner_id TEXT NOT NULL,
			pattern  TEXT NOT NULL,
			scope_id TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (owner_id, pattern)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create subscriptions table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_subscriptions_owner_id
		ON subscriptions(owner_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create owner index: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close subscription store: %w", err)
	}

	return nil
}

// ListFor returns every subscription owned by owner in insertion order.
func (s *Store) ListFor(ctx context.Context, owner string) ([]meadow.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, pattern, scope_id FROM subscriptions
		WHERE owner_id = ?
		ORDER BY rowid
	`, owner)
	if err != nil {
		return nil, storeFailure("list subscriptions", err)
	}
	defer rows.Close()

	var subscriptions []meadow.Subscription
	for rows.Next() {
		var subscription meadow.Subscription
		if err := rows.Scan(&subscription.Owner, &subscription.Pattern, &subscription.Scope); err != nil {
			return nil, storeFailure("scan subscription", err)
		}
		subscriptions = append(subscriptions, subscription)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure("list subscriptions", err)
	}

	return subscriptions, nil
}

// CountFor returns the number of subscriptions owned by owner.
func (s *Store) CountFor(ctx context.Context, owner string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM subscriptions WHERE owner_id = ?
	`, owner).Scan(&count)
	if err != nil {
		return 0, storeFailure("count subscriptions", err)
	}

	return count, nil
}

// Insert persists one subscription. A subscription with the same owner and
// pattern already on record yields meadow.ErrDuplicateSubscription.
func (s *Store) Insert(ctx context.Context, subscription meadow.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (owner_id, pattern, scope_id)
		VALUES (?, ?, ?)
	`, subscription.Owner, subscription.Pattern, subscription.Scope)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert subscription %q: %w", subscription.Pattern, meadow.ErrDuplicateSubscription)
		}
		return storeFailure("insert subscription", err)
	}

	return nil
}

// Delete removes the subscription identified by owner and pattern, reporting
// whether a row was actually removed.
func (s *Store) Delete(ctx context.Context, owner, pattern string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM subscriptions WHERE owner_id = ? AND pattern = ?
	`, owner, pattern)
	if err != nil {
		return false, storeFailure("delete subscription", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, storeFailure("delete subscription", err)
	}

	return affected > 0, nil
}

// DeleteAll removes every subscription owned by owner.
func (s *Store) DeleteAll(ctx context.Context, owner string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM subscriptions WHERE owner_id = ?
	`, owner); err != nil {
		return storeFailure("delete subscriptions", err)
	}

	return nil
}

// storeFailure wraps a database error as an unavailable-store condition so
// callers can match on the sentinel without knowing the driver.
func storeFailure(operation string, err error) error {
	return fmt.Errorf("%s: %w: %w", operation, meadow.ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var driverErr *sqlite.Error
	if !errors.As(err, &driverErr) {
		return false
	}

	return driverErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		driverErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
