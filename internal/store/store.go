// Package store persists users, per-category subscription sets and the
// per-category "already notified" sets on SQLite.
package store

import (
	"errors"
	"time"
)

// ErrUserNotFound is returned when an operation references a user id that
// was never registered. Registration precedes every other operation, so
// this is an integrity error, not a user-facing condition.
var ErrUserNotFound = errors.New("user not found")

// ErrSubscriptionLimit is returned when an add would push a user's
// subscription set past the configured maximum. The stored set is left
// unchanged.
var ErrSubscriptionLimit = errors.New("subscription limit exceeded")

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default

	// MaxSubscriptions caps each user's per-category subscription set.
	MaxSubscriptions int
}

// User is one registered chat user.
type User struct {
	ID        int64
	ChatID    int64
	Username  string
	FirstName string
	LastName  string
}
