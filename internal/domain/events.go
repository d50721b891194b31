package domain

import (
	"context"
	"time"
)

// UserChanged is emitted after the session store replaces its current user.
// The user snapshot is a copy; listeners may hold it without aliasing store
// state. EmittedAt is informational (listener ordering is undefined).
type UserChanged struct {
	User      *User     `json:"user"`
	EmittedAt time.Time `json:"emitted_at"`
}

// EventPublisher delivers user-change notifications to interested listeners.
// Delivery is at-least-once and unordered across listeners; the publisher
// never blocks the caller on listener completion.
type EventPublisher interface {
	PublishUserChanged(ctx context.Context, user *User) error
}
