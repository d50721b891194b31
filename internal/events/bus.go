// Package events implements the in-process user-change event bus.
//
// Listeners are registered under a name and invoked concurrently on publish.
// Delivery is at-least-once and unordered across listeners: each delivery runs
// in its own goroutine with bounded retry, and failures after the final
// attempt are logged and dropped.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Lain-inrae/galaxy/internal/adapter/metrics"
	"github.com/Lain-inrae/galaxy/internal/domain"
	"github.com/Lain-inrae/galaxy/internal/platform/retry"
)

const (
	defaultDeliveryTimeout = 30 * time.Second
	defaultMaxAttempts     = 3
	defaultInitialBackoff  = 250 * time.Millisecond
)

// ListenerFunc handles a user-change event. A non-nil error triggers a retry
// of this listener only; other listeners are unaffected.
type ListenerFunc func(ctx context.Context, event domain.UserChanged) error

// Bus fans user-change events out to named listeners.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string]ListenerFunc

	clock           clockwork.Clock
	deliveryTimeout time.Duration
	maxAttempts     int
	initialBackoff  time.Duration

	inflight sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithClock replaces the wall clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(b *Bus) { b.clock = clock }
}

// WithDeliveryTimeout bounds how long a single listener delivery may run,
// retries included.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(b *Bus) { b.deliveryTimeout = d }
}

// WithRetry overrides the per-listener retry budget.
func WithRetry(maxAttempts int, initialBackoff time.Duration) Option {
	return func(b *Bus) {
		b.maxAttempts = maxAttempts
		b.initialBackoff = initialBackoff
	}
}

// NewBus creates an event bus with no listeners.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		listeners:       make(map[string]ListenerFunc),
		clock:           clockwork.NewRealClock(),
		deliveryTimeout: defaultDeliveryTimeout,
		maxAttempts:     defaultMaxAttempts,
		initialBackoff:  defaultInitialBackoff,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn under name. Registering the same name twice
// replaces the previous listener.
func (b *Bus) Subscribe(name string, fn ListenerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[name] = fn
}

// PublishUserChanged delivers the event to every registered listener.
// It returns immediately; deliveries run in their own goroutines and are not
// awaited. The user snapshot is copied once so listeners never alias caller
// state.
func (b *Bus) PublishUserChanged(ctx context.Context, user *domain.User) error {
	event := domain.UserChanged{
		User:      user.Clone(),
		EmittedAt: b.clock.Now(),
	}

	b.mu.RLock()
	targets := make(map[string]ListenerFunc, len(b.listeners))
	for name, fn := range b.listeners {
		targets[name] = fn
	}
	b.mu.RUnlock()

	// Deliveries outlive the publishing request.
	base := context.WithoutCancel(ctx)

	for name, fn := range targets {
		b.inflight.Add(1)
		go func(name string, fn ListenerFunc) {
			defer b.inflight.Done()
			b.deliver(base, name, fn, event)
		}(name, fn)
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, name string, fn ListenerFunc, event domain.UserChanged) {
	ctx, cancel := context.WithTimeout(ctx, b.deliveryTimeout)
	defer cancel()

	policy := retry.Policy{
		MaxAttempts:    b.maxAttempts,
		InitialBackoff: b.initialBackoff,
		Clock:          b.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Event delivery failed, retrying",
				"listener", name, "attempt", attempt, "backoff", backoff, "error", err)
			metrics.EventDeliveriesTotal.WithLabelValues(name, "retry").Inc()
		},
	}

	err := retry.Do(ctx, policy, nil, func() error {
		return fn(ctx, event)
	})
	if err != nil {
		slog.Error("Event delivery dropped after retries", "listener", name, "error", err)
		metrics.EventDeliveriesTotal.WithLabelValues(name, "dropped").Inc()
		return
	}
	metrics.EventDeliveriesTotal.WithLabelValues(name, "ok").Inc()
}

// Drain blocks until all in-flight deliveries have settled. Used during
// shutdown and in tests.
func (b *Bus) Drain() {
	b.inflight.Wait()
}
