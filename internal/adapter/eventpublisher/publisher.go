// Package eventpublisher composes the in-process event bus with the Redis
// fan-out into a single domain.EventPublisher.
package eventpublisher

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/Lain-inrae/galaxy/internal/adapter/metrics"
	"github.com/Lain-inrae/galaxy/internal/adapter/redis"
	"github.com/Lain-inrae/galaxy/internal/domain"
	"github.com/Lain-inrae/galaxy/internal/events"
)

// EventPublisher implements domain.EventPublisher. Local listeners always
// receive the event; the Redis publish is best effort and never fails the
// state transition that triggered it.
type EventPublisher struct {
	bus        *events.Bus
	userEvents *redis.UserEvents
	clock      clockwork.Clock
}

var _ domain.EventPublisher = (*EventPublisher)(nil)

// New creates an EventPublisher. userEvents may be nil when Redis is not
// configured; events then stay instance-local.
func New(bus *events.Bus, userEvents *redis.UserEvents, clock clockwork.Clock) *EventPublisher {
	return &EventPublisher{bus: bus, userEvents: userEvents, clock: clock}
}

func (ep *EventPublisher) PublishUserChanged(ctx context.Context, user *domain.User) error {
	if err := ep.bus.PublishUserChanged(ctx, user); err != nil {
		return err
	}

	if ep.userEvents != nil {
		event := domain.UserChanged{User: user.Clone(), EmittedAt: ep.clock.Now()}
		if err := ep.userEvents.Publish(ctx, event); err != nil {
			slog.Warn("Failed to publish user change to peers", "error", err)
			metrics.EventFanoutPublishErrors.Inc()
		}
	}
	return nil
}
