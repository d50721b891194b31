package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Lain-inrae/galaxy/internal/domain"
)

// userChangedChannel carries user-change events across instances so peers
// can refresh their history caches after a login elsewhere.
const userChangedChannel = "session:user_changed"

// wireEvent is the pub/sub payload. Origin identifies the publishing
// instance so a subscriber can drop its own echoes (every instance both
// publishes and subscribes on the same channel).
type wireEvent struct {
	Origin string             `json:"origin"`
	Event  domain.UserChanged `json:"event"`
}

// UserEvents publishes and subscribes user-change events via Redis Pub/Sub.
type UserEvents struct {
	rdb        *goredis.Client
	instanceID string
}

func NewUserEvents(client *Client) *UserEvents {
	return &UserEvents{rdb: client.rdb, instanceID: uuid.NewString()}
}

// Publish sends a user-change event to peer instances. Best effort: a failed
// publish is counted but never fails the caller's state transition.
func (ue *UserEvents) Publish(ctx context.Context, event domain.UserChanged) error {
	data, err := ue.encode(event)
	if err != nil {
		return err
	}
	if err := ue.rdb.Publish(ctx, userChangedChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish user change: %w", err)
	}
	return nil
}

func (ue *UserEvents) encode(event domain.UserChanged) ([]byte, error) {
	data, err := json.Marshal(wireEvent{Origin: ue.instanceID, Event: event})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user change: %w", err)
	}
	return data, nil
}

// decode parses a pub/sub payload. self reports whether this instance
// published the message itself; such echoes already ran through the local
// bus and must not be delivered twice.
func (ue *UserEvents) decode(payload []byte) (event domain.UserChanged, self bool, err error) {
	var wire wireEvent
	if err := json.Unmarshal(payload, &wire); err != nil {
		return domain.UserChanged{}, false, fmt.Errorf("failed to unmarshal user change: %w", err)
	}
	return wire.Event, wire.Origin == ue.instanceID, nil
}

// Subscription is an active subscription to peer user-change events.
type Subscription struct {
	sub    *goredis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// Close unsubscribes and waits for the reader goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	_ = s.sub.Close()
	<-s.done
}

// Subscribe listens for peer user-change events and forwards each to handle.
// Self-originated and malformed payloads are skipped.
func (ue *UserEvents) Subscribe(ctx context.Context, handle func(ctx context.Context, event domain.UserChanged)) *Subscription {
	sub := ue.rdb.Subscribe(ctx, userChangedChannel)

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		msgCh := sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				event, self, err := ue.decode([]byte(msg.Payload))
				if err != nil {
					slog.Warn("Failed to unmarshal user change event", "error", err)
					continue
				}
				if self {
					continue
				}
				handle(subCtx, event)
			case <-subCtx.Done():
				return
			}
		}
	}()

	return &Subscription{sub: sub, cancel: cancel, done: done}
}
