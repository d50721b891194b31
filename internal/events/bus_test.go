package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lain-inrae/galaxy/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.UserChanged
}

func (r *recorder) listen(_ context.Context, event domain.UserChanged) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testUser() *domain.User {
	return &domain.User{ID: uuid.New(), Username: "jane", Preferences: map[string]string{}}
}

func TestPublishUserChanged_DeliversToAllListeners(t *testing.T) {
	bus := NewBus(WithRetry(1, time.Millisecond))
	first := &recorder{}
	second := &recorder{}
	bus.Subscribe("first", first.listen)
	bus.Subscribe("second", second.listen)

	require.NoError(t, bus.PublishUserChanged(context.Background(), testUser()))
	bus.Drain()

	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())
}

func TestPublishUserChanged_ListenersReceiveACopy(t *testing.T) {
	bus := NewBus(WithRetry(1, time.Millisecond))
	received := make(chan *domain.User, 1)
	bus.Subscribe("probe", func(_ context.Context, event domain.UserChanged) error {
		received <- event.User
		return nil
	})

	user := testUser()
	require.NoError(t, bus.PublishUserChanged(context.Background(), user))
	bus.Drain()

	got := <-received
	assert.NotSame(t, user, got)
	assert.Equal(t, user.ID, got.ID)
}

func TestPublishUserChanged_FailingListenerRetries(t *testing.T) {
	bus := NewBus(WithRetry(3, time.Millisecond))
	var mu sync.Mutex
	attempts := 0
	bus.Subscribe("flaky", func(_ context.Context, _ domain.UserChanged) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})

	require.NoError(t, bus.PublishUserChanged(context.Background(), testUser()))
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestPublishUserChanged_DropsAfterRetryBudget(t *testing.T) {
	bus := NewBus(WithRetry(2, time.Millisecond))
	var mu sync.Mutex
	attempts := 0
	bus.Subscribe("broken", func(_ context.Context, _ domain.UserChanged) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return fmt.Errorf("permanent")
	})

	// The drop is logged, never surfaced to the publisher.
	require.NoError(t, bus.PublishUserChanged(context.Background(), testUser()))
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestPublishUserChanged_OneListenerFailureDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(WithRetry(1, time.Millisecond))
	healthy := &recorder{}
	bus.Subscribe("broken", func(_ context.Context, _ domain.UserChanged) error {
		return fmt.Errorf("always fails")
	})
	bus.Subscribe("healthy", healthy.listen)

	require.NoError(t, bus.PublishUserChanged(context.Background(), testUser()))
	bus.Drain()

	assert.Equal(t, 1, healthy.count())
}

func TestPublishUserChanged_SurvivesCallerContextCancel(t *testing.T) {
	bus := NewBus(WithRetry(1, time.Millisecond))
	delivered := make(chan struct{})
	bus.Subscribe("slow", func(_ context.Context, _ domain.UserChanged) error {
		close(delivered)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bus.PublishUserChanged(ctx, testUser()))
	cancel()

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery did not survive caller cancellation")
	}
	bus.Drain()
}

func TestSubscribe_SameNameReplacesListener(t *testing.T) {
	bus := NewBus(WithRetry(1, time.Millisecond))
	old := &recorder{}
	replacement := &recorder{}
	bus.Subscribe("history.current", old.listen)
	bus.Subscribe("history.current", replacement.listen)

	require.NoError(t, bus.PublishUserChanged(context.Background(), testUser()))
	bus.Drain()

	assert.Equal(t, 0, old.count())
	assert.Equal(t, 1, replacement.count())
}
