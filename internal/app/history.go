package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Lain-inrae/galaxy/internal/domain"
	"github.com/Lain-inrae/galaxy/internal/events"
)

// Listener names registered on the event bus. The two loads are independent
// deliveries with no ordering between them.
const (
	ListenerCurrentHistory = "history.current"
	ListenerAllHistories   = "history.all"
)

// HistoryStore caches the current user's histories in memory, reloading them
// from the repository whenever the session's user changes.
type HistoryStore struct {
	repo domain.HistoryRepository

	mu        sync.RWMutex
	userID    uuid.UUID
	current   *domain.History
	histories []*domain.History
}

// NewHistoryStore creates an empty history store.
func NewHistoryStore(repo domain.HistoryRepository) *HistoryStore {
	return &HistoryStore{repo: repo}
}

// Register subscribes the store's two loaders on the bus. They receive the
// new user as event payload and run independently.
func (h *HistoryStore) Register(bus *events.Bus) {
	bus.Subscribe(ListenerCurrentHistory, func(ctx context.Context, event domain.UserChanged) error {
		return h.LoadCurrentHistory(ctx, event.User)
	})
	bus.Subscribe(ListenerAllHistories, func(ctx context.Context, event domain.UserChanged) error {
		return h.LoadHistories(ctx, event.User)
	})
}

// LoadCurrentHistory fetches the user's current history. An anonymous user
// clears the cached history instead.
func (h *HistoryStore) LoadCurrentHistory(ctx context.Context, user *domain.User) error {
	if user.IsAnonymous() {
		h.mu.Lock()
		h.current = nil
		h.userID = uuid.Nil
		h.mu.Unlock()
		return nil
	}

	history, err := h.repo.GetCurrentByUser(ctx, user.ID)
	if errors.Is(err, domain.ErrHistoryNotFound) {
		// Not having a current history yet is a normal state, not a
		// delivery failure worth retrying.
		h.mu.Lock()
		h.userID = user.ID
		h.current = nil
		h.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load current history: %w", err)
	}

	h.mu.Lock()
	h.userID = user.ID
	h.current = history
	h.mu.Unlock()

	slog.Debug("Current history loaded", "user_id", user.ID.String(), "history_id", history.ID.String())
	return nil
}

// LoadHistories fetches all of the user's histories. An anonymous user
// clears the cached list instead.
func (h *HistoryStore) LoadHistories(ctx context.Context, user *domain.User) error {
	if user.IsAnonymous() {
		h.mu.Lock()
		h.histories = nil
		h.userID = uuid.Nil
		h.mu.Unlock()
		return nil
	}

	histories, err := h.repo.ListByUser(ctx, user.ID, false)
	if err != nil {
		return fmt.Errorf("load histories: %w", err)
	}

	h.mu.Lock()
	h.userID = user.ID
	h.histories = histories
	h.mu.Unlock()

	slog.Debug("Histories loaded", "user_id", user.ID.String(), "count", len(histories))
	return nil
}

// CurrentHistory returns a copy of the cached current history, or nil when
// none is loaded.
func (h *HistoryStore) CurrentHistory() *domain.History {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current == nil {
		return nil
	}
	copied := *h.current
	return &copied
}

// Histories returns copies of the cached history list.
func (h *HistoryStore) Histories() []*domain.History {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]*domain.History, 0, len(h.histories))
	for _, history := range h.histories {
		copied := *history
		result = append(result, &copied)
	}
	return result
}
