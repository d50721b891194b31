package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/Lain-inrae/galaxy/internal/adapter/metrics"
	"github.com/Lain-inrae/galaxy/internal/domain"
)

// loadKey is the singleflight key for current-user loads. There is exactly
// one current user per store, so a single key suffices.
const loadKey = "current-user"

// SessionStore holds the current authenticated user.
//
// Concurrency contract: concurrent LoadUser calls attach to the same
// in-flight fetch (the coalescing guard is owned by the store, not package
// state). Favorite mutations carry no such guard; when they race, the last
// remote response to commit wins. All state transitions go through the
// store's mutex.
type SessionStore struct {
	api       domain.UserService
	publisher domain.EventPublisher
	clock     clockwork.Clock

	mu           sync.RWMutex
	currentUser  *domain.User
	lastLoadedAt time.Time

	loadGroup singleflight.Group
}

// NewSessionStore creates a session store with no user loaded.
func NewSessionStore(api domain.UserService, publisher domain.EventPublisher, clock clockwork.Clock) *SessionStore {
	return &SessionStore{
		api:       api,
		publisher: publisher,
		clock:     clock,
	}
}

// CurrentUser returns a freshly constructed copy of the current user, or the
// anonymous default when no user is loaded. Never returns nil, and never
// returns the same mutable instance twice.
func (s *SessionStore) CurrentUser() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUser.Clone()
}

// LoadUser refreshes the current user from the remote API, unless a fetch is
// already in flight, in which case the call attaches to it. The guard clears
// unconditionally when the fetch settles. Failures are logged at warning
// level and swallowed: session refresh is best effort, and a failed load
// leaves the current user unset.
func (s *SessionStore) LoadUser(ctx context.Context) {
	// The closure only runs for the caller that originates the fetch, so
	// fetched distinguishes the originator from callers that attached.
	var fetched bool
	_, err, _ := s.loadGroup.Do(loadKey, func() (any, error) {
		fetched = true
		user, err := s.api.GetCurrentUser(ctx)
		if err != nil {
			return nil, err
		}
		s.SetCurrentUser(ctx, user)
		return user, nil
	})
	if !fetched {
		metrics.SessionLoadsCoalesced.Inc()
	}
	if err != nil {
		slog.Warn("Failed to load current user", "error", err)
		metrics.SessionLoadsTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.SessionLoadsTotal.WithLabelValues("ok").Inc()
}

// LastLoadedAt reports when the current user was last committed, zero when
// no user has ever been set.
func (s *SessionStore) LastLoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastLoadedAt
}

// SetCurrentUser replaces the stored user atomically, then emits a
// user-changed event for the history listeners. The replacement is visible
// to readers before any listener fires; listeners themselves run unordered
// and are not awaited.
func (s *SessionStore) SetCurrentUser(ctx context.Context, user *domain.User) {
	s.mu.Lock()
	s.currentUser = user.Clone()
	s.lastLoadedAt = s.clock.Now()
	s.mu.Unlock()

	if s.publisher != nil {
		if err := s.publisher.PublishUserChanged(ctx, user); err != nil {
			slog.Warn("Failed to publish user change", "error", err)
		}
	}
}

// Logout clears the session and notifies listeners with the anonymous user.
func (s *SessionStore) Logout(ctx context.Context) {
	s.mu.Lock()
	s.currentUser = nil
	s.mu.Unlock()

	if s.publisher != nil {
		if err := s.publisher.PublishUserChanged(ctx, domain.AnonymousUser()); err != nil {
			slog.Warn("Failed to publish logout", "error", err)
		}
	}
}

// AddFavoriteTool sends the mutation to the remote API and overwrites the
// local favorites blob with the authoritative list from the response. Errors
// propagate to the caller. Returns the updated tool list.
func (s *SessionStore) AddFavoriteTool(ctx context.Context, toolID string) ([]string, error) {
	return s.mutateFavorites(ctx, "add", toolID, s.api.AddFavoriteTool)
}

// RemoveFavoriteTool removes a tool from the favorites via the remote API.
// Like AddFavoriteTool, the response list fully replaces the local blob.
func (s *SessionStore) RemoveFavoriteTool(ctx context.Context, toolID string) ([]string, error) {
	return s.mutateFavorites(ctx, "remove", toolID, s.api.RemoveFavoriteTool)
}

type favoriteMutation func(ctx context.Context, userID uuid.UUID, toolID string) ([]string, error)

func (s *SessionStore) mutateFavorites(ctx context.Context, operation, toolID string, mutate favoriteMutation) ([]string, error) {
	s.mu.RLock()
	user := s.currentUser
	s.mu.RUnlock()

	if user.IsAnonymous() {
		metrics.FavoriteMutationsTotal.WithLabelValues(operation, "error").Inc()
		return nil, domain.ErrUserNotSet
	}

	tools, err := mutate(ctx, user.ID, toolID)
	if err != nil {
		metrics.FavoriteMutationsTotal.WithLabelValues(operation, "error").Inc()
		return nil, err
	}

	// Commit: the remote list is authoritative, not merged. The commit is
	// skipped when the session was cleared while the call was in flight.
	s.mu.Lock()
	if s.currentUser != nil {
		if err := s.currentUser.SetFavoriteTools(tools); err != nil {
			s.mu.Unlock()
			metrics.FavoriteMutationsTotal.WithLabelValues(operation, "error").Inc()
			return nil, err
		}
	}
	s.mu.Unlock()

	metrics.FavoriteMutationsTotal.WithLabelValues(operation, "ok").Inc()
	return tools, nil
}
