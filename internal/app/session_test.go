package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lain-inrae/galaxy/internal/adapter/metrics"
	"github.com/Lain-inrae/galaxy/internal/domain"
)

// --- Mock implementations ---

type mockUserService struct {
	getCurrentUserFn     func(ctx context.Context) (*domain.User, error)
	addFavoriteToolFn    func(ctx context.Context, userID uuid.UUID, toolID string) ([]string, error)
	removeFavoriteToolFn func(ctx context.Context, userID uuid.UUID, toolID string) ([]string, error)
}

func (m *mockUserService) GetCurrentUser(ctx context.Context) (*domain.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockUserService) AddFavoriteTool(ctx context.Context, userID uuid.UUID, toolID string) ([]string, error) {
	if m.addFavoriteToolFn != nil {
		return m.addFavoriteToolFn(ctx, userID, toolID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockUserService) RemoveFavoriteTool(ctx context.Context, userID uuid.UUID, toolID string) ([]string, error) {
	if m.removeFavoriteToolFn != nil {
		return m.removeFavoriteToolFn(ctx, userID, toolID)
	}
	return nil, fmt.Errorf("not implemented")
}

type mockPublisher struct {
	mu     sync.Mutex
	events []*domain.User
}

func (m *mockPublisher) PublishUserChanged(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, user)
	return nil
}

func (m *mockPublisher) published() []*domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*domain.User, len(m.events))
	copy(result, m.events)
	return result
}

func testUser() *domain.User {
	return &domain.User{
		ID:          uuid.New(),
		Username:    "jane",
		Email:       "jane@example.org",
		Active:      true,
		Preferences: map[string]string{},
	}
}

// --- CurrentUser ---

func TestCurrentUser_EmptyStoreReturnsAnonymousDefault(t *testing.T) {
	store := NewSessionStore(&mockUserService{}, &mockPublisher{}, clockwork.NewFakeClock())

	user := store.CurrentUser()

	require.NotNil(t, user)
	assert.True(t, user.IsAnonymous())
	assert.NotNil(t, user.Preferences)
}

func TestCurrentUser_NeverReturnsSameInstance(t *testing.T) {
	store := NewSessionStore(&mockUserService{}, &mockPublisher{}, clockwork.NewFakeClock())
	store.SetCurrentUser(context.Background(), testUser())

	first := store.CurrentUser()
	second := store.CurrentUser()

	assert.NotSame(t, first, second)

	// Mutating a returned copy must not leak into the store.
	first.Username = "mallory"
	assert.Equal(t, "jane", store.CurrentUser().Username)
}

// --- LoadUser ---

func TestLoadUser_ConcurrentCallsCoalesceIntoOneFetch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	fetchStarted := make(chan struct{}, 1)

	api := &mockUserService{
		getCurrentUserFn: func(_ context.Context) (*domain.User, error) {
			calls.Add(1)
			select {
			case fetchStarted <- struct{}{}:
			default:
			}
			<-release
			return testUser(), nil
		},
	}
	store := NewSessionStore(api, &mockPublisher{}, clockwork.NewFakeClock())
	coalescedBefore := testutil.ToFloat64(metrics.SessionLoadsCoalesced)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		store.LoadUser(context.Background())
	}()
	<-fetchStarted

	// Callers arriving while the fetch is in flight attach to it.
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.LoadUser(context.Background())
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "jane", store.CurrentUser().Username)

	// Only the four attachers count as coalesced, not the originator.
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.SessionLoadsCoalesced)-coalescedBefore)
}

func TestLoadUser_GuardClearsAfterSuccess(t *testing.T) {
	var calls atomic.Int32
	api := &mockUserService{
		getCurrentUserFn: func(_ context.Context) (*domain.User, error) {
			calls.Add(1)
			return testUser(), nil
		},
	}
	store := NewSessionStore(api, &mockPublisher{}, clockwork.NewFakeClock())

	store.LoadUser(context.Background())
	store.LoadUser(context.Background())

	assert.Equal(t, int32(2), calls.Load())
}

func TestLoadUser_FailureIsSwallowedAndGuardClears(t *testing.T) {
	var calls atomic.Int32
	api := &mockUserService{
		getCurrentUserFn: func(_ context.Context) (*domain.User, error) {
			if calls.Add(1) == 1 {
				return nil, fmt.Errorf("upstream down")
			}
			return testUser(), nil
		},
	}
	store := NewSessionStore(api, &mockPublisher{}, clockwork.NewFakeClock())

	// Failed load leaves the user unset and does not panic or error out.
	store.LoadUser(context.Background())
	assert.True(t, store.CurrentUser().IsAnonymous())

	// The guard cleared: a new load issues a new fetch and succeeds.
	store.LoadUser(context.Background())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "jane", store.CurrentUser().Username)
}

// --- SetCurrentUser ---

func TestSetCurrentUser_CommitVisibleBeforeSignals(t *testing.T) {
	store := NewSessionStore(&mockUserService{}, nil, clockwork.NewFakeClock())
	observed := make(chan string, 1)

	// A publisher that reads the store back proves the replacement landed
	// before the signal fired.
	checker := &checkingPublisher{store: store, observed: observed}
	store.publisher = checker

	store.SetCurrentUser(context.Background(), testUser())

	assert.Equal(t, "jane", <-observed)
}

type checkingPublisher struct {
	store    *SessionStore
	observed chan string
}

func (p *checkingPublisher) PublishUserChanged(_ context.Context, _ *domain.User) error {
	p.observed <- p.store.CurrentUser().Username
	return nil
}

func TestSetCurrentUser_PublishesNewUser(t *testing.T) {
	publisher := &mockPublisher{}
	store := NewSessionStore(&mockUserService{}, publisher, clockwork.NewFakeClock())
	user := testUser()

	store.SetCurrentUser(context.Background(), user)

	events := publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, user.ID, events[0].ID)
}

func TestSetCurrentUser_StoresACopy(t *testing.T) {
	store := NewSessionStore(&mockUserService{}, &mockPublisher{}, clockwork.NewFakeClock())
	user := testUser()

	store.SetCurrentUser(context.Background(), user)
	user.Username = "changed-after-set"

	assert.Equal(t, "jane", store.CurrentUser().Username)
}

func TestLogout_ClearsUserAndNotifiesAnonymous(t *testing.T) {
	publisher := &mockPublisher{}
	store := NewSessionStore(&mockUserService{}, publisher, clockwork.NewFakeClock())
	store.SetCurrentUser(context.Background(), testUser())

	store.Logout(context.Background())

	assert.True(t, store.CurrentUser().IsAnonymous())
	events := publisher.published()
	require.Len(t, events, 2)
	assert.True(t, events[1].IsAnonymous())
}

// --- Favorite mutations ---

func TestAddFavoriteTool_OverwritesBlobWithRemoteList(t *testing.T) {
	user := testUser()
	require.NoError(t, user.SetFavoriteTools([]string{"a"}))

	api := &mockUserService{
		addFavoriteToolFn: func(_ context.Context, userID uuid.UUID, toolID string) ([]string, error) {
			assert.Equal(t, user.ID, userID)
			assert.Equal(t, "b", toolID)
			return []string{"a", "b"}, nil
		},
	}
	store := NewSessionStore(api, &mockPublisher{}, clockwork.NewFakeClock())
	store.SetCurrentUser(context.Background(), user)

	tools, err := store.AddFavoriteTool(context.Background(), "b")

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tools)

	stored, err := store.CurrentUser().FavoriteTools()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stored)
}

func TestAddFavoriteTool_NoBlobYet(t *testing.T) {
	api := &mockUserService{
		addFavoriteToolFn: func(_ context.Context, _ uuid.UUID, _ string) ([]string, error) {
			return []string{"a", "b"}, nil
		},
	}
	store := NewSessionStore(api, &mockPublisher{}, clockwork.NewFakeClock())
	store.SetCurrentUser(context.Background(), testUser())

	_, err := store.AddFavoriteTool(context.Background(), "b")

	require.NoError(t, err)
	stored, err := store.CurrentUser().FavoriteTools()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stored)
}

func TestRemoveFavoriteTool_CommitsRemoteList(t *testing.T) {
	api := &mockUserService{
		removeFavoriteToolFn: func(_ context.Context, _ uuid.UUID, toolID string) ([]string, error) {
			assert.Equal(t, "a", toolID)
			return []string{}, nil
		},
	}
	store := NewSessionStore(api, &mockPublisher{}, clockwork.NewFakeClock())
	user := testUser()
	require.NoError(t, user.SetFavoriteTools([]string{"a"}))
	store.SetCurrentUser(context.Background(), user)

	tools, err := store.RemoveFavoriteTool(context.Background(), "a")

	require.NoError(t, err)
	assert.Empty(t, tools)

	stored, err := store.CurrentUser().FavoriteTools()
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestFavoriteMutation_ErrorsPropagate(t *testing.T) {
	api := &mockUserService{
		addFavoriteToolFn: func(_ context.Context, _ uuid.UUID, _ string) ([]string, error) {
			return nil, fmt.Errorf("remote failure")
		},
	}
	store := NewSessionStore(api, &mockPublisher{}, clockwork.NewFakeClock())
	store.SetCurrentUser(context.Background(), testUser())

	_, err := store.AddFavoriteTool(context.Background(), "x")

	assert.ErrorContains(t, err, "remote failure")
}

func TestFavoriteMutation_RequiresUser(t *testing.T) {
	store := NewSessionStore(&mockUserService{}, &mockPublisher{}, clockwork.NewFakeClock())

	_, err := store.AddFavoriteTool(context.Background(), "x")

	assert.ErrorIs(t, err, domain.ErrUserNotSet)
}

func TestFavoriteMutation_LastWriteWins(t *testing.T) {
	// Two racing mutations: whichever remote response commits last
	// overwrites the blob entirely.
	firstDone := make(chan struct{})
	api := &mockUserService{
		addFavoriteToolFn: func(_ context.Context, _ uuid.UUID, toolID string) ([]string, error) {
			if toolID == "slow" {
				<-firstDone
				return []string{"slow"}, nil
			}
			return []string{"fast"}, nil
		},
	}
	store := NewSessionStore(api, &mockPublisher{}, clockwork.NewFakeClock())
	store.SetCurrentUser(context.Background(), testUser())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = store.AddFavoriteTool(context.Background(), "slow")
	}()
	go func() {
		defer wg.Done()
		_, err := store.AddFavoriteTool(context.Background(), "fast")
		require.NoError(t, err)
		close(firstDone)
	}()
	wg.Wait()

	stored, err := store.CurrentUser().FavoriteTools()
	require.NoError(t, err)
	assert.Equal(t, []string{"slow"}, stored)
}
