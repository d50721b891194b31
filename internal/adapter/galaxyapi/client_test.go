package galaxyapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lain-inrae/galaxy/internal/domain"
	"github.com/Lain-inrae/galaxy/internal/platform/correlation"
)

const testAPIKey = "test-api-key"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, testAPIKey, 5*time.Second)
}

func TestGetCurrentUser(t *testing.T) {
	userID := uuid.New()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/users/current", r.URL.Path)
		assert.Equal(t, testAPIKey, r.Header.Get("x-api-key"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       userID,
			"username": "jane",
			"email":    "jane@example.org",
			"active":   true,
			"preferences": map[string]string{
				"favorites": `{"tools":["a"]}`,
			},
		})
	})

	user, err := client.GetCurrentUser(context.Background())

	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, "jane", user.Username)

	tools, err := user.FavoriteTools()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, tools)
}

func TestGetCurrentUser_NilPreferencesBecomeEmptyMap(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       uuid.New(),
			"username": "jane",
		})
	})

	user, err := client.GetCurrentUser(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, user.Preferences)
}

func TestGetCurrentUser_UnauthorizedMapsToDomainError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.GetCurrentUser(context.Background())

	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestGetCurrentUser_PropagatesCorrelationID(t *testing.T) {
	var header string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get(correlation.HeaderName)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": uuid.New()})
	})

	ctx := correlation.WithID(context.Background(), "abcd1234")
	_, err := client.GetCurrentUser(ctx)

	require.NoError(t, err)
	assert.Equal(t, "abcd1234", header)
}

func TestAddFavoriteTool(t *testing.T) {
	userID := uuid.New()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, fmt.Sprintf("/api/users/%s/favorites/tools", userID), r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "toolB", body["object_id"])

		_ = json.NewEncoder(w).Encode(map[string]any{"tools": []string{"toolA", "toolB"}})
	})

	tools, err := client.AddFavoriteTool(context.Background(), userID, "toolB")

	require.NoError(t, err)
	assert.Equal(t, []string{"toolA", "toolB"}, tools)
}

func TestRemoveFavoriteTool(t *testing.T) {
	userID := uuid.New()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, fmt.Sprintf("/api/users/%s/favorites/tools/toolA", userID), r.URL.Path)

		_ = json.NewEncoder(w).Encode(map[string]any{"tools": []string{}})
	})

	tools, err := client.RemoveFavoriteTool(context.Background(), userID, "toolA")

	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestAddFavoriteTool_ServerErrorPropagates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.AddFavoriteTool(context.Background(), uuid.New(), "toolA")

	assert.ErrorContains(t, err, "status 500")
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var hits int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	})

	for range breakerConsecutiveFailures {
		_, err := client.GetCurrentUser(context.Background())
		require.Error(t, err)
	}

	// Breaker is now open: the next call fails fast without hitting the server.
	before := hits
	_, err := client.GetCurrentUser(context.Background())
	assert.ErrorContains(t, err, "unavailable")
	assert.Equal(t, before, hits)
}
