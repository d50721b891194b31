// Package galaxyapi implements domain.UserService against the Galaxy user
// HTTP API.
package galaxyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/Lain-inrae/galaxy/internal/adapter/metrics"
	"github.com/Lain-inrae/galaxy/internal/domain"
	"github.com/Lain-inrae/galaxy/internal/platform/correlation"
)

const (
	apiKeyHeader = "x-api-key"

	breakerConsecutiveFailures = 5
	breakerOpenTimeout         = 30 * time.Second
	breakerCountsInterval      = 60 * time.Second
)

// Client calls the Galaxy user API. All calls go through a shared circuit
// breaker so a degraded upstream trips fast instead of piling up timeouts.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

var _ domain.UserService = (*Client)(nil)

// NewClient creates a Galaxy API client. baseURL is the API root without a
// trailing slash (e.g. "https://usegalaxy.example.org").
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "galaxy-api",
		MaxRequests: 1,
		Interval:    breakerCountsInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"component", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.Set(stateToFloat(to))
		},
	})

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// userPayload is the wire shape of a Galaxy user.
type userPayload struct {
	ID          uuid.UUID         `json:"id"`
	Username    string            `json:"username"`
	Email       string            `json:"email"`
	Active      bool              `json:"active"`
	Preferences map[string]string `json:"preferences"`
	CreateTime  time.Time         `json:"create_time"`
	UpdateTime  time.Time         `json:"update_time"`
}

func (p *userPayload) toDomain() *domain.User {
	preferences := p.Preferences
	if preferences == nil {
		preferences = make(map[string]string)
	}
	return &domain.User{
		ID:          p.ID,
		Username:    p.Username,
		Email:       p.Email,
		Active:      p.Active,
		Preferences: preferences,
		CreatedAt:   p.CreateTime,
		UpdatedAt:   p.UpdateTime,
	}
}

// favoritesPayload is the wire shape of the favorites resource returned by
// the favorite mutation endpoints.
type favoritesPayload struct {
	Tools []string `json:"tools"`
}

// GetCurrentUser fetches the authenticated user behind the configured API key.
func (c *Client) GetCurrentUser(ctx context.Context) (*domain.User, error) {
	var payload userPayload
	if err := c.call(ctx, "get_current_user", http.MethodGet, "/api/users/current", nil, &payload); err != nil {
		return nil, err
	}
	return payload.toDomain(), nil
}

// AddFavoriteTool marks a tool as favorite and returns the authoritative
// tool list from the server.
func (c *Client) AddFavoriteTool(ctx context.Context, userID uuid.UUID, toolID string) ([]string, error) {
	body := map[string]string{"object_id": toolID}
	path := fmt.Sprintf("/api/users/%s/favorites/tools", userID)

	var payload favoritesPayload
	if err := c.call(ctx, "add_favorite_tool", http.MethodPut, path, body, &payload); err != nil {
		return nil, err
	}
	return payload.Tools, nil
}

// RemoveFavoriteTool unmarks a favorite tool and returns the authoritative
// tool list from the server.
func (c *Client) RemoveFavoriteTool(ctx context.Context, userID uuid.UUID, toolID string) ([]string, error) {
	path := fmt.Sprintf("/api/users/%s/favorites/tools/%s", userID, url.PathEscape(toolID))

	var payload favoritesPayload
	if err := c.call(ctx, "remove_favorite_tool", http.MethodDelete, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Tools, nil
}

func (c *Client) call(ctx context.Context, operation, method, path string, body, out any) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.do(ctx, method, path, body, out)
	})
	metrics.UpstreamRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues(operation).Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("galaxy api unavailable: %w", err)
		}
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id, ok := correlation.ID(ctx); ok {
		req.Header.Set(correlation.HeaderName, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrUnauthorized)
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrUserNotFound)
	default:
		return fmt.Errorf("galaxy api returned status %d for %s %s", resp.StatusCode, method, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
