package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Lain-inrae/galaxy/internal/domain"
	apperrors "github.com/Lain-inrae/galaxy/internal/platform/errors"
)

func (s *Server) registerSessionRoutes(rateLimiter echo.MiddlewareFunc) {
	s.echo.GET("/api/session/current", s.handleGetCurrentUser)
	s.echo.POST("/api/session/load", s.handleLoadUser)
	s.echo.POST("/api/session/logout", s.handleLogout, s.requireSession)
	s.echo.PUT("/api/session/favorites/tools/:tool", s.handleAddFavoriteTool, rateLimiter, s.requireSession)
	s.echo.DELETE("/api/session/favorites/tools/:tool", s.handleRemoveFavoriteTool, rateLimiter, s.requireSession)
}

// userView is the read-only representation of the session user. It is built
// from a fresh copy on every request; handlers never expose store internals.
type userView struct {
	ID            string    `json:"id,omitempty"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Active        bool      `json:"active"`
	Anonymous     bool      `json:"anonymous"`
	FavoriteTools []string  `json:"favorite_tools"`
	LoadedAt      time.Time `json:"loaded_at,omitempty"`
}

func (s *Server) buildUserView(user *domain.User) (*userView, error) {
	tools, err := user.FavoriteTools()
	if err != nil {
		return nil, apperrors.InternalError("corrupted favorites blob", err)
	}
	if tools == nil {
		tools = []string{}
	}

	view := &userView{
		Username:      user.Username,
		Email:         user.Email,
		Active:        user.Active,
		Anonymous:     user.IsAnonymous(),
		FavoriteTools: tools,
	}
	if !user.IsAnonymous() {
		view.ID = user.ID.String()
		view.LoadedAt = s.session.LastLoadedAt()
	}
	return view, nil
}

func (s *Server) handleGetCurrentUser(c echo.Context) error {
	view, err := s.buildUserView(s.session.CurrentUser())
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, view); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleLoadUser triggers a best-effort session refresh. The call returns
// once the underlying fetch settles; a failed refresh still answers 200 with
// the anonymous view (load failures are not surfaced as request errors).
func (s *Server) handleLoadUser(c echo.Context) error {
	ctx := c.Request().Context()

	s.session.LoadUser(ctx)

	user := s.session.CurrentUser()
	view, err := s.buildUserView(user)
	if err != nil {
		return err
	}

	if !user.IsAnonymous() {
		if err := s.establishCookie(c, user.ID.String()); err != nil {
			return apperrors.InternalError("failed to establish session cookie", err)
		}
	}

	if err := c.JSON(http.StatusOK, view); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) establishCookie(c echo.Context, userID string) error {
	session, err := s.cookieStore.Get(c.Request(), sessionName)
	if err != nil {
		// Stale or tampered cookie: start a fresh session.
		session, err = s.cookieStore.New(c.Request(), sessionName)
		if err != nil {
			return err
		}
	}
	session.Values[sessionKeyUserID] = userID
	return session.Save(c.Request(), c.Response())
}

func (s *Server) handleLogout(c echo.Context) error {
	ctx := c.Request().Context()

	s.session.Logout(ctx)

	session, err := s.cookieStore.Get(c.Request(), sessionName)
	if err == nil {
		session.Options.MaxAge = -1
		if err := session.Save(c.Request(), c.Response()); err != nil {
			return apperrors.InternalError("failed to clear session cookie", err)
		}
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleAddFavoriteTool(c echo.Context) error {
	return s.handleFavoriteMutation(c, s.session.AddFavoriteTool)
}

func (s *Server) handleRemoveFavoriteTool(c echo.Context) error {
	return s.handleFavoriteMutation(c, s.session.RemoveFavoriteTool)
}

func (s *Server) handleFavoriteMutation(c echo.Context, mutate func(ctx context.Context, toolID string) ([]string, error)) error {
	ctx := c.Request().Context()

	toolID := c.Param("tool")
	if toolID == "" {
		return apperrors.ValidationError("tool id is required")
	}

	tools, err := mutate(ctx, toolID)
	if errors.Is(err, domain.ErrUserNotSet) {
		return apperrors.UnauthorizedError("no user in session")
	}
	if errors.Is(err, domain.ErrUnauthorized) {
		return apperrors.UnauthorizedError("upstream rejected credentials")
	}
	if err != nil {
		return apperrors.ExternalError("favorite mutation failed", err).WithField("tool", toolID)
	}

	if err := c.JSON(http.StatusOK, domain.Favorites{Tools: tools}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
