// Package httpserver exposes the session store over HTTP.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"

	"github.com/Lain-inrae/galaxy/internal/config"
	"github.com/Lain-inrae/galaxy/internal/domain"
)

// sessionStore is the slice of app.SessionStore the handlers consume.
type sessionStore interface {
	CurrentUser() *domain.User
	LoadUser(ctx context.Context)
	Logout(ctx context.Context)
	AddFavoriteTool(ctx context.Context, toolID string) ([]string, error)
	RemoveFavoriteTool(ctx context.Context, toolID string) ([]string, error)
	LastLoadedAt() time.Time
}

// historyStore is the slice of app.HistoryStore the handlers consume.
type historyStore interface {
	CurrentHistory() *domain.History
	Histories() []*domain.History
}

// HealthCheck is a named health check function.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	session   sessionStore
	histories historyStore

	cookieStore  *sessions.CookieStore
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, session sessionStore, histories historyStore, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		session:      session,
		histories:    histories,
		cookieStore:  newCookieStore(cfg),
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func newCookieStore(cfg *config.Config) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.AppEnv == "production",
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Cookie session keys
const (
	sessionName      = "galaxy-session"
	sessionKeyUserID = "user_id"
)
