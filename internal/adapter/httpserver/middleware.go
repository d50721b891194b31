package httpserver

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/Lain-inrae/galaxy/internal/adapter/metrics"
	"github.com/Lain-inrae/galaxy/internal/platform/correlation"
	apperrors "github.com/Lain-inrae/galaxy/internal/platform/errors"
)

// correlationMiddleware assigns each request a correlation ID, honoring one
// supplied by the caller.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(correlation.HeaderName)
		if id == "" {
			id = correlation.NewID()
		}
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.HeaderName, id)
		return next(c)
	}
}

// ErrorHandlingMiddleware converts structured errors returned by handlers
// into JSON responses with the mapped HTTP status.
func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			// Echo's own errors (404 on unknown routes, method not allowed)
			// keep their status via the default handler.
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			structuredErr := apperrors.AsStructuredError(err)
			metrics.HTTPErrorsTotal.WithLabelValues(string(structuredErr.Type)).Inc()
			logError(c, structuredErr)

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeNotFound, apperrors.TypeUnauthorized:
		slog.Info("Request rejected", attrs...)
	case apperrors.TypeConflict:
		slog.Warn("Conflict", attrs...)
	default:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.Error("Request failed", attrs...)
	}
}

// requireSession ensures the caller holds the session cookie established by
// a successful user load.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		session, err := s.cookieStore.Get(c.Request(), sessionName)
		if err != nil {
			return apperrors.UnauthorizedError("invalid session cookie")
		}
		userID, ok := session.Values[sessionKeyUserID].(string)
		if !ok || userID == "" {
			return apperrors.UnauthorizedError("no active session")
		}
		c.Set("userID", userID)
		return next(c)
	}
}
