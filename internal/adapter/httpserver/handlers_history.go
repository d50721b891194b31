package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Lain-inrae/galaxy/internal/domain"
	apperrors "github.com/Lain-inrae/galaxy/internal/platform/errors"
)

func (s *Server) registerHistoryRoutes() {
	s.echo.GET("/api/histories", s.handleListHistories, s.requireSession)
	s.echo.GET("/api/histories/current", s.handleGetCurrentHistory, s.requireSession)
}

type historyView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Annotation string    `json:"annotation,omitempty"`
	HidCounter int       `json:"hid_counter"`
	Deleted    bool      `json:"deleted"`
	UpdatedAt  time.Time `json:"update_time"`
}

func buildHistoryView(h *domain.History) historyView {
	return historyView{
		ID:         h.ID.String(),
		Name:       h.Name,
		Annotation: h.Annotation,
		HidCounter: h.HidCounter,
		Deleted:    h.Deleted,
		UpdatedAt:  h.UpdatedAt,
	}
}

func (s *Server) handleGetCurrentHistory(c echo.Context) error {
	history := s.histories.CurrentHistory()
	if history == nil {
		return apperrors.NotFoundError("no current history loaded")
	}

	if err := c.JSON(http.StatusOK, buildHistoryView(history)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListHistories(c echo.Context) error {
	histories := s.histories.Histories()
	views := make([]historyView, 0, len(histories))
	for _, history := range histories {
		views = append(views, buildHistoryView(history))
	}

	if err := c.JSON(http.StatusOK, views); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
