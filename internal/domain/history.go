package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// History is an analysis history owned by a user. One history per user is
// marked current; deleted histories stay listed until purged.
type History struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Name       string
	Annotation string
	HidCounter int
	Current    bool
	Deleted    bool
	Purged     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type HistoryRepository interface {
	GetCurrentByUser(ctx context.Context, userID uuid.UUID) (*History, error)
	ListByUser(ctx context.Context, userID uuid.UUID, includeDeleted bool) ([]*History, error)
	Upsert(ctx context.Context, history *History) (*History, error)
	SetCurrent(ctx context.Context, userID, historyID uuid.UUID) error
}
