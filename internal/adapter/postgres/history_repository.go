package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lain-inrae/galaxy/internal/domain"
)

// historyColumns must match the scan order in scanHistory.
const historyColumns = `id, user_id, name, annotation, hid_counter, current, deleted, purged, created_at, updated_at`

// HistoryRepo implements domain.HistoryRepository backed by PostgreSQL.
type HistoryRepo struct {
	pool *pgxpool.Pool
}

var _ domain.HistoryRepository = (*HistoryRepo)(nil)

func NewHistoryRepo(pool *pgxpool.Pool) *HistoryRepo {
	return &HistoryRepo{pool: pool}
}

func scanHistory(row pgx.Row) (*domain.History, error) {
	var h domain.History
	err := row.Scan(
		&h.ID, &h.UserID, &h.Name, &h.Annotation, &h.HidCounter,
		&h.Current, &h.Deleted, &h.Purged, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *HistoryRepo) GetCurrentByUser(ctx context.Context, userID uuid.UUID) (*domain.History, error) {
	query := fmt.Sprintf(`SELECT %s FROM histories WHERE user_id = $1 AND current`, historyColumns)

	history, err := scanHistory(r.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrHistoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current history: %w", err)
	}
	return history, nil
}

func (r *HistoryRepo) ListByUser(ctx context.Context, userID uuid.UUID, includeDeleted bool) ([]*domain.History, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM histories
		WHERE user_id = $1 AND NOT purged AND (deleted = FALSE OR $2)
		ORDER BY updated_at DESC`, historyColumns)

	rows, err := r.pool.Query(ctx, query, userID, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list histories: %w", err)
	}
	defer rows.Close()

	var histories []*domain.History
	for rows.Next() {
		history, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		histories = append(histories, history)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read histories: %w", err)
	}
	return histories, nil
}

func (r *HistoryRepo) Upsert(ctx context.Context, history *domain.History) (*domain.History, error) {
	query := fmt.Sprintf(`
		INSERT INTO histories (id, user_id, name, annotation, hid_counter, current, deleted, purged)
		VALUES (COALESCE(NULLIF($1, '00000000-0000-0000-0000-000000000000'::uuid), gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			annotation = EXCLUDED.annotation,
			hid_counter = EXCLUDED.hid_counter,
			deleted = EXCLUDED.deleted,
			purged = EXCLUDED.purged,
			updated_at = now()
		RETURNING %s`, historyColumns)

	saved, err := scanHistory(r.pool.QueryRow(ctx, query,
		history.ID, history.UserID, history.Name, history.Annotation,
		history.HidCounter, history.Current, history.Deleted, history.Purged,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert history: %w", err)
	}
	return saved, nil
}

// SetCurrent makes the given history the user's current one. Runs in a
// transaction so the unique partial index on (user_id) WHERE current never
// sees two current rows.
func (r *HistoryRepo) SetCurrent(ctx context.Context, userID, historyID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE histories SET current = FALSE, updated_at = now() WHERE user_id = $1 AND current`,
		userID); err != nil {
		return fmt.Errorf("failed to clear current history: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE histories SET current = TRUE, updated_at = now() WHERE id = $1 AND user_id = $2`,
		historyID, userID)
	if err != nil {
		return fmt.Errorf("failed to set current history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHistoryNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
