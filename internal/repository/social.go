package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/untibullet/request-desk/internal/models"
)

// AddWatcher идемпотентно подписывает пользователя; added=false, если уже подписан
func (r *Repository) AddWatcher(ctx context.Context, requestID uuid.UUID, userID string) (bool, error) {
	query := `
		INSERT INTO request_watchers (request_id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_id, user_id) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query, requestID, userID, r.now())
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to add watcher: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) RemoveWatcher(ctx context.Context, requestID uuid.UUID, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM request_watchers WHERE request_id = $1 AND user_id = $2`, requestID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove watcher: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ToggleWatcher переключает подписку и возвращает новое состояние
func (r *Repository) ToggleWatcher(ctx context.Context, requestID uuid.UUID, userID string) (bool, error) {
	return r.toggle(ctx, "request_watchers", requestID, userID)
}

func (r *Repository) ListWatchers(ctx context.Context, requestID uuid.UUID) ([]models.RequestWatcher, error) {
	query := `SELECT request_id, user_id, created_at FROM request_watchers WHERE request_id = $1 ORDER BY created_at, user_id`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchers: %w", err)
	}
	defer rows.Close()

	list := make([]models.RequestWatcher, 0)
	for rows.Next() {
		var w models.RequestWatcher
		if err := rows.Scan(&w.RequestID, &w.UserID, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan watcher: %w", err)
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

// TogglePin закрепляет или открепляет заявку для пользователя
func (r *Repository) TogglePin(ctx context.Context, requestID uuid.UUID, userID string) (bool, error) {
	return r.toggle(ctx, "request_pins", requestID, userID)
}

// toggle удаляет связь или создает ее, если удалять нечего. Одна транзакция.
func (r *Repository) toggle(ctx context.Context, table string, requestID uuid.UUID, userID string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Блокировка строки заявки упорядочивает параллельные переключения
	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM requests WHERE id = $1 FOR UPDATE`, requestID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock request: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE request_id = $1 AND user_id = $2`, requestID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	state := false
	if tag.RowsAffected() == 0 {
		_, err = tx.Exec(ctx, `INSERT INTO `+table+` (request_id, user_id, created_at) VALUES ($1, $2, $3)`,
			requestID, userID, r.now())
		if err != nil {
			return false, fmt.Errorf("failed to insert into %s: %w", table, err)
		}
		state = true
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return state, nil
}

// UnreadCounts число заметок других авторов после последнего просмотра пользователя
func (r *Repository) UnreadCounts(ctx context.Context, userID string, ids []uuid.UUID, includeInternal bool) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}

	query := `
		SELECT n.request_id, COUNT(*)
		FROM request_notes n
		LEFT JOIN request_views v ON v.request_id = n.request_id AND v.user_id = $2
		WHERE n.request_id = ANY($1)
		  AND n.author_id <> $2
		  AND (v.last_viewed_at IS NULL OR n.created_at > v.last_viewed_at)
		  AND ($3 OR n.note_type <> 'internal')
		GROUP BY n.request_id
	`
	rows, err := r.pool.Query(ctx, query, ids, userID, includeInternal)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread notes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan unread count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// ViewerState признак закрепления и число непрочитанных заметок одной заявки для пользователя
func (r *Repository) ViewerState(ctx context.Context, requestID uuid.UUID, userID string, includeInternal bool) (bool, int, error) {
	query := `
		SELECT
			EXISTS(SELECT 1 FROM request_pins p WHERE p.request_id = $1 AND p.user_id = $2),
			(SELECT COUNT(*)
			 FROM request_notes n
			 LEFT JOIN request_views v ON v.request_id = n.request_id AND v.user_id = $2
			 WHERE n.request_id = $1
			   AND n.author_id <> $2
			   AND (v.last_viewed_at IS NULL OR n.created_at > v.last_viewed_at)
			   AND ($3 OR n.note_type <> 'internal'))
	`
	var pinned bool
	var unread int
	if err := r.pool.QueryRow(ctx, query, requestID, userID, includeInternal).Scan(&pinned, &unread); err != nil {
		return false, 0, fmt.Errorf("failed to get viewer state: %w", err)
	}
	return pinned, unread, nil
}

// ViewStatus время последнего просмотра пользователем по каждой заявке
func (r *Repository) ViewStatus(ctx context.Context, userID string, ids []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	views := make(map[uuid.UUID]time.Time, len(ids))
	if len(ids) == 0 {
		return views, nil
	}

	query := `SELECT request_id, last_viewed_at FROM request_views WHERE user_id = $1 AND request_id = ANY($2)`
	rows, err := r.pool.Query(ctx, query, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get view status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("failed to scan view status: %w", err)
		}
		views[id] = at
	}
	return views, rows.Err()
}
