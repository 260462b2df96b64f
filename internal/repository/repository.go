// repository/repository.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/untibullet/request-desk/internal/lifecycle"
	"github.com/untibullet/request-desk/internal/models"
	"github.com/untibullet/request-desk/internal/sla"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrConflict      = errors.New("request was modified concurrently")
	ErrInvalidInput  = errors.New("invalid input")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: now}
}

// now с точностью timestamptz, чтобы updated_at из ответа совпадал с сохраненным
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Change состояние заявки до и после команды
type Change struct {
	Before models.Request
	After  *models.Request
}

// StageChanged сообщает, сменился ли этап
func (c *Change) StageChanged() bool {
	return c.Before.Stage != c.After.Stage
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const requestColumns = `
	r.id, r.request_type, r.urgency, r.stage, r.quote_status, r.quote_ref,
	r.submitter_id, r.assigned_to, r.assigned_at, r.sla_target_hours, r.sla_status,
	r.title, r.description, r.customer_name, r.customer_email, r.customer_phone,
	r.customer_address, r.project_name, r.fence_type, r.linear_feet,
	r.voice_recording_url, r.voice_transcript, r.photo_urls, r.archive_reason,
	r.created_at, r.updated_at, r.submitted_at, r.completed_at, r.first_response_at`

func scanRequest(row pgx.Row, extra ...any) (*models.Request, error) {
	var req models.Request
	dest := []any{
		&req.ID, &req.RequestType, &req.Urgency, &req.Stage, &req.QuoteStatus, &req.QuoteRef,
		&req.SubmitterID, &req.AssignedTo, &req.AssignedAt, &req.SLATargetHours, &req.SLAStatus,
		&req.Title, &req.Description, &req.Customer.Name, &req.Customer.Email, &req.Customer.Phone,
		&req.Customer.Address, &req.ProjectName, &req.FenceType, &req.LinearFeet,
		&req.VoiceRecordingURL, &req.VoiceTranscript, &req.PhotoURLs, &req.ArchiveReason,
		&req.CreatedAt, &req.UpdatedAt, &req.SubmittedAt, &req.CompletedAt, &req.FirstResponseAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if req.PhotoURLs == nil {
		req.PhotoURLs = []string{}
	}
	return &req, nil
}

// CreateRequest создает заявку в этапе new. Исполнитель берется только из
// правил назначения, целевое время SLA из настроек типа.
func (r *Repository) CreateRequest(ctx context.Context, req *models.Request) (*models.Request, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := r.now()
	if err := lifecycle.Transition("", models.StageNew, lifecycle.TriggerCreate); err != nil {
		return nil, err
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.Stage = models.StageNew
	req.QuoteStatus = nil
	req.AssignedTo = nil
	req.AssignedAt = nil
	req.SLAStatus = models.SLAOnTrack
	if req.PhotoURLs == nil {
		req.PhotoURLs = []string{}
	}

	// Правило с наименьшим приоритетом выигрывает
	var assignee string
	ruleQuery := `
		SELECT assignee_id FROM assignment_rules
		WHERE request_type = $1 AND active
		ORDER BY priority, id
		LIMIT 1
	`
	err = tx.QueryRow(ctx, ruleQuery, req.RequestType).Scan(&assignee)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to resolve assignment rule: %w", err)
	default:
		req.AssignedTo = &assignee
		req.AssignedAt = &now
	}

	def, err := r.slaDefault(ctx, tx, req.RequestType)
	if err != nil {
		return nil, err
	}
	req.SLATargetHours = sla.TargetHours(def, req.Urgency)

	insertQuery := `
		INSERT INTO requests (
			id, request_type, urgency, stage, submitter_id, assigned_to, assigned_at,
			sla_target_hours, sla_status, title, description, customer_name, customer_email,
			customer_phone, customer_address, project_name, fence_type, linear_feet,
			voice_recording_url, voice_transcript, photo_urls, created_at, updated_at, submitted_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $22, $22
		)
		RETURNING created_at, updated_at, submitted_at
	`
	err = tx.QueryRow(ctx, insertQuery,
		req.ID, req.RequestType, req.Urgency, req.Stage, req.SubmitterID, req.AssignedTo, req.AssignedAt,
		req.SLATargetHours, req.SLAStatus, req.Title, req.Description, req.Customer.Name, req.Customer.Email,
		req.Customer.Phone, req.Customer.Address, req.ProjectName, req.FenceType, req.LinearFeet,
		req.VoiceRecordingURL, req.VoiceTranscript, req.PhotoURLs, now,
	).Scan(&req.CreatedAt, &req.UpdatedAt, &req.SubmittedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return req, nil
}

func (r *Repository) slaDefault(ctx context.Context, q pgx.Tx, t models.RequestType) (*models.SLADefault, error) {
	def := models.SLADefault{RequestType: t}
	query := `
		SELECT target_hours, urgent_target_hours, critical_target_hours
		FROM sla_defaults WHERE request_type = $1
	`
	err := q.QueryRow(ctx, query, t).Scan(&def.TargetHours, &def.UrgentTargetHours, &def.CriticalTargetHours)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sla default: %w", err)
	}
	return &def, nil
}

// GetRequest получает заявку с признаком закрепления для viewerID
func (r *Repository) GetRequest(ctx context.Context, id uuid.UUID, viewerID string) (*models.Request, error) {
	query := `
		SELECT ` + requestColumns + `,
			EXISTS(SELECT 1 FROM request_pins p WHERE p.request_id = r.id AND p.user_id = $2)
		FROM requests r
		WHERE r.id = $1
	`
	var pinned bool
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id, viewerID), &pinned)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	req.Pinned = pinned
	return req, nil
}

// ListRequests выборка по фильтру; закрепленные идут первыми
func (r *Repository) ListRequests(ctx context.Context, f models.ListFilter) ([]models.Request, error) {
	f = f.Normalize()

	args := []any{f.ViewerID}
	where := "TRUE"
	add := func(cond string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(" AND "+cond, len(args))
	}

	if len(f.Stages) > 0 {
		stages := make([]string, len(f.Stages))
		for i, s := range f.Stages {
			stages[i] = string(s)
		}
		add("r.stage = ANY($%d)", stages)
	}
	if f.RequestType != "" {
		add("r.request_type = $%d", f.RequestType)
	}
	if f.AssignedTo != "" {
		add("r.assigned_to = $%d", f.AssignedTo)
	}
	if f.SubmitterID != "" {
		add("r.submitter_id = $%d", f.SubmitterID)
	}
	if f.Urgency != "" {
		add("r.urgency = $%d", f.Urgency)
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		where += fmt.Sprintf(
			" AND (r.title ILIKE $%d OR r.description ILIKE $%d OR r.customer_name ILIKE $%d OR r.project_name ILIKE $%d)",
			n, n, n, n)
	}

	order := "r.created_at DESC"
	switch f.Sort {
	case models.SortOldest:
		order = "r.created_at ASC"
	case models.SortUpdated:
		order = "r.updated_at DESC"
	}

	args = append(args, f.Limit, f.Offset)
	query := `
		SELECT ` + requestColumns + `, (p.user_id IS NOT NULL) AS pinned
		FROM requests r
		LEFT JOIN request_pins p ON p.request_id = r.id AND p.user_id = $1
		WHERE ` + where + `
		ORDER BY pinned DESC, ` + order + `, r.id
		LIMIT $` + fmt.Sprint(len(args)-1) + ` OFFSET $` + fmt.Sprint(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	list := make([]models.Request, 0)
	for rows.Next() {
		var pinned bool
		req, err := scanRequest(rows, &pinned)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		req.Pinned = pinned
		list = append(list, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate requests: %w", err)
	}

	models.SortRequests(list, f.Sort)
	return list, nil
}

// mutate блокирует строку заявки, применяет fn к копии и сохраняет результат.
// Последняя запись выигрывает, если не задан expected.
func (r *Repository) mutate(ctx context.Context, id uuid.UUID, expected *time.Time, fn func(req *models.Request, now time.Time) error) (*Change, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	change, err := r.mutateTx(ctx, tx, id, expected, fn)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return change, nil
}

func (r *Repository) mutateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, expected *time.Time, fn func(req *models.Request, now time.Time) error) (*Change, error) {
	query := `SELECT ` + requestColumns + ` FROM requests r WHERE r.id = $1 FOR UPDATE`
	current, err := scanRequest(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock request: %w", err)
	}

	if expected != nil && !expected.Equal(current.UpdatedAt) {
		return nil, ErrConflict
	}

	before := *current
	now := r.now()
	if err := fn(current, now); err != nil {
		return nil, err
	}
	current.UpdatedAt = now

	updateQuery := `
		UPDATE requests SET
			urgency = $2, stage = $3, quote_status = $4, quote_ref = $5, assigned_to = $6,
			assigned_at = $7, sla_target_hours = $8, sla_status = $9, title = $10,
			description = $11, customer_name = $12, customer_email = $13, customer_phone = $14,
			customer_address = $15, project_name = $16, fence_type = $17, linear_feet = $18,
			voice_recording_url = $19, voice_transcript = $20, photo_urls = $21,
			archive_reason = $22, completed_at = $23, first_response_at = $24, updated_at = $25
		WHERE id = $1
	`
	_, err = tx.Exec(ctx, updateQuery,
		current.ID, current.Urgency, current.Stage, current.QuoteStatus, current.QuoteRef, current.AssignedTo,
		current.AssignedAt, current.SLATargetHours, current.SLAStatus, current.Title,
		current.Description, current.Customer.Name, current.Customer.Email, current.Customer.Phone,
		current.Customer.Address, current.ProjectName, current.FenceType, current.LinearFeet,
		current.VoiceRecordingURL, current.VoiceTranscript, current.PhotoURLs,
		current.ArchiveReason, current.CompletedAt, current.FirstResponseAt, current.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update request: %w", err)
	}

	return &Change{Before: before, After: current}, nil
}

// UpdateRequest применяет частичное обновление полей содержимого
func (r *Repository) UpdateRequest(ctx context.Context, id uuid.UUID, patch models.RequestPatch) (*Change, error) {
	return r.mutate(ctx, id, patch.ExpectedUpdatedAt, func(req *models.Request, _ time.Time) error {
		if patch.Title != nil {
			req.Title = *patch.Title
		}
		if patch.Description != nil {
			req.Description = *patch.Description
		}
		if patch.Urgency != nil {
			req.Urgency = *patch.Urgency
		}
		if patch.Customer != nil {
			req.Customer = *patch.Customer
		}
		if patch.ProjectName != nil {
			req.ProjectName = *patch.ProjectName
		}
		if patch.FenceType != nil {
			req.FenceType = *patch.FenceType
		}
		if patch.LinearFeet != nil {
			req.LinearFeet = patch.LinearFeet
		}
		if patch.VoiceRecordingURL != nil {
			req.VoiceRecordingURL = *patch.VoiceRecordingURL
		}
		if patch.VoiceTranscript != nil {
			req.VoiceTranscript = *patch.VoiceTranscript
		}
		if patch.PhotoURLs != nil {
			req.PhotoURLs = patch.PhotoURLs
		}
		return nil
	})
}

// AssignRequest назначает исполнителя; этап всегда сбрасывается в new
func (r *Repository) AssignRequest(ctx context.Context, id uuid.UUID, assigneeID string) (*Change, error) {
	return r.mutate(ctx, id, nil, func(req *models.Request, now time.Time) error {
		if err := lifecycle.Transition(req.Stage, models.StageNew, lifecycle.TriggerAssign); err != nil {
			return err
		}
		lifecycle.Assign(req, assigneeID, now)
		return nil
	})
}

// UnassignRequest снимает исполнителя, этап не меняется
func (r *Repository) UnassignRequest(ctx context.Context, id uuid.UUID) (*Change, error) {
	return r.mutate(ctx, id, nil, func(req *models.Request, _ time.Time) error {
		req.AssignedTo = nil
		req.AssignedAt = nil
		return nil
	})
}

// ChangeStage ручная смена этапа оператором
func (r *Repository) ChangeStage(ctx context.Context, id uuid.UUID, to models.Stage) (*Change, error) {
	return r.mutate(ctx, id, nil, func(req *models.Request, now time.Time) error {
		if err := lifecycle.Transition(req.Stage, to, lifecycle.TriggerOperator); err != nil {
			return err
		}
		lifecycle.Apply(req, to, now)
		if to != models.StageArchived {
			req.ArchiveReason = nil
		}
		return nil
	})
}

// AddQuote фиксирует КП и завершает заявку
func (r *Repository) AddQuote(ctx context.Context, id uuid.UUID, quoteRef string) (*Change, error) {
	return r.mutate(ctx, id, nil, func(req *models.Request, now time.Time) error {
		if err := lifecycle.Transition(req.Stage, models.StageCompleted, lifecycle.TriggerQuote); err != nil {
			return err
		}
		lifecycle.Apply(req, models.StageCompleted, now)
		req.QuoteRef = &quoteRef
		req.QuoteStatus = lifecycle.QuoteStatusOnQuote(req)
		req.ArchiveReason = nil
		return nil
	})
}

func (r *Repository) SetQuoteStatus(ctx context.Context, id uuid.UUID, status models.QuoteStatus) (*Change, error) {
	return r.mutate(ctx, id, nil, func(req *models.Request, _ time.Time) error {
		if err := lifecycle.ValidateQuoteStatus(req, status); err != nil {
			return err
		}
		req.QuoteStatus = &status
		return nil
	})
}

// ArchiveRequest переводит заявку в архив; причина необязательна
func (r *Repository) ArchiveRequest(ctx context.Context, id uuid.UUID, reason string) (*Change, error) {
	return r.mutate(ctx, id, nil, func(req *models.Request, now time.Time) error {
		if err := lifecycle.Transition(req.Stage, models.StageArchived, lifecycle.TriggerOperator); err != nil {
			return err
		}
		lifecycle.Apply(req, models.StageArchived, now)
		if reason != "" {
			req.ArchiveReason = &reason
		} else {
			req.ArchiveReason = nil
		}
		return nil
	})
}

// DeleteRequest удаляет заявку; дочерние записи удаляются каскадно
func (r *Repository) DeleteRequest(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	query := `DELETE FROM requests r WHERE r.id = $1 RETURNING ` + requestColumns
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete request: %w", err)
	}
	return req, nil
}

// MarkViewed фиксирует просмотр и, если смотрит исполнитель новой заявки,
// переводит ее в pending в той же транзакции
func (r *Repository) MarkViewed(ctx context.Context, id uuid.UUID, userID string) (*models.Request, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	transitioned := false
	change, err := r.mutateTx(ctx, tx, id, nil, func(req *models.Request, now time.Time) error {
		if !lifecycle.ShouldAutoPend(req, userID) {
			return errNoTransition
		}
		if err := lifecycle.Transition(req.Stage, models.StagePending, lifecycle.TriggerView); err != nil {
			return err
		}
		lifecycle.Apply(req, models.StagePending, now)
		transitioned = true
		return nil
	})
	var req *models.Request
	switch {
	case errors.Is(err, errNoTransition):
		req, err = r.getRequestTx(ctx, tx, id)
		if err != nil {
			return nil, false, err
		}
	case err != nil:
		return nil, false, err
	default:
		req = change.After
	}

	viewQuery := `
		INSERT INTO request_views (request_id, user_id, last_viewed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_id, user_id) DO UPDATE SET last_viewed_at = excluded.last_viewed_at
	`
	if _, err = tx.Exec(ctx, viewQuery, id, userID, r.now()); err != nil {
		return nil, false, fmt.Errorf("failed to record view: %w", err)
	}

	if transitioned {
		activity := &models.RequestActivity{
			RequestID: id,
			ActorID:   userID,
			Action:    models.ActionStageChanged,
			Details:   lifecycle.StageChangeDetails(change.Before.Stage, models.StagePending, true),
		}
		if err = insertActivity(ctx, tx, activity, r.now()); err != nil {
			return nil, false, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return req, transitioned, nil
}

var errNoTransition = errors.New("no transition")

func (r *Repository) getRequestTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests r WHERE r.id = $1`
	req, err := scanRequest(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// ListOpenForSLA незакрытые заявки для пересчета SLA
func (r *Repository) ListOpenForSLA(ctx context.Context) ([]models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests r WHERE r.stage IN ('new', 'pending')`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list open requests: %w", err)
	}
	defer rows.Close()

	var list []models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		list = append(list, *req)
	}
	return list, rows.Err()
}

// UpdateSLAStatus сохраняет статус SLA без изменения updated_at
func (r *Repository) UpdateSLAStatus(ctx context.Context, id uuid.UUID, status models.SLAStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE requests SET sla_status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update sla status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
