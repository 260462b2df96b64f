package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/untibullet/request-desk/internal/models"
)

func (r *Repository) ListAssignmentRules(ctx context.Context) ([]models.AssignmentRule, error) {
	query := `
		SELECT id, request_type, assignee_id, priority, active
		FROM assignment_rules
		ORDER BY request_type, priority, id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignment rules: %w", err)
	}
	defer rows.Close()

	rules := make([]models.AssignmentRule, 0)
	for rows.Next() {
		var rule models.AssignmentRule
		if err := rows.Scan(&rule.ID, &rule.RequestType, &rule.AssigneeID, &rule.Priority, &rule.Active); err != nil {
			return nil, fmt.Errorf("failed to scan assignment rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// UpsertAssignmentRule создает правило или обновляет существующее для пары тип/исполнитель
func (r *Repository) UpsertAssignmentRule(ctx context.Context, rule *models.AssignmentRule) error {
	query := `
		INSERT INTO assignment_rules (request_type, assignee_id, priority, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_type, assignee_id) DO UPDATE
		SET priority = excluded.priority, active = excluded.active, updated_at = NOW()
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query, rule.RequestType, rule.AssigneeID, rule.Priority, rule.Active).Scan(&rule.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert assignment rule: %w", err)
	}
	return nil
}

func (r *Repository) ListSLADefaults(ctx context.Context) ([]models.SLADefault, error) {
	query := `
		SELECT request_type, target_hours, urgent_target_hours, critical_target_hours
		FROM sla_defaults
		ORDER BY request_type
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sla defaults: %w", err)
	}
	defer rows.Close()

	list := make([]models.SLADefault, 0)
	for rows.Next() {
		var d models.SLADefault
		if err := rows.Scan(&d.RequestType, &d.TargetHours, &d.UrgentTargetHours, &d.CriticalTargetHours); err != nil {
			return nil, fmt.Errorf("failed to scan sla default: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

// UpsertSLADefault действует только на новые заявки
func (r *Repository) UpsertSLADefault(ctx context.Context, d *models.SLADefault) error {
	query := `
		INSERT INTO sla_defaults (request_type, target_hours, urgent_target_hours, critical_target_hours)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_type) DO UPDATE
		SET target_hours = excluded.target_hours,
		    urgent_target_hours = excluded.urgent_target_hours,
		    critical_target_hours = excluded.critical_target_hours,
		    updated_at = NOW()
	`
	_, err := r.pool.Exec(ctx, query, d.RequestType, d.TargetHours, d.UrgentTargetHours, d.CriticalTargetHours)
	if err != nil {
		return fmt.Errorf("failed to upsert sla default: %w", err)
	}
	return nil
}

// SaveOTP сохраняет хэш кода подтверждения
func (r *Repository) SaveOTP(ctx context.Context, v *models.PhoneVerification) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	query := `
		INSERT INTO phone_verifications (id, user_id, phone, code_hash, attempts, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query, v.ID, v.UserID, v.Phone, v.CodeHash, v.Attempts, v.ExpiresAt, r.now()).Scan(&v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save verification code: %w", err)
	}
	return nil
}

// LatestOTP последний выданный пользователю код
func (r *Repository) LatestOTP(ctx context.Context, userID string) (*models.PhoneVerification, error) {
	query := `
		SELECT id, user_id, phone, code_hash, attempts, expires_at, used_at, created_at
		FROM phone_verifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var v models.PhoneVerification
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&v.ID, &v.UserID, &v.Phone, &v.CodeHash, &v.Attempts, &v.ExpiresAt, &v.UsedAt, &v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verification code: %w", err)
	}
	return &v, nil
}

// IncrementOTPAttempts атомарно увеличивает счетчик попыток
func (r *Repository) IncrementOTPAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx,
		`UPDATE phone_verifications SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`, id,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return attempts, nil
}

func (r *Repository) MarkOTPUsed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE phone_verifications SET used_at = $1 WHERE id = $2 AND used_at IS NULL`, r.now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark code used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
