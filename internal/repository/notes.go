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

// AddNote добавляет заметку; заметки только дописываются
func (r *Repository) AddNote(ctx context.Context, note *models.RequestNote) error {
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	query := `
		INSERT INTO request_notes (id, request_id, author_id, note_type, body, body_html, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query,
		note.ID, note.RequestID, note.AuthorID, note.NoteType, note.Body, note.BodyHTML, r.now(),
	).Scan(&note.CreatedAt)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("failed to add note: %w", err)
	}
	return nil
}

// ListNotes заметки заявки по времени; внутренние только если includeInternal
func (r *Repository) ListNotes(ctx context.Context, requestID uuid.UUID, includeInternal bool) ([]models.RequestNote, error) {
	query := `
		SELECT id, request_id, author_id, note_type, body, body_html, created_at
		FROM request_notes
		WHERE request_id = $1 AND ($2 OR note_type <> 'internal')
		ORDER BY created_at, id
	`
	rows, err := r.pool.Query(ctx, query, requestID, includeInternal)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]models.RequestNote, 0)
	for rows.Next() {
		var n models.RequestNote
		if err := rows.Scan(&n.ID, &n.RequestID, &n.AuthorID, &n.NoteType, &n.Body, &n.BodyHTML, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// LogActivity пишет запись журнала
func (r *Repository) LogActivity(ctx context.Context, a *models.RequestActivity) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertActivity(ctx, tx, a, r.now()); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertActivity(ctx context.Context, tx pgx.Tx, a *models.RequestActivity, now time.Time) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Details == nil {
		a.Details = map[string]any{}
	}
	query := `
		INSERT INTO request_activity (id, request_id, actor_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := tx.QueryRow(ctx, query, a.ID, a.RequestID, a.ActorID, a.Action, a.Details, now).Scan(&a.CreatedAt)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("failed to log activity: %w", err)
	}
	return nil
}

func (r *Repository) ListActivity(ctx context.Context, requestID uuid.UUID) ([]models.RequestActivity, error) {
	query := `
		SELECT id, request_id, actor_id, action, details, created_at
		FROM request_activity
		WHERE request_id = $1
		ORDER BY created_at DESC, id
	`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	list := make([]models.RequestActivity, 0)
	for rows.Next() {
		var a models.RequestActivity
		if err := rows.Scan(&a.ID, &a.RequestID, &a.ActorID, &a.Action, &a.Details, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

const attachmentColumns = `id, request_id, uploaded_by, file_name, object_key, mime_type, file_kind, size_bytes, note_id, created_at`

func scanAttachment(row pgx.Row) (*models.RequestAttachment, error) {
	var a models.RequestAttachment
	err := row.Scan(&a.ID, &a.RequestID, &a.UploadedBy, &a.FileName, &a.ObjectKey,
		&a.MimeType, &a.FileKind, &a.SizeBytes, &a.NoteID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) AddAttachment(ctx context.Context, a *models.RequestAttachment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	query := `
		INSERT INTO request_attachments (id, request_id, uploaded_by, file_name, object_key, mime_type, file_kind, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query,
		a.ID, a.RequestID, a.UploadedBy, a.FileName, a.ObjectKey, a.MimeType, a.FileKind, a.SizeBytes, r.now(),
	).Scan(&a.CreatedAt)
	if err != nil {
		switch pgCode(err) {
		case pgForeignKeyViolation:
			return ErrNotFound
		case pgUniqueViolation:
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to add attachment: %w", err)
	}
	return nil
}

func (r *Repository) ListAttachments(ctx context.Context, requestID uuid.UUID) ([]models.RequestAttachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM request_attachments WHERE request_id = $1 ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	list := make([]models.RequestAttachment, 0)
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

func (r *Repository) GetAttachment(ctx context.Context, id uuid.UUID) (*models.RequestAttachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM request_attachments WHERE id = $1`
	a, err := scanAttachment(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	return a, nil
}

// DeleteAttachment удаляет строку вложения; заметка о загрузке остается
func (r *Repository) DeleteAttachment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM request_attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkAttachmentNote связывает вложение с заметкой о загрузке
func (r *Repository) LinkAttachmentNote(ctx context.Context, attachmentID, noteID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE request_attachments SET note_id = $1 WHERE id = $2`, noteID, attachmentID)
	if err != nil {
		return fmt.Errorf("failed to link attachment note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
