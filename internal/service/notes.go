package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/models"
	"github.com/untibullet/request-desk/internal/notify"
	"github.com/untibullet/request-desk/internal/realtime"
)

type NoteInput struct {
	NoteType models.NoteType `json:"note_type" validate:"omitempty,oneof=comment internal"`
	Body     string          `json:"body" validate:"required,max=10000"`
}

// AddNote добавляет комментарий или внутреннюю заметку.
// Внутренние заметки пишут только привилегированные пользователи и в уведомления они не попадают.
func (s *RequestService) AddNote(ctx context.Context, requestID uuid.UUID, in NoteInput) (*models.RequestNote, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if in.NoteType == "" {
		in.NoteType = models.NoteComment
	}
	if in.NoteType == models.NoteInternal && !actor.Privileged() {
		return nil, ErrForbidden
	}

	body := s.renderer.Sanitize(in.Body)
	if body == "" {
		return nil, invalid("body is required")
	}

	req, err := s.store.GetRequest(ctx, requestID, actor.ID)
	if err != nil {
		return nil, err
	}

	note := &models.RequestNote{
		RequestID: requestID,
		AuthorID:  actor.ID,
		NoteType:  in.NoteType,
		Body:      body,
	}
	if html, err := s.renderer.Render(body); err != nil {
		s.logger.Warn("AddNote: failed to render note", zap.Error(err))
	} else {
		note.BodyHTML = html
	}

	if err := s.store.AddNote(ctx, note); err != nil {
		return nil, err
	}

	s.logActivity(ctx, requestID, actor.ID, models.ActionNoteAdded, map[string]any{
		"note_id":   note.ID.String(),
		"note_type": string(note.NoteType),
	})
	if p, ok := notify.Comment(req, note); ok {
		s.notify(p)
	}
	s.emit(ctx, realtime.NewEvent(realtime.EventNoteAdded, req, actor.ID))
	return note, nil
}

// addSystemNote служебная заметка; ошибка только логируется
func (s *RequestService) addSystemNote(ctx context.Context, requestID uuid.UUID, authorID string, t models.NoteType, body string) *models.RequestNote {
	note := &models.RequestNote{
		RequestID: requestID,
		AuthorID:  authorID,
		NoteType:  t,
		Body:      body,
	}
	if html, err := s.renderer.Render(body); err == nil {
		note.BodyHTML = html
	}
	if err := s.store.AddNote(ctx, note); err != nil {
		s.logger.Warn("Failed to add system note",
			zap.String("request_id", requestID.String()),
			zap.Error(err))
		return nil
	}
	return note
}

// ListNotes заметки заявки; внутренние видны только привилегированным
func (s *RequestService) ListNotes(ctx context.Context, requestID uuid.UUID) ([]models.RequestNote, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListNotes(ctx, requestID, actor.Privileged())
}

func (s *RequestService) ListActivity(ctx context.Context, requestID uuid.UUID) ([]models.RequestActivity, error) {
	if _, err := actorFrom(ctx); err != nil {
		return nil, err
	}
	return s.store.ListActivity(ctx, requestID)
}
