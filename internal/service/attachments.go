package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/models"
	"github.com/untibullet/request-desk/internal/notify"
	"github.com/untibullet/request-desk/internal/realtime"
	"github.com/untibullet/request-desk/internal/storage"
)

// UploadInput файл вложения
type UploadInput struct {
	FileName    string
	ContentType string
	Size        int64
	Content     io.Reader
	// WithNote добавляет комментарий "Attached <name>"
	WithNote bool
}

// UploadAttachment сохраняет файл в хранилище и привязывает к заявке
func (s *RequestService) UploadAttachment(ctx context.Context, requestID uuid.UUID, in UploadInput) (*models.RequestAttachment, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if s.objects == nil {
		return nil, ErrStorageUnavailable
	}

	name := strings.TrimSpace(filepath.Base(in.FileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, invalid("file name is required")
	}
	if in.Content == nil || in.Size <= 0 {
		return nil, invalid("file is empty")
	}
	if s.maxUploadBytes > 0 && in.Size > s.maxUploadBytes {
		return nil, invalid("file exceeds %d bytes", s.maxUploadBytes)
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	req, err := s.store.GetRequest(ctx, requestID, actor.ID)
	if err != nil {
		return nil, err
	}

	key := storage.ObjectKey(requestID, name)
	if err := s.objects.Put(ctx, key, in.Content, in.Size, contentType); err != nil {
		return nil, fmt.Errorf("failed to store attachment: %w", err)
	}

	attachment := &models.RequestAttachment{
		RequestID:  requestID,
		UploadedBy: actor.ID,
		FileName:   name,
		ObjectKey:  key,
		MimeType:   contentType,
		FileKind:   storage.ClassifyMime(contentType),
		SizeBytes:  in.Size,
	}
	if err := s.store.AddAttachment(ctx, attachment); err != nil {
		if rmErr := s.objects.Remove(ctx, key); rmErr != nil {
			s.logger.Warn("UploadAttachment: failed to remove orphaned object",
				zap.String("object_key", key), zap.Error(rmErr))
		}
		return nil, err
	}

	if in.WithNote {
		if note := s.addSystemNote(ctx, requestID, actor.ID, models.NoteComment, "Attached "+name); note != nil {
			if err := s.store.LinkAttachmentNote(ctx, attachment.ID, note.ID); err != nil {
				s.logger.Warn("UploadAttachment: failed to link note",
					zap.String("attachment_id", attachment.ID.String()), zap.Error(err))
			} else {
				attachment.NoteID = &note.ID
			}
		}
	}

	s.logActivity(ctx, requestID, actor.ID, models.ActionFileAttached, map[string]any{
		"attachment_id": attachment.ID.String(),
		"file_name":     name,
		"file_kind":     string(attachment.FileKind),
	})
	s.notify(notify.Attachment(req, actor.ID, name))
	s.emit(ctx, realtime.NewEvent(realtime.EventAttachmentChanged, req, actor.ID))

	s.withURL(ctx, attachment)
	return attachment, nil
}

func (s *RequestService) withURL(ctx context.Context, a *models.RequestAttachment) {
	if s.objects == nil {
		return
	}
	url, err := s.objects.URL(ctx, a.ObjectKey)
	if err != nil {
		s.logger.Warn("Failed to presign attachment url", zap.String("object_key", a.ObjectKey), zap.Error(err))
		return
	}
	a.URL = url
}

func (s *RequestService) ListAttachments(ctx context.Context, requestID uuid.UUID) ([]models.RequestAttachment, error) {
	if _, err := actorFrom(ctx); err != nil {
		return nil, err
	}
	list, err := s.store.ListAttachments(ctx, requestID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		s.withURL(ctx, &list[i])
	}
	return list, nil
}

// DeleteAttachment удаляет строку вложения, затем файл. Заметка о загрузке остается.
func (s *RequestService) DeleteAttachment(ctx context.Context, id uuid.UUID) error {
	actor, err := actorFrom(ctx)
	if err != nil {
		return err
	}

	attachment, err := s.store.GetAttachment(ctx, id)
	if err != nil {
		return err
	}
	if attachment.UploadedBy != actor.ID && !actor.Privileged() {
		return ErrForbidden
	}
	if s.objects == nil {
		return ErrStorageUnavailable
	}

	if err := s.store.DeleteAttachment(ctx, id); err != nil {
		return err
	}
	// строки уже нет, оставшийся объект только занимает место
	if err := s.objects.Remove(ctx, attachment.ObjectKey); err != nil {
		s.logger.Warn("Failed to remove attachment object, object orphaned",
			zap.String("attachment_id", id.String()),
			zap.String("object_key", attachment.ObjectKey),
			zap.Error(err))
	}

	s.logActivity(ctx, attachment.RequestID, actor.ID, models.ActionFileRemoved, map[string]any{
		"attachment_id": id.String(),
		"file_name":     attachment.FileName,
	})

	if req, err := s.store.GetRequest(ctx, attachment.RequestID, actor.ID); err == nil {
		s.emit(ctx, realtime.NewEvent(realtime.EventAttachmentChanged, req, actor.ID))
	}
	return nil
}
