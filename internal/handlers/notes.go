package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/service"
)

func (h *Handler) ListNotes(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	notes, err := h.requests.ListNotes(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "ListNotes", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"notes": notes})
}

// AddNote добавляет комментарий или внутреннюю заметку
func (h *Handler) AddNote(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	var req service.NoteInput
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("AddNote: ошибка парсинга тела запроса", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	note, err := h.requests.AddNote(c.Request().Context(), id, req)
	if err != nil {
		return h.fail(c, "AddNote", err)
	}

	h.logger.Info("AddNote: заметка добавлена",
		zap.String("request_id", id.String()),
		zap.String("note_type", string(note.NoteType)))
	return c.JSON(http.StatusCreated, map[string]any{"note": note})
}

func (h *Handler) ListActivity(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	activity, err := h.requests.ListActivity(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "ListActivity", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"activity": activity})
}

func (h *Handler) ListAttachments(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	attachments, err := h.requests.ListAttachments(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "ListAttachments", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"attachments": attachments})
}

// UploadAttachment принимает multipart-поле file. with_note=false отключает
// комментарий о загрузке.
func (h *Handler) UploadAttachment(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		h.logger.Warn("UploadAttachment: файл не передан", zap.Error(err))
		return badRequest(c, "file is required")
	}
	file, err := fh.Open()
	if err != nil {
		return h.fail(c, "UploadAttachment", err)
	}
	defer file.Close()

	withNote := true
	if v := c.FormValue("with_note"); v != "" {
		withNote, _ = strconv.ParseBool(v)
	}

	attachment, err := h.requests.UploadAttachment(c.Request().Context(), id, service.UploadInput{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Size:        fh.Size,
		Content:     file,
		WithNote:    withNote,
	})
	if err != nil {
		return h.fail(c, "UploadAttachment", err)
	}

	h.logger.Info("UploadAttachment: файл загружен",
		zap.String("request_id", id.String()),
		zap.String("file_name", attachment.FileName),
		zap.Int64("size", attachment.SizeBytes))
	return c.JSON(http.StatusCreated, map[string]any{"attachment": attachment})
}

func (h *Handler) DeleteAttachment(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid attachment id")
	}

	if err := h.requests.DeleteAttachment(c.Request().Context(), id); err != nil {
		return h.fail(c, "DeleteAttachment", err)
	}

	h.logger.Info("DeleteAttachment: вложение удалено", zap.String("attachment_id", id.String()))
	return c.NoContent(http.StatusNoContent)
}
