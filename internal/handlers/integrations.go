package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/auth"
	"github.com/untibullet/request-desk/internal/realtime"
	"github.com/untibullet/request-desk/internal/transcription"
)

// SendOTP отправляет код подтверждения на телефон текущего пользователя
func (h *Handler) SendOTP(c echo.Context) error {
	if h.otp == nil {
		return unavailable(c, "phone verification is not configured")
	}
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return h.fail(c, "SendOTP", err)
	}

	var req struct {
		Phone string `json:"phone"`
	}
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("SendOTP: ошибка парсинга тела запроса", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	masked, err := h.otp.Send(c.Request().Context(), actor.ID, req.Phone)
	if err != nil {
		return h.fail(c, "SendOTP", err)
	}

	h.logger.Info("SendOTP: код отправлен", zap.String("user_id", actor.ID), zap.String("phone", masked))
	return c.JSON(http.StatusOK, map[string]any{"success": true, "phone": masked})
}

func (h *Handler) VerifyOTP(c echo.Context) error {
	if h.otp == nil {
		return unavailable(c, "phone verification is not configured")
	}
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return h.fail(c, "VerifyOTP", err)
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("VerifyOTP: ошибка парсинга тела запроса", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	phone, err := h.otp.Verify(c.Request().Context(), actor.ID, req.Code)
	if err != nil {
		return h.fail(c, "VerifyOTP", err)
	}

	h.logger.Info("VerifyOTP: телефон подтвержден", zap.String("user_id", actor.ID))
	return c.JSON(http.StatusOK, map[string]any{"success": true, "phone": phone})
}

// GetTranscription статус и результат расшифровки по id
func (h *Handler) GetTranscription(c echo.Context) error {
	if h.transcriber == nil {
		return h.fail(c, "GetTranscription", transcription.ErrNotConfigured)
	}
	id := c.QueryParam("id")
	if id == "" {
		return badRequest(c, "id parameter is required")
	}

	t, err := h.transcriber.Get(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "GetTranscription", err)
	}
	return c.JSON(http.StatusOK, transcription.Format(t))
}

// SubmitTranscription ставит запись в очередь провайдера
func (h *Handler) SubmitTranscription(c echo.Context) error {
	if h.transcriber == nil {
		return h.fail(c, "SubmitTranscription", transcription.ErrNotConfigured)
	}

	var req struct {
		AudioURL string `json:"audio_url"`
	}
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("SubmitTranscription: ошибка парсинга тела запроса", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	t, err := h.transcriber.Submit(c.Request().Context(), req.AudioURL)
	if err != nil {
		return h.fail(c, "SubmitTranscription", err)
	}

	h.logger.Info("SubmitTranscription: расшифровка запущена", zap.String("transcript_id", t.ID))
	return c.JSON(http.StatusAccepted, transcription.Format(t))
}

// ServeWS переводит соединение в websocket и держит его до закрытия
func (h *Handler) ServeWS(c echo.Context) error {
	if h.hub == nil {
		return unavailable(c, "realtime is not configured")
	}
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return h.fail(c, "ServeWS", err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("ServeWS: ошибка upgrade", zap.Error(err))
		return nil
	}

	client := realtime.NewClient(h.hub, conn, actor.ID, h.logger)
	h.logger.Info("ServeWS: клиент подключен", zap.String("user_id", client.UserID()))
	client.Serve()
	h.logger.Info("ServeWS: клиент отключен",
		zap.String("user_id", client.UserID()),
		zap.Int("clients", h.hub.ClientCount()))
	return nil
}
