package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/lifecycle"
	"github.com/untibullet/request-desk/internal/otp"
	"github.com/untibullet/request-desk/internal/realtime"
	"github.com/untibullet/request-desk/internal/repository"
	"github.com/untibullet/request-desk/internal/service"
	"github.com/untibullet/request-desk/internal/transcription"
)

// Коды ошибок для API
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeQuoteNotAllowed   = "QUOTE_NOT_ALLOWED"
	ErrCodeInvalidCode       = "INVALID_CODE"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeUnavailable       = "UNAVAILABLE"
	ErrCodeProvider          = "PROVIDER_ERROR"
	ErrCodeInternal          = "INTERNAL"
)

// OTPService выдача и проверка кодов подтверждения телефона
type OTPService interface {
	Send(ctx context.Context, userID, rawPhone string) (string, error)
	Verify(ctx context.Context, userID, code string) (string, error)
}

// Transcriber прокси к провайдеру расшифровки
type Transcriber interface {
	Get(ctx context.Context, id string) (*transcription.Transcript, error)
	Submit(ctx context.Context, audioURL string) (*transcription.Transcript, error)
}

type Handler struct {
	requests    *service.RequestService
	otp         OTPService
	transcriber Transcriber
	hub         *realtime.Hub
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// New создает обработчик. otp, transcriber и hub могут быть nil,
// тогда соответствующие маршруты отвечают 503.
func New(requests *service.RequestService, otpSvc OTPService, transcriber Transcriber, hub *realtime.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		requests:    requests,
		otp:         otpSvc,
		transcriber: transcriber,
		hub:         hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ErrorResponse представляет структуру ошибки API
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newErrorResponse создает стандартный ответ с ошибкой
func newErrorResponse(code, message string) ErrorResponse {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	return resp
}

// classify сопоставляет ошибку слоя сервиса HTTP-статусу
func classify(err error) (int, string, string) {
	var verr *service.ValidationError
	var perr *transcription.ProviderError

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrCodeValidation, verr.Message
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrCodeUnauthenticated, "authentication required"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden, "operation is not permitted"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "not found"
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, ErrCodeConflict, "request was modified concurrently"
	case errors.Is(err, repository.ErrAlreadyExists):
		return http.StatusConflict, ErrCodeAlreadyExists, "already exists"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict, ErrCodeInvalidTransition, err.Error()
	case errors.Is(err, lifecycle.ErrQuoteNotAllowed):
		return http.StatusConflict, ErrCodeQuoteNotAllowed, err.Error()
	case errors.Is(err, otp.ErrRateLimited), errors.Is(err, otp.ErrTooManyAttempts):
		return http.StatusTooManyRequests, ErrCodeRateLimited, err.Error()
	case errors.Is(err, otp.ErrNoActiveCode), errors.Is(err, otp.ErrCodeMismatch):
		return http.StatusBadRequest, ErrCodeInvalidCode, err.Error()
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, repository.ErrInvalidInput),
		errors.Is(err, otp.ErrInvalidInput), errors.Is(err, otp.ErrInvalidPhone),
		errors.Is(err, transcription.ErrInvalidInput):
		return http.StatusBadRequest, ErrCodeValidation, err.Error()
	case errors.Is(err, service.ErrStorageUnavailable), errors.Is(err, transcription.ErrNotConfigured):
		return http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error()
	case errors.As(err, &perr):
		return http.StatusBadGateway, ErrCodeProvider, perr.Message
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "internal error"
	}
}

// fail пишет ответ с ошибкой; серверные ошибки логируются как Error
func (h *Handler) fail(c echo.Context, method string, err error) error {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(method+": ошибка обработки запроса", zap.Error(err), zap.Int("status", status))
	} else {
		h.logger.Warn(method+": запрос отклонен", zap.Error(err), zap.Int("status", status))
	}
	return c.JSON(status, newErrorResponse(code, message))
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, newErrorResponse(ErrCodeValidation, message))
}

func unavailable(c echo.Context, message string) error {
	return c.JSON(http.StatusServiceUnavailable, newErrorResponse(ErrCodeUnavailable, message))
}

func pathID(c echo.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	return id, err == nil
}

// queryIDs разбирает ids=a,b,c и повторяющиеся ids=a&ids=b
func queryIDs(c echo.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, raw := range c.QueryParams()["ids"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.Parse(part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// RegisterRoutes регистрирует все маршруты API. authMW кладет пользователя в context.
func (h *Handler) RegisterRoutes(e *echo.Echo, authMW echo.MiddlewareFunc) {
	api := e.Group("/api/v1", authMW)

	// Requests
	api.POST("/requests", h.CreateRequest)
	api.GET("/requests", h.ListRequests)
	api.GET("/requests/unread", h.GetUnreadCounts)
	api.GET("/requests/views", h.GetViewStatus)
	api.GET("/requests/:id", h.GetRequest)
	api.PATCH("/requests/:id", h.UpdateRequest)
	api.DELETE("/requests/:id", h.DeleteRequest)
	api.POST("/requests/:id/assign", h.AssignRequest)
	api.POST("/requests/:id/view", h.MarkViewed)
	api.POST("/requests/:id/stage", h.ChangeStage)
	api.POST("/requests/:id/quote", h.AddQuote)
	api.POST("/requests/:id/quote-status", h.SetQuoteStatus)
	api.POST("/requests/:id/archive", h.ArchiveRequest)

	// Notes, activity, attachments
	api.GET("/requests/:id/notes", h.ListNotes)
	api.POST("/requests/:id/notes", h.AddNote)
	api.GET("/requests/:id/activity", h.ListActivity)
	api.GET("/requests/:id/attachments", h.ListAttachments)
	api.POST("/requests/:id/attachments", h.UploadAttachment)
	api.DELETE("/attachments/:id", h.DeleteAttachment)

	// Watchers, pins
	api.GET("/requests/:id/watchers", h.ListWatchers)
	api.POST("/requests/:id/watchers", h.AddWatcher)
	api.POST("/requests/:id/watchers/toggle", h.ToggleWatcher)
	api.DELETE("/requests/:id/watchers/:user", h.RemoveWatcher)
	api.POST("/requests/:id/pin", h.TogglePin)

	// Settings
	api.GET("/assignment-rules", h.ListAssignmentRules)
	api.PUT("/assignment-rules", h.SaveAssignmentRule)
	api.GET("/sla-defaults", h.ListSLADefaults)
	api.PUT("/sla-defaults", h.SaveSLADefault)

	// Phone verification
	api.POST("/otp/send", h.SendOTP)
	api.POST("/otp/verify", h.VerifyOTP)

	// Transcription
	api.GET("/transcription", h.GetTranscription)
	api.POST("/transcription", h.SubmitTranscription)

	// Realtime
	api.GET("/ws", h.ServeWS)
}
