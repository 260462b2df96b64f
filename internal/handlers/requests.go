package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/models"
	"github.com/untibullet/request-desk/internal/service"
)

// CreateRequest создает заявку и назначает исполнителя по правилам
func (h *Handler) CreateRequest(c echo.Context) error {
	var req service.CreateRequestInput
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("CreateRequest: ошибка парсинга тела запроса", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	created, err := h.requests.Create(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "CreateRequest", err)
	}

	h.logger.Info("CreateRequest: заявка создана",
		zap.String("request_id", created.ID.String()),
		zap.String("request_type", string(created.RequestType)))
	return c.JSON(http.StatusCreated, map[string]any{"request": created})
}

// listFilter собирает фильтр из query-параметров
func listFilter(c echo.Context) (models.ListFilter, error) {
	f := models.ListFilter{
		RequestType: models.RequestType(c.QueryParam("request_type")),
		AssignedTo:  c.QueryParam("assigned_to"),
		SubmitterID: c.QueryParam("submitter_id"),
		Urgency:     models.Urgency(c.QueryParam("urgency")),
		Search:      c.QueryParam("search"),
		Sort:        models.SortOrder(c.QueryParam("sort")),
	}
	for _, raw := range c.QueryParams()["stage"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Stages = append(f.Stages, models.Stage(s))
			}
		}
	}

	var err error
	if v := c.QueryParam("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, err
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			return f, err
		}
	}
	return f, nil
}

func fresh(c echo.Context) bool {
	v, _ := strconv.ParseBool(c.QueryParam("fresh"))
	return v
}

// ListRequests список заявок: закрепленные текущим пользователем первыми
func (h *Handler) ListRequests(c echo.Context) error {
	f, err := listFilter(c)
	if err != nil {
		return badRequest(c, "limit and offset must be integers")
	}

	list, err := h.requests.List(c.Request().Context(), f, fresh(c))
	if err != nil {
		return h.fail(c, "ListRequests", err)
	}

	return c.JSON(http.StatusOK, map[string]any{"requests": list})
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	req, err := h.requests.Get(c.Request().Context(), id, fresh(c))
	if err != nil {
		return h.fail(c, "GetRequest", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"request": req})
}

// UpdateRequest частичное обновление полей заявки
func (h *Handler) UpdateRequest(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	var req service.UpdateRequestInput
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("UpdateRequest: ошибка парсинга тела запроса", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	updated, err := h.requests.Update(c.Request().Context(), id, req)
	if err != nil {
		return h.fail(c, "UpdateRequest", err)
	}

	h.logger.Info("UpdateRequest: заявка обновлена", zap.String("request_id", id.String()))
	return c.JSON(http.StatusOK, map[string]any{"request": updated})
}

func (h *Handler) DeleteRequest(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	if err := h.requests.Delete(c.Request().Context(), id); err != nil {
		return h.fail(c, "DeleteRequest", err)
	}

	h.logger.Info("DeleteRequest: заявка удалена", zap.String("request_id", id.String()))
	return c.NoContent(http.StatusNoContent)
}

// AssignRequest назначает исполнителя; assignee_id "unassigned" снимает его
func (h *Handler) AssignRequest(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	var req struct {
		AssigneeID string `json:"assignee_id"`
	}
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("AssignRequest: ошибка парсинга тела запроса", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	updated, err := h.requests.Assign(c.Request().Context(), id, req.AssigneeID)
	if err != nil {
		return h.fail(c, "AssignRequest", err)
	}

	h.logger.Info("AssignRequest: исполнитель изменен",
		zap.String("request_id", id.String()),
		zap.String("assignee_id", req.AssigneeID))
	return c.JSON(http.StatusOK, map[string]any{"request": updated})
}

// MarkViewed отмечает просмотр заявки текущим пользователем
func (h *Handler) MarkViewed(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	req, moved, err := h.requests.MarkViewed(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "MarkViewed", err)
	}

	if moved {
		h.logger.Info("MarkViewed: заявка переведена в pending", zap.String("request_id", id.String()))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"request":       req,
		"stage_changed": moved,
	})
}

func (h *Handler) ChangeStage(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	var req service.StageInput
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("ChangeStage: ошибка парсинга тела запроса", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	updated, err := h.requests.ChangeStage(c.Request().Context(), id, req)
	if err != nil {
		return h.fail(c, "ChangeStage", err)
	}

	h.logger.Info("ChangeStage: этап изменен",
		zap.String("request_id", id.String()),
		zap.String("stage", string(updated.Stage)))
	return c.JSON(http.StatusOK, map[string]any{"request": updated})
}

func (h *Handler) AddQuote(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	var req service.QuoteInput
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("AddQuote: ошибка парсинга тела запроса", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	updated, err := h.requests.AddQuote(c.Request().Context(), id, req)
	if err != nil {
		return h.fail(c, "AddQuote", err)
	}

	h.logger.Info("AddQuote: КП добавлено", zap.String("request_id", id.String()))
	return c.JSON(http.StatusOK, map[string]any{"request": updated})
}

func (h *Handler) SetQuoteStatus(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	var req service.QuoteStatusInput
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("SetQuoteStatus: ошибка парсинга тела запроса", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	updated, err := h.requests.SetQuoteStatus(c.Request().Context(), id, req)
	if err != nil {
		return h.fail(c, "SetQuoteStatus", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"request": updated})
}

func (h *Handler) ArchiveRequest(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	var req service.ArchiveInput
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("ArchiveRequest: ошибка парсинга тела запроса", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	updated, err := h.requests.Archive(c.Request().Context(), id, req)
	if err != nil {
		return h.fail(c, "ArchiveRequest", err)
	}

	h.logger.Info("ArchiveRequest: заявка в архиве", zap.String("request_id", id.String()))
	return c.JSON(http.StatusOK, map[string]any{"request": updated})
}
