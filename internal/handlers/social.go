package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func (h *Handler) ListWatchers(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	watchers, err := h.requests.ListWatchers(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "ListWatchers", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"watchers": watchers})
}

// AddWatcher подписывает пользователя user_id на заявку
func (h *Handler) AddWatcher(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("AddWatcher: ошибка парсинга тела запроса", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	added, err := h.requests.AddWatcher(c.Request().Context(), id, req.UserID)
	if err != nil {
		return h.fail(c, "AddWatcher", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"added": added})
}

// ToggleWatcher подписка текущего пользователя
func (h *Handler) ToggleWatcher(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	watching, err := h.requests.ToggleWatcher(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "ToggleWatcher", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"watching": watching})
}

func (h *Handler) RemoveWatcher(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	removed, err := h.requests.RemoveWatcher(c.Request().Context(), id, c.Param("user"))
	if err != nil {
		return h.fail(c, "RemoveWatcher", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"removed": removed})
}

// TogglePin закрепление видно только текущему пользователю
func (h *Handler) TogglePin(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}

	pinned, err := h.requests.TogglePin(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "TogglePin", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"pinned": pinned})
}

func (h *Handler) GetUnreadCounts(c echo.Context) error {
	ids, err := queryIDs(c)
	if err != nil {
		return badRequest(c, "ids must be a comma separated list of request ids")
	}

	counts, err := h.requests.GetUnreadCounts(c.Request().Context(), ids)
	if err != nil {
		return h.fail(c, "GetUnreadCounts", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"counts": counts})
}

func (h *Handler) GetViewStatus(c echo.Context) error {
	ids, err := queryIDs(c)
	if err != nil {
		return badRequest(c, "ids must be a comma separated list of request ids")
	}

	views, err := h.requests.GetViewStatus(c.Request().Context(), ids)
	if err != nil {
		return h.fail(c, "GetViewStatus", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"views": views})
}
