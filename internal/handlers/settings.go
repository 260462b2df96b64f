package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/service"
)

func (h *Handler) ListAssignmentRules(c echo.Context) error {
	rules, err := h.requests.ListAssignmentRules(c.Request().Context())
	if err != nil {
		return h.fail(c, "ListAssignmentRules", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) SaveAssignmentRule(c echo.Context) error {
	var req service.AssignmentRuleInput
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("SaveAssignmentRule: ошибка парсинга тела запроса", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	rule, err := h.requests.SaveAssignmentRule(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "SaveAssignmentRule", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"rule": rule})
}

func (h *Handler) ListSLADefaults(c echo.Context) error {
	defaults, err := h.requests.ListSLADefaults(c.Request().Context())
	if err != nil {
		return h.fail(c, "ListSLADefaults", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sla_defaults": defaults})
}

func (h *Handler) SaveSLADefault(c echo.Context) error {
	var req service.SLADefaultInput
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("SaveSLADefault: ошибка парсинга тела запроса", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	d, err := h.requests.SaveSLADefault(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "SaveSLADefault", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sla_default": d})
}
