// Package lifecycle описывает машину состояний этапов заявки.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/untibullet/request-desk/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrQuoteNotAllowed   = errors.New("quote status is only tracked for completed pricing requests")
)

// Trigger источник перехода
type Trigger string

const (
	TriggerCreate   Trigger = "create"
	TriggerAssign   Trigger = "assign"
	TriggerView     Trigger = "view"
	TriggerOperator Trigger = "operator"
	TriggerQuote    Trigger = "quote"
)

// allowedTargets - какие этапы достижимы каждым триггером.
// Исходный этап ограничивает только просмотр (new -> pending).
var allowedTargets = map[Trigger][]models.Stage{
	TriggerCreate:   {models.StageNew},
	TriggerAssign:   {models.StageNew},
	TriggerView:     {models.StagePending},
	TriggerOperator: {models.StagePending, models.StageCompleted, models.StageArchived},
	TriggerQuote:    {models.StageCompleted},
}

// Transition проверяет допустимость перехода from -> to для триггера
func Transition(from, to models.Stage, trigger Trigger) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, to)
	}
	targets, ok := allowedTargets[trigger]
	if !ok {
		return fmt.Errorf("%w: unknown trigger %q", ErrInvalidTransition, trigger)
	}

	allowed := false
	for _, s := range targets {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s cannot move to %q", ErrInvalidTransition, trigger, to)
	}

	switch trigger {
	case TriggerCreate:
		if from != "" {
			return fmt.Errorf("%w: request already exists", ErrInvalidTransition)
		}
	case TriggerView:
		if from != models.StageNew {
			return fmt.Errorf("%w: view only moves new requests", ErrInvalidTransition)
		}
	default:
		if !from.IsValid() {
			return fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, from)
		}
	}
	return nil
}

// ShouldAutoPend - просмотр переводит заявку в pending только если
// смотрит текущий исполнитель и заявка еще новая
func ShouldAutoPend(req *models.Request, viewerID string) bool {
	return req.Stage == models.StageNew && viewerID != "" && req.IsAssignedTo(viewerID)
}

// Apply меняет этап и производные поля заявки
func Apply(req *models.Request, to models.Stage, now time.Time) {
	req.Stage = to
	switch to {
	case models.StageCompleted:
		req.CompletedAt = &now
	case models.StageNew, models.StagePending:
		req.CompletedAt = nil
	}
	if to == models.StagePending && req.FirstResponseAt == nil {
		req.FirstResponseAt = &now
	}
	req.UpdatedAt = now
}

// Assign назначает исполнителя: этап всегда сбрасывается в new,
// даже для завершенных и архивных заявок
func Assign(req *models.Request, assigneeID string, now time.Time) {
	req.AssignedTo = &assigneeID
	req.AssignedAt = &now
	Apply(req, models.StageNew, now)
}

// QuoteStatusOnQuote - при добавлении КП заявка на цену ждет решения клиента
func QuoteStatusOnQuote(req *models.Request) *models.QuoteStatus {
	if !req.RequestType.IsPricing() {
		return req.QuoteStatus
	}
	s := models.QuoteAwaiting
	return &s
}

// ValidateQuoteStatus проверяет, можно ли выставить итог КП
func ValidateQuoteStatus(req *models.Request, status models.QuoteStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown quote status %q", ErrQuoteNotAllowed, status)
	}
	if !req.RequestType.IsPricing() || req.Stage != models.StageCompleted {
		return ErrQuoteNotAllowed
	}
	return nil
}

// StageChangeDetails детали записи журнала о смене этапа
func StageChangeDetails(from, to models.Stage, automatic bool) map[string]any {
	details := map[string]any{
		"old_stage": string(from),
		"new_stage": string(to),
	}
	if automatic {
		details["automatic"] = true
	}
	return details
}
