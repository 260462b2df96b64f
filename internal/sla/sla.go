// Package sla целевое время первого ответа и классификация заявок по нему.
package sla

import (
	"time"

	"github.com/untibullet/request-desk/internal/models"
)

const (
	// DefaultTargetHours для типов без настроенного SLA
	DefaultTargetHours = 24
	// DefaultAtRiskRatio доля целевого времени, после которой заявка в зоне риска
	DefaultAtRiskRatio = 0.75
)

// TargetHours выбирает целевое время с учетом срочности.
// Пустой уровень эскалации откатывается к базовому значению.
func TargetHours(def *models.SLADefault, urgency models.Urgency) int {
	if def == nil || def.TargetHours <= 0 {
		return DefaultTargetHours
	}
	switch urgency {
	case models.UrgencyCritical:
		if def.CriticalTargetHours > 0 {
			return def.CriticalTargetHours
		}
		if def.UrgentTargetHours > 0 {
			return def.UrgentTargetHours
		}
	case models.UrgencyHigh:
		if def.UrgentTargetHours > 0 {
			return def.UrgentTargetHours
		}
	}
	return def.TargetHours
}

// Classifier считает статус SLA
type Classifier struct {
	AtRiskRatio float64
}

func NewClassifier(atRiskRatio float64) Classifier {
	if atRiskRatio <= 0 || atRiskRatio >= 1 {
		atRiskRatio = DefaultAtRiskRatio
	}
	return Classifier{AtRiskRatio: atRiskRatio}
}

// Classify измеряет время от подачи до первого ответа. Без ответа часы идут
// до now, у закрытых заявок останавливаются на моменте закрытия.
func (c Classifier) Classify(req *models.Request, now time.Time) models.SLAStatus {
	target := req.SLATargetHours
	if target <= 0 {
		target = DefaultTargetHours
	}

	start := req.SubmittedAt
	if start.IsZero() {
		start = req.CreatedAt
	}

	end := now
	switch {
	case req.FirstResponseAt != nil:
		end = *req.FirstResponseAt
	case req.Stage.IsClosed() && req.CompletedAt != nil:
		end = *req.CompletedAt
	case req.Stage.IsClosed():
		end = req.UpdatedAt
	}

	elapsed := end.Sub(start)
	limit := time.Duration(target) * time.Hour

	switch {
	case elapsed >= limit:
		return models.SLABreached
	case float64(elapsed) >= float64(limit)*c.AtRiskRatio:
		return models.SLAAtRisk
	default:
		return models.SLAOnTrack
	}
}
