package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/models"
)

type AssignmentRuleInput struct {
	RequestType models.RequestType `json:"request_type" validate:"required,request_type"`
	AssigneeID  string             `json:"assignee_id" validate:"required,max=128"`
	Priority    int                `json:"priority" validate:"gte=0"`
	Active      *bool              `json:"active"`
}

type SLADefaultInput struct {
	RequestType         models.RequestType `json:"request_type" validate:"required,request_type"`
	TargetHours         int                `json:"target_hours" validate:"required,min=1,max=8760"`
	UrgentTargetHours   int                `json:"urgent_target_hours" validate:"gte=0,max=8760"`
	CriticalTargetHours int                `json:"critical_target_hours" validate:"gte=0,max=8760"`
}

func (s *RequestService) ListAssignmentRules(ctx context.Context) ([]models.AssignmentRule, error) {
	if _, err := privilegedActor(ctx); err != nil {
		return nil, err
	}
	return s.store.ListAssignmentRules(ctx)
}

// SaveAssignmentRule влияет только на заявки, созданные после сохранения
func (s *RequestService) SaveAssignmentRule(ctx context.Context, in AssignmentRuleInput) (*models.AssignmentRule, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	actor, err := privilegedActor(ctx)
	if err != nil {
		return nil, err
	}

	rule := &models.AssignmentRule{
		RequestType: in.RequestType,
		AssigneeID:  strings.TrimSpace(in.AssigneeID),
		Priority:    in.Priority,
		Active:      in.Active == nil || *in.Active,
	}
	if err := s.store.UpsertAssignmentRule(ctx, rule); err != nil {
		return nil, err
	}

	s.logger.Info("Assignment rule saved",
		zap.String("actor", actor.ID),
		zap.String("request_type", string(rule.RequestType)),
		zap.String("assignee", rule.AssigneeID),
		zap.Bool("active", rule.Active))
	return rule, nil
}

func (s *RequestService) ListSLADefaults(ctx context.Context) ([]models.SLADefault, error) {
	if _, err := privilegedActor(ctx); err != nil {
		return nil, err
	}
	return s.store.ListSLADefaults(ctx)
}

func (s *RequestService) SaveSLADefault(ctx context.Context, in SLADefaultInput) (*models.SLADefault, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	actor, err := privilegedActor(ctx)
	if err != nil {
		return nil, err
	}

	d := &models.SLADefault{
		RequestType:         in.RequestType,
		TargetHours:         in.TargetHours,
		UrgentTargetHours:   in.UrgentTargetHours,
		CriticalTargetHours: in.CriticalTargetHours,
	}
	if err := s.store.UpsertSLADefault(ctx, d); err != nil {
		return nil, err
	}

	s.logger.Info("SLA default saved",
		zap.String("actor", actor.ID),
		zap.String("request_type", string(d.RequestType)),
		zap.Int("target_hours", d.TargetHours))
	return d, nil
}
