package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/lifecycle"
	"github.com/untibullet/request-desk/internal/models"
	"github.com/untibullet/request-desk/internal/notify"
	"github.com/untibullet/request-desk/internal/realtime"
)

// UnassignedSentinel значение assignee_id, снимающее исполнителя
const UnassignedSentinel = "unassigned"

type CustomerInput struct {
	Name    string `json:"name" validate:"max=200"`
	Email   string `json:"email" validate:"omitempty,email,max=254"`
	Phone   string `json:"phone" validate:"max=32"`
	Address string `json:"address" validate:"max=500"`
}

// CreateRequestInput тело создания заявки
type CreateRequestInput struct {
	RequestType       models.RequestType `json:"request_type" validate:"required,request_type"`
	Urgency           models.Urgency     `json:"urgency" validate:"omitempty,urgency"`
	Title             string             `json:"title" validate:"required,max=200"`
	Description       string             `json:"description" validate:"max=10000"`
	Customer          CustomerInput      `json:"customer"`
	ProjectName       string             `json:"project_name" validate:"max=200"`
	FenceType         string             `json:"fence_type" validate:"max=100"`
	LinearFeet        *float64           `json:"linear_feet" validate:"omitempty,gte=0"`
	VoiceRecordingURL string             `json:"voice_recording_url" validate:"omitempty,url"`
	VoiceTranscript   string             `json:"voice_transcript" validate:"max=50000"`
	PhotoURLs         []string           `json:"photo_urls" validate:"max=50,dive,url"`
}

// UpdateRequestInput частичное обновление; отсутствующие поля не меняются
type UpdateRequestInput struct {
	Title             *string         `json:"title" validate:"omitempty,min=1,max=200"`
	Description       *string         `json:"description" validate:"omitempty,max=10000"`
	Urgency           *models.Urgency `json:"urgency" validate:"omitempty,urgency"`
	Customer          *CustomerInput  `json:"customer"`
	ProjectName       *string         `json:"project_name" validate:"omitempty,max=200"`
	FenceType         *string         `json:"fence_type" validate:"omitempty,max=100"`
	LinearFeet        *float64        `json:"linear_feet" validate:"omitempty,gte=0"`
	VoiceRecordingURL *string         `json:"voice_recording_url" validate:"omitempty,url"`
	VoiceTranscript   *string         `json:"voice_transcript" validate:"omitempty,max=50000"`
	PhotoURLs         []string        `json:"photo_urls" validate:"omitempty,max=50,dive,url"`
	// ExpectedUpdatedAt включает проверку на параллельное изменение
	ExpectedUpdatedAt *time.Time      `json:"expected_updated_at"`
}

func (s *RequestService) sanitizeCustomer(c CustomerInput) models.Customer {
	return models.Customer{
		Name:    s.renderer.Sanitize(c.Name),
		Email:   strings.TrimSpace(c.Email),
		Phone:   s.renderer.Sanitize(c.Phone),
		Address: s.renderer.Sanitize(c.Address),
	}
}

func (s *RequestService) sanitizePtr(v *string) *string {
	if v == nil {
		return nil
	}
	clean := s.renderer.Sanitize(*v)
	return &clean
}

// Create создает заявку. Исполнитель определяется правилами назначения.
func (s *RequestService) Create(ctx context.Context, in CreateRequestInput) (*models.Request, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	title := s.renderer.Sanitize(in.Title)
	if title == "" {
		return nil, invalid("title is required")
	}
	urgency := in.Urgency
	if urgency == "" {
		urgency = models.UrgencyMedium
	}

	req := &models.Request{
		RequestType:       in.RequestType,
		Urgency:           urgency,
		SubmitterID:       actor.ID,
		Title:             title,
		Description:       s.renderer.Sanitize(in.Description),
		Customer:          s.sanitizeCustomer(in.Customer),
		ProjectName:       s.renderer.Sanitize(in.ProjectName),
		FenceType:         s.renderer.Sanitize(in.FenceType),
		LinearFeet:        in.LinearFeet,
		VoiceRecordingURL: strings.TrimSpace(in.VoiceRecordingURL),
		VoiceTranscript:   s.renderer.Sanitize(in.VoiceTranscript),
		PhotoURLs:         in.PhotoURLs,
	}

	created, err := s.store.CreateRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	details := map[string]any{"request_type": string(created.RequestType)}
	if created.AssignedTo != nil {
		details["assigned_to"] = *created.AssignedTo
	}
	s.logActivity(ctx, created.ID, actor.ID, models.ActionCreated, details)

	if created.AssignedTo != nil && *created.AssignedTo != actor.ID {
		s.notify(notify.Assignment(created, actor.ID, *created.AssignedTo))
	}
	s.emit(ctx, realtime.NewEvent(realtime.EventCreated, created, actor.ID))

	return created, nil
}

// Get возвращает заявку; fresh обходит кэш
func (s *RequestService) Get(ctx context.Context, id uuid.UUID, fresh bool) (*models.Request, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && !fresh {
		if req, ok := s.cache.GetDetail(ctx, id, actor.ID); ok {
			return req, nil
		}
	}

	req, err := s.store.GetRequest(ctx, id, actor.ID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetDetail(ctx, actor.ID, req)
	}
	return req, nil
}

// List выборка для текущего пользователя: закрепленные первыми, со счетчиками непрочитанного
func (s *RequestService) List(ctx context.Context, f models.ListFilter, fresh bool) ([]models.Request, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range f.Stages {
		if !st.IsValid() {
			return nil, invalid("stage has unknown value %q", st)
		}
	}
	if f.RequestType != "" && !f.RequestType.IsValid() {
		return nil, invalid("request_type has unknown value %q", f.RequestType)
	}
	if f.Urgency != "" && !f.Urgency.IsValid() {
		return nil, invalid("urgency has unknown value %q", f.Urgency)
	}
	if f.Sort != "" && !f.Sort.IsValid() {
		return nil, invalid("sort must be one of [newest oldest updated]")
	}

	f.ViewerID = actor.ID
	f = f.Normalize()

	if s.cache != nil && !fresh {
		if list, ok := s.cache.GetList(ctx, f); ok {
			return list, nil
		}
	}

	list, err := s.store.ListRequests(ctx, f)
	if err != nil {
		return nil, err
	}
	models.SortRequests(list, f.Sort)

	if len(list) > 0 {
		ids := make([]uuid.UUID, len(list))
		for i := range list {
			ids[i] = list[i].ID
		}
		counts, err := s.store.UnreadCounts(ctx, actor.ID, ids, actor.Privileged())
		if err != nil {
			s.logger.Warn("List: failed to load unread counts", zap.Error(err))
		}
		for i := range list {
			list[i].UnreadCount = counts[list[i].ID]
		}
	}

	if s.cache != nil {
		s.cache.SetList(ctx, f, list)
	}
	return list, nil
}

// Update правит содержимое заявки. Без expected_updated_at побеждает последняя запись.
func (s *RequestService) Update(ctx context.Context, id uuid.UUID, in UpdateRequestInput) (*models.Request, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	patch := models.RequestPatch{
		Title:             s.sanitizePtr(in.Title),
		Description:       s.sanitizePtr(in.Description),
		Urgency:           in.Urgency,
		ProjectName:       s.sanitizePtr(in.ProjectName),
		FenceType:         s.sanitizePtr(in.FenceType),
		LinearFeet:        in.LinearFeet,
		VoiceRecordingURL: in.VoiceRecordingURL,
		VoiceTranscript:   s.sanitizePtr(in.VoiceTranscript),
		PhotoURLs:         in.PhotoURLs,
	}
	if in.Customer != nil {
		c := s.sanitizeCustomer(*in.Customer)
		patch.Customer = &c
	}
	if patch.Title != nil && *patch.Title == "" {
		return nil, invalid("title must not be empty")
	}
	patch.ExpectedUpdatedAt = in.ExpectedUpdatedAt
	if patch.IsEmpty() {
		return nil, invalid("no fields to update")
	}

	change, err := s.store.UpdateRequest(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	s.logActivity(ctx, id, actor.ID, models.ActionUpdated, map[string]any{"fields": patchFields(in)})
	s.emit(ctx, changeEvent(realtime.EventUpdated, change, actor.ID))
	return s.withViewerState(ctx, actor, change.After), nil
}

func patchFields(in UpdateRequestInput) []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(in.Title != nil, "title")
	add(in.Description != nil, "description")
	add(in.Urgency != nil, "urgency")
	add(in.Customer != nil, "customer")
	add(in.ProjectName != nil, "project_name")
	add(in.FenceType != nil, "fence_type")
	add(in.LinearFeet != nil, "linear_feet")
	add(in.VoiceRecordingURL != nil, "voice_recording_url")
	add(in.VoiceTranscript != nil, "voice_transcript")
	add(in.PhotoURLs != nil, "photo_urls")
	return fields
}

// Assign назначает исполнителя и сбрасывает этап в new.
// Значение "unassigned" снимает исполнителя.
func (s *RequestService) Assign(ctx context.Context, id uuid.UUID, assigneeID string) (*models.Request, error) {
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return nil, invalid("assignee_id is required")
	}
	if assigneeID == UnassignedSentinel {
		return s.Unassign(ctx, id)
	}
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	change, err := s.store.AssignRequest(ctx, id, assigneeID)
	if err != nil {
		return nil, err
	}

	details := map[string]any{
		"to":        assigneeID,
		"old_stage": string(change.Before.Stage),
	}
	if change.Before.AssignedTo != nil {
		details["from"] = *change.Before.AssignedTo
	}
	s.logActivity(ctx, id, actor.ID, models.ActionAssigned, details)

	if actor.ID != assigneeID {
		s.notify(notify.Assignment(change.After, actor.ID, assigneeID))
	}
	s.emit(ctx, changeEvent(realtime.EventAssigned, change, actor.ID))
	return s.withViewerState(ctx, actor, change.After), nil
}

// Unassign снимает исполнителя. Уведомлений нет, этап не меняется.
func (s *RequestService) Unassign(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	change, err := s.store.UnassignRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	details := map[string]any{}
	if change.Before.AssignedTo != nil {
		details["from"] = *change.Before.AssignedTo
	}
	s.logActivity(ctx, id, actor.ID, models.ActionUnassigned, details)
	s.emit(ctx, changeEvent(realtime.EventUnassigned, change, actor.ID))
	return s.withViewerState(ctx, actor, change.After), nil
}

// MarkViewed отмечает просмотр. Исполнитель, открывший новую заявку, переводит ее в pending.
func (s *RequestService) MarkViewed(ctx context.Context, id uuid.UUID) (*models.Request, bool, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, false, err
	}

	req, moved, err := s.store.MarkViewed(ctx, id, actor.ID)
	if err != nil {
		return nil, false, err
	}

	if moved {
		s.emit(ctx, realtime.NewEvent(realtime.EventStageChanged, req, actor.ID))
	} else {
		// изменились только счетчики непрочитанного у самого пользователя
		s.emit(ctx, realtime.Event{
			Type:      realtime.EventViewed,
			RequestID: id.String(),
			ActorID:   actor.ID,
			At:        time.Now().UTC(),
		})
	}
	return s.withViewerState(ctx, actor, req), moved, nil
}

// StageInput ручная смена этапа
type StageInput struct {
	Stage  models.Stage `json:"stage" validate:"required,stage"`
	Reason string       `json:"reason" validate:"max=2000"`
}

// ChangeStage переводит заявку оператором; причина сохраняется заметкой status_change
func (s *RequestService) ChangeStage(ctx context.Context, id uuid.UUID, in StageInput) (*models.Request, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	change, err := s.store.ChangeStage(ctx, id, in.Stage)
	if err != nil {
		return nil, err
	}

	details := lifecycle.StageChangeDetails(change.Before.Stage, change.After.Stage, false)
	if reason := s.renderer.Sanitize(in.Reason); reason != "" {
		details["reason"] = reason
		s.addSystemNote(ctx, id, actor.ID, models.NoteStatusChange, reason)
	}
	s.logActivity(ctx, id, actor.ID, models.ActionStageChanged, details)

	if change.StageChanged() {
		s.notify(notify.StatusChange(change.After, actor.ID, change.Before.Stage, change.After.Stage))
	}
	s.emit(ctx, changeEvent(realtime.EventStageChanged, change, actor.ID))
	return s.withViewerState(ctx, actor, change.After), nil
}

// QuoteInput ссылка на коммерческое предложение
type QuoteInput struct {
	QuoteRef string `json:"quote_ref" validate:"required,max=200"`
}

// AddQuote фиксирует КП; заявка завершается, для ценовых ждет решения клиента
func (s *RequestService) AddQuote(ctx context.Context, id uuid.UUID, in QuoteInput) (*models.Request, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	ref := s.renderer.Sanitize(in.QuoteRef)
	if ref == "" {
		return nil, invalid("quote_ref is required")
	}
	change, err := s.store.AddQuote(ctx, id, ref)
	if err != nil {
		return nil, err
	}

	details := lifecycle.StageChangeDetails(change.Before.Stage, change.After.Stage, false)
	details["quote_ref"] = ref
	s.logActivity(ctx, id, actor.ID, models.ActionQuoteAdded, details)

	if change.StageChanged() {
		s.notify(notify.StatusChange(change.After, actor.ID, change.Before.Stage, change.After.Stage))
	}
	s.emit(ctx, changeEvent(realtime.EventStageChanged, change, actor.ID))
	return s.withViewerState(ctx, actor, change.After), nil
}

type QuoteStatusInput struct {
	Status models.QuoteStatus `json:"quote_status" validate:"required,quote_status"`
}

func (s *RequestService) SetQuoteStatus(ctx context.Context, id uuid.UUID, in QuoteStatusInput) (*models.Request, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	change, err := s.store.SetQuoteStatus(ctx, id, in.Status)
	if err != nil {
		return nil, err
	}

	details := map[string]any{"to": string(in.Status)}
	if change.Before.QuoteStatus != nil {
		details["from"] = string(*change.Before.QuoteStatus)
	}
	s.logActivity(ctx, id, actor.ID, models.ActionQuoteStatus, details)
	s.emit(ctx, changeEvent(realtime.EventUpdated, change, actor.ID))
	return s.withViewerState(ctx, actor, change.After), nil
}

type ArchiveInput struct {
	Reason string `json:"reason" validate:"max=2000"`
}

func (s *RequestService) Archive(ctx context.Context, id uuid.UUID, in ArchiveInput) (*models.Request, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	reason := s.renderer.Sanitize(in.Reason)
	change, err := s.store.ArchiveRequest(ctx, id, reason)
	if err != nil {
		return nil, err
	}

	details := lifecycle.StageChangeDetails(change.Before.Stage, models.StageArchived, false)
	if reason != "" {
		details["reason"] = reason
	}
	s.logActivity(ctx, id, actor.ID, models.ActionArchived, details)

	if change.StageChanged() {
		s.notify(notify.StatusChange(change.After, actor.ID, change.Before.Stage, change.After.Stage))
	}
	s.emit(ctx, changeEvent(realtime.EventStageChanged, change, actor.ID))
	return s.withViewerState(ctx, actor, change.After), nil
}

// Delete удаляет заявку вместе с дочерними записями и файлами вложений
func (s *RequestService) Delete(ctx context.Context, id uuid.UUID) error {
	actor, err := privilegedActor(ctx)
	if err != nil {
		return err
	}

	attachments, err := s.store.ListAttachments(ctx, id)
	if err != nil {
		s.logger.Warn("Delete: failed to list attachments", zap.String("request_id", id.String()), zap.Error(err))
	}
	watchers, err := s.store.ListWatchers(ctx, id)
	if err != nil {
		s.logger.Warn("Delete: failed to list watchers", zap.String("request_id", id.String()), zap.Error(err))
	}

	deleted, err := s.store.DeleteRequest(ctx, id)
	if err != nil {
		return err
	}

	if s.objects != nil {
		for _, a := range attachments {
			if err := s.objects.Remove(ctx, a.ObjectKey); err != nil {
				s.logger.Warn("Delete: failed to remove attachment object",
					zap.String("object_key", a.ObjectKey), zap.Error(err))
			}
		}
	}

	e := realtime.NewEvent(realtime.EventDeleted, deleted, actor.ID)
	for _, w := range watchers {
		e.WatcherIDs = append(e.WatcherIDs, w.UserID)
	}
	s.emit(ctx, e)
	return nil
}
