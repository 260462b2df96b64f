// Package service командный слой над заявками: проверки ввода и прав,
// переходы этапов, журнал, уведомления и события.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/auth"
	"github.com/untibullet/request-desk/internal/markup"
	"github.com/untibullet/request-desk/internal/models"
	"github.com/untibullet/request-desk/internal/notify"
	"github.com/untibullet/request-desk/internal/realtime"
	"github.com/untibullet/request-desk/internal/repository"
	"github.com/untibullet/request-desk/internal/storage"
)

// Store операции хранилища заявок
type Store interface {
	CreateRequest(ctx context.Context, req *models.Request) (*models.Request, error)
	GetRequest(ctx context.Context, id uuid.UUID, viewerID string) (*models.Request, error)
	ListRequests(ctx context.Context, f models.ListFilter) ([]models.Request, error)
	UpdateRequest(ctx context.Context, id uuid.UUID, patch models.RequestPatch) (*repository.Change, error)
	AssignRequest(ctx context.Context, id uuid.UUID, assigneeID string) (*repository.Change, error)
	UnassignRequest(ctx context.Context, id uuid.UUID) (*repository.Change, error)
	ChangeStage(ctx context.Context, id uuid.UUID, to models.Stage) (*repository.Change, error)
	AddQuote(ctx context.Context, id uuid.UUID, quoteRef string) (*repository.Change, error)
	SetQuoteStatus(ctx context.Context, id uuid.UUID, status models.QuoteStatus) (*repository.Change, error)
	ArchiveRequest(ctx context.Context, id uuid.UUID, reason string) (*repository.Change, error)
	DeleteRequest(ctx context.Context, id uuid.UUID) (*models.Request, error)
	MarkViewed(ctx context.Context, id uuid.UUID, userID string) (*models.Request, bool, error)

	AddNote(ctx context.Context, note *models.RequestNote) error
	ListNotes(ctx context.Context, requestID uuid.UUID, includeInternal bool) ([]models.RequestNote, error)
	LogActivity(ctx context.Context, a *models.RequestActivity) error
	ListActivity(ctx context.Context, requestID uuid.UUID) ([]models.RequestActivity, error)

	AddAttachment(ctx context.Context, a *models.RequestAttachment) error
	ListAttachments(ctx context.Context, requestID uuid.UUID) ([]models.RequestAttachment, error)
	GetAttachment(ctx context.Context, id uuid.UUID) (*models.RequestAttachment, error)
	DeleteAttachment(ctx context.Context, id uuid.UUID) error
	LinkAttachmentNote(ctx context.Context, attachmentID, noteID uuid.UUID) error

	AddWatcher(ctx context.Context, requestID uuid.UUID, userID string) (bool, error)
	RemoveWatcher(ctx context.Context, requestID uuid.UUID, userID string) (bool, error)
	ToggleWatcher(ctx context.Context, requestID uuid.UUID, userID string) (bool, error)
	ListWatchers(ctx context.Context, requestID uuid.UUID) ([]models.RequestWatcher, error)
	TogglePin(ctx context.Context, requestID uuid.UUID, userID string) (bool, error)
	UnreadCounts(ctx context.Context, userID string, ids []uuid.UUID, includeInternal bool) (map[uuid.UUID]int, error)
	ViewStatus(ctx context.Context, userID string, ids []uuid.UUID) (map[uuid.UUID]time.Time, error)
	ViewerState(ctx context.Context, requestID uuid.UUID, userID string, includeInternal bool) (bool, int, error)

	ListAssignmentRules(ctx context.Context) ([]models.AssignmentRule, error)
	UpsertAssignmentRule(ctx context.Context, rule *models.AssignmentRule) error
	ListSLADefaults(ctx context.Context) ([]models.SLADefault, error)
	UpsertSLADefault(ctx context.Context, d *models.SLADefault) error
}

// Notifier ставит уведомление в очередь, не блокируя вызывающего
type Notifier interface {
	Dispatch(p notify.Payload)
}

// Cache кэш чтения
type Cache interface {
	GetDetail(ctx context.Context, id uuid.UUID, viewer string) (*models.Request, bool)
	SetDetail(ctx context.Context, viewer string, req *models.Request)
	GetList(ctx context.Context, f models.ListFilter) ([]models.Request, bool)
	SetList(ctx context.Context, f models.ListFilter, list []models.Request)
	Invalidate(ctx context.Context, requestID string, users []string) error
}

// Dependencies необязательные зависимости можно оставить nil
type Dependencies struct {
	Notifier  Notifier
	Publisher realtime.Publisher
	Cache     Cache
	Objects   storage.ObjectStore
	Renderer  *markup.Renderer
	// MaxUploadBytes 0 - без ограничения
	MaxUploadBytes int64
}

type RequestService struct {
	store          Store
	notifier       Notifier
	publisher      realtime.Publisher
	cache          Cache
	objects        storage.ObjectStore
	renderer       *markup.Renderer
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewRequestService(store Store, deps Dependencies, logger *zap.Logger) *RequestService {
	if deps.Publisher == nil {
		deps.Publisher = realtime.NopPublisher{}
	}
	if deps.Renderer == nil {
		deps.Renderer = markup.New()
	}
	return &RequestService{
		store:          store,
		notifier:       deps.Notifier,
		publisher:      deps.Publisher,
		cache:          deps.Cache,
		objects:        deps.Objects,
		renderer:       deps.Renderer,
		maxUploadBytes: deps.MaxUploadBytes,
		logger:         logger,
	}
}

func actorFrom(ctx context.Context) (auth.Actor, error) {
	return auth.ActorFromContext(ctx)
}

func privilegedActor(ctx context.Context) (auth.Actor, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return actor, err
	}
	if !actor.Privileged() {
		return actor, ErrForbidden
	}
	return actor, nil
}

// logActivity пишет журнал; ошибка не прерывает основную операцию
func (s *RequestService) logActivity(ctx context.Context, requestID uuid.UUID, actorID, action string, details map[string]any) {
	a := &models.RequestActivity{
		RequestID: requestID,
		ActorID:   actorID,
		Action:    action,
		Details:   details,
	}
	if err := s.store.LogActivity(ctx, a); err != nil {
		s.logger.Warn("Failed to log activity",
			zap.String("request_id", requestID.String()),
			zap.String("action", action),
			zap.Error(err))
	}
}

func (s *RequestService) notify(p notify.Payload) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(p)
}

// emit сбрасывает локальный кэш и публикует событие для остальных экземпляров.
// Подписчики добавляются ко всем событиям, кроме удаления и личных.
// Ошибки только логируются.
func (s *RequestService) emit(ctx context.Context, e realtime.Event) {
	if e.WatcherIDs == nil && !e.Type.SelfOnly() && e.Type != realtime.EventDeleted {
		if id, err := uuid.Parse(e.RequestID); err == nil {
			if watchers, err := s.store.ListWatchers(ctx, id); err == nil {
				for _, w := range watchers {
					e.WatcherIDs = append(e.WatcherIDs, w.UserID)
				}
			}
		}
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, e.RequestID, e.Users()); err != nil {
			s.logger.Warn("Failed to invalidate cache",
				zap.String("request_id", e.RequestID),
				zap.Error(err))
		}
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("event", string(e.Type)),
			zap.String("request_id", e.RequestID),
			zap.Error(err))
	}
}

// withViewerState дополняет результат команды закреплением и непрочитанным
// текущего пользователя; при ошибке заявка возвращается как есть
func (s *RequestService) withViewerState(ctx context.Context, actor auth.Actor, req *models.Request) *models.Request {
	pinned, unread, err := s.store.ViewerState(ctx, req.ID, actor.ID, actor.Privileged())
	if err != nil {
		s.logger.Warn("Failed to load viewer state",
			zap.String("request_id", req.ID.String()),
			zap.Error(err))
		return req
	}
	req.Pinned = pinned
	req.UnreadCount = unread
	return req
}

func changeEvent(t realtime.EventType, c *repository.Change, actorID string) realtime.Event {
	e := realtime.NewEvent(t, c.After, actorID)
	if c.Before.AssignedTo != nil && !c.After.IsAssignedTo(*c.Before.AssignedTo) {
		e.PreviousAssigneeID = *c.Before.AssignedTo
	}
	return e
}
