package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/models"
	"github.com/untibullet/request-desk/internal/notify"
	"github.com/untibullet/request-desk/internal/realtime"
)

// ToggleWatcher подписывает или отписывает текущего пользователя
func (s *RequestService) ToggleWatcher(ctx context.Context, requestID uuid.UUID) (bool, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return false, err
	}

	watching, err := s.store.ToggleWatcher(ctx, requestID, actor.ID)
	if err != nil {
		return false, err
	}

	action := models.ActionWatcherRemove
	if watching {
		action = models.ActionWatcherAdded
	}
	s.logActivity(ctx, requestID, actor.ID, action, map[string]any{"user_id": actor.ID})
	s.emitWatchers(ctx, requestID, actor.ID, actor.ID)
	return watching, nil
}

// AddWatcher подписывает пользователя; повторная подписка ничего не меняет
func (s *RequestService) AddWatcher(ctx context.Context, requestID uuid.UUID, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, invalid("user_id is required")
	}
	actor, err := actorFrom(ctx)
	if err != nil {
		return false, err
	}

	added, err := s.store.AddWatcher(ctx, requestID, userID)
	if err != nil {
		return false, err
	}
	if !added {
		return false, nil
	}

	s.logActivity(ctx, requestID, actor.ID, models.ActionWatcherAdded, map[string]any{"user_id": userID})
	if req := s.emitWatchers(ctx, requestID, actor.ID, userID); req != nil && userID != actor.ID {
		s.notify(notify.WatcherAdded(req, actor.ID, userID))
	}
	return true, nil
}

// RemoveWatcher отписать другого может только привилегированный пользователь
func (s *RequestService) RemoveWatcher(ctx context.Context, requestID uuid.UUID, userID string) (bool, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return false, err
	}
	if userID != actor.ID && !actor.Privileged() {
		return false, ErrForbidden
	}

	removed, err := s.store.RemoveWatcher(ctx, requestID, userID)
	if err != nil {
		return false, err
	}
	if removed {
		s.logActivity(ctx, requestID, actor.ID, models.ActionWatcherRemove, map[string]any{"user_id": userID})
		s.emitWatchers(ctx, requestID, actor.ID, userID)
	}
	return removed, nil
}

func (s *RequestService) ListWatchers(ctx context.Context, requestID uuid.UUID) ([]models.RequestWatcher, error) {
	if _, err := actorFrom(ctx); err != nil {
		return nil, err
	}
	return s.store.ListWatchers(ctx, requestID)
}

// emitWatchers событие изменения подписчиков; затронутый пользователь
// добавляется в адресаты, даже если уже отписан
func (s *RequestService) emitWatchers(ctx context.Context, requestID uuid.UUID, actorID, userID string) *models.Request {
	req, err := s.store.GetRequest(ctx, requestID, actorID)
	if err != nil {
		s.logger.Warn("Failed to load request for watcher event",
			zap.String("request_id", requestID.String()), zap.Error(err))
		return nil
	}

	e := realtime.NewEvent(realtime.EventWatchersChanged, req, actorID)
	if watchers, err := s.store.ListWatchers(ctx, requestID); err == nil {
		for _, w := range watchers {
			e.WatcherIDs = append(e.WatcherIDs, w.UserID)
		}
	}
	e.WatcherIDs = append(e.WatcherIDs, userID)
	s.emit(ctx, e)
	return req
}

// TogglePin закрепление действует только для текущего пользователя
func (s *RequestService) TogglePin(ctx context.Context, requestID uuid.UUID) (bool, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return false, err
	}

	pinned, err := s.store.TogglePin(ctx, requestID, actor.ID)
	if err != nil {
		return false, err
	}

	s.emit(ctx, realtime.Event{
		Type:      realtime.EventPinChanged,
		RequestID: requestID.String(),
		ActorID:   actor.ID,
		At:        time.Now().UTC(),
	})
	return pinned, nil
}

// GetUnreadCounts счетчики для бейджей; при ошибке пустой результат
func (s *RequestService) GetUnreadCounts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	counts, err := s.store.UnreadCounts(ctx, actor.ID, ids, actor.Privileged())
	if err != nil {
		s.logger.Warn("GetUnreadCounts: failed to load counts", zap.Int("ids", len(ids)), zap.Error(err))
		return map[uuid.UUID]int{}, nil
	}
	return counts, nil
}

// GetViewStatus время последнего просмотра; при ошибке пустой результат
func (s *RequestService) GetViewStatus(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	views, err := s.store.ViewStatus(ctx, actor.ID, ids)
	if err != nil {
		s.logger.Warn("GetViewStatus: failed to load views", zap.Int("ids", len(ids)), zap.Error(err))
		return map[uuid.UUID]time.Time{}, nil
	}
	return views, nil
}
