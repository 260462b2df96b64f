// Package realtime события об изменении заявок: шина между экземплярами
// сервиса (Redis Pub/Sub или NATS) и доставка клиентам по websocket.
package realtime

import (
	"context"
	"slices"
	"time"

	"github.com/untibullet/request-desk/internal/models"
)

// EventType вид изменения
type EventType string

const (
	EventCreated           EventType = "request.created"
	EventUpdated           EventType = "request.updated"
	EventAssigned          EventType = "request.assigned"
	EventUnassigned        EventType = "request.unassigned"
	EventStageChanged      EventType = "request.stage_changed"
	EventDeleted           EventType = "request.deleted"
	EventNoteAdded         EventType = "request.note_added"
	EventAttachmentChanged EventType = "request.attachment_changed"
	EventWatchersChanged   EventType = "request.watchers_changed"
	EventPinChanged        EventType = "request.pin_changed"
	EventViewed            EventType = "request.viewed"
)

// SelfOnly события, касающиеся только инициатора: закрепление и просмотр
func (t EventType) SelfOnly() bool {
	return t == EventPinChanged || t == EventViewed
}

// Event адресуется по id заявки и ее участникам
type Event struct {
	Type               EventType `json:"type"`
	RequestID          string    `json:"requestId"`
	SubmitterID        string    `json:"submitterId,omitempty"`
	AssigneeID         string    `json:"assigneeId,omitempty"`
	PreviousAssigneeID string    `json:"previousAssigneeId,omitempty"`
	ActorID            string    `json:"actorId,omitempty"`
	WatcherIDs         []string  `json:"watcherIds,omitempty"`
	At                 time.Time `json:"at"`
	InstanceID         string    `json:"instanceId,omitempty"`
}

// NewEvent заполняет адресатов из заявки
func NewEvent(t EventType, req *models.Request, actorID string) Event {
	e := Event{
		Type:        t,
		RequestID:   req.ID.String(),
		SubmitterID: req.SubmitterID,
		ActorID:     actorID,
		At:          time.Now().UTC(),
	}
	if req.AssignedTo != nil {
		e.AssigneeID = *req.AssignedTo
	}
	return e
}

// Users все пользователи, которых касается событие, без повторов
func (e Event) Users() []string {
	users := make([]string, 0, 4+len(e.WatcherIDs))
	add := func(id string) {
		if id != "" && !slices.Contains(users, id) {
			users = append(users, id)
		}
	}
	add(e.SubmitterID)
	add(e.AssigneeID)
	add(e.PreviousAssigneeID)
	add(e.ActorID)
	for _, w := range e.WatcherIDs {
		add(w)
	}
	return users
}

// Publisher отправляет событие в шину
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber получает события до отмены ctx
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(Event)) error
}

// Sink потребитель событий на стороне экземпляра
type Sink interface {
	HandleEvent(ctx context.Context, e Event)
}

// SinkFunc адаптер функции к Sink
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) HandleEvent(ctx context.Context, e Event) { f(ctx, e) }

// NopPublisher для конфигурации без шины
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
