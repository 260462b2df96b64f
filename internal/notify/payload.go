// Package notify уведомления об изменениях заявок: полезная нагрузка,
// очередь доставки в Redis и фоновая отправка на внешний endpoint.
package notify

import (
	"github.com/untibullet/request-desk/internal/models"
)

// Type тип уведомления
type Type string

const (
	TypeAssignment   Type = "assignment"
	TypeWatcherAdded Type = "watcher_added"
	TypeComment      Type = "comment"
	TypeStatusChange Type = "status_change"
	TypeAttachment   Type = "attachment"
)

// MaxPreviewLength длина превью комментария в символах
const MaxPreviewLength = 500

// Details зависят от типа уведомления
type Details struct {
	OldStatus      string `json:"oldStatus,omitempty"`
	NewStatus      string `json:"newStatus,omitempty"`
	CommentPreview string `json:"commentPreview,omitempty"`
	AttachmentName string `json:"attachmentName,omitempty"`
	AssigneeID     string `json:"assigneeId,omitempty"`
	WatcherID      string `json:"watcherId,omitempty"`
}

// Payload тело запроса к endpoint рассылки
type Payload struct {
	Type         Type    `json:"type"`
	RequestID    string  `json:"requestId"`
	RequestTitle string  `json:"requestTitle"`
	RequestType  string  `json:"requestType"`
	TriggeredBy  string  `json:"triggeredBy"`
	Details      Details `json:"details"`
}

func base(t Type, req *models.Request, actorID string) Payload {
	return Payload{
		Type:         t,
		RequestID:    req.ID.String(),
		RequestTitle: req.Title,
		RequestType:  string(req.RequestType),
		TriggeredBy:  actorID,
	}
}

func Assignment(req *models.Request, actorID, assigneeID string) Payload {
	p := base(TypeAssignment, req, actorID)
	p.Details.AssigneeID = assigneeID
	return p
}

func WatcherAdded(req *models.Request, actorID, watcherID string) Payload {
	p := base(TypeWatcherAdded, req, actorID)
	p.Details.WatcherID = watcherID
	return p
}

func StatusChange(req *models.Request, actorID string, from, to models.Stage) Payload {
	p := base(TypeStatusChange, req, actorID)
	p.Details.OldStatus = string(from)
	p.Details.NewStatus = string(to)
	return p
}

func Attachment(req *models.Request, actorID, fileName string) Payload {
	p := base(TypeAttachment, req, actorID)
	p.Details.AttachmentName = fileName
	return p
}

// Comment строит уведомление о заметке. Внутренние заметки не рассылаются,
// для них ok == false.
func Comment(req *models.Request, note *models.RequestNote) (p Payload, ok bool) {
	if note.NoteType == models.NoteInternal {
		return Payload{}, false
	}
	p = base(TypeComment, req, note.AuthorID)
	p.Details.CommentPreview = TruncatePreview(note.Body)
	return p, true
}

// TruncatePreview обрезает текст до MaxPreviewLength символов и добавляет "..."
func TruncatePreview(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxPreviewLength {
		return s
	}
	return string(runes[:MaxPreviewLength]) + "..."
}
