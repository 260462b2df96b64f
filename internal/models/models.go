// models/models.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestType классифицирует заявку
type RequestType string

const (
	TypePricing       RequestType = "pricing"
	TypeMaterial      RequestType = "material"
	TypeSupport       RequestType = "support"
	TypeNewBuilder    RequestType = "new_builder"
	TypeWarranty      RequestType = "warranty"
	TypeOther         RequestType = "other"
	TypeNewClient     RequestType = "new_client"
	TypeNewCommunity  RequestType = "new_community"
	TypePricingChange RequestType = "pricing_change"
	TypeContactUpdate RequestType = "contact_update"
)

var validRequestTypes = map[RequestType]bool{
	TypePricing:       true,
	TypeMaterial:      true,
	TypeSupport:       true,
	TypeNewBuilder:    true,
	TypeWarranty:      true,
	TypeOther:         true,
	TypeNewClient:     true,
	TypeNewCommunity:  true,
	TypePricingChange: true,
	TypeContactUpdate: true,
}

func (t RequestType) IsValid() bool { return validRequestTypes[t] }

// IsPricing сообщает, относится ли заявка к ценообразованию (только для них ведется quote_status)
func (t RequestType) IsPricing() bool { return t == TypePricing }

// Urgency срочность заявки
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// Stage этап жизненного цикла заявки
type Stage string

const (
	StageNew       Stage = "new"
	StagePending   Stage = "pending"
	StageCompleted Stage = "completed"
	StageArchived  Stage = "archived"
)

func (s Stage) IsValid() bool {
	switch s {
	case StageNew, StagePending, StageCompleted, StageArchived:
		return true
	}
	return false
}

// IsClosed - завершенная или архивная заявка
func (s Stage) IsClosed() bool {
	return s == StageCompleted || s == StageArchived
}

// QuoteStatus итог коммерческого предложения
type QuoteStatus string

const (
	QuoteWon      QuoteStatus = "won"
	QuoteLost     QuoteStatus = "lost"
	QuoteAwaiting QuoteStatus = "awaiting"
)

func (q QuoteStatus) IsValid() bool {
	return q == QuoteWon || q == QuoteLost || q == QuoteAwaiting
}

// SLAStatus классификация возраста заявки относительно целевого времени ответа
type SLAStatus string

const (
	SLAOnTrack  SLAStatus = "on_track"
	SLAAtRisk   SLAStatus = "at_risk"
	SLABreached SLAStatus = "breached"
)

// Customer данные клиента заявки
type Customer struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Request представляет заявку с полной информацией
type Request struct {
	ID                uuid.UUID    `json:"id"`
	RequestType       RequestType  `json:"request_type"`
	Urgency           Urgency      `json:"urgency"`
	Stage             Stage        `json:"stage"`
	QuoteStatus       *QuoteStatus `json:"quote_status"`
	QuoteRef          *string      `json:"quote_ref,omitempty"`
	SubmitterID       string       `json:"submitter_id"`
	AssignedTo        *string      `json:"assigned_to"`
	AssignedAt        *time.Time   `json:"assigned_at,omitempty"`
	SLATargetHours    int          `json:"sla_target_hours"`
	SLAStatus         SLAStatus    `json:"sla_status"`
	Title             string       `json:"title"`
	Description       string       `json:"description"`
	Customer          Customer     `json:"customer"`
	ProjectName       string       `json:"project_name,omitempty"`
	FenceType         string       `json:"fence_type,omitempty"`
	LinearFeet        *float64     `json:"linear_feet,omitempty"`
	VoiceRecordingURL string       `json:"voice_recording_url,omitempty"`
	VoiceTranscript   string       `json:"voice_transcript,omitempty"`
	PhotoURLs         []string     `json:"photo_urls"`
	ArchiveReason     *string      `json:"archive_reason,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	SubmittedAt       time.Time    `json:"submitted_at"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	FirstResponseAt   *time.Time   `json:"first_response_at,omitempty"`

	// Поля представления, в строке заявки не хранятся
	Pinned      bool `json:"pinned"`
	UnreadCount int  `json:"unread_count"`
}

// IsAssignedTo проверяет, является ли пользователь текущим исполнителем
func (r *Request) IsAssignedTo(userID string) bool {
	return r.AssignedTo != nil && *r.AssignedTo == userID
}

// Participants возвращает пользователей, затронутых изменением заявки
func (r *Request) Participants() []string {
	users := []string{r.SubmitterID}
	if r.AssignedTo != nil && *r.AssignedTo != r.SubmitterID {
		users = append(users, *r.AssignedTo)
	}
	return users
}

// NoteType тип заметки
type NoteType string

const (
	NoteComment      NoteType = "comment"
	NoteInternal     NoteType = "internal"
	NoteStatusChange NoteType = "status_change"
)

func (t NoteType) IsValid() bool {
	return t == NoteComment || t == NoteInternal || t == NoteStatusChange
}

// RequestNote сообщение или внутренняя пометка к заявке. Только добавляется.
type RequestNote struct {
	ID        uuid.UUID `json:"id"`
	RequestID uuid.UUID `json:"request_id"`
	AuthorID  string    `json:"author_id"`
	NoteType  NoteType  `json:"note_type"`
	Body      string    `json:"body"`
	BodyHTML  string    `json:"body_html,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestActivity запись журнала аудита
type RequestActivity struct {
	ID        uuid.UUID      `json:"id"`
	RequestID uuid.UUID      `json:"request_id"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// Действия журнала
const (
	ActionCreated       = "created"
	ActionUpdated       = "updated"
	ActionAssigned      = "assigned"
	ActionUnassigned    = "unassigned"
	ActionStageChanged  = "stage_changed"
	ActionQuoteAdded    = "quote_added"
	ActionQuoteStatus   = "quote_status_changed"
	ActionArchived      = "archived"
	ActionNoteAdded     = "note_added"
	ActionFileAttached  = "attachment_added"
	ActionFileRemoved   = "attachment_removed"
	ActionWatcherAdded  = "watcher_added"
	ActionWatcherRemove = "watcher_removed"
)

// FileKind класс вложения по mime-типу
type FileKind string

const (
	FileImage    FileKind = "image"
	FileDocument FileKind = "document"
	FileAudio    FileKind = "audio"
	FileVideo    FileKind = "video"
	FileOther    FileKind = "other"
)

// RequestAttachment ссылка на файл в хранилище
type RequestAttachment struct {
	ID         uuid.UUID  `json:"id"`
	RequestID  uuid.UUID  `json:"request_id"`
	UploadedBy string     `json:"uploaded_by"`
	FileName   string     `json:"file_name"`
	ObjectKey  string     `json:"object_key"`
	URL        string     `json:"url,omitempty"`
	MimeType   string     `json:"mime_type"`
	FileKind   FileKind   `json:"file_kind"`
	SizeBytes  int64      `json:"size_bytes"`
	NoteID     *uuid.UUID `json:"note_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// RequestWatcher подписчик заявки
type RequestWatcher struct {
	RequestID uuid.UUID `json:"request_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AssignmentRule исполнитель по умолчанию для типа заявки
type AssignmentRule struct {
	ID          int64       `json:"id"`
	RequestType RequestType `json:"request_type"`
	AssigneeID  string      `json:"assignee_id"`
	Priority    int         `json:"priority"`
	Active      bool        `json:"active"`
}

// SLADefault целевое время ответа для типа заявки
type SLADefault struct {
	RequestType         RequestType `json:"request_type"`
	TargetHours         int         `json:"target_hours"`
	UrgentTargetHours   int         `json:"urgent_target_hours"`
	CriticalTargetHours int         `json:"critical_target_hours"`
}

// RequestPatch частичное обновление заявки; nil-поля не меняются
type RequestPatch struct {
	Title             *string    `json:"title,omitempty"`
	Description       *string    `json:"description,omitempty"`
	Urgency           *Urgency   `json:"urgency,omitempty"`
	Customer          *Customer  `json:"customer,omitempty"`
	ProjectName       *string    `json:"project_name,omitempty"`
	FenceType         *string    `json:"fence_type,omitempty"`
	LinearFeet        *float64   `json:"linear_feet,omitempty"`
	VoiceRecordingURL *string    `json:"voice_recording_url,omitempty"`
	VoiceTranscript   *string    `json:"voice_transcript,omitempty"`
	PhotoURLs         []string   `json:"photo_urls,omitempty"`
	ExpectedUpdatedAt *time.Time `json:"expected_updated_at,omitempty"`
}

// IsEmpty сообщает, что патч ничего не меняет
func (p RequestPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Urgency == nil && p.Customer == nil &&
		p.ProjectName == nil && p.FenceType == nil && p.LinearFeet == nil &&
		p.VoiceRecordingURL == nil && p.VoiceTranscript == nil && p.PhotoURLs == nil
}

// PhoneVerification одноразовый код подтверждения телефона; хранится только хэш
type PhoneVerification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    string     `json:"user_id"`
	Phone     string     `json:"phone"`
	CodeHash  string     `json:"-"`
	Attempts  int        `json:"attempts"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
