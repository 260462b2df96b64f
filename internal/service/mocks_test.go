package service

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/untibullet/request-desk/internal/models"
	"github.com/untibullet/request-desk/internal/notify"
	"github.com/untibullet/request-desk/internal/realtime"
	"github.com/untibullet/request-desk/internal/repository"
)

type MockStore struct {
	mock.Mock
}

func requestArg(args mock.Arguments, i int) *models.Request {
	if v := args.Get(i); v != nil {
		return v.(*models.Request)
	}
	return nil
}

func changeArg(args mock.Arguments, i int) *repository.Change {
	if v := args.Get(i); v != nil {
		return v.(*repository.Change)
	}
	return nil
}

func (m *MockStore) CreateRequest(ctx context.Context, req *models.Request) (*models.Request, error) {
	args := m.Called(ctx, req)
	return requestArg(args, 0), args.Error(1)
}

func (m *MockStore) GetRequest(ctx context.Context, id uuid.UUID, viewerID string) (*models.Request, error) {
	args := m.Called(ctx, id, viewerID)
	return requestArg(args, 0), args.Error(1)
}

func (m *MockStore) ListRequests(ctx context.Context, f models.ListFilter) ([]models.Request, error) {
	args := m.Called(ctx, f)
	list, _ := args.Get(0).([]models.Request)
	return list, args.Error(1)
}

func (m *MockStore) UpdateRequest(ctx context.Context, id uuid.UUID, patch models.RequestPatch) (*repository.Change, error) {
	args := m.Called(ctx, id, patch)
	return changeArg(args, 0), args.Error(1)
}

func (m *MockStore) AssignRequest(ctx context.Context, id uuid.UUID, assigneeID string) (*repository.Change, error) {
	args := m.Called(ctx, id, assigneeID)
	return changeArg(args, 0), args.Error(1)
}

func (m *MockStore) UnassignRequest(ctx context.Context, id uuid.UUID) (*repository.Change, error) {
	args := m.Called(ctx, id)
	return changeArg(args, 0), args.Error(1)
}

func (m *MockStore) ChangeStage(ctx context.Context, id uuid.UUID, to models.Stage) (*repository.Change, error) {
	args := m.Called(ctx, id, to)
	return changeArg(args, 0), args.Error(1)
}

func (m *MockStore) AddQuote(ctx context.Context, id uuid.UUID, quoteRef string) (*repository.Change, error) {
	args := m.Called(ctx, id, quoteRef)
	return changeArg(args, 0), args.Error(1)
}

func (m *MockStore) SetQuoteStatus(ctx context.Context, id uuid.UUID, status models.QuoteStatus) (*repository.Change, error) {
	args := m.Called(ctx, id, status)
	return changeArg(args, 0), args.Error(1)
}

func (m *MockStore) ArchiveRequest(ctx context.Context, id uuid.UUID, reason string) (*repository.Change, error) {
	args := m.Called(ctx, id, reason)
	return changeArg(args, 0), args.Error(1)
}

func (m *MockStore) DeleteRequest(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	args := m.Called(ctx, id)
	return requestArg(args, 0), args.Error(1)
}

func (m *MockStore) MarkViewed(ctx context.Context, id uuid.UUID, userID string) (*models.Request, bool, error) {
	args := m.Called(ctx, id, userID)
	return requestArg(args, 0), args.Bool(1), args.Error(2)
}

func (m *MockStore) AddNote(ctx context.Context, note *models.RequestNote) error {
	args := m.Called(ctx, note)
	return args.Error(0)
}

func (m *MockStore) ListNotes(ctx context.Context, requestID uuid.UUID, includeInternal bool) ([]models.RequestNote, error) {
	args := m.Called(ctx, requestID, includeInternal)
	list, _ := args.Get(0).([]models.RequestNote)
	return list, args.Error(1)
}

func (m *MockStore) LogActivity(ctx context.Context, a *models.RequestActivity) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockStore) ListActivity(ctx context.Context, requestID uuid.UUID) ([]models.RequestActivity, error) {
	args := m.Called(ctx, requestID)
	list, _ := args.Get(0).([]models.RequestActivity)
	return list, args.Error(1)
}

func (m *MockStore) AddAttachment(ctx context.Context, a *models.RequestAttachment) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockStore) ListAttachments(ctx context.Context, requestID uuid.UUID) ([]models.RequestAttachment, error) {
	args := m.Called(ctx, requestID)
	list, _ := args.Get(0).([]models.RequestAttachment)
	return list, args.Error(1)
}

func (m *MockStore) GetAttachment(ctx context.Context, id uuid.UUID) (*models.RequestAttachment, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*models.RequestAttachment)
	return a, args.Error(1)
}

func (m *MockStore) DeleteAttachment(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) LinkAttachmentNote(ctx context.Context, attachmentID, noteID uuid.UUID) error {
	args := m.Called(ctx, attachmentID, noteID)
	return args.Error(0)
}

func (m *MockStore) AddWatcher(ctx context.Context, requestID uuid.UUID, userID string) (bool, error) {
	args := m.Called(ctx, requestID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) RemoveWatcher(ctx context.Context, requestID uuid.UUID, userID string) (bool, error) {
	args := m.Called(ctx, requestID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ToggleWatcher(ctx context.Context, requestID uuid.UUID, userID string) (bool, error) {
	args := m.Called(ctx, requestID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ListWatchers(ctx context.Context, requestID uuid.UUID) ([]models.RequestWatcher, error) {
	args := m.Called(ctx, requestID)
	list, _ := args.Get(0).([]models.RequestWatcher)
	return list, args.Error(1)
}

func (m *MockStore) TogglePin(ctx context.Context, requestID uuid.UUID, userID string) (bool, error) {
	args := m.Called(ctx, requestID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) UnreadCounts(ctx context.Context, userID string, ids []uuid.UUID, includeInternal bool) (map[uuid.UUID]int, error) {
	args := m.Called(ctx, userID, ids, includeInternal)
	counts, _ := args.Get(0).(map[uuid.UUID]int)
	return counts, args.Error(1)
}

func (m *MockStore) ViewStatus(ctx context.Context, userID string, ids []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	args := m.Called(ctx, userID, ids)
	views, _ := args.Get(0).(map[uuid.UUID]time.Time)
	return views, args.Error(1)
}

func (m *MockStore) ViewerState(ctx context.Context, requestID uuid.UUID, userID string, includeInternal bool) (bool, int, error) {
	args := m.Called(ctx, requestID, userID, includeInternal)
	return args.Bool(0), args.Int(1), args.Error(2)
}

func (m *MockStore) ListAssignmentRules(ctx context.Context) ([]models.AssignmentRule, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]models.AssignmentRule)
	return list, args.Error(1)
}

func (m *MockStore) UpsertAssignmentRule(ctx context.Context, rule *models.AssignmentRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockStore) ListSLADefaults(ctx context.Context) ([]models.SLADefault, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]models.SLADefault)
	return list, args.Error(1)
}

func (m *MockStore) UpsertSLADefault(ctx context.Context, d *models.SLADefault) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Dispatch(p notify.Payload) {
	m.Called(p)
}

// recordingPublisher запоминает опубликованные события
type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) last() realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return realtime.Event{}
	}
	return p.events[len(p.events)-1]
}

// memoryObjects хранилище объектов в памяти
type memoryObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	removeErr error
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: make(map[string][]byte)}
}

func (o *memoryObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if o.putErr != nil {
		return o.putErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = buf.Bytes()
	return nil
}

func (o *memoryObjects) Remove(_ context.Context, key string) error {
	if o.removeErr != nil {
		return o.removeErr
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	return nil
}

func (o *memoryObjects) URL(_ context.Context, key string) (string, error) {
	return "https://files.local/" + key, nil
}

func (o *memoryObjects) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.objects)
}
