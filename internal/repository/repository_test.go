package repository

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/lifecycle"
	"github.com/untibullet/request-desk/internal/migrations"
	"github.com/untibullet/request-desk/internal/models"
)

var testPool *pgxpool.Pool

// TestMain поднимает postgres в контейнере или берет TEST_DB_DSN.
// Без docker интеграционные тесты пропускаются.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	dsn := os.Getenv("TEST_DB_DSN")
	var container testcontainers.Container

	if dsn == "" {
		req := testcontainers.ContainerRequest{
			Image: "postgres:16-alpine",
			Env: map[string]string{
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_USER":     "test",
				"POSTGRES_DB":       "requests",
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		}
		c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "postgres container unavailable, skipping integration tests: %v\n", err)
			os.Exit(m.Run())
		}
		container = c

		host, _ := c.Host(ctx)
		port, _ := c.MappedPort(ctx, "5432")
		dsn = fmt.Sprintf("postgres://test:test@%s:%s/requests?sslmode=disable", host, port.Port())
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err == nil {
		err = pool.Ping(ctx)
	}
	if err == nil {
		err = migrations.Up(ctx, pool, zap.NewNop())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare database: %v\n", err)
	} else {
		testPool = pool
	}

	code := m.Run()

	if pool != nil {
		pool.Close()
	}
	if container != nil {
		_ = container.Terminate(ctx)
	}
	os.Exit(code)
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	if testPool == nil {
		t.Skip("postgres is not available")
	}
	ctx := context.Background()
	_, err := testPool.Exec(ctx, `
		TRUNCATE requests, assignment_rules, sla_defaults, phone_verifications CASCADE
	`)
	require.NoError(t, err)
	return New(testPool)
}

func createTestRequest(t *testing.T, repo *Repository, typ models.RequestType, submitter string) *models.Request {
	t.Helper()
	req, err := repo.CreateRequest(context.Background(), &models.Request{
		RequestType: typ,
		Urgency:     models.UrgencyMedium,
		SubmitterID: submitter,
		Title:       "Cedar fence for backyard",
		Customer:    models.Customer{Name: "Jane Doe"},
	})
	require.NoError(t, err)
	return req
}

func TestCreateRequest_ResolvesAssignmentRuleAndSLA(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertAssignmentRule(ctx, &models.AssignmentRule{
		RequestType: models.TypePricing, AssigneeID: "rep-late", Priority: 20, Active: true,
	}))
	require.NoError(t, repo.UpsertAssignmentRule(ctx, &models.AssignmentRule{
		RequestType: models.TypePricing, AssigneeID: "rep-first", Priority: 10, Active: true,
	}))
	require.NoError(t, repo.UpsertAssignmentRule(ctx, &models.AssignmentRule{
		RequestType: models.TypePricing, AssigneeID: "rep-off", Priority: 1, Active: false,
	}))
	require.NoError(t, repo.UpsertSLADefault(ctx, &models.SLADefault{
		RequestType: models.TypePricing, TargetHours: 8, UrgentTargetHours: 4, CriticalTargetHours: 1,
	}))

	req := createTestRequest(t, repo, models.TypePricing, "sub-1")
	assert.Equal(t, models.StageNew, req.Stage)
	require.NotNil(t, req.AssignedTo)
	assert.Equal(t, "rep-first", *req.AssignedTo)
	assert.Equal(t, 8, req.SLATargetHours)

	other := createTestRequest(t, repo, models.TypeSupport, "sub-1")
	assert.Nil(t, other.AssignedTo)
	assert.Equal(t, 24, other.SLATargetHours)
}

func TestAssignRequest_ResetsStage(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	req := createTestRequest(t, repo, models.TypeSupport, "sub-1")

	_, err := repo.ChangeStage(ctx, req.ID, models.StageCompleted)
	require.NoError(t, err)

	change, err := repo.AssignRequest(ctx, req.ID, "rep-2")
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, change.Before.Stage)
	assert.Equal(t, models.StageNew, change.After.Stage)
	assert.Nil(t, change.After.CompletedAt)

	got, err := repo.GetRequest(ctx, req.ID, "rep-2")
	require.NoError(t, err)
	assert.Equal(t, models.StageNew, got.Stage)
	assert.Equal(t, "rep-2", *got.AssignedTo)

	_, err = repo.ChangeStage(ctx, req.ID, models.StageNew)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestMarkViewed_OnlyAssigneeMovesToPending(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	req := createTestRequest(t, repo, models.TypeSupport, "sub-1")
	_, err := repo.AssignRequest(ctx, req.ID, "rep-1")
	require.NoError(t, err)

	got, moved, err := repo.MarkViewed(ctx, req.ID, "someone-else")
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, models.StageNew, got.Stage)

	got, moved, err = repo.MarkViewed(ctx, req.ID, "rep-1")
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, models.StagePending, got.Stage)
	assert.NotNil(t, got.FirstResponseAt)

	_, moved, err = repo.MarkViewed(ctx, req.ID, "rep-1")
	require.NoError(t, err)
	assert.False(t, moved)

	activity, err := repo.ListActivity(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, models.ActionStageChanged, activity[0].Action)
	assert.Equal(t, true, activity[0].Details["automatic"])

	views, err := repo.ViewStatus(ctx, "rep-1", []uuid.UUID{req.ID})
	require.NoError(t, err)
	assert.Contains(t, views, req.ID)
}

func TestUpdateRequest_OptimisticCheck(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	req := createTestRequest(t, repo, models.TypeSupport, "sub-1")

	title := "Vinyl fence"
	stale := req.UpdatedAt.Add(-time.Minute)
	_, err := repo.UpdateRequest(ctx, req.ID, models.RequestPatch{Title: &title, ExpectedUpdatedAt: &stale})
	assert.ErrorIs(t, err, ErrConflict)

	change, err := repo.UpdateRequest(ctx, req.ID, models.RequestPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Vinyl fence", change.After.Title)
	assert.Equal(t, "Cedar fence for backyard", change.Before.Title)

	_, err = repo.UpdateRequest(ctx, uuid.New(), models.RequestPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTogglePin_TwiceRestoresState(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	a := createTestRequest(t, repo, models.TypeSupport, "sub-1")
	b := createTestRequest(t, repo, models.TypeSupport, "sub-1")

	pinned, err := repo.TogglePin(ctx, a.ID, "u1")
	require.NoError(t, err)
	assert.True(t, pinned)

	list, err := repo.ListRequests(ctx, models.ListFilter{ViewerID: "u1", Sort: models.SortNewest})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID, "pinned request comes first even though it is older")
	assert.Equal(t, b.ID, list[1].ID)

	pinned, err = repo.TogglePin(ctx, a.ID, "u1")
	require.NoError(t, err)
	assert.False(t, pinned)

	_, err = repo.TogglePin(ctx, uuid.New(), "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestViewerState_SurvivesAssignment(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	req := createTestRequest(t, repo, models.TypeSupport, "sub-1")

	_, err := repo.TogglePin(ctx, req.ID, "mgr-1")
	require.NoError(t, err)
	require.NoError(t, repo.AddNote(ctx, &models.RequestNote{
		RequestID: req.ID, AuthorID: "sub-1", NoteType: models.NoteComment, Body: "any update?",
	}))

	change, err := repo.AssignRequest(ctx, req.ID, "rep-1")
	require.NoError(t, err)
	assert.Equal(t, "rep-1", *change.After.AssignedTo)

	pinned, unread, err := repo.ViewerState(ctx, req.ID, "mgr-1", false)
	require.NoError(t, err)
	assert.True(t, pinned)
	assert.Equal(t, 1, unread)

	pinned, unread, err = repo.ViewerState(ctx, req.ID, "sub-1", false)
	require.NoError(t, err)
	assert.False(t, pinned)
	assert.Equal(t, 0, unread, "own notes are never unread")
}

func TestNotesAndUnreadCounts(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	req := createTestRequest(t, repo, models.TypeSupport, "sub-1")

	for _, n := range []models.RequestNote{
		{RequestID: req.ID, AuthorID: "rep-1", NoteType: models.NoteComment, Body: "On it"},
		{RequestID: req.ID, AuthorID: "rep-1", NoteType: models.NoteInternal, Body: "Margin is thin"},
		{RequestID: req.ID, AuthorID: "sub-1", NoteType: models.NoteComment, Body: "Thanks"},
	} {
		note := n
		require.NoError(t, repo.AddNote(ctx, &note))
	}

	public, err := repo.ListNotes(ctx, req.ID, false)
	require.NoError(t, err)
	assert.Len(t, public, 2)

	all, err := repo.ListNotes(ctx, req.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	counts, err := repo.UnreadCounts(ctx, "sub-1", []uuid.UUID{req.ID}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[req.ID])

	counts, err = repo.UnreadCounts(ctx, "manager", []uuid.UUID{req.ID}, true)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[req.ID])

	_, _, err = repo.MarkViewed(ctx, req.ID, "manager")
	require.NoError(t, err)
	counts, err = repo.UnreadCounts(ctx, "manager", []uuid.UUID{req.ID}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[req.ID])
}

func TestWatchers(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	req := createTestRequest(t, repo, models.TypeSupport, "sub-1")

	added, err := repo.AddWatcher(ctx, req.ID, "w1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = repo.AddWatcher(ctx, req.ID, "w1")
	require.NoError(t, err)
	assert.False(t, added, "adding twice is idempotent")

	watching, err := repo.ToggleWatcher(ctx, req.ID, "w2")
	require.NoError(t, err)
	assert.True(t, watching)

	list, err := repo.ListWatchers(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	removed, err := repo.RemoveWatcher(ctx, req.ID, "w1")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestDeleteRequest_CascadesChildren(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	req := createTestRequest(t, repo, models.TypeSupport, "sub-1")

	require.NoError(t, repo.AddNote(ctx, &models.RequestNote{RequestID: req.ID, AuthorID: "sub-1", NoteType: models.NoteComment, Body: "hi"}))
	require.NoError(t, repo.AddAttachment(ctx, &models.RequestAttachment{
		RequestID: req.ID, UploadedBy: "sub-1", FileName: "a.pdf", ObjectKey: "requests/x/a.pdf",
		MimeType: "application/pdf", FileKind: models.FileDocument, SizeBytes: 10,
	}))

	deleted, err := repo.DeleteRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, deleted.ID)

	var notes int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT COUNT(*) FROM request_notes WHERE request_id = $1`, req.ID).Scan(&notes))
	assert.Zero(t, notes)

	_, err = repo.DeleteRequest(ctx, req.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQuoteFlow(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	req := createTestRequest(t, repo, models.TypePricing, "sub-1")

	change, err := repo.AddQuote(ctx, req.ID, "Q-1042")
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, change.After.Stage)
	require.NotNil(t, change.After.QuoteStatus)
	assert.Equal(t, models.QuoteAwaiting, *change.After.QuoteStatus)

	change, err = repo.SetQuoteStatus(ctx, req.ID, models.QuoteWon)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteWon, *change.After.QuoteStatus)

	change, err = repo.ArchiveRequest(ctx, req.ID, "duplicate")
	require.NoError(t, err)
	assert.Equal(t, models.StageArchived, change.After.Stage)
	assert.Equal(t, "duplicate", *change.After.ArchiveReason)
}

func TestOTPStore(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.LatestOTP(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	v := &models.PhoneVerification{UserID: "u1", Phone: "+15551234567", CodeHash: "abc", ExpiresAt: time.Now().Add(10 * time.Minute)}
	require.NoError(t, repo.SaveOTP(ctx, v))

	got, err := repo.LatestOTP(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)

	n, err := repo.IncrementOTPAttempts(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, repo.MarkOTPUsed(ctx, v.ID))
	assert.ErrorIs(t, repo.MarkOTPUsed(ctx, v.ID), ErrNotFound)
}

func TestSLAStore(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	open := createTestRequest(t, repo, models.TypeSupport, "sub-1")
	closed := createTestRequest(t, repo, models.TypeSupport, "sub-1")
	_, err := repo.ChangeStage(ctx, closed.ID, models.StageCompleted)
	require.NoError(t, err)

	list, err := repo.ListOpenForSLA(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, open.ID, list[0].ID)

	require.NoError(t, repo.UpdateSLAStatus(ctx, open.ID, models.SLABreached))
	got, err := repo.GetRequest(ctx, open.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.SLABreached, got.SLAStatus)
}
