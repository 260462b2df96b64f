package notify

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untibullet/request-desk/internal/models"
)

func testRequest() *models.Request {
	return &models.Request{
		ID:          uuid.MustParse("6f1c1f0e-2f7a-4b53-9a53-3f3f0b1c2d4e"),
		Title:       "Fence quote for Oak St",
		RequestType: models.TypePricing,
	}
}

func TestTruncatePreview(t *testing.T) {
	short := strings.Repeat("a", MaxPreviewLength)
	assert.Equal(t, short, TruncatePreview(short))

	long := strings.Repeat("b", MaxPreviewLength+1)
	got := TruncatePreview(long)
	assert.Equal(t, strings.Repeat("b", MaxPreviewLength)+"...", got)

	// считаем символы, а не байты
	cyr := strings.Repeat("ж", MaxPreviewLength+10)
	got = TruncatePreview(cyr)
	assert.Equal(t, MaxPreviewLength+3, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
}

func TestComment_InternalNoteProducesNothing(t *testing.T) {
	req := testRequest()

	_, ok := Comment(req, &models.RequestNote{AuthorID: "u1", NoteType: models.NoteInternal, Body: "secret margin"})
	assert.False(t, ok)

	p, ok := Comment(req, &models.RequestNote{AuthorID: "u1", NoteType: models.NoteComment, Body: "Customer called"})
	require.True(t, ok)
	assert.Equal(t, TypeComment, p.Type)
	assert.Equal(t, "u1", p.TriggeredBy)
	assert.Equal(t, "Customer called", p.Details.CommentPreview)
}

func TestPayload_JSONShape(t *testing.T) {
	req := testRequest()
	p := StatusChange(req, "rep-1", models.StageNew, models.StagePending)

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "status_change", raw["type"])
	assert.Equal(t, req.ID.String(), raw["requestId"])
	assert.Equal(t, "Fence quote for Oak St", raw["requestTitle"])
	assert.Equal(t, "pricing", raw["requestType"])
	assert.Equal(t, "rep-1", raw["triggeredBy"])

	details := raw["details"].(map[string]any)
	assert.Equal(t, map[string]any{"oldStatus": "new", "newStatus": "pending"}, details)
}

func TestConstructors(t *testing.T) {
	req := testRequest()

	assert.Equal(t, "rep-2", Assignment(req, "mgr", "rep-2").Details.AssigneeID)
	assert.Equal(t, "w-1", WatcherAdded(req, "mgr", "w-1").Details.WatcherID)
	assert.Equal(t, "site.jpg", Attachment(req, "rep-2", "site.jpg").Details.AttachmentName)
	assert.Equal(t, TypeAttachment, Attachment(req, "rep-2", "site.jpg").Type)
}
