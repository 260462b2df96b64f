package transcription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untibullet/request-desk/internal/config"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "2:05", FormatDuration(125))
	assert.Equal(t, "0:59", FormatDuration(59))
	assert.Equal(t, "0:00", FormatDuration(0))
	assert.Equal(t, "61:01", FormatDuration(3661.7))
	assert.Equal(t, "0:00", FormatDuration(-3))
}

func TestFormat(t *testing.T) {
	t.Run("queued is processing", func(t *testing.T) {
		r := Format(&Transcript{ID: "t1", Status: "queued"})
		assert.Equal(t, Result{Status: StatusProcessing, ID: "t1"}, r)
	})

	t.Run("error", func(t *testing.T) {
		r := Format(&Transcript{ID: "t1", Status: "error", Error: "audio too short"})
		assert.Equal(t, StatusError, r.Status)
		assert.Equal(t, "audio too short", r.Error)
	})

	t.Run("completed", func(t *testing.T) {
		r := Format(&Transcript{
			ID:            "t1",
			Status:        "completed",
			AudioDuration: 125,
			Confidence:    0.914,
			Utterances: []Utterance{
				{Speaker: "A", Text: "Hi, this is Dan from the yard."},
				{Speaker: "B", Text: "Hello!"},
				{Speaker: "A", Text: "About your fence quote."},
			},
		})

		assert.Equal(t, StatusCompleted, r.Status)
		assert.Equal(t, "2:05", r.Duration)
		require.NotNil(t, r.Confidence)
		assert.Equal(t, 91, *r.Confidence)
		assert.Equal(t,
			"Sales Rep: Hi, this is Dan from the yard.\n\nClient: Hello!\n\nSales Rep: About your fence quote.",
			r.Transcript)
		assert.Equal(t, []Speaker{
			{Label: LabelSalesRep, Speaker: "A", UtteranceCount: 2},
			{Label: LabelClient, Speaker: "B", UtteranceCount: 1},
		}, r.Speakers)
	})

	t.Run("completed without utterances", func(t *testing.T) {
		r := Format(&Transcript{Status: "completed", Text: " plain text ", Confidence: 1})
		assert.Equal(t, "plain text", r.Transcript)
		require.NotNil(t, r.Confidence)
		assert.Equal(t, 100, *r.Confidence)
		assert.Equal(t, 0, r.Speakers[0].UtteranceCount)
	})

	t.Run("completed with zero confidence keeps the field", func(t *testing.T) {
		r := Format(&Transcript{ID: "t1", Status: "completed", Text: "...", Confidence: 0})

		raw, err := json.Marshal(r)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"confidence":0`)
	})

	t.Run("processing has no confidence", func(t *testing.T) {
		raw, err := json.Marshal(Format(&Transcript{ID: "t1", Status: "processing"}))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "confidence")
	})
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.TranscriptionConfig{BaseURL: srv.URL + "/", APIKey: "key", Timeout: time.Second})
}

func TestClient_Get(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/transcript/abc", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "abc", "status": "processing"})
	})

	tr, err := c.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "processing", tr.Status)

	_, err = c.Get(context.Background(), " ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestClient_Submit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/transcript", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://files.example.com/a.mp3", body["audio_url"])
		assert.Equal(t, true, body["speaker_labels"])
		assert.EqualValues(t, 2, body["speakers_expected"])

		_ = json.NewEncoder(w).Encode(map[string]any{"id": "new-job", "status": "queued"})
	})

	tr, err := c.Submit(context.Background(), "https://files.example.com/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, "new-job", tr.ID)

	_, err = c.Submit(context.Background(), "not a url")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestClient_ProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	_, err := c.Get(context.Background(), "abc")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusUnauthorized, perr.StatusCode)
}

func TestClient_NotConfigured(t *testing.T) {
	c := New(config.TranscriptionConfig{BaseURL: "http://localhost"})
	_, err := c.Get(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
