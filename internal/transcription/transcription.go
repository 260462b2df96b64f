// Package transcription клиент сервиса расшифровки голосовых записей.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/untibullet/request-desk/internal/config"
)

var (
	ErrNotConfigured = errors.New("transcription api key is not configured")
	ErrInvalidInput  = errors.New("invalid input")
)

// Статусы результата
const (
	StatusProcessing = "processing"
	StatusError      = "error"
	StatusCompleted  = "completed"
)

// Подписи говорящих: A всегда менеджер, B клиент
const (
	LabelSalesRep = "Sales Rep"
	LabelClient   = "Client"
)

// ProviderError провайдер ответил статусом вне 2xx
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("transcription provider returned %d: %s", e.StatusCode, e.Message)
}

// Utterance реплика одного говорящего
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Transcript ответ провайдера
type Transcript struct {
	ID            string      `json:"id"`
	Status        string      `json:"status"`
	Error         string      `json:"error"`
	Text          string      `json:"text"`
	AudioDuration float64     `json:"audio_duration"`
	Confidence    float64     `json:"confidence"`
	Utterances    []Utterance `json:"utterances"`
}

// Speaker сводка по говорящему
type Speaker struct {
	Label          string `json:"label"`
	Speaker        string `json:"speaker"`
	UtteranceCount int    `json:"utteranceCount"`
}

// Result плоский результат для клиента.
// Confidence задана только у завершенной расшифровки, в том числе нулевая.
type Result struct {
	Status     string    `json:"status"`
	ID         string    `json:"id,omitempty"`
	Error      string    `json:"error,omitempty"`
	Duration   string    `json:"duration,omitempty"`
	Confidence *int      `json:"confidence,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Speakers   []Speaker `json:"speakers,omitempty"`
}

type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func New(cfg config.TranscriptionConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

// Get запрашивает состояние задания расшифровки
func (c *Client) Get(ctx context.Context, id string) (*Transcript, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: transcript id is required", ErrInvalidInput)
	}

	var t Transcript
	if err := c.do(ctx, http.MethodGet, "/v2/transcript/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Submit ставит запись в очередь расшифровки с разметкой двух говорящих
func (c *Client) Submit(ctx context.Context, audioURL string) (*Transcript, error) {
	u, err := url.Parse(strings.TrimSpace(audioURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: audio url must be an absolute http(s) url", ErrInvalidInput)
	}

	body := map[string]any{
		"audio_url":         u.String(),
		"speaker_labels":    true,
		"speakers_expected": 2,
	}
	var t Transcript
	if err := c.do(ctx, http.MethodPost, "/v2/transcript", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}

	var reader io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call transcription provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &ProviderError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}

// Format сворачивает ответ провайдера в результат для клиента
func Format(t *Transcript) Result {
	switch t.Status {
	case StatusCompleted:
	case StatusError:
		msg := t.Error
		if msg == "" {
			msg = "transcription failed"
		}
		return Result{Status: StatusError, ID: t.ID, Error: msg}
	default:
		// queued и processing для клиента неразличимы
		return Result{Status: StatusProcessing, ID: t.ID}
	}

	confidence := int(math.Round(t.Confidence * 100))
	res := Result{
		Status:     StatusCompleted,
		ID:         t.ID,
		Duration:   FormatDuration(t.AudioDuration),
		Confidence: &confidence,
		Speakers: []Speaker{
			{Label: LabelSalesRep, Speaker: "A"},
			{Label: LabelClient, Speaker: "B"},
		},
	}

	if len(t.Utterances) == 0 {
		res.Transcript = strings.TrimSpace(t.Text)
		return res
	}

	lines := make([]string, 0, len(t.Utterances))
	for _, u := range t.Utterances {
		label := LabelClient
		if u.Speaker == "A" {
			label = LabelSalesRep
		}
		for i := range res.Speakers {
			if res.Speakers[i].Speaker == u.Speaker {
				res.Speakers[i].UtteranceCount++
			}
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, strings.TrimSpace(u.Text)))
	}
	res.Transcript = strings.Join(lines, "\n\n")
	return res
}

// FormatDuration секунды в "M:SS"
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
