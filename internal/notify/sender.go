package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sender доставляет уведомление получателю
type Sender interface {
	Send(ctx context.Context, p Payload) error
}

// HTTPSender POST на endpoint рассылки; тело ответа не читается, важен только статус
type HTTPSender struct {
	client   *http.Client
	endpoint string
	secret   string
}

func NewHTTPSender(endpoint, secret string, timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		secret:   secret,
	}
}

// StatusError ответ endpoint со статусом вне 2xx
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("notification endpoint returned %d", e.StatusCode)
}

func (s *HTTPSender) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set("Authorization", "Bearer "+s.secret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call notification endpoint: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := &StatusError{StatusCode: resp.StatusCode}
	// 4xx кроме 408 и 429 повтором не исправить
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(statusErr)
	}
	return statusErr
}
