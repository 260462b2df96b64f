package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeQueue struct {
	mu    sync.Mutex
	acked []*Envelope
	dead  []*Envelope
}

func (q *fakeQueue) Dequeue(ctx context.Context, _ time.Duration) (*Envelope, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *fakeQueue) Ack(_ context.Context, env *Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, env)
	return nil
}

func (q *fakeQueue) Dead(_ context.Context, env *Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, env)
	return nil
}

type scriptedSender struct {
	errs  []error
	calls int
}

func (s *scriptedSender) Send(context.Context, Payload) error {
	defer func() { s.calls++ }()
	if s.calls < len(s.errs) {
		return s.errs[s.calls]
	}
	return nil
}

func newTestWorker(q Queue, s Sender, maxAttempts int) *Worker {
	w := NewWorker(q, s, maxAttempts, zap.NewNop())
	w.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return w
}

func TestWorker_RetriesThenDelivers(t *testing.T) {
	q := &fakeQueue{}
	s := &scriptedSender{errs: []error{errors.New("timeout"), &StatusError{StatusCode: 503}}}
	w := newTestWorker(q, s, 5)

	env := &Envelope{ID: "n1", Payload: Payload{Type: TypeComment}}
	w.process(context.Background(), env)

	assert.Equal(t, 3, s.calls)
	assert.Equal(t, 3, env.Attempts)
	assert.Len(t, q.acked, 1)
	assert.Empty(t, q.dead)
}

func TestWorker_ExhaustedGoesToDeadList(t *testing.T) {
	q := &fakeQueue{}
	fail := errors.New("connection refused")
	s := &scriptedSender{errs: []error{fail, fail, fail, fail}}
	w := newTestWorker(q, s, 3)

	env := &Envelope{ID: "n2"}
	w.process(context.Background(), env)

	assert.Equal(t, 3, s.calls)
	assert.Empty(t, q.acked)
	require.Len(t, q.dead, 1)
	assert.Equal(t, "connection refused", q.dead[0].LastError)
}

func TestWorker_PermanentErrorIsNotRetried(t *testing.T) {
	q := &fakeQueue{}
	s := &scriptedSender{errs: []error{backoff.Permanent(&StatusError{StatusCode: 400})}}
	w := newTestWorker(q, s, 5)

	w.process(context.Background(), &Envelope{ID: "n3"})

	assert.Equal(t, 1, s.calls)
	assert.Len(t, q.dead, 1)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	w := newTestWorker(&fakeQueue{}, &scriptedSender{}, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestHTTPSender(t *testing.T) {
	var gotAuth, gotType string
	var gotBody []byte
	status := http.StatusOK

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	sender := NewHTTPSender(srv.URL, "s3cr3t", time.Second)
	p := Payload{Type: TypeAssignment, RequestID: "r1", Details: Details{AssigneeID: "rep-1"}}

	require.NoError(t, sender.Send(context.Background(), p))
	assert.Equal(t, "Bearer s3cr3t", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.JSONEq(t, `{"type":"assignment","requestId":"r1","requestTitle":"","requestType":"","triggeredBy":"","details":{"assigneeId":"rep-1"}}`, string(gotBody))

	status = http.StatusBadGateway
	err := sender.Send(context.Background(), p)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	var perm *backoff.PermanentError
	assert.False(t, errors.As(err, &perm), "5xx is retryable")

	status = http.StatusUnprocessableEntity
	err = sender.Send(context.Background(), p)
	assert.True(t, errors.As(err, &perm), "4xx is permanent")
}

type recordingOutbox struct {
	mu       sync.Mutex
	payloads []Payload
	err      error
}

func (o *recordingOutbox) Enqueue(_ context.Context, p Payload) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.payloads = append(o.payloads, p)
	return o.err
}

func TestDispatcher_FireAndForget(t *testing.T) {
	out := &recordingOutbox{err: errors.New("redis down")}
	d := NewDispatcher(out, zap.NewNop(), time.Second)

	d.Dispatch(Payload{Type: TypeAssignment})
	d.Dispatch(Payload{Type: TypeComment})
	d.Wait()

	out.mu.Lock()
	defer out.mu.Unlock()
	assert.Len(t, out.payloads, 2)
}

func TestDispatcher_Disabled(t *testing.T) {
	d := NewDispatcher(nil, zap.NewNop(), 0)
	d.Dispatch(Payload{Type: TypeAssignment})
	d.Wait()
}

func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	client.FlushDB(ctx)

	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})

	return client
}

func TestRedisOutbox_Lifecycle(t *testing.T) {
	client := setupTestRedis(t)
	o := NewRedisOutbox(client, "notify:outbox", "notify:dead", "a")
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, Payload{Type: TypeAssignment, RequestID: "r1"}))
	require.NoError(t, o.Enqueue(ctx, Payload{Type: TypeComment, RequestID: "r2"}))

	env, err := o.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "r1", env.Payload.RequestID, "FIFO order")
	assert.Equal(t, int64(1), client.LLen(ctx, "notify:outbox:processing:a").Val())

	require.NoError(t, o.Ack(ctx, env))
	assert.Equal(t, int64(0), client.LLen(ctx, "notify:outbox:processing:a").Val())

	env, err = o.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	env.Attempts = 5
	env.LastError = "boom"
	require.NoError(t, o.Dead(ctx, env))
	assert.Equal(t, int64(1), client.LLen(ctx, "notify:dead").Val())
	assert.Equal(t, int64(0), client.LLen(ctx, "notify:outbox:processing:a").Val())

	env, err = o.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, env, "empty queue")
}

func TestRedisOutbox_Recover(t *testing.T) {
	client := setupTestRedis(t)
	o := NewRedisOutbox(client, "notify:outbox", "notify:dead", "a")
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, Payload{RequestID: "r1"}))
	_, err := o.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	moved, err := o.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	env, err := o.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "r1", env.Payload.RequestID)
}

func TestRedisOutbox_RecoverSkipsLiveInstances(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	live := NewRedisOutbox(client, "notify:outbox", "notify:dead", "live")
	gone := NewRedisOutbox(client, "notify:outbox", "notify:dead", "gone")

	require.NoError(t, live.Enqueue(ctx, Payload{RequestID: "r-live"}))
	env, err := live.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)

	require.NoError(t, gone.Enqueue(ctx, Payload{RequestID: "r-gone"}))
	env, err = gone.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)
	// экземпляр gone остановлен и его отметка истекла
	require.NoError(t, client.Del(ctx, "notify:outbox:alive:gone").Err())

	restarted := NewRedisOutbox(client, "notify:outbox", "notify:dead", "next")
	moved, err := restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	assert.Equal(t, int64(1), client.LLen(ctx, "notify:outbox:processing:live").Val())
	assert.Equal(t, int64(0), client.LLen(ctx, "notify:outbox:processing:gone").Val())

	env, err = restarted.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "r-gone", env.Payload.RequestID)
	assert.True(t, client.TTL(ctx, "notify:outbox:alive:next").Val() > 0)
}
