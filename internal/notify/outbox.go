package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/goroutine"
)

// Envelope запись очереди
type Envelope struct {
	ID         string    `json:"id"`
	Payload    Payload   `json:"payload"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`

	raw string
}

// Outbox принимает уведомления к доставке
type Outbox interface {
	Enqueue(ctx context.Context, p Payload) error
}

// aliveTTL срок жизни отметки экземпляра; обновляется каждым Dequeue
const aliveTTL = 2 * time.Minute

// RedisOutbox очередь на списках Redis. Взятая в работу запись лежит в
// processing-списке своего экземпляра до подтверждения, поэтому падение
// воркера ее не теряет, а соседние экземпляры не трогают чужие записи.
type RedisOutbox struct {
	client        *redis.Client
	queueKey      string
	processingKey string
	aliveKey      string
	deadKey       string
}

// NewRedisOutbox; instanceID различает processing-списки экземпляров
func NewRedisOutbox(client *redis.Client, queueKey, deadKey, instanceID string) *RedisOutbox {
	if instanceID == "" {
		instanceID = "default"
	}
	return &RedisOutbox{
		client:        client,
		queueKey:      queueKey,
		processingKey: queueKey + ":processing:" + instanceID,
		aliveKey:      queueKey + ":alive:" + instanceID,
		deadKey:       deadKey,
	}
}

func (o *RedisOutbox) Enqueue(ctx context.Context, p Payload) error {
	env := Envelope{
		ID:         uuid.NewString(),
		Payload:    p,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := o.client.LPush(ctx, o.queueKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// Dequeue ждет запись до timeout; nil без ошибки, если очередь пуста
func (o *RedisOutbox) Dequeue(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	if err := o.client.Set(ctx, o.aliveKey, time.Now().UTC().Unix(), aliveTTL).Err(); err != nil {
		return nil, fmt.Errorf("failed to refresh outbox heartbeat: %w", err)
	}

	raw, err := o.client.BLMove(ctx, o.queueKey, o.processingKey, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue notification: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// битую запись сразу убираем в dead
		_ = o.client.LRem(ctx, o.processingKey, 1, raw).Err()
		_ = o.client.LPush(ctx, o.deadKey, raw).Err()
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	env.raw = raw
	return &env, nil
}

// Ack снимает запись с обработки
func (o *RedisOutbox) Ack(ctx context.Context, env *Envelope) error {
	if err := o.client.LRem(ctx, o.processingKey, 1, env.raw).Err(); err != nil {
		return fmt.Errorf("failed to ack notification: %w", err)
	}
	return nil
}

// Dead переносит запись в список недоставленных
func (o *RedisOutbox) Dead(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal dead notification: %w", err)
	}

	pipe := o.client.TxPipeline()
	pipe.LRem(ctx, o.processingKey, 1, env.raw)
	pipe.LPush(ctx, o.deadKey, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to move notification to dead list: %w", err)
	}
	return nil
}

// Recover возвращает в очередь записи из своего processing-списка и из
// списков экземпляров, чья отметка истекла. Списки живых соседей не трогает.
func (o *RedisOutbox) Recover(ctx context.Context) (int, error) {
	keys := []string{o.processingKey}

	prefix := o.queueKey + ":processing:"
	iter := o.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if key == o.processingKey {
			continue
		}
		alive, err := o.client.Exists(ctx, o.queueKey+":alive:"+strings.TrimPrefix(key, prefix)).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to check outbox instance: %w", err)
		}
		if alive == 0 {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan processing lists: %w", err)
	}

	moved := 0
	for _, key := range keys {
		for {
			err := o.client.LMove(ctx, key, o.queueKey, "LEFT", "RIGHT").Err()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return moved, fmt.Errorf("failed to recover notifications: %w", err)
			}
			moved++
		}
	}
	return moved, nil
}

// Dispatcher ставит уведомления в очередь, не блокируя вызывающего.
// Ошибки только логируются: бизнес-операция от доставки не зависит.
type Dispatcher struct {
	outbox  Outbox
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher; outbox == nil отключает уведомления
func NewDispatcher(outbox Outbox, logger *zap.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{outbox: outbox, logger: logger, timeout: timeout}
}

func (d *Dispatcher) Dispatch(p Payload) {
	if d.outbox == nil {
		d.logger.Debug("Dispatch: notifications disabled", zap.String("type", string(p.Type)))
		return
	}

	d.wg.Add(1)
	goroutine.SafeGo(d.logger, "notify-dispatch", func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.outbox.Enqueue(ctx, p); err != nil {
			d.logger.Warn("Dispatch: failed to enqueue notification",
				zap.String("type", string(p.Type)),
				zap.String("request_id", p.RequestID),
				zap.Error(err))
		}
	})
}

// Wait дожидается постановки уже отправленных уведомлений
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
