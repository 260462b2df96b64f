package notify

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Queue источник записей для воркера
type Queue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*Envelope, error)
	Ack(ctx context.Context, env *Envelope) error
	Dead(ctx context.Context, env *Envelope) error
}

// Worker забирает уведомления из очереди и доставляет их с повторами.
// После maxAttempts неудач запись уходит в dead-список.
type Worker struct {
	queue       Queue
	sender      Sender
	logger      *zap.Logger
	maxAttempts int
	pollTimeout time.Duration
	newBackOff  func() backoff.BackOff
}

func NewWorker(queue Queue, sender Sender, maxAttempts int, logger *zap.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Worker{
		queue:       queue,
		sender:      sender,
		logger:      logger,
		maxAttempts: maxAttempts,
		pollTimeout: 5 * time.Second,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Run работает до отмены ctx
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("notification worker started", zap.Int("max_attempts", w.maxAttempts))

	for {
		if ctx.Err() != nil {
			w.logger.Info("notification worker stopped")
			return nil
		}

		env, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("Run: failed to dequeue notification", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if env == nil {
			continue
		}

		w.process(ctx, env)
	}
}

func (w *Worker) process(ctx context.Context, env *Envelope) {
	log := w.logger.With(
		zap.String("notification_id", env.ID),
		zap.String("type", string(env.Payload.Type)),
		zap.String("request_id", env.Payload.RequestID),
	)

	remaining := w.maxAttempts - env.Attempts
	if remaining <= 0 {
		remaining = 1
	}

	b := backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), uint64(remaining-1)), ctx)
	err := backoff.RetryNotify(func() error {
		env.Attempts++
		return w.sender.Send(ctx, env.Payload)
	}, b, func(err error, next time.Duration) {
		log.Warn("process: delivery failed, retrying",
			zap.Int("attempt", env.Attempts),
			zap.Duration("next", next),
			zap.Error(err))
	})

	// Запись подтверждаем без ctx воркера, иначе при остановке она зависнет в processing
	ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err == nil {
		if ackErr := w.queue.Ack(ackCtx, env); ackErr != nil {
			log.Error("process: failed to ack notification", zap.Error(ackErr))
		}
		log.Debug("process: notification delivered", zap.Int("attempts", env.Attempts))
		return
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// остановка: запись останется в processing и вернется через Recover
		return
	}

	env.LastError = err.Error()
	log.Error("process: notification undeliverable, moving to dead list",
		zap.Int("attempts", env.Attempts),
		zap.Error(err))
	if deadErr := w.queue.Dead(ackCtx, env); deadErr != nil {
		log.Error("process: failed to move notification to dead list", zap.Error(deadErr))
	}
}
