package realtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/goroutine"
)

// Relay передает события из шины локальным потребителям: кэшу и websocket-хабу.
// Повторы и нарушенный порядок безопасны: потребители только сбрасывают
// кэш и уведомляют клиентов о необходимости перечитать данные.
type Relay struct {
	sub    Subscriber
	sinks  []Sink
	logger *zap.Logger
}

func NewRelay(sub Subscriber, logger *zap.Logger, sinks ...Sink) *Relay {
	return &Relay{sub: sub, sinks: sinks, logger: logger}
}

// Run блокируется до отмены ctx
func (r *Relay) Run(ctx context.Context) error {
	return r.sub.Subscribe(ctx, func(e Event) {
		for _, sink := range r.sinks {
			r.deliver(ctx, sink, e)
		}
	})
}

func (r *Relay) deliver(ctx context.Context, sink Sink, e Event) {
	defer goroutine.Recover(r.logger, "realtime-relay")
	sink.HandleEvent(ctx, e)
}
