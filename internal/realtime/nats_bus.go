package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsBus шина событий на NATS
type NatsBus struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// ConnectNats подключается к серверу NATS с бесконечным переподключением
func ConnectNats(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("request-desk"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

func NewNatsBus(conn *nats.Conn, subject string, logger *zap.Logger) *NatsBus {
	return &NatsBus{conn: conn, subject: subject, logger: logger}
}

func (b *NatsBus) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe блокируется до отмены ctx; переподключение делает сам клиент NATS
func (b *NatsBus) Subscribe(ctx context.Context, handler func(Event)) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			b.logger.Warn("failed to unmarshal event", zap.ByteString("payload", msg.Data), zap.Error(err))
			return
		}
		handler(e)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}

	b.logger.Info("subscribed to event subject", zap.String("subject", b.subject))

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		b.logger.Warn("failed to unsubscribe", zap.String("subject", b.subject), zap.Error(err))
	}
	return nil
}
