package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/models"
	"github.com/untibullet/request-desk/internal/realtime"
)

// Store источник открытых заявок
type Store interface {
	ListOpenForSLA(ctx context.Context) ([]models.Request, error)
	UpdateSLAStatus(ctx context.Context, id uuid.UUID, status models.SLAStatus) error
}

// Sweeper периодически пересчитывает статус SLA открытых заявок
type Sweeper struct {
	store      Store
	classifier Classifier
	publisher  realtime.Publisher
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewSweeper(store Store, classifier Classifier, publisher realtime.Publisher, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	return &Sweeper{
		store:      store,
		classifier: classifier,
		publisher:  publisher,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
	}
}

// Run выполняет проход сразу и затем по таймеру до отмены ctx
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("SLA sweeper started", zap.Duration("interval", s.interval))

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SLA sweeper stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	changed, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("Sweep: failed", zap.Error(err))
		return
	}
	if changed > 0 {
		s.logger.Info("Sweep: SLA statuses updated", zap.Int("changed", changed))
	}
}

// Sweep возвращает число заявок, у которых изменился статус
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	requests, err := s.store.ListOpenForSLA(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open requests: %w", err)
	}

	now := s.now()
	changed := 0
	for i := range requests {
		req := &requests[i]
		status := s.classifier.Classify(req, now)
		if status == req.SLAStatus {
			continue
		}

		if err := s.store.UpdateSLAStatus(ctx, req.ID, status); err != nil {
			s.logger.Warn("Sweep: failed to update SLA status",
				zap.String("request_id", req.ID.String()),
				zap.Error(err))
			continue
		}
		changed++

		req.SLAStatus = status
		if err := s.publisher.Publish(ctx, realtime.NewEvent(realtime.EventUpdated, req, "")); err != nil {
			s.logger.Warn("Sweep: failed to publish event",
				zap.String("request_id", req.ID.String()),
				zap.Error(err))
		}
	}
	return changed, nil
}
