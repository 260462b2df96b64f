// Package cache кэш чтения заявок в Redis с точечной инвалидацией по событиям.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/config"
	"github.com/untibullet/request-desk/internal/models"
	"github.com/untibullet/request-desk/internal/realtime"
)

func detailKey(id uuid.UUID, viewer string) string {
	return fmt.Sprintf("rq:detail:%s:%s", id, viewer)
}

// detailIndexKey все закэшированные представления одной заявки
func detailIndexKey(id string) string {
	return "rq:details:" + id
}

func listKey(f models.ListFilter) string {
	return fmt.Sprintf("rq:list:%s:%s", f.ViewerID, f.Hash())
}

// listIndexKey все закэшированные списки пользователя
func listIndexKey(user string) string {
	return "rq:lists:" + user
}

// RequestCache кэш деталей и списков заявок
type RequestCache struct {
	client    *redis.Client
	listTTL   time.Duration
	detailTTL time.Duration
	logger    *zap.Logger
}

func New(client *redis.Client, cfg config.CacheConfig, logger *zap.Logger) *RequestCache {
	listTTL, detailTTL := cfg.ListTTL, cfg.DetailTTL
	if listTTL <= 0 {
		listTTL = 5 * time.Second
	}
	if detailTTL <= 0 {
		detailTTL = time.Minute
	}
	return &RequestCache{client: client, listTTL: listTTL, detailTTL: detailTTL, logger: logger}
}

func (c *RequestCache) GetDetail(ctx context.Context, id uuid.UUID, viewer string) (*models.Request, bool) {
	var req models.Request
	if !c.get(ctx, detailKey(id, viewer), &req) {
		return nil, false
	}
	return &req, true
}

func (c *RequestCache) SetDetail(ctx context.Context, viewer string, req *models.Request) {
	key := detailKey(req.ID, viewer)
	index := detailIndexKey(req.ID.String())
	c.set(ctx, key, req, c.detailTTL, index)
}

func (c *RequestCache) GetList(ctx context.Context, f models.ListFilter) ([]models.Request, bool) {
	var list []models.Request
	if !c.get(ctx, listKey(f), &list) {
		return nil, false
	}
	return list, true
}

func (c *RequestCache) SetList(ctx context.Context, f models.ListFilter, list []models.Request) {
	c.set(ctx, listKey(f), list, c.listTTL, listIndexKey(f.ViewerID))
}

// Invalidate сбрасывает детали заявки и списки затронутых пользователей
func (c *RequestCache) Invalidate(ctx context.Context, requestID string, users []string) error {
	indexes := make([]string, 0, len(users)+1)
	if requestID != "" {
		indexes = append(indexes, detailIndexKey(requestID))
	}
	for _, u := range users {
		indexes = append(indexes, listIndexKey(u))
	}
	if len(indexes) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	members := make([]*redis.StringSliceCmd, len(indexes))
	for i, idx := range indexes {
		members[i] = pipe.SMembers(ctx, idx)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read cache index: %w", err)
	}

	keys := append([]string(nil), indexes...)
	for _, m := range members {
		keys = append(keys, m.Val()...)
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// HandleEvent вызывается ретранслятором событий
func (c *RequestCache) HandleEvent(ctx context.Context, e realtime.Event) {
	if err := c.Invalidate(ctx, e.RequestID, e.Users()); err != nil {
		c.logger.Warn("HandleEvent: cache invalidation failed",
			zap.String("event", string(e.Type)),
			zap.String("request_id", e.RequestID),
			zap.Error(err))
	}
}

func (c *RequestCache) get(ctx context.Context, key string, dst any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn("cache entry corrupted", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *RequestCache) set(ctx context.Context, key string, value any, ttl time.Duration, index string) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, data, ttl)
	pipe.SAdd(ctx, index, key)
	// индекс живет дольше записей, мертвые ключи в нем безвредны
	pipe.Expire(ctx, index, 2*c.detailTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
