package redis

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	appcache "rag-answer-api/internal/application/cache"
)

// Store 分布式缓存二级存储，实现 cache.DistributedStore
type Store struct {
	client *Client
}

var _ appcache.DistributedStore = (*Store)(nil)

// NewStore 创建二级缓存存储
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// Get 读取键值。未命中返回 found=false 而非错误。
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := tracer.Start(ctx, "redis.Store.Get",
		trace.WithAttributes(attribute.String("redis.key", key)))
	defer span.End()

	payload, err := s.client.rdb.Get(ctx, key).Bytes()
	if IsNil(err) {
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	return payload, true, nil
}

// Set 写入键值
func (s *Store) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "redis.Store.Set",
		trace.WithAttributes(
			attribute.String("redis.key", key),
			attribute.Int64("redis.ttl_ms", ttl.Milliseconds()),
		))
	defer span.End()

	err := s.client.rdb.Set(ctx, key, payload, ttl).Err()
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Delete 删除键
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "redis.Store.Delete",
		trace.WithAttributes(attribute.Int("redis.key_count", len(keys))))
	defer span.End()

	err := s.client.rdb.Del(ctx, keys...).Err()
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// DeletePattern 按模式批量删除。用 Scan 迭代避免 KEYS 阻塞。
func (s *Store) DeletePattern(ctx context.Context, pattern string) error {
	ctx, span := tracer.Start(ctx, "redis.Store.DeletePattern",
		trace.WithAttributes(attribute.String("redis.pattern", pattern)))
	defer span.End()

	iter := s.client.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := s.client.rdb.Del(ctx, batch...).Err(); err != nil {
				span.RecordError(err)
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return err
	}
	if len(batch) > 0 {
		if err := s.client.rdb.Del(ctx, batch...).Err(); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}
