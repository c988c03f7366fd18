package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"rag-answer-api/pkg/logger"
	"rag-answer-api/pkg/metrics"
)

// DistributedStore 是二级缓存的抽象，由 Redis 适配器实现。
// Get 的 found 为 false 表示未命中（非错误）。
type DistributedStore interface {
	Get(ctx context.Context, key string) (payload []byte, found bool, err error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) error
}

// TieredCache 组合一级进程内缓存与二级分布式缓存。
// 二级不可用时静默降级为一级单层：记录日志与指标，不向调用方冒泡错误。
type TieredCache struct {
	t1    *MemoryCache
	t2    DistributedStore
	t1TTL time.Duration
	group singleflight.Group
}

// NewTieredCache 创建两级缓存。t1TTL 是一级条目的最大存活时间，
// 一级条目实际 TTL 取 min(t1TTL, 写入 TTL)。
func NewTieredCache(t1 *MemoryCache, t2 DistributedStore, t1TTL time.Duration) *TieredCache {
	return &TieredCache{
		t1:    t1,
		t2:    t2,
		t1TTL: t1TTL,
	}
}

// Lookup 依次查询一级、二级。二级命中时回填一级，使后续请求就近命中。
// kind 仅用于指标维度（emb / ans）。
func (c *TieredCache) Lookup(ctx context.Context, kind, key string) ([]byte, bool) {
	if payload, ok := c.t1.Get(key); ok {
		metrics.CacheLookupTotal.WithLabelValues(kind, "t1", "hit").Inc()
		return payload, true
	}
	metrics.CacheLookupTotal.WithLabelValues(kind, "t1", "miss").Inc()

	if c.t2 == nil {
		return nil, false
	}

	// singleflight 合并同键并发回源，避免二级瞬时热点
	v, err, _ := c.group.Do(key, func() (any, error) {
		payload, found, err := c.t2.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		return payload, nil
	})
	if err != nil {
		metrics.CacheLookupTotal.WithLabelValues(kind, "t2", "error").Inc()
		logger.Warn(ctx, "二级缓存查询失败，降级为未命中", "key", key, "error", err.Error())
		return nil, false
	}
	payload, _ := v.([]byte)
	if payload == nil {
		metrics.CacheLookupTotal.WithLabelValues(kind, "t2", "miss").Inc()
		return nil, false
	}
	metrics.CacheLookupTotal.WithLabelValues(kind, "t2", "hit").Inc()
	c.t1.Set(key, payload, c.clampT1TTL(c.t1TTL))
	return payload, true
}

// Store 先写二级再写一级。二级写失败只降级记录，不影响一级写入。
func (c *TieredCache) Store(ctx context.Context, kind, key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if c.t2 != nil {
		if err := c.t2.Set(ctx, key, payload, ttl); err != nil {
			metrics.CacheLookupTotal.WithLabelValues(kind, "t2", "error").Inc()
			logger.Warn(ctx, "二级缓存写入失败", "key", key, "error", err.Error())
		}
	}
	c.t1.Set(key, payload, c.clampT1TTL(ttl))
}

// Invalidate 按模式失效二级，并清空一级（一级不支持模式匹配，整体重建代价可接受）
func (c *TieredCache) Invalidate(ctx context.Context, pattern string) error {
	c.t1.mu.Lock()
	c.t1.entries = make(map[string]*memEntry, c.t1.capacity)
	c.t1.order.Init()
	c.t1.mu.Unlock()

	if c.t2 == nil {
		return nil
	}
	return c.t2.DeletePattern(ctx, pattern)
}

func (c *TieredCache) clampT1TTL(ttl time.Duration) time.Duration {
	if c.t1TTL > 0 && ttl > c.t1TTL {
		return c.t1TTL
	}
	return ttl
}
