package cache

import (
	"container/list"
	"sync"
	"time"

	"rag-answer-api/pkg/metrics"
)

type memEntry struct {
	payload   []byte
	createdAt time.Time
	expiresAt time.Time
	elem      *list.Element
}

// MemoryCache 是容量受限的进程内一级缓存。
// 淘汰策略为按创建时间的 FIFO：写满后总是先淘汰最早写入的条目，
// 读取不会刷新条目位置。过期条目在读取时惰性删除。
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*memEntry
	order    *list.List // 元素为 key，队首最旧
}

// NewMemoryCache 创建一级缓存，capacity 必须大于 0
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryCache{
		capacity: capacity,
		entries:  make(map[string]*memEntry, capacity),
		order:    list.New(),
	}
}

// Get 返回未过期的载荷；过期条目当场删除并按 miss 处理
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.remove(key, e)
		metrics.CacheEvictions.WithLabelValues("expired").Inc()
		return nil, false
	}
	return e.payload, true
}

// Set 写入条目。重写已有键会重置其创建时间（回到队尾）。
// 容量已满时淘汰最早创建的条目。
func (c *MemoryCache) Set(key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.entries[key]; ok {
		e.payload = payload
		e.createdAt = now
		e.expiresAt = now.Add(ttl)
		c.order.MoveToBack(e.elem)
		return
	}
	for len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	e := &memEntry{
		payload:   payload,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	e.elem = c.order.PushBack(key)
	c.entries[key] = e
}

// Delete 删除单个键，不存在时为空操作
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.remove(key, e)
	}
}

// Len 返回当前条目数（含尚未惰性清理的过期条目）
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	if e, ok := c.entries[key]; ok {
		c.remove(key, e)
		metrics.CacheEvictions.WithLabelValues("capacity").Inc()
	}
}

func (c *MemoryCache) remove(key string, e *memEntry) {
	c.order.Remove(e.elem)
	delete(c.entries, key)
}
