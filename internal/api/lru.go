package api

import (
	"container/list"
	"sync"
	"time"
)

// 文档注释：进程内 LRU 缓存
// 背景：热点单元在短周期内重复查询，先于 Redis 命中，省去网络往返与产物随机读；条目带 TTL。
// 约束：cap<=0 时不缓存；键由调用方构造（含加载代次）。
type lru[V any] struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	lst  *list.List
	dict map[string]*list.Element
	now  func() time.Time
}

type lruEntry[V any] struct {
	k   string
	v   V
	exp time.Time
}

func newLRU[V any](capacity int, ttl time.Duration) *lru[V] {
	return &lru[V]{cap: capacity, ttl: ttl, lst: list.New(), dict: make(map[string]*list.Element), now: time.Now}
}

func (c *lru[V]) Get(k string) (V, bool) {
	var zero V
	if c == nil || c.cap <= 0 {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.dict[k]
	if !ok {
		return zero, false
	}
	it := e.Value.(lruEntry[V])
	if c.now().Before(it.exp) {
		c.lst.MoveToFront(e)
		return it.v, true
	}
	c.lst.Remove(e)
	delete(c.dict, k)
	return zero, false
}

func (c *lru[V]) Set(k string, v V) {
	if c == nil || c.cap <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ent := lruEntry[V]{k: k, v: v, exp: c.now().Add(c.ttl)}
	if e, ok := c.dict[k]; ok {
		e.Value = ent
		c.lst.MoveToFront(e)
		return
	}
	c.dict[k] = c.lst.PushFront(ent)
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.dict, back.Value.(lruEntry[V]).k)
		c.lst.Remove(back)
	}
}

func (c *lru[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}
