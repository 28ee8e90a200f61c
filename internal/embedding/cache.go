package embedding

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cached memoizes an Embedder by exact text. Concurrent misses for the same
// text share one backend call. Cached vectors are copied on the way out so
// callers can never mutate the cache.
type Cached struct {
	inner    Embedder
	capacity int
	group    singleflight.Group

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List

	hits, misses uint64
}

// flightTimeout bounds a shared backend call once it is detached from the
// caller that started it.
const flightTimeout = 60 * time.Second

type cacheEntry struct {
	text string
	vec  []float64
}

// NewCached wraps inner with an LRU of the given capacity. A non-positive
// capacity returns inner unchanged.
func NewCached(inner Embedder, capacity int) Embedder {
	if capacity <= 0 {
		return inner
	}
	return &Cached{
		inner:    inner,
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := c.get(text); ok {
		return v, nil
	}

	// The shared call must not inherit one caller's cancellation; each
	// caller stops waiting on its own ctx instead.
	ch := c.group.DoChan(text, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		v, err := c.inner.Embed(flightCtx, text)
		if err != nil {
			return nil, err
		}
		c.put(text, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]float64)), nil
	}
}

// Stats returns cache hit and miss counts.
func (c *Cached) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cached) get(text string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[text]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return clone(el.Value.(*cacheEntry).vec), true
}

func (c *Cached) put(text string, v []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[text]; ok {
		c.order.MoveToFront(el)
		return
	}
	c.items[text] = c.order.PushFront(&cacheEntry{text: text, vec: clone(v)})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).text)
	}
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
