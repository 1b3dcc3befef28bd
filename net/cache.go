package net

import (
	lru "github.com/hashicorp/golang-lru"
)

// transitionCache memoizes Transition lookups (kind + args rarely change
// once a workflow is compiled), grounded on the teacher's common/cache.go
// LRU wrapper around hashicorp/golang-lru, simplified to the one shape this
// package needs instead of common's generic sharded/ARC cache hierarchy.
type transitionCache struct {
	cache *lru.Cache
}

func newTransitionCache(size int) *transitionCache {
	c, _ := lru.New(size)
	return &transitionCache{cache: c}
}

func (c *transitionCache) get(netKey string, idx int) (Transition, bool) {
	v, ok := c.cache.Get(cacheKey{netKey, idx})
	if !ok {
		return Transition{}, false
	}
	return v.(Transition), true
}

func (c *transitionCache) add(netKey string, idx int, t Transition) {
	c.cache.Add(cacheKey{netKey, idx}, t)
}

type cacheKey struct {
	netKey string
	idx    int
}
