package common

import (
	"errors"

	lru "github.com/hashicorp/golang-lru"
)

// Cache is the narrow cache surface this tree needs. It is adapted from
// this repo's older multi-backend (plain LRU / sharded LRU / ARC) cache
// abstraction, trimmed to the one backend this domain actually exercises:
// a plain LRU keyed by string. The sharded and ARC variants existed to
// spread lock contention across heavily concurrent EVM state lookups,
// which this node's read paths (recent blocks, recent gossip hashes,
// reward summaries) don't need.
type Cache interface {
	Add(key string, value interface{}) (evicted bool)
	Get(key string) (value interface{}, ok bool)
	Contains(key string) bool
	Remove(key string)
	Purge()
	Len() int
}

type lruCache struct {
	lru *lru.Cache
}

// NewLRUCache builds a Cache with room for size entries.
func NewLRUCache(size int) (Cache, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &lruCache{lru: c}, nil
}

func (cache *lruCache) Add(key string, value interface{}) (evicted bool) {
	return cache.lru.Add(key, value)
}

func (cache *lruCache) Get(key string) (value interface{}, ok bool) {
	return cache.lru.Get(key)
}

func (cache *lruCache) Contains(key string) bool {
	return cache.lru.Contains(key)
}

func (cache *lruCache) Remove(key string) {
	cache.lru.Remove(key)
}

func (cache *lruCache) Purge() {
	cache.lru.Purge()
}

func (cache *lruCache) Len() int {
	return cache.lru.Len()
}
