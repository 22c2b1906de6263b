package utils

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var globalCache *expirable.LRU[string, any]

// InitGlobalCache creates the process-wide cache. Used for settings lookups
// and LLM model lists that are cheap to re-fetch but polled frequently.
func InitGlobalCache(size int, ttl time.Duration) {
	globalCache = expirable.NewLRU[string, any](size, nil, ttl)
}

// CacheGet returns a cached value if present.
func CacheGet(key string) (any, bool) {
	if globalCache == nil {
		return nil, false
	}
	return globalCache.Get(key)
}

// CacheSet stores a value in the global cache.
func CacheSet(key string, value any) {
	if globalCache == nil {
		return
	}
	globalCache.Add(key, value)
}

// CacheDelete evicts a key.
func CacheDelete(key string) {
	if globalCache == nil {
		return
	}
	globalCache.Remove(key)
}
