package rules

import "time"

// RulesCache caches the enabled-rule set between mutations so that scans and
// scheduler ticks do not hit the store on every pass. Implementations can be
// in-memory or backed by an external cache.
type RulesCache interface {
	// Get retrieves cached rules, returns nil on a miss or expiry
	Get() []*Rule

	// Set stores rules in cache
	Set(rules []*Rule)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid returns true if cache has valid data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // invalidate on mutations only
	}
}
