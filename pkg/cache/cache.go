// Package cache provides a generic, thread-safe bounded LRU cache used for
// device identity memoization on the ingestion path. Hit/miss statistics are
// always tracked.
package cache

// Cache is the interface satisfied by all cache implementations in this
// package. The cache is parameterized by value type V for type safety.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the zero value and false on miss.
	Get(key string) (V, bool)

	// Set stores a value under key, evicting per the cache's policy.
	Set(key string, value V)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) bool

	// Len returns the current number of entries.
	Len() int

	// Stats returns cumulative hit/miss counters.
	Stats() Stats
}

// Stats holds cumulative cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate returns the fraction of lookups that hit, or 0 with no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
