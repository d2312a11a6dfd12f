// Package cache provides the TTL store the gateway keeps formatted gist
// pages in. The default in-process implementation is Memory.
//
// Expiry is lazy: Get removes an entry it finds expired, Stats only counts
// it. An expired entry therefore stays visible to Stats until it is read,
// removed, or cleared.
package cache

// Cache defines the operations the gateway performs on its store.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	Remove(key string)
	Clear() int
	Stats() Stats
}

// Stats is a point-in-time census of the store. Valid and expired always
// sum to total.
type Stats struct {
	TotalEntries   int `json:"total_entries"`
	ValidEntries   int `json:"valid_entries"`
	ExpiredEntries int `json:"expired_entries"`
	TTLSeconds     int `json:"ttl_seconds"`
}
