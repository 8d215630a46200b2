// Package cache implements runhub's two-tier response cache.
//
// The memory tier is mandatory: a sharded, bounded key/value store with
// per-entry TTL and approximate-LRU eviction. The remote tier is an
// optional redis store shared across instances, wrapped by its own circuit
// breaker so a slow or absent redis degrades the cache to memory-only
// instead of failing callers.
//
// Cache keys are deterministic hashes over (tool name, normalized
// arguments, corpus epoch). Bumping the corpus epoch after an indexing
// pass therefore invalidates every dependent entry without explicit
// deletes; stale keys simply age out by TTL.
package cache
