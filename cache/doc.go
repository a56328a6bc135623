// Package cache provides the TTL cache that sits between the content data
// layer and the remote CMS, with multiple backend implementations and
// type-safe generic helpers.
//
// # Cache interface
//
// The [Cache] interface defines the store operations the data layer needs:
// Set/SetDefault, Get, Has, Delete, DeletePrefix, Clear, Cleanup, and Stats.
// All implementations satisfy this interface, so backends can be swapped
// without changing application code.
//
// Expiry is per entry. An entry whose TTL has elapsed is logically absent
// even while physically present in the backing store: Get and Has delete it
// lazily on access, and [Cache.Cleanup] sweeps eagerly for callers that want
// to bound memory proactively. A TTL of zero or less means the value expires
// immediately.
//
// The interface uses [any] for values rather than generics because Go does
// not allow generic methods on interfaces. Type safety is provided by the
// package-level generic functions [Get] and [Exec].
//
// # Implementations
//
//   - [NewInMemory]: in-process map guarded by a mutex. Values are stored
//     as-is (no copying), so mutations to stored pointers are visible through
//     the cache; the content manager deep-copies before handing values out.
//     Holds at most WithMaxSize entries: inserting a new key at capacity
//     evicts exactly one entry, the least recently accessed. Tracks hit and
//     miss counts for [Cache.Stats].
//
//   - [NewRedis]: backed by a Redis server so several site-builder
//     processes can share one cache. Values are serialized to msgpack and
//     expiry is delegated to the server. Keys can be namespaced with
//     [WithPrefix].
//
// # Cache-aside helper
//
// [Exec] wraps the check-fetch-store flow: it returns a cached value when
// present and otherwise invokes the supplied producer, storing its result
// before returning it.
package cache
