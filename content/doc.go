// Package content is the orchestrating façade between page-loading code and
// the remote content API.
//
// A [Manager] resolves logical keys ("home", "programmes", "programmes/12")
// to opaque JSON values. Each resolved key is held as an in-process
// snapshot and handed out as a deep copy, so callers can never mutate the
// shared cache through a returned value. Concurrent requests for the same
// key are deduplicated: the in-flight guard is set before the fetch is
// awaited, so at most one outbound fetch per key is ever in flight.
//
// A failed fetch falls back to a per-key registered fallback value when one
// exists; the fallback becomes the cached snapshot. Without a fallback the
// classified error propagates and the key stays absent, eligible for retry
// on the next call.
//
// [Manager.PreloadAll] warms everything for a static build: collections,
// pages, optionally per-item details, and an image-caching sweep over every
// image-bearing field reachable from the loaded snapshots.
package content
