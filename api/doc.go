// Package api talks to the remote content API.
//
// [Client] resolves endpoints against a configured base URL, authenticates
// with a bearer token, and treats every response body as opaque JSON. GET
// responses can be cached through a [cache.Cache]; every network attempt is
// routed through the retry executor in the resilience package, and a circuit
// breaker can be put in front of a flapping CMS.
//
// Failures surface as [*Error], tagged with a stable [ErrorKind] and a
// Retryable flag fixed when the error is constructed: network, timeout, and
// rate-limit failures plus 5xx statuses retry, other client errors do not.
package api
