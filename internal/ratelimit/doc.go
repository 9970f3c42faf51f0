// Package ratelimit provides per-key token bucket limiting with background
// eviction of idle keys.
//
// Keys come from the request through a KeyFunc: the resolved account for
// authenticated routes, or the peer address. State is in-memory and local
// to one process.
package ratelimit
