// Package capabilityerr holds the one error-taxonomy member (spec.md §7
// kind 1, "invalid input") that is shared verbatim across all five
// capabilities rather than re-declared per package, and which each
// capability package re-exports. Of the other kinds, memory-exhausted is
// accountant.ErrMemoryExhausted and shutdown-rejected, spawn-timeout and
// worker-died (no live worker) are pool.ErrShutdown, pool.ErrSpawnTimeout
// and pool.ErrNoWorker; load failures are the loader's error wrapped by
// the pool, and inference errors are whatever error chunk the loaded
// model sends.
package capabilityerr

import "errors"

// ErrInvalidInput is returned by a capability's request validation before
// the pool is ever touched (spec.md §7 kind 1).
var ErrInvalidInput = errors.New("capability: invalid input")
