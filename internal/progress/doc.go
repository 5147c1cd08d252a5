// Package progress carries poll events (discoveries, schedule outcomes,
// quota lockouts, prefetches) from the orchestrator to pluggable sinks. The
// Hub batches events on a background goroutine so emitters never block.
package progress
