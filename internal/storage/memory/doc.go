// Package memory provides in-process stores for quota state, effectiveness
// history, cache entries, schedules and archived blobs. They back local runs
// and tests; nothing survives a restart.
package memory
