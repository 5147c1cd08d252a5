// Package main is the streamwatch executable.
//
// Architecture overview:
//   - Scheduling: internal/schedule reads weekly slot definitions (YAML file or Postgres) and reports which
//     schedules are due each tick, ordered by priority and learned effectiveness.
//   - Quota: internal/quota keeps one ledger per platform with atomic reserve/commit/release, a safety margin
//     and a daily window that resets at midnight in the platform's timezone. State is persisted so restarts
//     do not forget spent units.
//   - Fetching: internal/fetch drives the platform adapters in internal/platform with bounded retries,
//     exponential backoff and Retry-After handling. Quota exhaustion from upstream locks the ledger.
//   - Orchestration: internal/orchestrator runs one tick per interval, skipping fresh cache keys, admitting
//     work within quota and fanning tasks out to a bounded errgroup. Leftover capacity serves prefetch.
//   - Learning: internal/learner records quota spent vs content found per attempt and suggests slot changes.
//   - Surfaces: internal/api serves quota, schedule, cache and event status; internal/progress batches events
//     to logs, an in-memory ring and optionally Pub/Sub.
//
// Quick checklist:
//   - Configure env vars: STREAMWATCH_PLATFORMS_YOUTUBE_ENABLED, STREAMWATCH_PLATFORMS_YOUTUBE_API_KEY,
//     STREAMWATCH_STORAGE_BACKEND=postgres with STREAMWATCH_DB_DSN for durable state.
//   - Run locally: go run . serve --config config.yaml
//   - Check definitions: go run . validate --config config.yaml
package main

import (
	"github.com/JakeFAU/streamwatch/cmd"
)

func main() {
	cmd.Execute()
}
