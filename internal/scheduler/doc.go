// Package scheduler triggers monitor runs on a fixed interval or a cron expression.
//
// The scheduler owns no queue: a trigger that fires while the previous run is still going is
// skipped, and Stop waits for the running job before returning.
package scheduler
