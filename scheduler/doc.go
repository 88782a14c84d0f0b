// Package scheduler decides when the ingestion pipeline runs.
//
// Each cycle looks for configured URLs that the store has never seen and
// runs the pipeline for those first. Otherwise it compares the newest
// ingestion timestamp with the schedule interval: stale data triggers a full
// run, fresh data skips the cycle and moves the next wake-up to the moment
// the data turns stale.
//
// Run status lives on a Board, an atomically swapped snapshot that the
// pipeline writes and any number of readers poll. Operators can trigger runs
// out of band through a single-worker pool; the pipeline's own run lock keeps
// those from overlapping with the background loop.
package scheduler
