package core

import (
	"time"

	"github.com/google/uuid"
)

// RunState is the lifecycle state of an ingestion run.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateDetecting RunState = "detecting"
	StateScraping  RunState = "scraping"
	StateIngesting RunState = "ingesting"
	StateCompleted RunState = "completed"
	StateError     RunState = "error"
	StateSkipped   RunState = "skipped"
)

// Terminal reports whether no further transitions follow in this run.
func (s RunState) Terminal() bool {
	switch s {
	case StateCompleted, StateError, StateSkipped:
		return true
	}
	return false
}

// URLStatus is the per-URL scrape outcome.
type URLStatus string

const (
	URLSuccess URLStatus = "success"
	URLFailed  URLStatus = "failed" // scraper returned no record
	URLError   URLStatus = "error"  // scraper returned an error
)

// URLOutcome records how one URL fared during scraping.
type URLOutcome struct {
	URL    string    `json:"url"`
	Status URLStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// RunStatus is a snapshot of the current (or most recent) ingestion run
// plus scheduler bookkeeping. Snapshots are treated as immutable once
// published; use Clone before modifying one.
type RunStatus struct {
	RunID            uuid.UUID    `json:"run_id"`
	State            RunState     `json:"status"`
	IsRunning        bool         `json:"is_running"`
	CurrentOperation string       `json:"current_operation,omitempty"`
	Message          string       `json:"message,omitempty"`
	URLsTotal        int          `json:"urls_total"`
	URLsProcessed    []URLOutcome `json:"urls_processed"`
	StartTime        *time.Time   `json:"start_time,omitempty"`
	EndTime          *time.Time   `json:"end_time,omitempty"`
	Error            string       `json:"error,omitempty"`
	LastUpdated      time.Time    `json:"last_updated"`

	SchedulerRunning bool       `json:"scheduler_running"`
	NextRunAt        *time.Time `json:"next_run_at,omitempty"`
	LastRunAt        *time.Time `json:"last_run_at,omitempty"`
}

// IdleStatus returns the status of a scheduler that has never run.
func IdleStatus(now time.Time) *RunStatus {
	return &RunStatus{State: StateIdle, URLsProcessed: []URLOutcome{}, LastUpdated: now}
}

// Clone returns a deep copy.
func (s *RunStatus) Clone() *RunStatus {
	if s == nil {
		return nil
	}
	out := *s
	out.URLsProcessed = append([]URLOutcome{}, s.URLsProcessed...)
	out.StartTime = cloneTime(s.StartTime)
	out.EndTime = cloneTime(s.EndTime)
	out.NextRunAt = cloneTime(s.NextRunAt)
	out.LastRunAt = cloneTime(s.LastRunAt)
	return &out
}

// Counts returns the number of successful and unsuccessful URLs so far.
func (s *RunStatus) Counts() (successful, failed int) {
	for _, o := range s.URLsProcessed {
		if o.Status == URLSuccess {
			successful++
		} else {
			failed++
		}
	}
	return successful, failed
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
