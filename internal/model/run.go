package model

import "time"

// RunStatus is the lifecycle state of a crawl run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status accepts no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusPaused, RunStatusCancelled, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

// runTransitions is the allowed state machine:
// running -> completed|failed|paused|cancelled; paused -> running|cancelled.
var runTransitions = map[RunStatus][]RunStatus{
	RunStatusRunning: {RunStatusCompleted, RunStatusFailed, RunStatusPaused, RunStatusCancelled},
	RunStatusPaused:  {RunStatusRunning, RunStatusCancelled},
}

// CanTransition reports whether a run may move from one status to another.
// Terminal states accept nothing.
func CanTransition(from, to RunStatus) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CrawlRun is the persisted state machine for one crawl invocation. It is the
// single source of truth for crawl lifecycle: any process may query or mutate
// it, and workers poll Status between items to honor pause/cancel.
type CrawlRun struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Status           RunStatus  `json:"status"`
	Total            int        `json:"total"`
	Completed        int        `json:"completed"`
	ErrorsCount      int        `json:"errors_count"`
	LastError        string     `json:"last_error,omitempty"`
	CheckpointOffset int        `json:"checkpoint_offset"`
	StartedAt        time.Time  `json:"started_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}
