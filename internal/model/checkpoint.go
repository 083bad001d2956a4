package model

import "time"

// Checkpoint is the persisted position of the enrichment batch driver. It is
// loaded at the start of every invocation and saved after every batch so a
// process restart resumes without reprocessing completed offsets.
type Checkpoint struct {
	Offset        int       `json:"offset"`
	TotalEnriched int       `json:"total_enriched"`
	TotalFailed   int       `json:"total_failed"`
	LastRun       time.Time `json:"last_run_timestamp"`
}
