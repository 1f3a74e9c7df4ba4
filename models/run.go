package models

import "time"

type RunStatus string

const (
	RunStatusStarted RunStatus = "STARTED"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// RunState is the monitor's position in a single pipeline execution.
type RunState string

const (
	RunStateNotStarted RunState = "not_started"
	RunStateRunning    RunState = "running"
	RunStateSucceeded  RunState = "succeeded"
	RunStateFailed     RunState = "failed"
)

func (s RunState) Terminal() bool {
	return s == RunStateSucceeded || s == RunStateFailed
}

// RunLogEntry is one row of the append-only logs table.
type RunLogEntry struct {
	RunID       int64     `json:"run_id" db:"run_id"`
	ExecutionID string    `json:"execution_id" db:"execution_id"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	Status      RunStatus `json:"status" db:"status"`
	Message     string    `json:"message" db:"message"`
}

// RunCounts summarises what one execution did at each stage.
type RunCounts struct {
	Fetched  int `json:"fetched"`
	Kept     int `json:"kept"`
	Filtered int `json:"filtered"`
	Dropped  int `json:"dropped"`
	Updated  int `json:"updated"`
	Total    int `json:"total"`
}
