package models

import (
	"time"
)

// Run statuses stored in the runs audit table.
const (
	RunInProgress = "in_progress"
	RunSuccess    = "success"
	RunFailure    = "failure"
)

// Pipeline stage names, executed in this order when enabled.
const (
	StepFetchData      = "fetch_data"
	StepArchiveRaw     = "archive_raw"
	StepResolveStatus  = "resolve_status"
	StepDeliverToStore = "deliver_to_store"
)

// Run is one row of the runs table: a single pipeline invocation across all
// selected source configurations.
type Run struct {
	RunID             int64      `json:"run_id"`
	ExecutionID       string     `json:"execution_id"`
	TotalConfigs      int        `json:"total_configs"`
	SuccessfulConfigs int        `json:"successful_configs"`
	FailedConfigs     int        `json:"failed_configs"`
	Status            string     `json:"status"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
}

// RunStep is one row of the run_steps table: the outcome of a single stage for
// a single configuration. Audit only, never consulted for control flow.
type RunStep struct {
	StepID         int64      `json:"step_id"`
	RunID          int64      `json:"run_id"`
	ExecutionID    string     `json:"execution_id"`
	SourceConfigID int64      `json:"source_config_id"`
	SystemName     string     `json:"system_name"`
	PartnerName    string     `json:"partner_name"`
	Step           string     `json:"step"`
	Status         string     `json:"status"`
	RecordsFetched int        `json:"records_fetched"`
	RecordsSuccess int        `json:"records_success"`
	RecordsError   int        `json:"records_error"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
}
