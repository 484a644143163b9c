package models

import (
	"time"
)

// NotesMaxLen bounds notes and error_message before persistence.
const NotesMaxLen = 1000

// Truncate caps s at max characters, replacing the tail with a "..." marker
// when it does not fit.
func Truncate(s string, max int) string {
	if len(s) <= max || max <= 3 {
		if len(s) > max {
			return s[:max]
		}
		return s
	}
	return s[:max-3] + "..."
}

// Lead statuses ordered by lifecycle stage. The resolver's priority map ranks
// these; anything else is treated as unranked.
const (
	StatusValidLead        = "valid_lead"
	StatusTourScheduled    = "tour_scheduled"
	StatusTourCompleted    = "tour_completed"
	StatusMoveInCommitment = "move_in_commitment"

	SubStatusTimeframe30 = "timeframe_30"
	SubStatusNone        = "N/A"
)

// StatusRecord is the canonical unit persisted in Postgres. Rows are
// append-only; delivery outcomes mutate attempts/is_delivered in place but rows
// are never deleted.
// Fingerprint identifies the most recent successful delivery for a
// (lead, status, sub_status) combination. The delivery queue uses these to
// suppress re-sending an already-delivered status.
type Fingerprint struct {
	LeadID      string
	Status      string
	SubStatus   string
	DeliveredAt time.Time
}

type StatusRecord struct {
	RecordID       int64          `json:"record_id,omitempty"`
	ExecutionID    string         `json:"execution_id"`
	SourceConfigID int64          `json:"source_config_id"`
	LeadID         string         `json:"lead_id"`
	Status         string         `json:"status"`
	SubStatus      string         `json:"sub_status"`
	Notes          string         `json:"notes"`
	Payload        map[string]any `json:"payload"`
	Attempts       int            `json:"attempts"`
	LastAttempt    *time.Time     `json:"last_attempt,omitempty"`
	IsDelivered    bool           `json:"is_delivered"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
