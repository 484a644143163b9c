package resolver

import (
	"fmt"
	"sort"
	"strings"

	"lead-status-sync/internal/models"
)

// statusPriority ranks lead statuses by lifecycle stage. A challenger replaces
// the incumbent for a lead when its priority is greater than or equal to the
// incumbent's, so ties go to the later-processed record. Unranked statuses sit
// above every ranked value and therefore replace anything.
var statusPriority = map[string]int{
	models.StatusValidLead:        1,
	models.StatusTourScheduled:    2,
	models.StatusTourCompleted:    3,
	models.StatusMoveInCommitment: 4,
}

const unrankedPriority = int(^uint(0) >> 1)

func priorityOf(status string) int {
	if p, ok := statusPriority[strings.ToLower(status)]; ok {
		return p
	}
	return unrankedPriority
}

// ParseError records a malformed payload for one (feed, property) pair.
// Failures are isolated: the affected subset is excluded and resolution
// continues.
type ParseError struct {
	Feed       string
	PropertyID string
	Err        error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("parse %s for property %s: %v", e.Feed, e.PropertyID, e.Err)
}

// Collapse reduces a batch of records to at most one per lead_id, keeping the
// highest-priority record and breaking ties in favor of the later-processed
// one. Records with an empty lead_id are dropped. Output preserves first-seen
// lead order.
func Collapse(records []models.StatusRecord) []models.StatusRecord {
	byLead := make(map[string]models.StatusRecord)
	var order []string

	for _, rec := range records {
		if rec.LeadID == "" {
			continue
		}
		incumbent, ok := byLead[rec.LeadID]
		if !ok {
			byLead[rec.LeadID] = rec
			order = append(order, rec.LeadID)
			continue
		}
		if priorityOf(rec.Status) >= priorityOf(incumbent.Status) {
			byLead[rec.LeadID] = rec
		}
	}

	out := make([]models.StatusRecord, 0, len(order))
	for _, leadID := range order {
		out = append(out, byLead[leadID])
	}
	return out
}

// sortedKeys gives a stable iteration order over a feed's property map, so the
// tie-break above is reproducible across runs.
func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
