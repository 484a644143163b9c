package delivery

import (
	"time"

	"lead-status-sync/internal/models"
)

type fingerprintKey struct {
	leadID    string
	status    string
	subStatus string
}

// SelectEligible applies the duplicate-suppression and ranking policy to the
// candidate pool:
//
//  1. drop candidates at or over the attempt threshold
//  2. drop candidates whose (status, sub_status) match the lead's most recent
//     delivered fingerprint unless the candidate is newer than that delivery
//  3. keep exactly one candidate per lead: the most recent by
//     (updated_at, last_attempt)
//
// The policy is deliberately separate from storage so it can be tested on
// plain slices.
func SelectEligible(candidates []models.StatusRecord, delivered []models.Fingerprint, threshold int) []models.StatusRecord {
	fps := make(map[fingerprintKey]time.Time, len(delivered))
	for _, fp := range delivered {
		key := fingerprintKey{leadID: fp.LeadID, status: fp.Status, subStatus: fp.SubStatus}
		if existing, ok := fps[key]; !ok || fp.DeliveredAt.After(existing) {
			fps[key] = fp.DeliveredAt
		}
	}

	winners := make(map[string]models.StatusRecord)
	var leadOrder []string

	for _, c := range candidates {
		if c.IsDelivered || c.Attempts >= threshold || c.LeadID == "" {
			continue
		}
		key := fingerprintKey{leadID: c.LeadID, status: c.Status, subStatus: c.SubStatus}
		if deliveredAt, ok := fps[key]; ok && !c.UpdatedAt.After(deliveredAt) {
			// Already-superseded duplicate of a confirmed delivery.
			continue
		}
		incumbent, ok := winners[c.LeadID]
		if !ok {
			winners[c.LeadID] = c
			leadOrder = append(leadOrder, c.LeadID)
			continue
		}
		if moreRecent(c, incumbent) {
			winners[c.LeadID] = c
		}
	}

	out := make([]models.StatusRecord, 0, len(leadOrder))
	for _, leadID := range leadOrder {
		out = append(out, winners[leadID])
	}
	return out
}

// moreRecent orders candidates by (updated_at, last_attempt), newest first.
func moreRecent(a, b models.StatusRecord) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return attemptTime(a).After(attemptTime(b))
}

func attemptTime(r models.StatusRecord) time.Time {
	if r.LastAttempt == nil {
		return time.Time{}
	}
	return *r.LastAttempt
}
