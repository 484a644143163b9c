package delivery

import (
	"testing"
	"time"

	"lead-status-sync/internal/models"
)

var base = time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)

func candidate(id int64, leadID, status string, attempts int, updatedAt time.Time) models.StatusRecord {
	return models.StatusRecord{
		RecordID:  id,
		LeadID:    leadID,
		Status:    status,
		SubStatus: models.SubStatusNone,
		Attempts:  attempts,
		UpdatedAt: updatedAt,
	}
}

func TestSelectEligibleThresholdBoundary(t *testing.T) {
	cands := []models.StatusRecord{
		candidate(1, "a", models.StatusValidLead, 10, base),
		candidate(2, "b", models.StatusValidLead, 9, base),
	}
	out := SelectEligible(cands, nil, 10)
	if len(out) != 1 {
		t.Fatalf("expected 1 eligible record, got %d", len(out))
	}
	if out[0].RecordID != 2 {
		t.Fatalf("attempts == threshold must never be selected; attempts == threshold-1 must be")
	}
}

func TestSelectEligibleSuppressesDeliveredDuplicate(t *testing.T) {
	deliveredAt := base
	fps := []models.Fingerprint{
		{LeadID: "a", Status: models.StatusTourCompleted, SubStatus: models.SubStatusNone, DeliveredAt: deliveredAt},
	}

	// Same fingerprint, not newer than the delivery: suppressed.
	stale := candidate(1, "a", models.StatusTourCompleted, 0, deliveredAt.Add(-time.Hour))
	atDelivery := candidate(2, "a", models.StatusTourCompleted, 0, deliveredAt)
	out := SelectEligible([]models.StatusRecord{stale, atDelivery}, fps, 10)
	if len(out) != 0 {
		t.Fatalf("duplicates at or before the delivered timestamp must be suppressed, got %+v", out)
	}

	// Same fingerprint but strictly newer: eligible again.
	newer := candidate(3, "a", models.StatusTourCompleted, 0, deliveredAt.Add(time.Hour))
	out = SelectEligible([]models.StatusRecord{newer}, fps, 10)
	if len(out) != 1 || out[0].RecordID != 3 {
		t.Fatalf("newer record with same fingerprint must be selected, got %+v", out)
	}

	// Different status for the same lead is untouched by the fingerprint.
	different := candidate(4, "a", models.StatusMoveInCommitment, 0, deliveredAt.Add(-time.Hour))
	out = SelectEligible([]models.StatusRecord{different}, fps, 10)
	if len(out) != 1 || out[0].RecordID != 4 {
		t.Fatalf("different status must not be suppressed, got %+v", out)
	}
}

func TestSelectEligibleOnePerLeadMostRecent(t *testing.T) {
	older := candidate(1, "a", models.StatusTourScheduled, 0, base)
	newer := candidate(2, "a", models.StatusTourCompleted, 0, base.Add(time.Minute))
	other := candidate(3, "b", models.StatusValidLead, 0, base)

	out := SelectEligible([]models.StatusRecord{older, newer, other}, nil, 10)
	if len(out) != 2 {
		t.Fatalf("expected one record per lead, got %d", len(out))
	}
	if out[0].RecordID != 2 {
		t.Fatalf("most recently updated candidate should win, got record %d", out[0].RecordID)
	}
}

func TestSelectEligibleTieBreaksOnLastAttempt(t *testing.T) {
	lastA := base.Add(-time.Hour)
	lastB := base.Add(-time.Minute)
	a := candidate(1, "a", models.StatusTourScheduled, 1, base)
	a.LastAttempt = &lastA
	b := candidate(2, "a", models.StatusTourScheduled, 1, base)
	b.LastAttempt = &lastB

	out := SelectEligible([]models.StatusRecord{a, b}, nil, 10)
	if len(out) != 1 || out[0].RecordID != 2 {
		t.Fatalf("equal updated_at should fall back to last_attempt, got %+v", out)
	}
}

func TestSelectEligibleSkipsDeliveredAndEmptyLead(t *testing.T) {
	deliveredRec := candidate(1, "a", models.StatusValidLead, 0, base)
	deliveredRec.IsDelivered = true
	noLead := candidate(2, "", models.StatusValidLead, 0, base)

	out := SelectEligible([]models.StatusRecord{deliveredRec, noLead}, nil, 10)
	if len(out) != 0 {
		t.Fatalf("delivered and lead-less records are never eligible, got %+v", out)
	}
}

// Re-running selection after a successful delivery must not pick another
// record with the same fingerprint and an updated_at at or before the
// delivered timestamp.
func TestSelectEligibleIdempotentAfterDelivery(t *testing.T) {
	first := candidate(1, "a", models.StatusTourCompleted, 0, base)
	twin := candidate(2, "a", models.StatusTourCompleted, 0, base.Add(-time.Second))

	out := SelectEligible([]models.StatusRecord{first, twin}, nil, 10)
	if len(out) != 1 || out[0].RecordID != 1 {
		t.Fatalf("expected record 1 to be selected first, got %+v", out)
	}

	// Record 1 delivered at base: its fingerprint now suppresses the twin.
	fps := []models.Fingerprint{
		{LeadID: "a", Status: models.StatusTourCompleted, SubStatus: models.SubStatusNone, DeliveredAt: base},
	}
	out = SelectEligible([]models.StatusRecord{twin}, fps, 10)
	if len(out) != 0 {
		t.Fatalf("twin must be suppressed after delivery, got %+v", out)
	}
}
