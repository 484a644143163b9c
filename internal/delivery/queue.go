// Package delivery selects persisted status records that are still eligible
// for partner delivery, posts them, and applies each attempt's outcome. The
// retry mechanism is cross-invocation: each scheduled run contributes at most
// one attempt per record.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"lead-status-sync/internal/models"
	"lead-status-sync/internal/telemetry"
)

// Store is the persistence surface the queue needs: the two eligibility reads
// and the per-record outcome update.
type Store interface {
	DeliveredFingerprints(ctx context.Context) ([]models.Fingerprint, error)
	ListUndelivered(ctx context.Context, threshold int) ([]models.StatusRecord, error)
	ApplyDeliveryOutcome(ctx context.Context, recordID int64, delivered bool, errorMessage *string, now time.Time) (int64, error)
}

// Poster delivers a single record to the partner.
type Poster interface {
	Post(ctx context.Context, rec models.StatusRecord) error
}

// Queue drives one delivery cycle.
type Queue struct {
	store     Store
	poster    Poster
	threshold int
	log       *logrus.Entry
	now       func() time.Time
}

func NewQueue(st Store, poster Poster, threshold int, log *logrus.Entry) *Queue {
	return &Queue{
		store:     st,
		poster:    poster,
		threshold: threshold,
		log:       log,
		now:       time.Now,
	}
}

// ProcessUpdates runs one selection cycle: at most one delivery attempt per
// eligible lead. Per-record failures are recorded and never abort the cycle;
// the returned error reflects whether anything failed.
func (q *Queue) ProcessUpdates(ctx context.Context) error {
	fingerprints, err := q.store.DeliveredFingerprints(ctx)
	if err != nil {
		return fmt.Errorf("load delivered fingerprints: %w", err)
	}
	candidates, err := q.store.ListUndelivered(ctx, q.threshold)
	if err != nil {
		return fmt.Errorf("load delivery candidates: %w", err)
	}
	telemetry.QueueDepthGauge.Set(float64(len(candidates)))

	eligible := SelectEligible(candidates, fingerprints, q.threshold)
	q.log.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"eligible":   len(eligible),
	}).Info("delivery cycle selected records")

	var failed int
	for _, rec := range eligible {
		if err := q.deliverOne(ctx, rec); err != nil {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d deliveries failed", failed, len(eligible))
	}
	return nil
}

func (q *Queue) deliverOne(ctx context.Context, rec models.StatusRecord) error {
	log := q.log.WithFields(logrus.Fields{"record_id": rec.RecordID, "lead_id": rec.LeadID, "status": rec.Status})

	telemetry.DeliveriesAttempted.Inc()
	postErr := q.poster.Post(ctx, rec)

	var errMsg *string
	if postErr != nil {
		msg := models.Truncate(postErr.Error(), models.NotesMaxLen)
		errMsg = &msg
		telemetry.DeliveriesFailed.Inc()
		log.WithError(postErr).Error("delivery attempt failed")
	} else {
		telemetry.DeliveriesSucceeded.Inc()
		log.Info("delivered status update")
	}

	matched, err := q.store.ApplyDeliveryOutcome(ctx, rec.RecordID, postErr == nil, errMsg, q.now())
	if err != nil {
		log.WithError(err).Error("failed to persist delivery outcome")
		return err
	}
	if matched == 0 {
		log.Warn("delivery outcome matched no rows")
	}

	if postErr != nil {
		if rec.Attempts+1 >= q.threshold {
			telemetry.DeliveriesExhausted.Inc()
			log.WithField("attempts", rec.Attempts+1).Warn("record exhausted delivery attempts")
		}
		return postErr
	}
	return nil
}
