package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lead-status-sync/internal/models"
	"lead-status-sync/internal/telemetry"
)

// Store is the persistence surface the runner needs: configuration reads, run
// and step audit rows, and the append-only status record insert.
type Store interface {
	ListSourceConfigs(ctx context.Context, filter models.ConfigFilter) ([]models.SourceConfig, error)
	StartRun(ctx context.Context, executionID string, totalConfigs int, startTime time.Time) (int64, error)
	EndRun(ctx context.Context, runID int64, successful, failed int, status string, endTime time.Time, errorMessage *string) error
	RecordStep(ctx context.Context, step models.RunStep) error
	InsertStatusRecords(ctx context.Context, records []models.StatusRecord) error
}

// Archiver stores the unmodified fetch output, partitioned by provider,
// partner, and run date/hour.
type Archiver interface {
	Store(ctx context.Context, raw models.RawFeeds, bucket, provider, partnerID, fileType string) error
}

// Runner executes the stage sequence for each selected source configuration,
// isolating failures so one configuration never aborts its siblings.
type Runner struct {
	store    Store
	archiver Archiver
	registry *Registry
	log      *logrus.Entry
	now      func() time.Time
}

func NewRunner(st Store, archiver Archiver, registry *Registry, log *logrus.Entry) *Runner {
	return &Runner{
		store:    st,
		archiver: archiver,
		registry: registry,
		log:      log,
		now:      time.Now,
	}
}

// Run processes every configuration matching the filter over the [from, to)
// window. The returned error reflects whether any configuration failed; state
// for successfully processed configurations is recorded regardless.
func (r *Runner) Run(ctx context.Context, filter models.ConfigFilter, from, to time.Time) error {
	executionID := uuid.New().String()
	log := r.log.WithField("execution_id", executionID)
	log.WithFields(logrus.Fields{"from": from, "to": to}).Info("starting pipeline run")

	configs, cfgErr := r.store.ListSourceConfigs(ctx, filter)

	runID, err := r.store.StartRun(ctx, executionID, len(configs), r.now())
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	// Setup failure: close the run immediately with everything marked failed
	// rather than leaving it open.
	if cfgErr != nil {
		msg := models.Truncate(fmt.Sprintf("load source configurations: %v", cfgErr), models.NotesMaxLen)
		if endErr := r.store.EndRun(ctx, runID, 0, len(configs), models.RunFailure, r.now(), &msg); endErr != nil {
			log.WithError(endErr).Error("failed to close run after setup failure")
		}
		return fmt.Errorf("load source configurations: %w", cfgErr)
	}

	var (
		successCount int
		failureCount int
		errMessages  []string
	)
	for _, cfg := range configs {
		cfgLog := log.WithFields(logrus.Fields{
			"source_config_id": cfg.SourceConfigID,
			"system":           cfg.SystemName,
			"partner":          cfg.PartnerName,
		})
		cfgLog.Info("processing configuration")

		if err := r.processConfig(ctx, runID, executionID, cfg, from, to, cfgLog); err != nil {
			failureCount++
			telemetry.ConfigsFailed.Inc()
			errMessages = append(errMessages, fmt.Sprintf("%s-%s: %v", cfg.SystemName, cfg.PartnerName, err))
			cfgLog.WithError(err).Error("configuration failed")
			continue
		}
		successCount++
		telemetry.ConfigsSucceeded.Inc()
	}

	status := models.RunSuccess
	var summary *string
	if failureCount > 0 {
		status = models.RunFailure
		joined := models.Truncate(strings.Join(errMessages, "; "), models.NotesMaxLen)
		summary = &joined
	}
	if err := r.store.EndRun(ctx, runID, successCount, failureCount, status, r.now(), summary); err != nil {
		return fmt.Errorf("close run: %w", err)
	}
	log.WithFields(logrus.Fields{"succeeded": successCount, "failed": failureCount}).Info("pipeline run completed")

	if failureCount > 0 {
		return fmt.Errorf("%d of %d configurations failed", failureCount, len(configs))
	}
	return nil
}

// processConfig runs the ordered, individually toggleable stages for one
// configuration. The first stage failure is terminal for the configuration;
// remaining stages are skipped.
func (r *Runner) processConfig(ctx context.Context, runID int64, executionID string, cfg models.SourceConfig, from, to time.Time, log *logrus.Entry) error {
	reg, err := r.registry.lookup(cfg.SystemType)
	if err != nil {
		r.recordFailure(ctx, runID, executionID, cfg, "initialization", r.now(), err, log)
		return err
	}
	conn, err := reg.newConnector(cfg)
	if err != nil {
		r.recordFailure(ctx, runID, executionID, cfg, "initialization", r.now(), err, log)
		return fmt.Errorf("build connector: %w", err)
	}
	res := reg.newResolver(cfg, executionID)

	var (
		raw     models.RawFeeds
		records []models.StatusRecord
	)

	if cfg.FeatureFlags.StepEnabled(models.StepFetchData) {
		start := r.now()
		raw, err = conn.FetchRawData(ctx, from, to)
		if err != nil {
			r.recordFailure(ctx, runID, executionID, cfg, models.StepFetchData, start, err, log)
			return fmt.Errorf("%s: %w", models.StepFetchData, err)
		}
		r.recordSuccess(ctx, runID, executionID, cfg, models.StepFetchData, start, stageCounts{fetched: raw.Items()}, log)
	} else {
		log.WithField("step", models.StepFetchData).Info("step disabled, skipping")
	}

	if cfg.FeatureFlags.StepEnabled(models.StepArchiveRaw) {
		start := r.now()
		if err := r.archiver.Store(ctx, raw, cfg.S3Bucket, cfg.SystemName, cfg.PartnerID, cfg.FileType); err != nil {
			r.recordFailure(ctx, runID, executionID, cfg, models.StepArchiveRaw, start, err, log)
			return fmt.Errorf("%s: %w", models.StepArchiveRaw, err)
		}
		r.recordSuccess(ctx, runID, executionID, cfg, models.StepArchiveRaw, start, stageCounts{fetched: raw.Items()}, log)
	} else {
		log.WithField("step", models.StepArchiveRaw).Info("step disabled, skipping")
	}

	var parseErrCount int
	if cfg.FeatureFlags.StepEnabled(models.StepResolveStatus) {
		start := r.now()
		resolved, parseErrs := res.Resolve(raw)
		records = resolved
		parseErrCount = len(parseErrs)
		telemetry.RecordsResolved.Add(float64(len(records)))
		telemetry.ParseErrors.Add(float64(parseErrCount))
		r.recordSuccess(ctx, runID, executionID, cfg, models.StepResolveStatus, start,
			stageCounts{fetched: raw.Items(), success: len(records), errs: parseErrCount}, log)
	} else {
		log.WithField("step", models.StepResolveStatus).Info("step disabled, skipping")
	}

	if cfg.FeatureFlags.StepEnabled(models.StepDeliverToStore) {
		start := r.now()
		batch := dropEmptyLeadIDs(records)
		if len(batch) == 0 {
			log.WithField("step", models.StepDeliverToStore).Warn("no records to persist, skipping")
			r.recordSuccess(ctx, runID, executionID, cfg, models.StepDeliverToStore, start, stageCounts{}, log)
			return nil
		}
		if err := r.store.InsertStatusRecords(ctx, batch); err != nil {
			r.recordFailure(ctx, runID, executionID, cfg, models.StepDeliverToStore, start, err, log)
			return fmt.Errorf("%s: %w", models.StepDeliverToStore, err)
		}
		r.recordSuccess(ctx, runID, executionID, cfg, models.StepDeliverToStore, start, stageCounts{success: len(batch)}, log)
	} else {
		log.WithField("step", models.StepDeliverToStore).Info("step disabled, skipping")
	}

	return nil
}

type stageCounts struct {
	fetched int
	success int
	errs    int
}

func (r *Runner) recordSuccess(ctx context.Context, runID int64, executionID string, cfg models.SourceConfig, step string, start time.Time, counts stageCounts, log *logrus.Entry) {
	end := r.now()
	r.recordStep(ctx, models.RunStep{
		RunID:          runID,
		ExecutionID:    executionID,
		SourceConfigID: cfg.SourceConfigID,
		SystemName:     cfg.SystemName,
		PartnerName:    cfg.PartnerName,
		Step:           step,
		Status:         "success",
		RecordsFetched: counts.fetched,
		RecordsSuccess: counts.success,
		RecordsError:   counts.errs,
		StartTime:      start,
		EndTime:        &end,
	}, log)
}

func (r *Runner) recordFailure(ctx context.Context, runID int64, executionID string, cfg models.SourceConfig, step string, start time.Time, stageErr error, log *logrus.Entry) {
	end := r.now()
	msg := models.Truncate(stageErr.Error(), models.NotesMaxLen)
	r.recordStep(ctx, models.RunStep{
		RunID:          runID,
		ExecutionID:    executionID,
		SourceConfigID: cfg.SourceConfigID,
		SystemName:     cfg.SystemName,
		PartnerName:    cfg.PartnerName,
		Step:           step,
		Status:         "failure",
		ErrorMessage:   &msg,
		StartTime:      start,
		EndTime:        &end,
	}, log)
}

// recordStep writes a step audit row. Audit rows are observability, not
// control flow, so a write failure is logged and swallowed.
func (r *Runner) recordStep(ctx context.Context, step models.RunStep, log *logrus.Entry) {
	if err := r.store.RecordStep(ctx, step); err != nil {
		log.WithError(err).WithField("step", step.Step).Warn("failed to record step audit row")
	}
}

func dropEmptyLeadIDs(records []models.StatusRecord) []models.StatusRecord {
	out := records[:0:0]
	for _, rec := range records {
		if rec.LeadID == "" {
			continue
		}
		out = append(out, rec)
	}
	return out
}
