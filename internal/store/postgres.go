package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"lead-status-sync/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ListSourceConfigs fetches active source configurations, optionally narrowed
// by schedule, system name, or partner id.
func (s *Store) ListSourceConfigs(ctx context.Context, filter models.ConfigFilter) ([]models.SourceConfig, error) {
	query := `
		SELECT source_config_id, system_name, system_type, partner_id, partner_name,
		       file_type, config, s3_bucket, schedule, is_active, feature_flags
		FROM source_configs
		WHERE is_active = TRUE
	`
	args := []any{}
	if filter.Schedule != "" {
		args = append(args, filter.Schedule)
		query += fmt.Sprintf(" AND schedule = $%d", len(args))
	}
	if filter.System != "" {
		args = append(args, filter.System)
		query += fmt.Sprintf(" AND system_name = $%d", len(args))
	}
	if filter.PartnerID != "" {
		args = append(args, filter.PartnerID)
		query += fmt.Sprintf(" AND partner_id = $%d", len(args))
	}
	query += " ORDER BY source_config_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query source configs: %w", err)
	}
	defer rows.Close()

	var configs []models.SourceConfig
	for rows.Next() {
		var c models.SourceConfig
		var configJSON, flagsJSON []byte
		if err := rows.Scan(&c.SourceConfigID, &c.SystemName, &c.SystemType, &c.PartnerID,
			&c.PartnerName, &c.FileType, &configJSON, &c.S3Bucket, &c.Schedule,
			&c.IsActive, &flagsJSON); err != nil {
			return nil, fmt.Errorf("scan source config: %w", err)
		}
		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &c.Config); err != nil {
				return nil, fmt.Errorf("unmarshal config for source %d: %w", c.SourceConfigID, err)
			}
		}
		if len(flagsJSON) > 0 {
			if err := json.Unmarshal(flagsJSON, &c.FeatureFlags); err != nil {
				return nil, fmt.Errorf("unmarshal feature flags for source %d: %w", c.SourceConfigID, err)
			}
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// StartRun opens a run audit row and returns its id.
func (s *Store) StartRun(ctx context.Context, executionID string, totalConfigs int, startTime time.Time) (int64, error) {
	var runID int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO runs (execution_id, total_configs, status, start_time)
		VALUES ($1, $2, $3, $4)
		RETURNING run_id
	`, executionID, totalConfigs, models.RunInProgress, startTime).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

// EndRun closes a run audit row with final counts and an optional error summary.
func (s *Store) EndRun(ctx context.Context, runID int64, successful, failed int, status string, endTime time.Time, errorMessage *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET successful_configs = $2, failed_configs = $3, status = $4, end_time = $5, error_message = $6
		WHERE run_id = $1
	`, runID, successful, failed, status, endTime, errorMessage)
	if err != nil {
		return fmt.Errorf("close run %d: %w", runID, err)
	}
	return nil
}

// RecordStep appends a step-level audit row.
func (s *Store) RecordStep(ctx context.Context, step models.RunStep) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_steps (run_id, execution_id, source_config_id, system_name, partner_name,
		                       step, status, records_fetched, records_success, records_error,
		                       error_message, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, step.RunID, step.ExecutionID, step.SourceConfigID, step.SystemName, step.PartnerName,
		step.Step, step.Status, step.RecordsFetched, step.RecordsSuccess, step.RecordsError,
		step.ErrorMessage, step.StartTime, step.EndTime)
	if err != nil {
		return fmt.Errorf("insert run step: %w", err)
	}
	return nil
}

// InsertStatusRecords appends resolved records in a single transaction.
func (s *Store) InsertStatusRecords(ctx context.Context, records []models.StatusRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	now := time.Now().UTC()
	for _, r := range records {
		payloadJSON, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for lead %s: %w", r.LeadID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO status_updates (execution_id, source_config_id, lead_id, status, sub_status,
			                            notes, payload, attempts, last_attempt, is_delivered,
			                            error_message, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NULL, FALSE, NULL, $8, $8)
		`, r.ExecutionID, r.SourceConfigID, r.LeadID, r.Status, r.SubStatus, r.Notes, payloadJSON, now)
		if err != nil {
			return fmt.Errorf("insert status record for lead %s: %w", r.LeadID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeliveredFingerprints returns, per (lead_id, status, sub_status), the most
// recent updated_at among already-delivered records.
func (s *Store) DeliveredFingerprints(ctx context.Context) ([]models.Fingerprint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT lead_id, status, sub_status, MAX(updated_at)
		FROM status_updates
		WHERE is_delivered = TRUE
		GROUP BY lead_id, status, sub_status
	`)
	if err != nil {
		return nil, fmt.Errorf("query delivered fingerprints: %w", err)
	}
	defer rows.Close()

	var fps []models.Fingerprint
	for rows.Next() {
		var fp models.Fingerprint
		if err := rows.Scan(&fp.LeadID, &fp.Status, &fp.SubStatus, &fp.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

// ListUndelivered returns the delivery candidate pool: undelivered records
// whose attempt count is still under the threshold.
func (s *Store) ListUndelivered(ctx context.Context, threshold int) ([]models.StatusRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT record_id, execution_id, source_config_id, lead_id, status, sub_status,
		       notes, payload, attempts, last_attempt, is_delivered, error_message,
		       created_at, updated_at
		FROM status_updates
		WHERE is_delivered = FALSE AND attempts < $1
		ORDER BY record_id
	`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query undelivered records: %w", err)
	}
	defer rows.Close()

	var records []models.StatusRecord
	for rows.Next() {
		r, err := scanStatusRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ApplyDeliveryOutcome applies one attempt's result to a record: attempts+1,
// last_attempt and updated_at set to now, is_delivered set to the attempt's
// success, error_message overwritten only when the attempt produced one.
// Returns the number of rows matched so the caller can warn on zero.
func (s *Store) ApplyDeliveryOutcome(ctx context.Context, recordID int64, delivered bool, errorMessage *string, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE status_updates
		SET attempts = attempts + 1,
		    last_attempt = $2,
		    updated_at = $2,
		    is_delivered = $3,
		    error_message = COALESCE($4, error_message)
		WHERE record_id = $1
	`, recordID, now, delivered, errorMessage)
	if err != nil {
		return 0, fmt.Errorf("apply delivery outcome for record %d: %w", recordID, err)
	}
	return tag.RowsAffected(), nil
}

// QueueStats summarizes the delivery queue for the operator API.
type QueueStats struct {
	Pending   int64 `json:"pending"`
	Delivered int64 `json:"delivered"`
	Exhausted int64 `json:"exhausted"`
}

// GetQueueStats counts pending, delivered, and threshold-exhausted records.
func (s *Store) GetQueueStats(ctx context.Context, threshold int) (QueueStats, error) {
	var stats QueueStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE is_delivered = FALSE AND attempts < $1),
			COUNT(*) FILTER (WHERE is_delivered = TRUE),
			COUNT(*) FILTER (WHERE is_delivered = FALSE AND attempts >= $1)
		FROM status_updates
	`, threshold).Scan(&stats.Pending, &stats.Delivered, &stats.Exhausted)
	if err != nil {
		return QueueStats{}, fmt.Errorf("count queue stats: %w", err)
	}
	return stats, nil
}

// ListRuns returns the most recent run audit rows.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, execution_id, total_configs, successful_configs, failed_configs,
		       status, start_time, end_time, error_message
		FROM runs
		ORDER BY run_id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var r models.Run
		var endTime pgtype.Timestamptz
		var errMsg pgtype.Text
		if err := rows.Scan(&r.RunID, &r.ExecutionID, &r.TotalConfigs, &r.SuccessfulConfigs,
			&r.FailedConfigs, &r.Status, &r.StartTime, &endTime, &errMsg); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.EndTime = timePtr(endTime)
		r.ErrorMessage = textPtr(errMsg)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun fetches a single run audit row.
func (s *Store) GetRun(ctx context.Context, runID int64) (models.Run, error) {
	var r models.Run
	var endTime pgtype.Timestamptz
	var errMsg pgtype.Text
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, execution_id, total_configs, successful_configs, failed_configs,
		       status, start_time, end_time, error_message
		FROM runs WHERE run_id = $1
	`, runID).Scan(&r.RunID, &r.ExecutionID, &r.TotalConfigs, &r.SuccessfulConfigs,
		&r.FailedConfigs, &r.Status, &r.StartTime, &endTime, &errMsg)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Run{}, fmt.Errorf("run %d not found: %w", runID, err)
	}
	if err != nil {
		return models.Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.EndTime = timePtr(endTime)
	r.ErrorMessage = textPtr(errMsg)
	return r, nil
}

// ListRunSteps returns the step audit rows for a run.
func (s *Store) ListRunSteps(ctx context.Context, runID int64) ([]models.RunStep, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT step_id, run_id, execution_id, source_config_id, system_name, partner_name,
		       step, status, records_fetched, records_success, records_error,
		       error_message, start_time, end_time
		FROM run_steps
		WHERE run_id = $1
		ORDER BY step_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run steps: %w", err)
	}
	defer rows.Close()

	var steps []models.RunStep
	for rows.Next() {
		var st models.RunStep
		var endTime pgtype.Timestamptz
		var errMsg pgtype.Text
		if err := rows.Scan(&st.StepID, &st.RunID, &st.ExecutionID, &st.SourceConfigID,
			&st.SystemName, &st.PartnerName, &st.Step, &st.Status, &st.RecordsFetched,
			&st.RecordsSuccess, &st.RecordsError, &errMsg, &st.StartTime, &endTime); err != nil {
			return nil, fmt.Errorf("scan run step: %w", err)
		}
		st.EndTime = timePtr(endTime)
		st.ErrorMessage = textPtr(errMsg)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func scanStatusRecord(rows pgx.Rows) (models.StatusRecord, error) {
	var r models.StatusRecord
	var payloadJSON []byte
	var lastAttempt pgtype.Timestamptz
	var errMsg pgtype.Text
	if err := rows.Scan(&r.RecordID, &r.ExecutionID, &r.SourceConfigID, &r.LeadID,
		&r.Status, &r.SubStatus, &r.Notes, &payloadJSON, &r.Attempts, &lastAttempt,
		&r.IsDelivered, &errMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return models.StatusRecord{}, fmt.Errorf("scan status record: %w", err)
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &r.Payload); err != nil {
			return models.StatusRecord{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	r.LastAttempt = timePtr(lastAttempt)
	r.ErrorMessage = textPtr(errMsg)
	return r, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		return &t.Time
	}
	return nil
}
