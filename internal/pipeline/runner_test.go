package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"lead-status-sync/internal/connector"
	"lead-status-sync/internal/models"
	"lead-status-sync/internal/resolver"
)

type fakeStore struct {
	configs    []models.SourceConfig
	configsErr error
	insertErr  error

	startedTotal int
	steps        []models.RunStep
	inserted     [][]models.StatusRecord

	endedStatus  string
	endedSuccess int
	endedFailed  int
	endedSummary *string
}

func (f *fakeStore) ListSourceConfigs(context.Context, models.ConfigFilter) ([]models.SourceConfig, error) {
	return f.configs, f.configsErr
}

func (f *fakeStore) StartRun(_ context.Context, _ string, totalConfigs int, _ time.Time) (int64, error) {
	f.startedTotal = totalConfigs
	return 101, nil
}

func (f *fakeStore) EndRun(_ context.Context, _ int64, successful, failed int, status string, _ time.Time, errorMessage *string) error {
	f.endedSuccess = successful
	f.endedFailed = failed
	f.endedStatus = status
	f.endedSummary = errorMessage
	return nil
}

func (f *fakeStore) RecordStep(_ context.Context, step models.RunStep) error {
	f.steps = append(f.steps, step)
	return nil
}

func (f *fakeStore) InsertStatusRecords(_ context.Context, records []models.StatusRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, records)
	return nil
}

type fakeConnector struct {
	raw models.RawFeeds
	err error
}

func (f *fakeConnector) FetchRawData(context.Context, time.Time, time.Time) (models.RawFeeds, error) {
	return f.raw, f.err
}

type fakeArchiver struct {
	calls int
	err   error
}

func (f *fakeArchiver) Store(context.Context, models.RawFeeds, string, string, string, string) error {
	f.calls++
	return f.err
}

type fakeResolver struct {
	records   []models.StatusRecord
	parseErrs []resolver.ParseError
}

func (f *fakeResolver) Resolve(models.RawFeeds) ([]models.StatusRecord, []resolver.ParseError) {
	return f.records, f.parseErrs
}

func testConfig(id int64, partner string) models.SourceConfig {
	return models.SourceConfig{
		SourceConfigID: id,
		SystemName:     "Yardi",
		SystemType:     "yardi_soap",
		PartnerID:      "42",
		PartnerName:    partner,
		FileType:       "xml",
		S3Bucket:       "archive",
		IsActive:       true,
	}
}

func testRunner(st *fakeStore, conn *fakeConnector, arch *fakeArchiver, res *fakeResolver) *Runner {
	log := logrus.New()
	log.SetOutput(io.Discard)
	reg := NewRegistry()
	reg.Register("yardi_soap",
		func(models.SourceConfig) (connector.Connector, error) { return conn, nil },
		func(models.SourceConfig, string) Resolver { return res },
	)
	return NewRunner(st, arch, reg, logrus.NewEntry(log))
}

func window() (time.Time, time.Time) {
	return time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 11, 2, 0, 0, 0, 0, time.UTC)
}

func TestRunHappyPath(t *testing.T) {
	st := &fakeStore{configs: []models.SourceConfig{testConfig(1, "acme")}}
	conn := &fakeConnector{raw: models.RawFeeds{models.FeedTourActivity: {"p100": []byte("<Prospects/>")}}}
	arch := &fakeArchiver{}
	res := &fakeResolver{records: []models.StatusRecord{{LeadID: "42", Status: models.StatusTourScheduled}}}
	r := testRunner(st, conn, arch, res)

	from, to := window()
	if err := r.Run(context.Background(), models.ConfigFilter{}, from, to); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.startedTotal != 1 {
		t.Fatalf("run opened with %d configs", st.startedTotal)
	}
	if st.endedStatus != models.RunSuccess || st.endedSuccess != 1 || st.endedFailed != 0 {
		t.Fatalf("unexpected run close: status=%s success=%d failed=%d", st.endedStatus, st.endedSuccess, st.endedFailed)
	}
	if arch.calls != 1 {
		t.Fatalf("archive called %d times", arch.calls)
	}
	if len(st.inserted) != 1 || len(st.inserted[0]) != 1 {
		t.Fatalf("expected one insert of one record, got %+v", st.inserted)
	}
	if len(st.steps) != 4 {
		t.Fatalf("expected 4 step rows, got %d", len(st.steps))
	}
	order := []string{models.StepFetchData, models.StepArchiveRaw, models.StepResolveStatus, models.StepDeliverToStore}
	for i, want := range order {
		if st.steps[i].Step != want || st.steps[i].Status != "success" {
			t.Fatalf("step %d = %s/%s, want %s/success", i, st.steps[i].Step, st.steps[i].Status, want)
		}
	}
}

func TestRunIsolatesFailedConfiguration(t *testing.T) {
	st := &fakeStore{configs: []models.SourceConfig{testConfig(1, "broken"), testConfig(2, "healthy")}}
	arch := &fakeArchiver{}
	res := &fakeResolver{records: []models.StatusRecord{{LeadID: "7", Status: models.StatusValidLead}}}

	fetchErr := errors.New("provider timeout")
	calls := 0
	log := logrus.New()
	log.SetOutput(io.Discard)
	reg := NewRegistry()
	reg.Register("yardi_soap",
		func(models.SourceConfig) (connector.Connector, error) {
			calls++
			if calls == 1 {
				return &fakeConnector{err: fetchErr}, nil
			}
			return &fakeConnector{raw: models.RawFeeds{}}, nil
		},
		func(models.SourceConfig, string) Resolver { return res },
	)
	r := NewRunner(st, arch, reg, logrus.NewEntry(log))

	from, to := window()
	err := r.Run(context.Background(), models.ConfigFilter{}, from, to)
	if err == nil {
		t.Fatalf("expected run error when a configuration fails")
	}
	if st.endedStatus != models.RunFailure || st.endedSuccess != 1 || st.endedFailed != 1 {
		t.Fatalf("unexpected run close: status=%s success=%d failed=%d", st.endedStatus, st.endedSuccess, st.endedFailed)
	}
	if st.endedSummary == nil || !strings.Contains(*st.endedSummary, "Yardi-broken") {
		t.Fatalf("error summary missing failed config: %v", st.endedSummary)
	}
	// The healthy config's records still landed.
	if len(st.inserted) != 1 {
		t.Fatalf("healthy config should still persist, inserts=%d", len(st.inserted))
	}
	// The broken config recorded a fetch_data failure step.
	var sawFailure bool
	for _, s := range st.steps {
		if s.Step == models.StepFetchData && s.Status == "failure" {
			sawFailure = true
			if s.ErrorMessage == nil || !strings.Contains(*s.ErrorMessage, "provider timeout") {
				t.Fatalf("failure step missing error message: %+v", s)
			}
		}
	}
	if !sawFailure {
		t.Fatalf("no failure step recorded for fetch_data")
	}
}

func TestRunSkipsPersistenceForEmptyBatch(t *testing.T) {
	st := &fakeStore{configs: []models.SourceConfig{testConfig(1, "acme")}}
	conn := &fakeConnector{raw: models.RawFeeds{}}
	res := &fakeResolver{records: []models.StatusRecord{{LeadID: "", Status: models.StatusValidLead}}}
	r := testRunner(st, conn, &fakeArchiver{}, res)

	from, to := window()
	if err := r.Run(context.Background(), models.ConfigFilter{}, from, to); err != nil {
		t.Fatalf("empty batch must not fail the run: %v", err)
	}
	if len(st.inserted) != 0 {
		t.Fatalf("nothing should be inserted for an empty batch")
	}
	if st.endedStatus != models.RunSuccess {
		t.Fatalf("run should close successfully, got %s", st.endedStatus)
	}
}

func TestRunHonorsStepToggles(t *testing.T) {
	cfg := testConfig(1, "acme")
	cfg.FeatureFlags = models.FeatureFlags{Steps: map[string]bool{
		models.StepFetchData:      true,
		models.StepArchiveRaw:     false,
		models.StepResolveStatus:  true,
		models.StepDeliverToStore: false,
	}}
	st := &fakeStore{configs: []models.SourceConfig{cfg}}
	conn := &fakeConnector{raw: models.RawFeeds{}}
	arch := &fakeArchiver{}
	res := &fakeResolver{records: []models.StatusRecord{{LeadID: "9", Status: models.StatusValidLead}}}
	r := testRunner(st, conn, arch, res)

	from, to := window()
	if err := r.Run(context.Background(), models.ConfigFilter{}, from, to); err != nil {
		t.Fatalf("run: %v", err)
	}
	if arch.calls != 0 {
		t.Fatalf("archive step is disabled but ran")
	}
	if len(st.inserted) != 0 {
		t.Fatalf("deliver_to_store is disabled but ran")
	}
	if len(st.steps) != 2 {
		t.Fatalf("expected 2 step rows for 2 enabled steps, got %d", len(st.steps))
	}
}

func TestRunClosesRunOnSetupFailure(t *testing.T) {
	st := &fakeStore{configsErr: errors.New("db unreachable")}
	r := testRunner(st, &fakeConnector{}, &fakeArchiver{}, &fakeResolver{})

	from, to := window()
	if err := r.Run(context.Background(), models.ConfigFilter{}, from, to); err == nil {
		t.Fatalf("expected setup failure to surface")
	}
	if st.endedStatus != models.RunFailure {
		t.Fatalf("run must be closed as failed after setup error, got %q", st.endedStatus)
	}
	if st.endedSummary == nil || !strings.Contains(*st.endedSummary, "db unreachable") {
		t.Fatalf("summary missing setup error: %v", st.endedSummary)
	}
}

func TestRunRecordsInitializationFailureForUnknownSystem(t *testing.T) {
	cfg := testConfig(1, "acme")
	cfg.SystemType = "mystery"
	st := &fakeStore{configs: []models.SourceConfig{cfg}}
	r := testRunner(st, &fakeConnector{}, &fakeArchiver{}, &fakeResolver{})

	from, to := window()
	if err := r.Run(context.Background(), models.ConfigFilter{}, from, to); err == nil {
		t.Fatalf("expected failure for unsupported system type")
	}
	if len(st.steps) != 1 || st.steps[0].Step != "initialization" || st.steps[0].Status != "failure" {
		t.Fatalf("expected one initialization failure step, got %+v", st.steps)
	}
}
