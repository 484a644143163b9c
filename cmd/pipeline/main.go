package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"lead-status-sync/internal/archive"
	"lead-status-sync/internal/config"
	"lead-status-sync/internal/connector"
	"lead-status-sync/internal/models"
	"lead-status-sync/internal/pipeline"
	"lead-status-sync/internal/resolver"
	"lead-status-sync/internal/runlock"
	"lead-status-sync/internal/store"
	"lead-status-sync/internal/telemetry"
)

const dateFormat = "2006-01-02"

func main() {
	cfg := config.Load()
	log := newLogger(cfg)

	var (
		schedule    = flag.String("schedule", "", "schedule filter for source configurations")
		system      = flag.String("system", "", "system name filter for source configurations")
		partnerID   = flag.String("partner-id", "", "partner id filter for source configurations")
		fromDate    = flag.String("from-date", "", "start date for data fetch (YYYY-MM-DD)")
		toDate      = flag.String("to-date", "", "end date for data fetch (YYYY-MM-DD)")
		fullRefresh = flag.Bool("full-refresh", false, "fetch data for the last year")
	)
	flag.Parse()

	from, to, err := dateWindow(*fromDate, *toDate, *fullRefresh, time.Now())
	if err != nil {
		log.Fatalf("invalid date window: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	filter := models.ConfigFilter{Schedule: *schedule, System: *system, PartnerID: *partnerID}
	if err := run(ctx, cfg, log, filter, from, to); err != nil {
		log.Fatalf("pipeline run failed: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger, filter models.ConfigFilter, from, to time.Time) error {
	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lock := runlock.New(redisClient, "leadsync:lock:pipeline", cfg.RunLockTTL)
	if err := lock.Acquire(ctx); err != nil {
		if errors.Is(err, runlock.ErrNotAcquired) {
			log.Warn("another pipeline invocation holds the run lock, skipping")
			return nil
		}
		return err
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			log.WithError(err).Warn("failed to release run lock")
		}
	}()

	archiver, err := archive.NewS3(ctx, cfg, logrus.NewEntry(log))
	if err != nil {
		return fmt.Errorf("init archiver: %w", err)
	}

	registry := pipeline.NewRegistry()
	registry.Register("yardi_soap",
		func(c models.SourceConfig) (connector.Connector, error) {
			return connector.NewYardi(c, cfg.ProviderTimeout, logrus.NewEntry(log))
		},
		func(c models.SourceConfig, executionID string) pipeline.Resolver {
			return resolver.NewYardi(c.SourceConfigID, executionID, logrus.NewEntry(log))
		},
	)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.WithError(err).Info("metrics server stopped")
		}
	}()

	runner := pipeline.NewRunner(st, archiver, registry, logrus.NewEntry(log))
	return runner.Run(ctx, filter, from, to)
}

// dateWindow derives the [from, to) fetch window: incremental by default
// (yesterday through today), overridable per flag, or a full year for
// -full-refresh.
func dateWindow(fromDate, toDate string, fullRefresh bool, now time.Time) (time.Time, time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	from := today.AddDate(0, 0, -1)
	to := today
	if fullRefresh {
		return today.AddDate(-1, 0, 0), today, nil
	}

	if fromDate != "" {
		parsed, err := time.ParseInLocation(dateFormat, fromDate, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q, use YYYY-MM-DD", fromDate)
		}
		from = parsed
	}
	if toDate != "" {
		parsed, err := time.ParseInLocation(dateFormat, toDate, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q, use YYYY-MM-DD", toDate)
		}
		to = parsed
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, errors.New("from date cannot be after to date")
	}
	if to.After(now) {
		return time.Time{}, time.Time{}, errors.New("to date cannot be in the future")
	}
	return from, to, nil
}

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	if cfg.Env == "prod" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
