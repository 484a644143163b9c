package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"lead-status-sync/internal/config"
	"lead-status-sync/internal/delivery"
	"lead-status-sync/internal/runlock"
	"lead-status-sync/internal/store"
	"lead-status-sync/internal/telemetry"
)

func main() {
	cfg := config.Load()
	log := logrus.New()
	if cfg.Env == "prod" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalf("delivery run failed: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lock := runlock.New(redisClient, "leadsync:lock:poster", cfg.RunLockTTL)
	if err := lock.Acquire(ctx); err != nil {
		if errors.Is(err, runlock.ErrNotAcquired) {
			log.Warn("another delivery invocation holds the run lock, skipping")
			return nil
		}
		return err
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			log.WithError(err).Warn("failed to release run lock")
		}
	}()

	client, err := delivery.NewClient(cfg.PartnerAPIURL, cfg.PartnerAPIToken, cfg.PartnerTimeout)
	if err != nil {
		return fmt.Errorf("init partner client: %w", err)
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.WithError(err).Info("metrics server stopped")
		}
	}()

	queue := delivery.NewQueue(st, client, cfg.PostThreshold, logrus.NewEntry(log))
	return queue.ProcessUpdates(ctx)
}
