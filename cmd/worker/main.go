package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/unlockit/unlockit-backend/internal/notifier"
	"github.com/unlockit/unlockit-backend/internal/users"
	"github.com/unlockit/unlockit-backend/pkg/config"
	"github.com/unlockit/unlockit-backend/pkg/db"
	"github.com/unlockit/unlockit-backend/pkg/instance"
	"github.com/unlockit/unlockit-backend/pkg/logger"
	"github.com/unlockit/unlockit-backend/pkg/mailer"
	"github.com/unlockit/unlockit-backend/pkg/outbox/idempotency"
	"github.com/unlockit/unlockit-backend/pkg/pubsub"
	"github.com/unlockit/unlockit-backend/pkg/redis"
)

// Notification events are deduped long enough to cover pubsub redelivery
// after a crash mid-send.
const notificationDedupeTTL = 48 * time.Hour

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	requireResource(ctx, logg, "redis", err)
	defer redisClient.Close()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer pubsubClient.Close()

	mailClient, err := mailer.NewClient(cfg.Sendgrid, logg)
	requireResource(ctx, logg, "mailer", err)

	dedupe, err := idempotency.NewManager(redisClient, notificationDedupeTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	notifierConsumer, err := notifier.NewConsumer(
		mailClient,
		users.NewRepository(dbClient.DB()),
		pubsubClient.NotificationSubscription(),
		dedupe,
		logg,
	)
	requireResource(ctx, logg, "notifier consumer", err)

	svc, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		PubSub:   pubsubClient,
		Notifier: notifierConsumer,
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"env":         cfg.App.Env,
		"instance":    instance.GetID(),
	})
	logg.Info(runCtx, "notification worker ready")

	if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "notification worker stopped", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
