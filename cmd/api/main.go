package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unlockit/unlockit-backend/api/controllers"
	"github.com/unlockit/unlockit-backend/api/routes"
	"github.com/unlockit/unlockit-backend/internal/auth"
	"github.com/unlockit/unlockit-backend/internal/downloads"
	"github.com/unlockit/unlockit-backend/internal/payments"
	"github.com/unlockit/unlockit-backend/internal/stories"
	"github.com/unlockit/unlockit-backend/internal/transactions"
	"github.com/unlockit/unlockit-backend/internal/users"
	"github.com/unlockit/unlockit-backend/internal/wallet"
	stripewebhook "github.com/unlockit/unlockit-backend/internal/webhooks/stripe"
	"github.com/unlockit/unlockit-backend/pkg/auth/session"
	"github.com/unlockit/unlockit-backend/pkg/config"
	"github.com/unlockit/unlockit-backend/pkg/db"
	"github.com/unlockit/unlockit-backend/pkg/logger"
	"github.com/unlockit/unlockit-backend/pkg/metrics"
	"github.com/unlockit/unlockit-backend/pkg/migrate"
	"github.com/unlockit/unlockit-backend/pkg/outbox"
	"github.com/unlockit/unlockit-backend/pkg/redis"
	"github.com/unlockit/unlockit-backend/pkg/storage/gcs"
	"github.com/unlockit/unlockit-backend/pkg/stripe"
	"github.com/unlockit/unlockit-backend/pkg/token"
)

// Stripe delivers most events within seconds, but replays can arrive much
// later; keep the dedupe mark around for a full day.
const webhookEventTTL = 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap gcs", err)
		os.Exit(1)
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing gcs", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	gateway, err := payments.NewStripeGateway(stripeClient, cfg.Stripe)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}

	codec, err := token.NewCodec(cfg.Download.TokenSecret)
	if err != nil {
		logg.Error(context.Background(), "failed to create download token codec", err)
		os.Exit(1)
	}

	usersRepo := users.NewRepository(dbClient.DB())
	storiesRepo := stories.NewRepository(dbClient.DB())
	txRepo := transactions.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	storySvc, err := stories.NewService(storiesRepo, gcsClient, cfg.Download, cfg.GCS, logg, db.IsUniqueViolation)
	if err != nil {
		logg.Error(context.Background(), "failed to create story service", err)
		os.Exit(1)
	}

	txSvc, err := transactions.NewService(dbClient, txRepo, usersRepo, gateway, outboxSvc, logg, db.IsUniqueViolation)
	if err != nil {
		logg.Error(context.Background(), "failed to create transaction service", err)
		os.Exit(1)
	}

	walletSvc, err := wallet.NewService(usersRepo, txRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)

	engine, err := downloads.NewEngine(
		dbClient,
		storySvc,
		storiesRepo,
		txSvc,
		txRepo,
		gateway,
		codec,
		gcsClient,
		outboxSvc,
		settlementMetrics,
		logg,
		downloads.Config{
			BaseURL:        cfg.App.BaseURL,
			PlatformFeePct: cfg.Stripe.PlatformFeePct,
			Download:       cfg.Download,
		},
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create download engine", err)
		os.Exit(1)
	}

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       usersRepo,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	webhookSvc, err := stripewebhook.NewService(engine)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}
	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, webhookEventTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Dependencies{
			Config:             cfg,
			Logger:             logg,
			Redis:              redisClient,
			Sessions:           sessionManager,
			AuthService:        authService,
			StoryService:       storySvc,
			TransactionService: txSvc,
			WalletService:      walletSvc,
			DownloadEngine:     engine,
			StripeClient:       stripeClient,
			StripeWebhookSvc:   webhookSvc,
			StripeWebhookGuard: webhookGuard,
			ReadinessDeps:      controllers.ReadinessDeps(dbClient, redisClient, gcsClient),
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
