package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unlockit/unlockit-backend/api/controllers"
	webhookcontrollers "github.com/unlockit/unlockit-backend/api/controllers/webhooks"
	"github.com/unlockit/unlockit-backend/api/middleware"
	internalauth "github.com/unlockit/unlockit-backend/internal/auth"
	"github.com/unlockit/unlockit-backend/internal/downloads"
	"github.com/unlockit/unlockit-backend/internal/stories"
	"github.com/unlockit/unlockit-backend/internal/transactions"
	"github.com/unlockit/unlockit-backend/internal/wallet"
	stripewebhook "github.com/unlockit/unlockit-backend/internal/webhooks/stripe"
	"github.com/unlockit/unlockit-backend/pkg/auth/session"
	"github.com/unlockit/unlockit-backend/pkg/config"
	"github.com/unlockit/unlockit-backend/pkg/logger"
	"github.com/unlockit/unlockit-backend/pkg/redis"
	"github.com/unlockit/unlockit-backend/pkg/stripe"
)

// Dependencies carries everything the router mounts.
type Dependencies struct {
	Config   *config.Config
	Logger   *logger.Logger
	Redis    *redis.Client
	Sessions session.AccessSessionChecker

	AuthService        internalauth.Service
	StoryService       stories.Service
	TransactionService transactions.Service
	WalletService      wallet.Service
	DownloadEngine     downloads.Engine
	StripeClient       *stripe.Client
	StripeWebhookSvc   *stripewebhook.Service
	StripeWebhookGuard *stripewebhook.IdempotencyGuard
	ReadinessDeps      map[string]controllers.Pinger
}

// NewRouter builds the HTTP surface: public share/download endpoints, the
// authenticated creator API, the Stripe webhook, and operational routes.
func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.ReadinessDeps))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhookSvc, deps.StripeClient, deps.StripeWebhookGuard, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, deps.Redis, logg)).Post("/login", controllers.AuthLogin(deps.AuthService, logg))
		r.With(middleware.AuthRateLimit(registerPolicy, deps.Redis, logg)).Post("/register", controllers.AuthRegister(deps.AuthService, logg))
		r.Post("/refresh", controllers.AuthRefresh(deps.AuthService, logg))
		r.Post("/logout", controllers.AuthLogout(deps.AuthService, cfg.JWT, logg))
	})

	// Buyer-facing flow. The noised story reference, or the sealed download
	// token, is the only credential.
	r.Route("/api/v1/download", func(r chi.Router) {
		r.Get("/", controllers.Download(deps.DownloadEngine, cfg.Download, logg))
		r.Get("/story-details", controllers.SharedStory(deps.DownloadEngine, logg))
		r.Post("/payment-link", controllers.SharedStoryPaymentLink(deps.DownloadEngine, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))

		r.Route("/stories", func(r chi.Router) {
			r.Post("/", controllers.StoryCreate(deps.StoryService, logg))
			r.Get("/", controllers.StoryList(deps.StoryService, logg))
			r.Get("/{storyID}", controllers.StoryGet(deps.StoryService, logg))
			r.Delete("/{storyID}", controllers.StoryDelete(deps.StoryService, logg))
			r.Get("/{storyID}/share-link", controllers.StoryShareLink(deps.StoryService, logg))
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", controllers.TransactionList(deps.TransactionService, logg))
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", controllers.WalletBalance(deps.WalletService, logg))
			r.Post("/withdraw", controllers.WithdrawalCreate(deps.TransactionService, logg))
			r.Post("/reconcile", controllers.WalletReconcile(deps.WalletService, logg))
		})
	})

	return r
}
