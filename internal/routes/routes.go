package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletcore/internal/auth"
	"github.com/congo-pay/walletcore/internal/balance"
	"github.com/congo-pay/walletcore/internal/config"
	"github.com/congo-pay/walletcore/internal/identity"
	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/metrics"
	"github.com/congo-pay/walletcore/internal/middleware"
	"github.com/congo-pay/walletcore/internal/notification"
	"github.com/congo-pay/walletcore/internal/payout"
	"github.com/congo-pay/walletcore/internal/reconcile"
	"github.com/congo-pay/walletcore/internal/wallet"
	"github.com/congo-pay/walletcore/internal/withdrawal"
)

const loginAttemptsPerMinute = 5

// Deps aggregates shared dependencies required to wire routes. DB and Cache may be nil in
// development, in which case in-memory backends are used.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Dispatcher overrides the payout dispatcher chosen from Cache.
	Dispatcher payout.Dispatcher
	// Notifier overrides the logging notifier.
	Notifier notification.Notifier
}

// Services holds the domain services built by Setup.
type Services struct {
	Ledger      ledger.Store
	Withdrawals *withdrawal.Machine
	Projector   *balance.Projector
	Reconciler  *reconcile.Reconciler
	Wallets     *wallet.Service
	Identity    *identity.Service
	Auth        *auth.Service
}

// NewServices builds the domain services on the backends available in d.
func NewServices(d Deps) *Services {
	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}
	dispatcher := d.Dispatcher
	if dispatcher == nil {
		if d.Cache != nil {
			dispatcher = payout.NewQueueDispatcher(d.Cache, d.Cfg.PayoutQueue, d.Logger)
		} else {
			dispatcher = payout.NewLogDispatcher(d.Logger)
		}
	}

	var (
		store        ledger.Store
		withdrawRepo withdrawal.Repository
		inbox        reconcile.Inbox
		identityRepo identity.Repository
	)
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
		withdrawRepo = withdrawal.NewPostgresRepository(d.DB)
		inbox = reconcile.NewPostgresInbox(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		store = ledger.NewInMemory()
		withdrawRepo = withdrawal.NewMemoryRepository()
		inbox = reconcile.NewMemoryInbox()
		identityRepo = identity.NewMemoryRepository()
	}

	machine := withdrawal.NewMachine(withdrawal.Deps{
		Ledger:     store,
		Repo:       withdrawRepo,
		Dispatcher: dispatcher,
		Notifier:   notifier,
		Metrics:    d.Metrics,
		Logger:     d.Logger,
	})
	projector := balance.NewProjector(store, notifier, d.Metrics, d.Logger, d.Cfg.ReconcileConcurrency)
	wallets := wallet.NewService(store, projector, machine)

	return &Services{
		Ledger:      store,
		Withdrawals: machine,
		Projector:   projector,
		Reconciler:  reconcile.NewReconciler(store, machine, inbox, notifier, d.Metrics, d.Logger),
		Wallets:     wallets,
		Identity:    identity.NewService(identityRepo, wallets),
		Auth:        auth.NewService(d.Cfg, identityRepo),
	}
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	// Enforce DB/Redis presence outside of dev, even though config.Load also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Metrics(d.Metrics))
	if d.Cfg.IsDev() {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	svc := NewServices(d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	authn := middleware.JWTAuth(svc.Auth)
	identityHandler := identity.NewHandler(svc.Identity)

	// Public routes
	RegisterIdentityRoutes(api, identityHandler)
	RegisterAuthRoutes(api, auth.NewHandler(svc.Identity, svc.Auth), middleware.LoginRateLimit(d.Cache, loginAttemptsPerMinute), authn)
	RegisterWebhookRoutes(api, reconcile.NewHandler(svc.Reconciler, d.Cfg.WebhookSecret, d.Logger))
	if d.Cfg.OpsAPIKey != "" {
		RegisterOpsRoutes(api, middleware.OpsKey(d.Cfg.OpsAPIKey),
			withdrawal.NewOpsHandler(svc.Withdrawals),
			balance.NewOpsHandler(svc.Projector))
	} else if d.Logger != nil {
		d.Logger.Warn("OPS_API_KEY not set; operator routes disabled")
	}

	// Protected routes. The group middleware applies to everything registered after it.
	protected := api.Group("", authn)
	RegisterProfileRoute(protected, identityHandler)
	var idempotency fiber.Handler
	if d.Cache != nil {
		idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	RegisterWalletRoutes(protected, wallet.NewHandler(svc.Wallets), idempotency)

	return svc, nil
}
