package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/VenueFox/app/controllers"
	"github.com/ManuelReschke/VenueFox/app/repository"
	apiv1 "github.com/ManuelReschke/VenueFox/internal/api/v1"
	"github.com/ManuelReschke/VenueFox/internal/pkg/access"
	"github.com/ManuelReschke/VenueFox/internal/pkg/billing"
	"github.com/ManuelReschke/VenueFox/internal/pkg/cache"
	"github.com/ManuelReschke/VenueFox/internal/pkg/database"
	"github.com/ManuelReschke/VenueFox/internal/pkg/env"
	"github.com/ManuelReschke/VenueFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/VenueFox/internal/pkg/mail"
	"github.com/ManuelReschke/VenueFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/VenueFox/internal/pkg/overrides"
	"github.com/ManuelReschke/VenueFox/internal/pkg/ratelimit"
	"github.com/ManuelReschke/VenueFox/internal/pkg/router"
)

const shutdownTimeout = 15 * time.Second

func main() {
	app, manager := NewApplication()
	manager.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("[Server] Shutting down")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Errorf("[Server] Shutdown failed: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	manager.Stop()
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repos := repository.NewFactory(db).GetRepositories()
	store := billing.NewRepository(db)
	managerCfg := jobqueue.ManagerConfigFromEnv()

	// a pending ledger entry older than one webhook timeout belongs to a
	// delivery that died mid-flight and may be claimed by a redelivery
	timeout := time.Duration(env.GetEnvInt("WEBHOOK_TIMEOUT_SECONDS", 10)) * time.Second

	var ledger billing.Ledger
	switch env.GetEnv("LEDGER_BACKEND", "db") {
	case "redis":
		ledger = billing.NewRedisLedger(cache.GetClient(), managerCfg.LedgerRetention, timeout)
	default:
		ledger = billing.NewDBLedger(db, timeout)
	}

	// notifications
	queue := jobqueue.NewQueue(env.GetEnvInt("JOBQUEUE_WORKERS", 3))
	sender := mail.NewSenderFromEnv()
	queue.Register(jobqueue.JobTypeBillingNotification, jobqueue.NotificationHandler(repos.Tenant, sender))
	queue.Register(jobqueue.JobTypeRenewalReminder, jobqueue.ReminderHandler(repos.Tenant, sender))
	manager := jobqueue.NewManager(queue, store, ledger, managerCfg, counter.FlushAll)

	// billing engine
	reconciler := billing.NewReconciler(store, jobqueue.NewBillingNotifier(queue))
	gateway := billing.NewGateway(billing.NewStripeSourceFromEnv(), ledger, reconciler, timeout)

	var processor billing.Processor
	if p := billing.NewStripeProcessorFromEnv(); p != nil {
		processor = p
	} else {
		log.Warn("[Billing] STRIPE_SECRET_KEY not set, checkout and cancel are disabled")
	}
	service := billing.NewService(store, processor)

	doc, err := apiv1.LoadSpec(apiv1.DefaultSpecPath)
	if err != nil {
		log.Fatalf("[Server] %v", err)
	}
	validator, err := apiv1.RequestValidator(doc)
	if err != nil {
		log.Fatalf("[Server] %v", err)
	}

	limit := ratelimit.ConfigFromEnv()
	limit.Storage = ratelimit.NewStorage()

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: apiv1.DefaultSpecPath,
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Billing:   controllers.NewBillingController(gateway, service),
		Tenants:   controllers.NewTenantController(service, repos.Listing),
		Venues:    controllers.NewVenueController(repos.Listing),
		Admin:     controllers.NewAdminController(repos, overrides.NewChannel(reconciler), store, queue),
		Guard:     access.NewGuard(repos.Tenant, store),
		Users:     repos.User,
		RateLimit: limit,
		Validator: validator,
	})

	return app, manager
}
