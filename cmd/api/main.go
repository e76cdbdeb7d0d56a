package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"rifas_pix/internal/config"
	"rifas_pix/internal/events"
	"rifas_pix/internal/handler"
	"rifas_pix/internal/lock"
	"rifas_pix/internal/lottery"
	"rifas_pix/internal/middleware"
	"rifas_pix/internal/notify"
	"rifas_pix/internal/payment"
	"rifas_pix/internal/service"
	"rifas_pix/internal/store"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

type application struct {
	config       *config.Config
	logger       *log.Logger
	db           *sql.DB
	redisClient  *redis.Client
	store        store.Store
	locker       lock.Locker
	reservations *service.ReservationService
	payments     *service.PaymentService
	drawJob      *service.DrawJob
	producer     *events.Producer
	consumer     *events.Consumer
	telegram     *notify.Telegram
	server       *http.Server

	shutdownChan   chan struct{}
	schedulersDone sync.WaitGroup
}

func main() {
	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)
	if err := run(logger); err != nil {
		logger.Fatal(err)
	}
}

func run(logger *log.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app := &application{
		config:       cfg,
		logger:       logger,
		shutdownChan: make(chan struct{}),
	}
	defer app.close()

	if err := app.openStorage(); err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	if err := app.openLocker(); err != nil {
		return fmt.Errorf("failed to set up locks: %w", err)
	}

	var publisher service.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		app.producer = events.NewProducer(logger, cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		publisher = app.producer
	} else {
		logger.Println("KAFKA_BROKERS not set, domain events are not published")
	}

	var notifier service.Notifier
	if cfg.TelegramToken != "" {
		app.telegram, err = notify.NewTelegram(logger, cfg.TelegramToken, cfg.TelegramAdminChatID)
		if err != nil {
			return fmt.Errorf("failed to start Telegram bot: %w", err)
		}
		notifier = app.telegram
	}

	var cache service.StatusCache
	if app.redisClient != nil {
		cache = store.NewRedisStore(app.redisClient)
	}

	gateway := payment.NewClient(payment.Config{
		BaseURL:    cfg.ProviderURL,
		APIKey:     cfg.ProviderAPIKey,
		Timeout:    cfg.ProviderTimeout,
		MaxRetries: uint64(cfg.ProviderMaxRetries),
		ChargeTTL:  cfg.ReservationTTL,
	}, logger)

	finalizer := service.NewFinalizer(logger, app.store, publisher, notifier)
	app.reservations = service.NewReservationService(logger, app.store, cfg)
	app.payments = service.NewPaymentService(logger, app.store, gateway, cache, finalizer, cfg)
	poller := service.NewPoller(logger, app.payments, cfg.PollInterval, cfg.PollDeadline)
	winners := service.NewWinnerService(logger, app.store, publisher, notifier)
	var draws handler.DrawLookup
	if cfg.LotteryFeedURL != "" {
		feed := lottery.NewClient(logger, cfg.LotteryFeedURL, cfg.ProviderTimeout)
		app.drawJob = service.NewDrawJob(logger, feed, winners, app.store)
		draws = feed
	}

	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaPaymentTopic != "" {
		app.consumer = events.NewConsumer(logger, cfg.KafkaBrokers, cfg.KafkaPaymentTopic, cfg.KafkaGroupID, app.relayPayment)
	}

	router := handler.NewRouter(logger, handler.Services{
		Reservations:  app.reservations,
		Payments:      app.payments,
		Finalizer:     finalizer,
		Poller:        poller,
		Winners:       winners,
		Draws:         draws,
		Auth:          middleware.NewAuth(logger, cfg.TelegramToken, cfg.AuthTokenSecret, cfg.AdminAPIKey),
		WebhookSecret: cfg.WebhookSecret,
		HealthChecks:  app.healthChecks(),
	})
	if cfg.WebhookSecret == "" {
		logger.Println("WEBHOOK_SECRET not set, every webhook will be rejected")
	}

	app.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:     router,
		IdleTimeout: time.Minute,
		ReadTimeout: 5 * time.Second,
		// Long enough for the charge wait endpoint.
		WriteTimeout: 90 * time.Second,
		ErrorLog:     logger,
	}

	app.startBackground()
	return app.serve()
}

func (app *application) openStorage() error {
	cfg := app.config
	switch cfg.StoreBackend {
	case "memory":
		app.logger.Println("Using in-memory store; data is lost on restart")
		app.store = store.NewMemoryStore()
	default:
		db, err := store.ConnectDB(cfg.DBDriver, cfg.DBDataSourceName)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		app.db = db
		if err := store.RunMigrations(db, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		app.store = store.NewDBStore(db)
	}

	if cfg.StoreBackend == "memory" && cfg.LockBackend != "redis" {
		return nil
	}
	client, err := store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	app.redisClient = client
	return nil
}

func (app *application) openLocker() error {
	switch app.config.LockBackend {
	case "redis":
		app.locker = lock.NewRedisLock(app.redisClient)
	case "etcd":
		l, err := lock.NewEtcdLock(app.config.ETCDEndpoints, app.config.ETCDTimeout)
		if err != nil {
			return err
		}
		app.locker = l
	default:
		app.locker = lock.NewLocalLock()
	}
	return nil
}

func (app *application) healthChecks() map[string]handler.Pinger {
	checks := map[string]handler.Pinger{}
	if app.db != nil {
		checks["postgres"] = app.db.PingContext
	}
	if app.redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return app.redisClient.Ping(ctx).Err() }
	}
	return checks
}

// relayPayment applies a payment notification relayed over Kafka. Errors
// that a retry cannot fix are logged and the message is committed.
func (app *application) relayPayment(ctx context.Context, msg events.PaymentMessage) error {
	status, ok := payment.MapStatus(msg.Status)
	if !ok {
		app.logger.Printf("Payment relay: unknown status %q for %s/%s", msg.Status, msg.ReservationID, msg.ProviderChargeID)
		return nil
	}
	_, err := app.payments.ApplyStatus(ctx, service.StatusUpdate{
		ReservationID:    msg.ReservationID,
		ProviderChargeID: msg.ProviderChargeID,
		Status:           status,
		Source:           "kafka",
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrChargeNotFound),
		errors.Is(err, service.ErrChargeMismatch),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrReservationExpired),
		errors.Is(err, service.ErrCapacityExceeded):
		app.logger.Printf("Payment relay: dropping %s/%s: %v", msg.ReservationID, msg.ProviderChargeID, err)
		return nil
	}
	return err
}

func (app *application) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-app.shutdownChan
		cancel()
	}()

	if app.consumer != nil {
		app.consumer.Start(ctx)
	}
	if app.telegram != nil {
		app.telegram.Start(ctx)
	}

	app.runScheduler("sweeper", app.config.SweepInterval, func(ctx context.Context) error {
		_, err := app.reservations.Sweep(ctx)
		return err
	})
	if app.drawJob != nil {
		app.runScheduler("draw-check", app.config.DrawCheckInterval, func(ctx context.Context) error {
			n, err := app.drawJob.RunOnce(ctx)
			if n > 0 {
				app.logger.Printf("Scheduler: draw check awarded %d raffles", n)
			}
			return err
		})
	} else {
		app.logger.Println("LOTTERY_FEED_URL not set, winners are only selected through the admin endpoint")
	}
}

// runScheduler runs job once at startup and then every interval. Only the
// instance holding the named lock runs a given tick.
func (app *application) runScheduler(name string, interval time.Duration, job func(ctx context.Context) error) {
	app.schedulersDone.Add(1)
	go func() {
		defer app.schedulersDone.Done()

		tick := func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			ran, err := lock.Run(ctx, app.locker, name, app.config.LockTTL, job)
			if err != nil {
				app.logger.Printf("Scheduler: error during %s: %v", name, err)
				return
			}
			if !ran {
				app.logger.Printf("Scheduler: %s is running elsewhere, skipping", name)
			}
		}

		tick()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		app.logger.Printf("Scheduler %s started. Will run every %s.", name, interval.String())

		for {
			select {
			case <-ticker.C:
				tick()
			case <-app.shutdownChan:
				app.logger.Printf("Scheduler %s: received shutdown signal. Stopping...", name)
				return
			}
		}
	}()
}

func (app *application) serve() error {
	app.logger.Printf("Starting server on %s", app.server.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case serveErr = <-errChan:
		app.logger.Printf("Server error: %v", serveErr)
	case sig := <-quit:
		app.logger.Printf("Received signal %s. Shutting down server...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app.logger.Println("Signaling background workers to stop...")
	close(app.shutdownChan)

	done := make(chan struct{})
	go func() {
		app.schedulersDone.Wait()
		close(done)
	}()
	select {
	case <-done:
		app.logger.Println("Schedulers stopped.")
	case <-time.After(10 * time.Second):
		app.logger.Println("Schedulers did not stop in time.")
	}

	if app.consumer != nil {
		if err := app.consumer.Stop(); err != nil {
			app.logger.Printf("Error closing payment relay: %v", err)
		}
	}
	if app.telegram != nil {
		app.telegram.Stop()
	}

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Printf("Graceful server shutdown failed: %v", err)
	} else {
		app.logger.Println("Server gracefully stopped.")
	}

	app.logger.Println("Application shut down complete.")
	return serveErr
}

func (app *application) close() {
	if app.producer != nil {
		if err := app.producer.Close(); err != nil {
			app.logger.Printf("Error closing Kafka producer: %v", err)
		}
	}
	if app.locker != nil {
		if err := app.locker.Close(); err != nil {
			app.logger.Printf("Error closing locker: %v", err)
		}
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Printf("Error closing Redis client: %v", err)
		}
	}
	switch {
	case app.store != nil:
		if err := app.store.Close(); err != nil {
			app.logger.Printf("Error closing store: %v", err)
		}
	case app.db != nil:
		if err := app.db.Close(); err != nil {
			app.logger.Printf("Error closing database: %v", err)
		}
	}
}
