package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"salonbook/internal/api"
	"salonbook/internal/availability"
	"salonbook/internal/booking"
	"salonbook/internal/calendar"
	"salonbook/internal/config"
	"salonbook/internal/database"
	"salonbook/internal/domain"
	"salonbook/internal/events"
	"salonbook/internal/export"
	"salonbook/internal/logging"
	"salonbook/internal/metrics"
	"salonbook/internal/notify"
	"salonbook/internal/postgres"
	"salonbook/internal/reminder"
	"salonbook/internal/repository"
	"salonbook/internal/retry"
	"salonbook/internal/service"
	"salonbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver, err := calendar.NewResolver(cfg.Salon.Timezone)
	if err != nil {
		return fmt.Errorf("salon timezone: %w", err)
	}

	store, sqliteDB, err := initStore(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := initCache(redisClient, &logger)

	bus, forwarder := initEvents(cfg, &logger)
	if forwarder != nil {
		forwarder.Start()
		defer forwarder.Stop()
	}

	dispatcher := initDispatcher(ctx, cfg, resolver, &logger)
	notifications := worker.NewNotificationWorker(store, dispatcher,
		retry.Policy{
			MaxRetries:   cfg.Notifications.Worker.MaxRetries,
			InitialDelay: cfg.Notifications.Worker.InitialDelay,
			MaxDelay:     cfg.Notifications.Worker.MaxDelay,
		},
		&logger,
		worker.WithRedis(redisClient),
		worker.WithPolling(cfg.Notifications.Worker.PollInterval, cfg.Notifications.Worker.BatchSize),
		worker.WithLease(cfg.Notifications.Worker.Lease),
	)

	guard := booking.NewGuard(store, retry.Policy{
		MaxRetries:   cfg.Booking.MaxAttempts,
		InitialDelay: cfg.Booking.RetryDelay,
		MaxDelay:     cfg.Booking.MaxRetryDelay,
	}, &logger)
	calc := availability.NewCalculator(resolver, store, &logger).WithCache(cache, cfg.Salon.SlotCacheTTL)

	appointments := service.NewAppointmentService(store, guard, resolver, &logger,
		service.WithSlotCache(cache),
		service.WithEventBus(bus),
		service.WithSignaler(notifications),
		service.WithNotifications(cfg.Notifications.Enabled),
	)
	catalog := service.NewCatalogService(store, &logger)
	stylists := service.NewStylistService(store, store, calc, resolver, &logger)
	users := service.NewUserService(store, &logger)

	var background sync.WaitGroup
	goBackground := func(fn func(context.Context)) {
		background.Add(1)
		go func() {
			defer background.Done()
			fn(ctx)
		}()
	}

	if cfg.Notifications.Enabled {
		goBackground(notifications.Start)
	}
	if cfg.Reminders.Enabled {
		scheduler := reminder.NewScheduler(store, notifications, cfg.Reminders.Interval, cfg.Reminders.Window, &logger)
		goBackground(scheduler.Start)
	}
	if sqliteDB != nil {
		goBackground(database.NewBackupService(sqliteDB, cfg.Backup, &logger).Start)
	}

	deps := api.Deps{
		Appointments: appointments,
		Catalog:      catalog,
		Stylists:     stylists,
		Users:        users,
		Exporter:     export.NewScheduleExporter(store, resolver, cfg.Exports.Path, &logger),
		Names:        store,
		Limiter:      cache,
		Health:       store.Ping,
	}
	httpServer := api.NewHTTPServer(cfg.API, deps, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, api.NewAvailabilityService(stylists, catalog), cache, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	startMetrics(ctx, cfg, &logger)

	err = startServers(ctx, grpcServer, httpServer, cfg, &logger)
	stop()
	background.Wait()
	return err
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// initStore opens the configured backend. The sqlite handle is returned
// separately for the backup service.
func initStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.Store, *database.DB, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.Database, logger)
		if err != nil {
			logger.Error().Err(err).Str("host", cfg.Database.Postgres.Host).Msg("init postgres")
			return nil, nil, err
		}
		return store, nil, nil
	default:
		db, err := database.NewDB(cfg.Database.Path, logger, database.WithBusyTimeout(cfg.Database.BusyTimeout))
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, nil, err
		}
		return db, db, nil
	}
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := redisClient.Ping(pingCtx).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initCache returns the shared slot cache and rate limiter. Without Redis
// every instance keeps its own counters.
func initCache(client *redis.Client, logger *zerolog.Logger) repository.Cache {
	memory := repository.NewMemoryCache()
	if client == nil {
		return memory
	}
	return repository.NewFailoverCache(repository.NewRedisCache(client), memory, logger)
}

func initEvents(cfg *config.Config, logger *zerolog.Logger) (*events.EventBus, *events.KafkaForwarder) {
	bus := events.NewEventBus()
	if len(cfg.Kafka.Brokers) == 0 {
		return bus, nil
	}
	forwarder := events.NewKafkaForwarder(events.NewKafkaWriter(cfg.Kafka), 0, logger)
	forwarder.Attach(bus)
	logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka forwarding enabled")
	return bus, forwarder
}

func initDispatcher(ctx context.Context, cfg *config.Config, resolver *calendar.Resolver, logger *zerolog.Logger) *notify.Dispatcher {
	var email notify.EmailSender
	if sg := notify.NewSendGridSender(cfg.Notifications.SendGrid.APIKey, cfg.Notifications.FromEmail, cfg.Notifications.FromName, logger); sg != nil {
		email = sg
	} else {
		logger.Warn().Msg("sendgrid api key not set, emails are logged only")
		email = notify.NewStubEmailSender(logger)
	}

	var opts []notify.DispatcherOption
	alerter, err := notify.NewStaffAlerter(cfg.Notifications.Telegram, resolver, logger)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("telegram init failed, continuing without staff alerts")
	case alerter != nil:
		opts = append(opts, notify.WithStaffAlerts(alerter))
	}

	if cfg.Google.CalendarEnabled {
		mirror, err := notify.NewCalendarMirror(ctx, cfg.Google.CredentialsFile, cfg.Google.CalendarID, resolver, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("google calendar init failed, continuing without calendar mirror")
		} else {
			opts = append(opts, notify.WithCalendarMirror(mirror))
			logger.Info().Str("calendar_id", cfg.Google.CalendarID).Msg("google calendar connected")
		}
	}

	return notify.NewDispatcher(email, resolver, logger, opts...)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	ev := logger.Info().Int("http_port", cfg.API.HTTP.Port)
	if grpcServer != nil {
		ev = ev.Str("grpc_addr", grpcServer.Addr())
	}
	ev.Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
