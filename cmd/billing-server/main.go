// cmd/billing-server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"podpiska-billing/internal/access"
	"podpiska-billing/internal/api"
	"podpiska-billing/internal/checkout"
	awsclients "podpiska-billing/internal/common/aws"
	"podpiska-billing/internal/common/bepaid"
	"podpiska-billing/internal/common/clock"
	"podpiska-billing/internal/common/config"
	"podpiska-billing/internal/common/database"
	"podpiska-billing/internal/common/logger"
	"podpiska-billing/internal/common/observability"
	"podpiska-billing/internal/common/telegram"
	"podpiska-billing/internal/journal"
	"podpiska-billing/internal/models"
	"podpiska-billing/internal/notify"
	"podpiska-billing/internal/scheduler"
	"podpiska-billing/internal/settings"
	"podpiska-billing/internal/store"
	"podpiska-billing/internal/webhook"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting billing server...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		JaegerEndpoint: cfg.Observability.JaegerEndpoint,
	})
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()

	migrations := append(append([]string{}, store.Schema...), settings.Schema...)
	if err := pg.Migrate(ctx, migrations...); err != nil {
		zapLog.Fatal("schema migration failed", zap.Error(err))
	}
	zapLog.Info("PostgreSQL connected and migrated")

	// --- Redis ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	probes := map[string]api.Pinger{"postgres": pg, "redis": rdb}

	// --- Elasticsearch journal (optional) ---
	var events journal.Journal = journal.Nop{}
	if cfg.Database.Elasticsearch.Enabled() {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err == nil {
			err = es.Ping(ctx)
		}
		if err == nil {
			err = es.EnsureIndex(ctx, cfg.Database.Elasticsearch.Index)
		}
		if err != nil {
			zapLog.Warn("elasticsearch unavailable, billing journal disabled", zap.Error(err))
		} else {
			events = journal.NewElasticsearch(es.Client, cfg.Database.Elasticsearch.Index, log)
			probes["elasticsearch"] = es
			zapLog.Info("Elasticsearch journal enabled", zap.String("index", cfg.Database.Elasticsearch.Index))
		}
	}

	// --- Domain components ---
	defaults := models.Pricing{
		Price:      decimal.RequireFromString(cfg.Billing.Price),
		Currency:   cfg.Gateway.Currency,
		PeriodDays: cfg.Billing.PeriodDays,
	}
	settingsProvider := settings.NewPostgres(pg.DB, defaults, log)
	subscriptions := store.NewPostgres(pg.DB, log)

	gateway := bepaid.NewClient(&bepaid.Config{
		ShopID:      cfg.Gateway.ShopID,
		SecretKey:   cfg.Gateway.SecretKey,
		TestMode:    cfg.Gateway.TestMode,
		CheckoutURL: cfg.Gateway.CheckoutURL,
		ChargeURL:   cfg.Gateway.ChargeURL,
		Language:    cfg.Gateway.Language,
		Timeout:     config.GetDuration(cfg.Gateway.Timeout),
	}, log)

	bot := telegram.NewClient(&telegram.Config{
		BotToken:      cfg.Telegram.BotToken,
		APIURL:        cfg.Telegram.APIURL,
		RatePerSecond: cfg.Telegram.RatePerSecond,
		Timeout:       config.GetDuration(cfg.Telegram.Timeout),
	}, log)
	synchronizer := access.NewTelegramSynchronizer(bot, log)
	admins := access.NewAdminDirectory(cfg.Admins.IDs, subscriptions)

	notifyOpts := []notify.Option{}
	if cfg.Integrations.AWS.SES.Enabled {
		ses, err := awsclients.NewSESClient(ctx, cfg.Integrations.AWS.Region, cfg.Integrations.AWS.SES.FromEmail)
		if err != nil {
			zapLog.Warn("SES unavailable, receipts disabled", zap.Error(err))
		} else {
			notifyOpts = append(notifyOpts, notify.WithEmail(ses))
		}
	}
	if cfg.Integrations.AWS.SNS.Enabled {
		sns, err := awsclients.NewSNSClient(ctx, cfg.Integrations.AWS.Region, cfg.Integrations.AWS.SNS.TopicARN)
		if err != nil {
			zapLog.Warn("SNS unavailable, operator alerts disabled", zap.Error(err))
		} else {
			notifyOpts = append(notifyOpts, notify.WithAlerts(sns))
		}
	}
	notifier := notify.NewService(&notify.Config{ManagerLink: cfg.Telegram.ManagerLink}, bot, log, notifyOpts...)

	checkoutSvc := checkout.NewService(checkout.ServiceDependencies{
		Gateway:  gateway,
		Store:    subscriptions,
		Settings: settingsProvider,
		Journal:  events,
		Logger:   log,
	}, &checkout.Config{
		Description:     cfg.Gateway.Description,
		NotificationURL: cfg.Gateway.NotificationURL,
		ReturnURL:       cfg.Gateway.ReturnURL,
	})

	processor := webhook.NewProcessor(webhook.ProcessorDependencies{
		Store:    subscriptions,
		Settings: settingsProvider,
		Access:   synchronizer,
		Notifier: notifier,
		Journal:  events,
		Logger:   log,
	}, &webhook.Config{Channel: cfg.Telegram.ChannelID})

	var credentials *webhook.Credentials
	if cfg.Gateway.VerifyNotifications {
		credentials = &webhook.Credentials{ShopID: cfg.Gateway.ShopID, SecretKey: cfg.Gateway.SecretKey}
	}

	billing := scheduler.New(scheduler.Dependencies{
		Store:    subscriptions,
		Settings: settingsProvider,
		Gateway:  gateway,
		Access:   synchronizer,
		Admins:   admins,
		Notifier: notifier,
		Journal:  events,
		Lease:    scheduler.NewRedisLease(rdb.Client, cfg.Billing.LeaseKey, config.GetDuration(cfg.Billing.LeaseTTL), log),
		Recorder: obs,
		Clock:    clock.Real(),
		Logger:   log,
	}, scheduler.Config{
		Channel:        cfg.Telegram.ChannelID,
		Interval:       config.GetDuration(cfg.Billing.Interval),
		MaxConcurrency: cfg.Billing.MaxConcurrency,
		Description:    cfg.Gateway.Description,
	})

	handlers := api.NewHandlers(api.HandlerDependencies{
		Checkout: checkoutSvc,
		Store:    subscriptions,
		Settings: settingsProvider,
		Access:   synchronizer,
		Notifier: notifier,
		Journal:  events,
		Probes:   probes,
		Logger:   log,
	}, cfg.Telegram.ChannelID)

	server := &http.Server{
		Addr: cfg.Server.Address,
		Handler: api.NewRouter(api.RouterConfig{
			JWTSecret:   cfg.API.JWTSecret,
			CORSOrigins: cfg.Server.CORSOrigins,
		}, handlers, webhook.NewHandler(processor, credentials, log), log),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	// --- Start ---
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		billing.Run(ctx)
	}()

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zapLog.Info("Shutting down billing server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// An in-flight cycle finishes its current users before Run returns.
	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		zapLog.Warn("billing cycle did not finish before shutdown deadline")
	}
	zapLog.Info("Billing server stopped")
}
