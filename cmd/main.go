/**
 * @description
 * This is the main entry point for the payments service. It loads configuration, connects to
 * PostgreSQL, Redis and RabbitMQ, builds the processor and collaborator clients, wires the
 * payment, escrow, payout and reconciliation services together and starts the HTTP server,
 * the payout worker and the scheduled sweeps.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: vendor payout leases across instances.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/processor, pkg/bookingclient, pkg/complianceclient, pkg/rabbitmq: external systems.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kamalraji/plan-it-together-sub016/internal/api"
	"github.com/kamalraji/plan-it-together-sub016/internal/app"
	"github.com/kamalraji/plan-it-together-sub016/internal/config"
	"github.com/kamalraji/plan-it-together-sub016/internal/store"
	"github.com/kamalraji/plan-it-together-sub016/pkg/bookingclient"
	"github.com/kamalraji/plan-it-together-sub016/pkg/complianceclient"
	"github.com/kamalraji/plan-it-together-sub016/pkg/logger"
	"github.com/kamalraji/plan-it-together-sub016/pkg/processor"
	rmrabbit "github.com/kamalraji/plan-it-together-sub016/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	zlog, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = zlog.Sync() }()
	for _, warning := range cfg.Warnings {
		zlog.Warn("configuration adjusted", zap.String("detail", warning))
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		zlog.Fatal("internal api key must be configured", zap.String("env", "INTERNAL_API_KEY"))
	}
	zlog.Info("starting payments service", zap.String("port", cfg.ServerPort), zap.String("env", cfg.Env))

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal("database url parse failed", zap.Error(err))
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		zlog.Fatal("database connection failed", zap.Error(err))
	}
	defer dbpool.Close()
	zlog.Info("database connected")
	repository := store.NewPostgresRepository(dbpool)

	lease := vendorLease(cfg, zlog)

	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, zlog)
	if err != nil {
		zlog.Warn("rabbitmq producer unavailable; events will only be logged", zap.Error(err))
		producer = &rmrabbit.EventProducerFallback{Logger: zlog}
	} else {
		producer = rabbitProducer
		zlog.Info("rabbitmq producer connected")
	}
	defer producer.Close()

	if strings.TrimSpace(cfg.StripeSecretKey) == "" {
		zlog.Warn("stripe secret key missing; processor calls will fail", zap.String("env", "STRIPE_SECRET_KEY"))
	}
	stripeClient := processor.NewClient(processor.Options{
		SecretKey: cfg.StripeSecretKey,
		BaseURL:   cfg.StripeAPIBaseURL,
		Timeout:   cfg.ProcessorTimeout,
	}, zlog)
	verifier := processor.NewWebhookVerifier(cfg.StripeWebhookSecret, cfg.WebhookTolerance)

	bookings := bookingclient.NewClient(cfg.BookingServiceURL, cfg.InternalAPIKey, cfg.CollaboratorTimeout)
	documents := complianceclient.NewClient(cfg.ComplianceServiceURL, cfg.InternalAPIKey, cfg.CollaboratorTimeout)

	tiers := cfg.CommissionTiers
	if len(tiers) == 0 {
		tiers = app.DefaultCommissionTiers()
	}
	commission, err := app.NewCommissionCalculator(tiers)
	if err != nil {
		zlog.Fatal("commission configuration invalid", zap.Error(err))
	}
	compliance := app.NewComplianceChecker(documents)

	payoutSignal := app.NewPayoutSignal()
	payouts := app.NewPayoutScheduler(
		repository,
		repository,
		compliance,
		stripeClient,
		lease,
		repository,
		payoutSignal,
		producer,
		cfg.EventsExchange,
		app.PayoutConfig{
			MaxRetries:  cfg.PayoutMaxRetries,
			BaseBackoff: cfg.PayoutBaseBackoff,
			MaxBackoff:  cfg.PayoutMaxBackoff,
			Workers:     cfg.PayoutWorkers,
			LeaseTTL:    cfg.PayoutLeaseTTL,
		},
		zlog,
	)
	escrow := app.NewEscrowLedger(repository, repository, bookings, commission, payoutSignal, producer, cfg.EventsExchange, zlog)
	payments := app.NewPaymentService(
		repository,
		repository,
		repository,
		bookings,
		stripeClient,
		commission,
		escrow,
		payouts,
		producer,
		cfg.EventsExchange,
		app.PaymentConfig{
			RequiresActionTTL:    cfg.RequiresActionTTL,
			ProcessingStaleAfter: cfg.ProcessingStaleAfter,
			SweepBatchSize:       cfg.SweepBatchSize,
			StatusQueryBackoff:   time.Second,
		},
		zlog,
	)
	reconciler := app.NewReconciler(repository, payments, payouts, zlog)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	worker := app.NewPayoutWorker(payouts, payoutSignal, zlog)
	go worker.Run(rootCtx)
	payoutSignal.Notify()

	scheduler := app.NewScheduler(app.NewJobs(payouts, payments, zlog, cfg), zlog, cfg)
	scheduler.Start()

	bookingConsumer := app.NewBookingEventConsumer(payments, escrow, zlog)
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL, zlog)
	if err != nil {
		zlog.Warn("rabbitmq consumer unavailable; booking events will not be consumed", zap.Error(err))
	} else {
		defer rabbitConsumer.Close()
		bindings := map[string]rmrabbit.Handler{
			app.RoutingBookingMilestoneDone: bookingConsumer.HandleMilestoneCompleted,
			app.RoutingBookingCancelled:     bookingConsumer.HandleBookingCancelled,
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.BookingEventQueue, bindings); err != nil {
			zlog.Fatal("booking event consumer start failed", zap.Error(err))
		}
	}

	handlers := api.NewHandlers(payments, escrow, payouts, compliance, zlog)
	webhook := api.NewWebhookHandler(verifier, reconciler, zlog)
	router := api.Routes(handlers, webhook, api.RouterConfig{
		Auth: api.AuthConfig{
			JWKSURL:  cfg.JWKSURL,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		},
		Keys:           api.NewJWKSCache(cfg.JWKSURL),
		InternalAPIKey: cfg.InternalAPIKey,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookLimiter: api.NewClientRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, 10*time.Minute),
	}, zlog)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(zlog.Named("http")),
	}

	go func() {
		zlog.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	zlog.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zlog.Error("http shutdown failed", zap.Error(err))
	}
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		zlog.Warn("scheduled jobs still running at shutdown")
	}
	cancelRoot()

	zlog.Info("shutdown complete")
}

// vendorLease uses Redis when it is reachable and falls back to an in-process lease, which is
// only safe with a single instance.
func vendorLease(cfg config.Config, zlog *zap.Logger) app.VendorLease {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		zlog.Warn("redis url missing; payout leases are local to this instance", zap.String("env", "REDIS_URL"))
		return app.NewLocalVendorLease()
	}
	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		zlog.Warn("redis url parse failed; payout leases are local to this instance", zap.Error(err))
		return app.NewLocalVendorLease()
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		zlog.Warn("redis ping failed; payout leases are local to this instance", zap.Error(err))
		_ = client.Close()
		return app.NewLocalVendorLease()
	}
	zlog.Info("redis connected")
	return app.NewRedisVendorLease(client, cfg.PayoutLeasePrefix)
}
