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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/climbclub/ticketdesk/api/controllers/interactions"
	"github.com/climbclub/ticketdesk/api/routes"
	"github.com/climbclub/ticketdesk/internal/fulfillment"
	"github.com/climbclub/ticketdesk/internal/issues"
	"github.com/climbclub/ticketdesk/internal/orders"
	"github.com/climbclub/ticketdesk/internal/remediation"
	"github.com/climbclub/ticketdesk/internal/reports"
	"github.com/climbclub/ticketdesk/internal/tickets"
	helloassowebhook "github.com/climbclub/ticketdesk/internal/webhooks/helloasso"
	"github.com/climbclub/ticketdesk/pkg/config"
	"github.com/climbclub/ticketdesk/pkg/db"
	"github.com/climbclub/ticketdesk/pkg/discord"
	"github.com/climbclub/ticketdesk/pkg/helloasso"
	"github.com/climbclub/ticketdesk/pkg/logger"
	"github.com/climbclub/ticketdesk/pkg/metrics"
	"github.com/climbclub/ticketdesk/pkg/migrate"
	"github.com/climbclub/ticketdesk/pkg/redis"
	"github.com/climbclub/ticketdesk/pkg/storage/gcs"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	loc := cfg.App.Location()

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()
	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	gateway, err := helloasso.NewClient(cfg.HelloAsso, nil, nil)
	requireResource(ctx, logg, "helloasso client", err)

	chat, err := discord.New(cfg.Discord)
	requireResource(ctx, logg, "discord client", err)
	publicKey, err := discord.ParsePublicKey(cfg.Discord.PublicKey)
	requireResource(ctx, logg, "discord public key", err)

	content, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	requireResource(ctx, logg, "gcs", err)
	defer func() { _ = content.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	conn := dbClient.DB()
	store := tickets.NewStore(conn)
	ledger := orders.NewLedger(conn)
	tracker := issues.NewTracker(conn, ledger)
	panels := issues.NewPublisher(tracker, chat, cfg.Discord.OpsChannelID, logg)

	pipeline, err := fulfillment.NewService(fulfillment.ServiceParams{
		Gateway:   gateway,
		Inventory: store,
		Ledger:    ledger,
		Issues:    tracker,
		Panels:    panels,
		Messenger: chat,
		Content:   content,
		Logger:    logg,
		Metrics:   metrics.NewFulfillmentMetrics(registry),
		Config:    cfg.Fulfillment,
	})
	requireResource(ctx, logg, "fulfillment pipeline", err)

	remediator, err := remediation.NewHandler(remediation.HandlerParams{
		Tracker:  tracker,
		Ledger:   ledger,
		Releaser: store,
		Gateway:  gateway,
		Pipeline: pipeline,
		Panels:   panels,
		Logger:   logg,
		Metrics:  metrics.NewOperationMetrics(registry),
		Location: loc,
	})
	requireResource(ctx, logg, "remediation handler", err)

	exporter, err := reports.NewExporter(ledger, loc)
	requireResource(ctx, logg, "order exporter", err)

	guard, err := helloassowebhook.NewIdempotencyGuard(redisClient, cfg.Webhooks.IdempotencyTTL, "helloasso")
	requireResource(ctx, logg, "webhook idempotency guard", err)
	webhooks, err := helloassowebhook.NewService(helloassowebhook.ServiceParams{
		Processor: pipeline,
		Guard:     guard,
		Config:    cfg.Fulfillment,
		Logger:    logg,
	})
	requireResource(ctx, logg, "webhook service", err)

	interactionHandler, err := interactions.NewHandler(interactions.Params{
		PublicKey: publicKey,
		Actions:   remediator,
		Exporter:  exporter,
		Replier:   chat,
		Locker:    redisClient,
		Logger:    logg,
	})
	requireResource(ctx, logg, "interaction handler", err)

	addr := ":" + cfg.App.Port
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			DB:           dbClient,
			Redis:        redisClient,
			Webhooks:     webhooks,
			Interactions: interactionHandler,
			Issues:       tracker,
			Exporter:     exporter,
			Gatherer:     registry,
			HTTPMetrics:  metrics.NewHTTPMetrics(registry),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{"env": cfg.App.Env, "addr": addr})
	logg.Info(runCtx, "starting api server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(runCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-runCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		interactionHandler.Wait()
		logg.Info(shutdownCtx, "api server shut down gracefully")
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
