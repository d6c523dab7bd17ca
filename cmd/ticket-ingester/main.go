package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/climbclub/ticketdesk/internal/ingestion"
	"github.com/climbclub/ticketdesk/internal/tickets"
	"github.com/climbclub/ticketdesk/pkg/config"
	"github.com/climbclub/ticketdesk/pkg/db"
	"github.com/climbclub/ticketdesk/pkg/instance"
	"github.com/climbclub/ticketdesk/pkg/logger"
	"github.com/climbclub/ticketdesk/pkg/metrics"
	"github.com/climbclub/ticketdesk/pkg/migrate"
	"github.com/climbclub/ticketdesk/pkg/pubsub"
)

const serviceKind = "ticket-ingester"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()
	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer pubsubClient.Close()

	registry := prometheus.NewRegistry()
	consumer, err := ingestion.NewConsumer(
		tickets.NewStore(dbClient.DB()),
		pubsubClient.TicketsSubscription(),
		cfg.GCS.BucketName,
		logg,
		metrics.NewOperationMetrics(registry),
	)
	requireResource(ctx, logg, "ticket consumer", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"serviceKind": serviceKind,
		"instance":    instance.ID(serviceKind),
		"env":         cfg.App.Env,
	})

	metricsServer := &http.Server{Addr: ":" + cfg.App.Port, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(runCtx, "metrics endpoint stopped", err)
		}
	}()
	defer func() { _ = metricsServer.Close() }()

	logg.Info(runCtx, "ticket ingester ready")
	if err := consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "ticket ingester stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "ticket ingester shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
