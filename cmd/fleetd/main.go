package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/hostforge/fleetd/internal/api"
	"github.com/hostforge/fleetd/internal/capacity"
	"github.com/hostforge/fleetd/internal/config"
	"github.com/hostforge/fleetd/internal/events"
	"github.com/hostforge/fleetd/internal/health"
	"github.com/hostforge/fleetd/internal/registry"
	"github.com/hostforge/fleetd/internal/storage"
	"github.com/hostforge/fleetd/internal/sweep"
)

func main() {
	fs := flag.NewFlagSet("fleetd", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to yaml config file")
	fs.String("http_addr", ":8080", "HTTP API listen address")
	fs.String("metrics_addr", ":9090", "Prometheus metrics listen address")
	fs.String("badger_path", "./data/badger", "Badger DB path")
	fs.String("nats_url", "nats://localhost:4222", "NATS server URL")
	fs.Bool("trace", false, "enable stdout trace exporter")
	_ = fs.Parse(os.Args[1:])

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load(*cfgPath, fs)
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	if trace, _ := fs.GetBool("trace"); trace {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			log.Fatal("trace exporter init failed", zap.Error(err))
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		defer tp.Shutdown(context.Background())
	}

	store, err := storage.NewBadgerStore(cfg.BadgerPath)
	if err != nil {
		log.Fatal("open badger store failed", zap.Error(err))
	}
	defer store.Close()

	pub, err := events.NewNATSPublisher(cfg.NATSURL, log)
	if err != nil {
		log.Fatal("nats connect failed", zap.Error(err))
	}
	defer pub.Close()

	nodes := registry.New(store, log)
	reservations := capacity.New(store, capacity.Config{
		DefaultTTL: cfg.DefaultReservationTTL,
		MaxTTL:     cfg.MaxReservationTTL,
	}, log)
	heartbeats := health.New(store, health.Config{
		Thresholds:      cfg.HealthThresholds(),
		TrendHysteresis: cfg.TrendHysteresis,
		StaleTimeout:    cfg.HeartbeatStaleTimeout,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// The two reconciliation sweeps are independent failure domains: each
	// runs its own loop and neither can halt the other.
	expirySweep := sweep.NewRunner("reservation-expiry", cfg.ReservationExpiryInterval,
		sweep.Batched(reservations.ExpireStale, cfg.SweepBatchLimit, cfg.SweepBatchPause, log, "reservation-expiry"),
		log)
	staleSweep := sweep.NewRunner("stale-node", cfg.StaleNodeInterval,
		sweep.Batched(heartbeats.CheckStaleNodes, cfg.SweepBatchLimit, cfg.SweepBatchPause, log, "stale-node"),
		log)
	dispatcher := events.NewDispatcher(store, pub, cfg.OutboxInterval, cfg.SweepBatchLimit, log)

	wg.Add(3)
	go func() { defer wg.Done(); expirySweep.Run(ctx) }()
	go func() { defer wg.Done(); staleSweep.Run(ctx) }()
	go func() { defer wg.Done(); dispatcher.Run(ctx) }()

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewHandler(nodes, reservations, heartbeats, log),
	}
	go func() {
		log.Info("HTTP API listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http listen failed", zap.Error(err))
		}
	}()

	metricsMux := http.NewServeMux()
	api.RegisterMetrics(metricsMux)
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics shutdown", zap.Error(err))
	}
	wg.Wait()
	log.Info("shutdown complete")
}
