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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bloodlink/internal/audit"
	"bloodlink/internal/bloodbank"
	"bloodlink/internal/bloodbank/credential"
	bankmetrics "bloodlink/internal/bloodbank/metrics"
	"bloodlink/internal/platform/config"
	"bloodlink/internal/platform/httpserver"
	"bloodlink/internal/platform/logger"
	"bloodlink/internal/platform/metrics"
	"bloodlink/internal/storage/backends"
	"bloodlink/internal/storage/sqlstore"
)

const (
	serviceName     = "bloodlink"
	shutdownTimeout = 10 * time.Second
	// auditRetention bounds the audit trail kept in process when the
	// backend has no SQL table for it.
	auditRetention = 10_000
)

// main wires configuration, storage, audit delivery and the ops server.
// Business logic lives in internal/bloodbank.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bloodlink: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()

	backend, err := backends.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error("failed to close storage", zap.Error(err))
		}
	}()

	checks := map[string]httpserver.Check{}
	var sinks audit.Fanout
	if sqlBackend, ok := backend.(*sqlstore.Backend); ok {
		sinks = append(sinks, audit.NewSQLStore(sqlBackend.DB(), sqlBackend.Dialect()))
	} else {
		sinks = append(sinks, audit.NewBoundedInMemoryStore(auditRetention))
	}
	backend = metrics.InstrumentBackend(backend, metrics.NewStorageMetrics(reg, string(cfg.Storage.Driver)))
	if len(cfg.Audit.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafkaSink(audit.KafkaConfig{Brokers: cfg.Audit.KafkaBrokers, Topic: cfg.Audit.KafkaTopic})
		if err != nil {
			return err
		}
		defer kafka.Close()
		if err := kafka.EnsureTopic(ctx, 1, 1); err != nil {
			log.Warn("could not ensure audit topic", zap.String("topic", cfg.Audit.KafkaTopic), zap.Error(err))
		}
		sinks = append(sinks, kafka)
		checks["audit_kafka"] = kafka.Ping
	}
	publisher := audit.NewPublisher(sinks,
		audit.WithAsyncBuffer(cfg.Audit.Buffer),
		audit.WithPublisherLogger(log.Named("audit")),
	)
	// runs before the kafka client closes
	defer publisher.Close()

	svc, err := bloodbank.NewService(backend, credential.NewBcrypt(cfg.Security.BcryptCost),
		bloodbank.WithLogger(log.Named("bloodbank")),
		bloodbank.WithMetrics(bankmetrics.New(reg)),
		bloodbank.WithAuditPublisher(publisher),
		bloodbank.WithTxTimeout(cfg.Security.TxTimeout),
	)
	if err != nil {
		return err
	}
	checks["storage"] = svc.Ping

	if cfg.Seed {
		seeded, err := bloodbank.SeedDemo(ctx, svc)
		if err != nil {
			return fmt.Errorf("seed demo records: %w", err)
		}
		if seeded {
			log.Info("seeded demo records")
		}
	}

	srv := httpserver.New(cfg.OpsAddr, httpserver.NewOpsRouter(log.Named("ops"), reg, checks))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting bloodlink",
			zap.String("ops_addr", cfg.OpsAddr),
			zap.String("storage_driver", string(cfg.Storage.Driver)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
