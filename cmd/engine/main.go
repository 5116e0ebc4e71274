package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge/compliance-engine/internal/infrastructure/cache"
	"github.com/carebridge/compliance-engine/internal/infrastructure/clinical"
	"github.com/carebridge/compliance-engine/internal/infrastructure/config"
	"github.com/carebridge/compliance-engine/internal/infrastructure/database"
	"github.com/carebridge/compliance-engine/internal/infrastructure/telemetry"
	"github.com/carebridge/compliance-engine/internal/metrics"
	auditsvc "github.com/carebridge/compliance-engine/internal/service/audit"
	"github.com/carebridge/compliance-engine/internal/service/authz"
	consentsvc "github.com/carebridge/compliance-engine/internal/service/consent"
	dsrsvc "github.com/carebridge/compliance-engine/internal/service/dsr"
	"github.com/carebridge/compliance-engine/internal/service/legalhold"
	"github.com/carebridge/compliance-engine/internal/service/retention"
)

const sweepLeaseKey = "retention:sweep:lease"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("engine exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	provider, err := telemetry.Initialize(ctx, &telemetry.Config{
		ServiceName:    "compliance-engine",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		ExportTimeout:  30 * time.Second,
		BatchTimeout:   5 * time.Second,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	reg, err := metrics.NewRegistry(provider.Meter())
	if err != nil {
		return err
	}

	pool, err := database.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(&cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	policies, err := cfg.RetentionPolicies()
	if err != nil {
		return err
	}

	txManager := database.NewTxManager(pool)
	consentStore := database.NewConsentStore(pool)
	requestStore := database.NewRequestStore(pool)
	auditStore := database.NewAuditStore(pool)
	legalHolds := database.NewLegalHoldStore(pool)
	restrictions := database.NewRestrictionStore(pool)

	clinicalClient := clinical.NewClient(clinical.Config{
		BaseURL: cfg.Clinical.BaseURL,
		APIKey:  cfg.Clinical.APIKey,
		Timeout: cfg.Clinical.Timeout,
	}, logger)

	recorder := auditsvc.NewRecorder(auditStore, logger, reg)
	policy := authz.NewRolePolicy()

	consentManager := consentsvc.NewManager(logger, consentStore, recorder, txManager, policy, reg)
	holdManager := legalhold.NewManager(logger, legalHolds, policy)

	processor := dsrsvc.NewProcessor(
		logger,
		dsrsvc.Config{
			SLA:                 cfg.SLA(),
			CollaboratorTimeout: cfg.DSR.CollaboratorTimeout,
			PortabilityFormat:   cfg.DSR.PortabilityFormat,
		},
		requestStore,
		recorder,
		txManager,
		policy,
		reg,
		clinicalClient,
		holdManager,
		clinicalClient,
		clinicalClient,
		clinicalClient,
		restrictions,
	)

	lease := cache.NewSweepLease(redisClient, logger, sweepLeaseKey, cfg.Retention.LeaseTTL)

	scheduler, err := retention.NewScheduler(
		logger,
		retention.Config{
			Workers:        cfg.Retention.Workers,
			GatewayRPS:     cfg.Retention.GatewayRPS,
			GatewayTimeout: cfg.Retention.GatewayTimeout,
			Interval:       cfg.Retention.SweepInterval,
		},
		policies,
		consentStore,
		requestStore,
		holdManager,
		clinicalClient,
		recorder,
		txManager,
		lease,
		reg,
	)
	if err != nil {
		return err
	}

	logger.Info("compliance engine starting",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.Int("retention_policies", len(policies)),
	)

	go scheduler.Start(ctx)
	go expireLoop(ctx, logger, consentManager)
	go intakeLoop(ctx, logger, processor)

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping")
	return nil
}

// intakeLoop drains pending data-subject requests. Requests left IN_PROGRESS
// by a retryable failure are picked up again through manual processing.
func intakeLoop(ctx context.Context, logger *zap.Logger, processor *dsrsvc.Processor) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, err := processor.ProcessPending(ctx, 100)
			if err != nil {
				logger.Error("pending request drain failed", zap.Error(err))
				continue
			}
			if processed > 0 {
				logger.Info("processed pending requests", zap.Int("count", processed))
			}
		}
	}
}

// expireLoop transitions consents whose expiry date has passed. Runs hourly;
// a missed pass is caught up by the next one.
func expireLoop(ctx context.Context, logger *zap.Logger, manager *consentsvc.Manager) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := manager.ExpireDue(ctx, time.Now().UTC())
			if err != nil {
				logger.Error("consent expiry pass failed", zap.Error(err))
				continue
			}
			if expired > 0 {
				logger.Info("expired consents", zap.Int("count", expired))
			}
		}
	}
}
