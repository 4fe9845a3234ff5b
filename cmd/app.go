package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/cache"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/compliance"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/config"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/events"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/fraud"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/providers"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/repository"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/service"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/telemetry"
)

// app holds the wired orchestrator and the connections it owns.
type app struct {
	orchestrator *service.Orchestrator
	closers      []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			telemetry.Logger.Warn("Error during shutdown", zap.Error(err))
		}
	}
}

type stores struct {
	transactions interfaces.TransactionRepository
	usage        interfaces.UsageAggregator
	analyses     interfaces.FraudRepository
	checks       interfaces.ComplianceRepository
	kyc          interfaces.KYCProvider
	sanctions    interfaces.SanctionsProvider
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	logger := telemetry.Logger

	st, err := a.openStores(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var (
		store     interfaces.Cache
		locker    interfaces.Locker
		blocklist interfaces.Blocklist
	)
	if cfg.RedisURL != "" {
		client, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		store = cache.NewRedisCache(client)
		locker = cache.NewRedisLocker(client)
		blocklist = cache.NewRedisBlocklist(client)
	} else {
		local, err := cache.NewLocalCache(0)
		if err != nil {
			a.Close()
			return nil, err
		}
		store = local
		locker = cache.NewLocalLocker()
		blocklist = cache.NewLocalBlocklist()
		logger.Warn("REDIS_URL not set, using in-process cache and locks")
	}

	// Unconfigured transports stay nil interfaces so the dispatcher skips them.
	var writer events.MessageWriter
	if cfg.KafkaBrokers != "" {
		w := &kafka.Writer{
			Addr:     kafka.TCP(strings.Split(cfg.KafkaBrokers, ",")...),
			Topic:    events.TopicStateChanged,
			Balancer: &kafka.Hash{},
		}
		a.closers = append(a.closers, w.Close)
		writer = w
	}
	var publisher events.Publisher
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL, nats.Name(cfg.ServiceName))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		a.closers = append(a.closers, func() error { nc.Close(); return nil })
		publisher = nc
	}

	rules, err := fraud.NewRuleStore(cfg.Fraud)
	if err != nil {
		a.Close()
		return nil, err
	}

	countries := compliance.DefaultCountries()
	for code, row := range cfg.Countries {
		countries[code] = row
	}

	a.orchestrator = service.NewOrchestrator(service.Dependencies{
		Transactions: st.transactions,
		Analyses:     st.analyses,
		Checks:       st.checks,
		Providers:    newRegistry(cfg),
		Fraud:        fraud.NewEngine(st.usage, blocklist, logger),
		Rules:        rules,
		Compliance:   compliance.NewGate(countries, st.kyc, st.sanctions, st.usage, logger),
		Blocklist:    blocklist,
		Cache:        store,
		Locker:       locker,
		Events:       events.NewDispatcher(writer, publisher, logger),
		Logger:       logger,
	}, service.Options{
		PaymentTTL:          cfg.PaymentTTL,
		ProviderTimeout:     cfg.ProviderTimeout,
		AnalysisTimeout:     cfg.AnalysisTimeout,
		RefundLockTTL:       cfg.RefundLockTTL,
		TransactionCacheTTL: cfg.TransactionCache,
		SweepBatchSize:      cfg.SweepBatchSize,
	})
	return a, nil
}

func (a *app) openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.DatabaseURL == "" {
		telemetry.Logger.Warn("DATABASE_URL not set, using in-memory store")
		mem := repository.NewMemoryStore()
		return &stores{
			transactions: mem,
			usage:        mem,
			analyses:     mem,
			checks:       mem,
			kyc:          mem,
			sanctions:    mem,
		}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := repository.InitDB(ctx, db); err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	txns := repository.NewTransactionRepository(db)
	return &stores{
		transactions: txns,
		usage:        txns,
		analyses:     repository.NewFraudRepository(db),
		checks:       repository.NewComplianceRepository(db),
		kyc:          repository.NewKYCRepository(db),
		sanctions:    repository.NewSanctionsRepository(db),
	}, nil
}

// newRedisClient accepts either a redis:// URL or a bare host:port.
func newRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}
	return client, nil
}

func newRegistry(cfg *config.Config) *providers.Registry {
	defaults := providers.DefaultConfigs()
	opts := cfg.HTTPClient.Options()
	creds := func(p models.Provider) providers.Credentials {
		return cfg.Provider(p).Credentials()
	}

	registry := providers.NewRegistry(
		providers.NewMpesa(defaults[models.ProviderMpesa], creds(models.ProviderMpesa), opts),
		providers.NewMTN(defaults[models.ProviderMTNMoney], creds(models.ProviderMTNMoney), opts),
		providers.NewOrange(defaults[models.ProviderOrangeMoney], creds(models.ProviderOrangeMoney), opts),
		providers.NewAirtel(defaults[models.ProviderAirtelMoney], creds(models.ProviderAirtelMoney), opts),
		providers.NewEcoCash(defaults[models.ProviderEcoCash], creds(models.ProviderEcoCash), opts),
	)

	for _, p := range models.Providers {
		if !cfg.Provider(p).Enabled {
			telemetry.Logger.Info("Provider disabled", zap.String("provider", string(p)))
		}
	}
	return registry
}
