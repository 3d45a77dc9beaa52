package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/complyon/amlguard/api"
	"github.com/complyon/amlguard/internal/config"
	"github.com/complyon/amlguard/internal/countryrisk"
	"github.com/complyon/amlguard/internal/events"
	"github.com/complyon/amlguard/internal/screening"
	"github.com/complyon/amlguard/internal/tracing"
	"github.com/complyon/amlguard/internal/verification"
	"github.com/complyon/amlguard/internal/watchlist"
	"github.com/complyon/amlguard/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("AMLGUARD_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx)
	if err != nil {
		zapLogger.Fatal("Failed to set up tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	// External request cache: redis tier is optional, file tier always on
	var rdb redis.Cmdable
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			zapLogger.Warn("Redis unavailable, falling back to file cache only", zap.Error(err))
		} else {
			rdb = client
			defer client.Close()
		}
	}

	httpClient := &http.Client{Timeout: cfg.Watchlist.RequestTimeout}

	// Country risk map builder over the three dataset fetchers
	snapshots := countryrisk.NewSnapshotStore(cfg.Data.Dir)
	riskLogger := logger.NewNamedSugar(zapLogger, "countryrisk")
	builder := countryrisk.NewBuilder(
		countryrisk.NewBaselFetcher(httpClient, snapshots, riskLogger),
		countryrisk.NewFATFFetcher(httpClient, snapshots, riskLogger),
		countryrisk.NewEUListFetcher(httpClient, snapshots, riskLogger),
		snapshots,
		riskLogger,
		countryrisk.BuilderConfig{
			MinCountries:    cfg.RiskMap.MinCountries,
			MaxSnapshotAge:  cfg.RiskMap.MaxSnapshotAge,
			RebuildInterval: cfg.RiskMap.RebuildInterval,
		},
	)
	go builder.Run(ctx)

	// Watchlist gateways share one cache and one fallback store
	cache := watchlist.NewRequestCache(rdb, cfg.Data.CacheDir, logger.NewNamedSugar(zapLogger, "cache"))
	fallback := watchlist.NewFallbackStore(cfg.Data.Dir, logger.NewNamedSugar(zapLogger, "fallback"))
	gateways := watchlist.NewDefaultGateways(httpClient, cache, fallback,
		logger.NewNamedSugar(zapLogger, "watchlist"),
		watchlist.GatewayConfig{
			CacheTTL:       cfg.Watchlist.CacheTTL,
			RequestTimeout: cfg.Watchlist.RequestTimeout,
		},
	)

	sourceGateways := make([]screening.SourceGateway, 0, len(gateways))
	for _, gw := range gateways {
		sourceGateways = append(sourceGateways, gw)
	}
	screener := screening.NewScreener(
		sourceGateways,
		screening.NewFuzzyMatcher(),
		logger.NewNamedSugar(zapLogger, "screening"),
		screening.Thresholds{
			PEP:       cfg.Screening.PEPThreshold,
			Sanctions: cfg.Screening.SanctionsThreshold,
			Exact:     cfg.Screening.ExactThreshold,
		},
	)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic, logger.NewNamedSugar(zapLogger, "events"))
		defer kp.Close()
		publisher = kp
	}

	orchestrator := verification.NewOrchestrator(screener, builder, publisher,
		logger.NewNamedSugar(zapLogger, "verification"))

	server := api.NewServer(zapLogger, orchestrator, builder, cfg.Server.RateLimit)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Handler(),
	}

	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("API server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
