package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chainledger/chainledger/internal/adapters/broker"
	"github.com/chainledger/chainledger/internal/api/handlers"
	"github.com/chainledger/chainledger/internal/api/routes"
	"github.com/chainledger/chainledger/internal/domain/services/liquidator"
	"github.com/chainledger/chainledger/internal/domain/services/notification"
	"github.com/chainledger/chainledger/internal/domain/services/pricing"
	"github.com/chainledger/chainledger/internal/domain/services/reconciliation"
	"github.com/chainledger/chainledger/internal/explorer"
	"github.com/chainledger/chainledger/internal/infrastructure/cache"
	"github.com/chainledger/chainledger/internal/infrastructure/config"
	"github.com/chainledger/chainledger/internal/infrastructure/database"
	"github.com/chainledger/chainledger/internal/infrastructure/repositories"
	"github.com/chainledger/chainledger/internal/workers/block_worker"
	"github.com/chainledger/chainledger/internal/workers/liquidation_worker"
	"github.com/chainledger/chainledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}
	defer log.Sync()

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("Failed to close database connection", "error", err)
		}
	}()

	if err := database.RunMigrations(cfg.Database.URL); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Explorer facades, one per enabled chain
	watermark := explorer.NewWatermarkTracker(redisClient, cfg.Explorer.CachePrefix, log)
	explorers, streams := buildExplorers(ctx, cfg, watermark, log)

	// Repositories
	liquidationRepo := repositories.NewLiquidationRepository(db, log)
	walletRepo := repositories.NewWalletRepository(db, log)
	withdrawRepo := repositories.NewWithdrawRepository(db, log)

	// Services
	notifier := notification.NewAdminNotifier(cfg.Notification, log)
	prices := pricing.NewService(redisClient, log)
	externalBroker := broker.NewClient(cfg.Broker, log)
	internalVenue := broker.NewInternalVenue(db, log)

	creator, err := liquidator.NewCreator(liquidationRepo, prices, notifier, cfg.Liquidator, log)
	if err != nil {
		log.Fatal("Failed to build liquidation creator", "error", err)
	}
	dispatcher := liquidator.NewDispatcher(liquidationRepo, externalBroker, internalVenue, notifier, cfg.Liquidator, log)
	poller := liquidator.NewPoller(liquidationRepo, externalBroker, internalVenue, cfg.Liquidator, log)
	processor := liquidator.NewProcessor(liquidationRepo, walletRepo, notifier, cfg.Liquidator, log)
	cleanup := liquidator.NewCleanup(liquidationRepo, log)
	intake := liquidator.NewService(liquidationRepo, log)

	reconciler := reconciliation.NewWithdrawDiffReconciler(withdrawRepo, notifier, cfg.Reconciliation, log)
	if !cfg.Reconciliation.Enabled {
		reconciler = nil
	}

	// Workers
	liquidationWorker := liquidation_worker.NewWorker(creator, dispatcher, poller, processor, cleanup, cfg.Liquidator, log)
	go liquidationWorker.Start(ctx)

	var chainRunners []block_worker.ChainRunner
	for name, exp := range explorers {
		interval := time.Duration(cfg.Explorer.Chains[strings.ToLower(name)].FetchInterval) * time.Second
		chainRunners = append(chainRunners, block_worker.ChainRunner{Explorer: exp, Interval: interval})
	}
	blockWorker := block_worker.NewWorker(chainRunners, reconciler, log)
	go blockWorker.Start(ctx)

	// HTTP server
	healthHandler := handlers.NewHealthHandler(db, redisClient)
	explorerHandler := handlers.NewExplorerHandler(explorers, log)
	liquidationHandler := handlers.NewLiquidationHandler(intake, liquidationRepo, log)
	router := routes.Setup(cfg, healthHandler, explorerHandler, liquidationHandler, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	liquidationWorker.Stop()
	blockWorker.Stop()
	for _, stream := range streams {
		stream.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
	}
	log.Info("Shutdown complete")
}

// buildExplorers wires one aggregation facade per enabled chain: HTTP
// providers in configured failover order, preceded by a websocket head
// stream when one is configured. The map is keyed by the uppercase chain
// name, the form handlers and policies use; viper lowercases config keys.
func buildExplorers(ctx context.Context, cfg *config.Config, watermark *explorer.WatermarkTracker, log *logger.Logger) (map[string]*explorer.Interface, []*explorer.WSBlockHeadProvider) {
	explorers := make(map[string]*explorer.Interface)
	var streams []*explorer.WSBlockHeadProvider

	for name, chainCfg := range cfg.Explorer.Chains {
		if !chainCfg.Enabled {
			continue
		}
		policy, ok := explorer.Policies[strings.ToUpper(name)]
		if !ok {
			log.Warn("No policy for configured chain, skipping", "chain", name)
			continue
		}

		var providers []explorer.Provider
		if chainCfg.WebSocketURL != "" {
			stream := explorer.NewWSBlockHeadProvider(
				"ws-head", name, chainCfg.WebSocketURL, "", extractHeightField, log)
			stream.Start(ctx)
			streams = append(streams, stream)
			providers = append(providers, stream)
		}
		for _, providerCfg := range chainCfg.Providers {
			providers = append(providers, explorer.NewHTTPProvider(explorer.HTTPProviderConfig{
				Name:      providerCfg.Name,
				Chain:     name,
				BaseURL:   providerCfg.BaseURL,
				APIKey:    providerCfg.APIKey,
				Header:    providerCfg.APIHeader,
				RateLimit: providerCfg.RateLimit,
				Timeout:   time.Duration(providerCfg.Timeout) * time.Second,
				Endpoints: explorer.DefaultEndpoints,
				Decoder:   explorer.DefaultDecoder(policy),
			}, log))
		}
		explorers[strings.ToUpper(name)] = explorer.NewInterface(policy, providers, watermark, log)
	}
	return explorers, streams
}

// extractHeightField reads the height out of a new-head stream message
func extractHeightField(message []byte) (int64, error) {
	var head struct {
		Height int64 `json:"height"`
	}
	if err := json.Unmarshal(message, &head); err != nil {
		return 0, err
	}
	return head.Height, nil
}
