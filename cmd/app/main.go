package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"raffle-engine/internal/common/cache"
	"raffle-engine/internal/common/config"
	apperrors "raffle-engine/internal/common/errors"
	"raffle-engine/internal/common/logger"
	"raffle-engine/internal/common/middleware"
	"raffle-engine/internal/common/validation"
	raffleHTTP "raffle-engine/internal/features/raffle/delivery/http"
	"raffle-engine/internal/features/raffle/events"
	"raffle-engine/internal/features/raffle/ledger"
	"raffle-engine/internal/features/raffle/randomness"
	"raffle-engine/internal/features/raffle/repository"
	memoryRepo "raffle-engine/internal/features/raffle/repository/memory"
	postgresRepo "raffle-engine/internal/features/raffle/repository/postgres"
	redisRepo "raffle-engine/internal/features/raffle/repository/redis"
	"raffle-engine/internal/features/raffle/royalty"
	raffleService "raffle-engine/internal/features/raffle/service"
	"raffle-engine/internal/features/raffle/settlement"
	"raffle-engine/internal/platform/chain"
	"raffle-engine/internal/platform/postgres"
	"raffle-engine/internal/platform/redis"
)

const (
	serviceName     = "raffle-engine"
	eventsStreamCap = 100_000
)

// healthChecker is implemented by the storage clients.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

func main() {
	cfg := config.Load()
	logger.Init(logger.Options{Service: serviceName, Debug: cfg.Debug, JSON: cfg.LogJSON})

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := validation.Register(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register validators")
	}

	logger.Info().
		Str("storage", cfg.Storage.Driver).
		Str("vrf_mode", cfg.VRF.Mode).
		Str("vrf_bus", cfg.VRF.Bus).
		Bool("debug", cfg.Debug).
		Msg("Starting raffle engine")

	ctx := context.Background()
	checks := map[string]healthChecker{}

	// Redis нужен для redis-хранилища, stream-шины, событий и кэша роялти
	var redisClient *redis.Client
	if cfg.Storage.Driver == config.StorageRedis || cfg.Redis.PublishEvents {
		rc, err := redis.Open(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rc.Close()
		redisClient = rc
		checks["redis"] = rc
	}

	var store repository.Store
	switch cfg.Storage.Driver {
	case config.StorageRedis:
		store = redisRepo.NewRedisRaffleRepository(redisClient.Client)
	case config.StoragePostgres:
		pg, err := postgres.Open(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pg.Close()
		if cfg.Postgres.AutoMigrate {
			if err := postgresRepo.Migrate(ctx, pg.DB); err != nil {
				logger.Fatal().Err(err).Msg("Failed to apply migrations")
			}
		}
		store = postgresRepo.NewPostgresRepository(pg.DB)
		checks["postgres"] = pg
	default:
		store = memoryRepo.NewMemoryRepository()
	}
	if err := store.InitCreateEnabled(ctx, cfg.Raffle.CreateEnabled); err != nil {
		logger.Fatal().Err(err).Msg("Failed to seed create-enabled flag")
	}

	flatFee, err := cfg.FlatFeeWei()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid flat fee")
	}

	simulated := chain.New()

	resolver := royalty.NewResolver(simulated, simulated, uint16(cfg.Raffle.MaxRoyaltyBps), logger.With("royalty"))
	if redisClient != nil {
		resolver.WithCache(cache.NewCacheService(redisClient), cfg.Redis.RoyaltyTTL)
	}

	settlementEngine := settlement.NewEngine(simulated, simulated, resolver, settlement.Params{
		FeePercent:   cfg.Raffle.PlatformFeePercent,
		FlatFee:      flatFee,
		FeeCollector: cfg.FeeCollectorAddress(),
		Engine:       cfg.EngineAddress(),
	}, logger.With("settlement"))
	ticketLedger := ledger.New(store, cfg.Raffle.MaxTickets)

	var bus randomness.Bus
	var streamBus *randomness.StreamBus
	if cfg.VRF.Bus == config.BusStream {
		consumer := fmt.Sprintf("%s-%s", serviceName, uuid.NewString()[:8])
		streamBus = randomness.NewStreamBus(redisClient.Client, consumer, logger.With("vrf_stream")).
			WithRetry(cfg.VRF.StreamClaimIdle, cfg.VRF.StreamMaxAttempts)
		bus = streamBus
	} else {
		bus = randomness.NewMemoryBus()
	}

	var oracle randomness.Oracle
	var localOracle *randomness.LocalOracle
	if cfg.VRF.Mode == config.OracleExternal {
		oracle = randomness.NewExternalOracle(logger.With("vrf_oracle"))
	} else {
		localOracle = randomness.NewLocalOracle(cfg.VRF.LocalDelay, logger.With("vrf_oracle"))
		oracle = localOracle
	}

	adapter := randomness.NewAdapter(oracle, store, bus, randomness.VRFRequest{
		KeyHash:          cfg.VRF.KeyHash,
		SubscriptionID:   cfg.VRF.SubscriptionID,
		Confirmations:    cfg.VRF.Confirmations,
		CallbackGasLimit: cfg.VRF.CallbackGasLimit,
		NumWords:         1,
	}, logger.With("vrf"))

	publishers := events.Multi{events.NewLogPublisher(logger.With("events"))}
	if cfg.Redis.PublishEvents && redisClient != nil {
		publishers = append(publishers, events.NewStreamPublisher(redisClient.Client, eventsStreamCap, logger.With("events")))
	}

	registry := raffleService.NewRegistry(store, ticketLedger, settlementEngine, adapter, resolver, publishers, raffleService.Settings{
		GracePeriod:   cfg.Raffle.GracePeriod,
		MaxRoyaltyBps: uint16(cfg.Raffle.MaxRoyaltyBps),
		Admins:        cfg.AdminAddresses(),
	}, logger.With("registry"))
	bus.Subscribe(registry.HandleFulfillment)

	if streamBus != nil {
		if err := streamBus.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start fulfillment consumer")
		}
		defer streamBus.Stop()
	}
	if localOracle != nil {
		defer localOracle.Stop()
	}

	var keeper *raffleService.Keeper
	if cfg.Keeper.Enabled {
		keeper = raffleService.NewKeeper(registry, store, raffleService.KeeperConfig{
			Interval:     cfg.Keeper.Interval,
			AutoRefund:   cfg.Keeper.AutoRefund,
			StalledAfter: cfg.Keeper.StalledAfter,
			GracePeriod:  cfg.Raffle.GracePeriod,
		}, logger.With("keeper"))
		keeper.Start()
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	httpLogger := logger.With("http")

	router.Use(middleware.RequestID())
	router.Use(middleware.ErrorHandler(httpLogger))
	router.Use(middleware.Logger(httpLogger, "/health", "/live", "/ready"))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Server.Origin}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Accept", middleware.HeaderCaller, middleware.HeaderSignature, middleware.HeaderTimestamp, middleware.HeaderNonce, middleware.HeaderOracleToken, middleware.HeaderRequestID}
	router.Use(cors.New(corsConfig))

	router.Use(middleware.ErrorResponder(httpLogger))
	router.Use(middleware.CallerIdentity(cfg.Auth.MaxSkew))

	var fulfiller raffleHTTP.Fulfiller
	if cfg.VRF.Mode == config.OracleExternal {
		fulfiller = adapter
	}

	v1 := router.Group("/api/v1")
	raffleHTTP.NewRaffleHandler(registry, fulfiller, cfg.VRF.OracleToken, httpLogger).RegisterRoutes(v1)
	if cfg.Debug {
		raffleHTTP.NewDevChainHandler(simulated, cfg.EngineAddress(), resolver, httpLogger).RegisterRoutes(v1)
		logger.Warn().Msg("Simulated chain routes enabled under /api/v1/dev/chain")
	}

	setupHealthRoutes(router, checks)
	router.NoRoute(func(c *gin.Context) {
		c.Error(apperrors.NewNotFoundError("route", c.Request.URL.Path))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Ждем сигнала для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if keeper != nil {
		keeper.Stop()
	}

	logger.Info().Msg("Server exited")
}

func setupHealthRoutes(router *gin.Engine, checks map[string]healthChecker) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"service":   serviceName,
		})
	})

	// Liveness
	router.GET("/live", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	// Readiness
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check.HealthCheck(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unready",
					"error":   name + " unavailable",
					"details": err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
			"service":   serviceName,
		})
	})
}
