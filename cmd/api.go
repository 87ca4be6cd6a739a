package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/mealbridge/services/dispatch/config"
	"example.com/mealbridge/services/dispatch/internal/api"
	"example.com/mealbridge/services/dispatch/internal/auth"
	"example.com/mealbridge/services/dispatch/internal/cache"
	"example.com/mealbridge/services/dispatch/internal/db"
	"example.com/mealbridge/services/dispatch/internal/messaging"
	"example.com/mealbridge/services/dispatch/internal/metrics"
	"example.com/mealbridge/services/dispatch/internal/repository"
	"example.com/mealbridge/services/dispatch/internal/search"
	"example.com/mealbridge/services/dispatch/internal/service"
	"example.com/mealbridge/services/dispatch/internal/tracing"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server that handles donor and agent requests`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	if err := db.Migrate(gormDB); err != nil {
		return err
	}

	redisCache, err := cache.NewRedisClient(cfg.Redis, cfg.Dispatch.CacheTTL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache, _ = cache.NewRedisClient(config.RedisConfig{Enabled: false}, 0)
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = tracing.NewDisabledTracer()
	}

	var searcher service.OfferSearcher
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	} else {
		searcher = elasticClient
	}

	var bus messaging.ServiceBusClient
	if cfg.Azure.QueueConnStr != "" {
		bus, err = messaging.NewServiceBusClient(cfg.Azure)
		if err != nil {
			return err
		}
		defer bus.Close()
	} else {
		log.Warn().Msg("Service Bus connection string not provided, offer events will not be published")
	}

	metricsCollector := metrics.NewMetrics()
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.ResetTokenTTL)

	accountRepo := repository.NewAccountRepository(gormDB)
	offerRepo := repository.NewOfferRepository(gormDB)

	accountService := service.NewAccountService(accountRepo, tokens)
	offerService := service.NewOfferService(
		offerRepo, redisCache, bus, searcher, metricsCollector, tracer,
		cfg.Dispatch.AssumedSpeedKmh, cfg.Dispatch.MaxExpiryHours,
	)

	server := api.NewServer(cfg, accountService, offerService, tokens, metricsCollector, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}
