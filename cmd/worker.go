package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/mealbridge/services/dispatch/config"
	"example.com/mealbridge/services/dispatch/internal/cache"
	"example.com/mealbridge/services/dispatch/internal/db"
	"example.com/mealbridge/services/dispatch/internal/messaging"
	"example.com/mealbridge/services/dispatch/internal/metrics"
	"example.com/mealbridge/services/dispatch/internal/repository"
	"example.com/mealbridge/services/dispatch/internal/search"
	"example.com/mealbridge/services/dispatch/internal/service"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long: `Start the background worker that maintains the offer search index
from lifecycle events and sweeps expired pending offers`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	g, ctx := errgroup.WithContext(ctx)

	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}

	redisCache, err := cache.NewRedisClient(cfg.Redis, cfg.Dispatch.CacheTTL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache, _ = cache.NewRedisClient(config.RedisConfig{Enabled: false}, 0)
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		return err
	}

	offerRepo := repository.NewOfferRepository(gormDB)
	worker := service.NewWorkerService(offerRepo, redisCache, elasticClient, metrics.NewMetrics())

	// Event consumer keeps the search index aligned with the offer pool
	if cfg.Azure.QueueConnStr != "" {
		bus, err := messaging.NewServiceBusClient(cfg.Azure)
		if err != nil {
			return err
		}
		defer bus.Close()

		g.Go(func() error {
			log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting offer event processor")
			return bus.ProcessMessages(ctx, worker.ProcessOfferEvent)
		})
	} else {
		log.Warn().Msg("Service Bus connection string not provided, skipping event processor")
	}

	// Expiry sweeper purges pending offers past their advisory window
	g.Go(func() error {
		log.Info().Dur("interval", cfg.Dispatch.SweepInterval).Msg("Starting expiry sweeper")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Dispatch.SweepInterval),
			gocron.NewTask(func() {
				if err := worker.ReconcileExpired(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to reconcile expired offers")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		<-ctx.Done()

		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Shutting down worker")
	return nil
}
