package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/mealbridge/services/dispatch/internal/cache"
	"example.com/mealbridge/services/dispatch/internal/metrics"
	"example.com/mealbridge/services/dispatch/internal/model"
	"example.com/mealbridge/services/dispatch/internal/repository"
	"example.com/mealbridge/services/dispatch/internal/search"
)

// OfferIndexer maintains the search projection of offers
type OfferIndexer interface {
	IndexOffer(ctx context.Context, offer *model.Offer) error
	DeleteOffer(ctx context.Context, offerID string) error
}

var _ OfferIndexer = (*search.ElasticClient)(nil)

// WorkerService runs the background side of the dispatch engine: the expiry
// sweeper and the search projection consumer
type WorkerService struct {
	repo    repository.OfferRepository
	cache   cache.CacheClient
	indexer OfferIndexer
	metrics *metrics.Metrics
}

// NewWorkerService creates a new worker service
func NewWorkerService(repo repository.OfferRepository, cacheClient cache.CacheClient, indexer OfferIndexer, collector *metrics.Metrics) *WorkerService {
	return &WorkerService{
		repo:    repo,
		cache:   cacheClient,
		indexer: indexer,
		metrics: collector,
	}
}

// ReconcileExpired removes pending offers whose expiry window has elapsed,
// from the store and from the search projection. Claimed offers are never
// touched: once an agent holds an offer its fate is decided by the agent,
// not by the clock.
func (w *WorkerService) ReconcileExpired(ctx context.Context) error {
	removed, err := w.repo.DeleteExpiredPending(ctx, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "failed to reconcile expired offers")
	}
	if len(removed) == 0 {
		return nil
	}

	for _, id := range removed {
		if err := w.indexer.DeleteOffer(ctx, id); err != nil {
			log.Warn().Err(err).Str("offer_id", id).Msg("Failed to remove expired offer from index")
		}
	}

	w.metrics.Add(metrics.CounterOffersExpired, int64(len(removed)))
	if err := w.cache.InvalidatePendingOffers(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate pending listing cache")
	}
	log.Info().Int("removed", len(removed)).Msg("Expired pending offers removed")

	return nil
}

// ProcessOfferEvent applies a lifecycle event to the search projection.
// Pending offers are indexed, everything else drops out of the searchable
// pool.
func (w *WorkerService) ProcessOfferEvent(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var event model.OfferEvent
	if err := json.Unmarshal(message.Body, &event); err != nil {
		log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to decode offer event")
		// Malformed payloads are dropped, not retried
		return nil
	}

	log.Debug().
		Str("event_type", string(event.EventType)).
		Str("offer_id", event.Offer.UUID).
		Msg("Processing offer event")

	switch event.EventType {
	case model.OfferCreatedEvent:
		if err := w.indexer.IndexOffer(ctx, &event.Offer); err != nil {
			return errors.Wrap(err, "failed to index offer")
		}
	case model.OfferClaimedEvent, model.OfferWithdrawnEvent:
		if err := w.indexer.DeleteOffer(ctx, event.Offer.UUID); err != nil {
			return errors.Wrap(err, "failed to remove offer from index")
		}
	default:
		// Post-claim transitions carry no searchable state
	}

	return nil
}
