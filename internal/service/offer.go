package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/mealbridge/services/dispatch/internal/auth"
	"example.com/mealbridge/services/dispatch/internal/cache"
	"example.com/mealbridge/services/dispatch/internal/geo"
	"example.com/mealbridge/services/dispatch/internal/messaging"
	"example.com/mealbridge/services/dispatch/internal/metrics"
	"example.com/mealbridge/services/dispatch/internal/model"
	"example.com/mealbridge/services/dispatch/internal/repository"
	"example.com/mealbridge/services/dispatch/internal/tracing"
)

// CreateOfferRequest defines the request to create a donation offer
type CreateOfferRequest struct {
	Item        string  `json:"item" validate:"required"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
	ExpiryHours float64 `json:"expiry_hours" validate:"required,gt=0"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Label       string  `json:"label"`
}

// OfferDetail is an offer together with the derived tracking values
type OfferDetail struct {
	Offer      *model.Offer `json:"offer"`
	DistanceKm *float64     `json:"distance_km,omitempty"`
	ETAMinutes *int         `json:"eta_minutes,omitempty"`
}

// OfferSearcher queries the search projection of the open pool
type OfferSearcher interface {
	SearchOffers(ctx context.Context, text string, size int) ([]map[string]interface{}, error)
}

// OfferService implements the offer lifecycle state machine. Every mutation
// is authorized against the caller identity and written as a single
// conditional update, so no transition can ever act on stale status.
type OfferService struct {
	repo     repository.OfferRepository
	cache    cache.CacheClient
	bus      messaging.ServiceBusClient
	searcher OfferSearcher
	metrics  *metrics.Metrics
	tracer   tracing.Tracer

	assumedSpeedKmh float64
	maxExpiryHours  float64
}

// NewOfferService creates a new offer service
func NewOfferService(
	repo repository.OfferRepository,
	cacheClient cache.CacheClient,
	bus messaging.ServiceBusClient,
	searcher OfferSearcher,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
	assumedSpeedKmh float64,
	maxExpiryHours float64,
) *OfferService {
	return &OfferService{
		repo:            repo,
		cache:           cacheClient,
		bus:             bus,
		searcher:        searcher,
		metrics:         collector,
		tracer:          tracer,
		assumedSpeedKmh: assumedSpeedKmh,
		maxExpiryHours:  maxExpiryHours,
	}
}

// Create lists a new donation offer for the donor identity
func (s *OfferService) Create(ctx context.Context, actor *auth.Identity, req *CreateOfferRequest) (*model.Offer, error) {
	txn := s.tracer.StartTransaction("create-offer")
	defer s.tracer.EndTransaction(txn)

	if actor.Role != model.RoleDonor {
		return nil, ErrForbidden
	}

	if err := checkStruct(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Item) == "" {
		return nil, NewValidationError("item description is required")
	}
	if req.Quantity <= 0 {
		return nil, NewValidationError("quantity must be positive")
	}
	if req.ExpiryHours < 1 || req.ExpiryHours > s.maxExpiryHours {
		return nil, NewValidationError("expiry hours out of range")
	}
	if !geo.ValidCoordinate(model.Coordinate{Lat: req.Lat, Lng: req.Lng}) {
		return nil, NewValidationError("pickup location is required")
	}

	offer := &model.Offer{
		Base:        model.Base{UUID: uuid.New().String()},
		OwnerID:     actor.ID,
		Item:        strings.TrimSpace(req.Item),
		Quantity:    req.Quantity,
		ExpiryHours: req.ExpiryHours,
		PickupLat:   req.Lat,
		PickupLng:   req.Lng,
		PickupLabel: req.Label,
		Status:      model.StatusPending,
	}

	offer, err := s.repo.Create(ctx, offer)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to create offer")
	}

	s.metrics.Inc(metrics.CounterOffersCreated)
	s.afterTransition(ctx, model.OfferCreatedEvent, offer, actor.ID)

	log.Info().
		Str("offer_id", offer.UUID).
		Str("owner_id", offer.OwnerID).
		Str("item", offer.Item).
		Msg("Offer created")

	return offer, nil
}

// Withdraw removes a pending offer. Withdrawal is only legal for the owning
// donor while no agent has claimed; the offer leaves the active set instead
// of transitioning to a terminal status.
func (s *OfferService) Withdraw(ctx context.Context, actor *auth.Identity, offerID string) error {
	txn := s.tracer.StartTransaction("withdraw-offer")
	defer s.tracer.EndTransaction(txn)

	if actor.Role != model.RoleDonor {
		return ErrForbidden
	}

	offer, err := s.getFresh(ctx, offerID)
	if err != nil {
		return err
	}
	if offer.OwnerID != actor.ID {
		return ErrNotOwner
	}

	removed, err := s.repo.DeletePending(ctx, offerID, actor.ID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return errors.Wrap(err, "failed to withdraw offer")
	}
	if !removed {
		// Claimed between the fetch and the conditional delete, or earlier
		return ErrInvalidTransition
	}

	s.metrics.Inc(metrics.CounterOffersWithdrawn)
	s.afterTransition(ctx, model.OfferWithdrawnEvent, offer, actor.ID)

	log.Info().Str("offer_id", offerID).Msg("Offer withdrawn")
	return nil
}

// Claim makes the agent the exclusive handler of a pending offer. The
// conditional update resolves concurrent claims: exactly one caller matches
// the pending row, every other caller gets ErrAlreadyClaimed.
func (s *OfferService) Claim(ctx context.Context, actor *auth.Identity, offerID string) (*model.Offer, error) {
	txn := s.tracer.StartTransaction("claim-offer")
	defer s.tracer.EndTransaction(txn)
	s.tracer.AddAttribute(txn, "offer_id", offerID)

	if actor.Role != model.RoleAgent {
		return nil, ErrForbidden
	}

	claimed, err := s.repo.Claim(ctx, offerID, actor.ID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to claim offer")
	}
	if !claimed {
		// Either the offer is gone or someone else won the race
		if _, err := s.repo.GetByID(ctx, offerID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, errors.Wrap(err, "failed to load offer")
		}
		s.metrics.Inc(metrics.CounterClaimConflicts)
		return nil, ErrAlreadyClaimed
	}

	offer, err := s.getFresh(ctx, offerID)
	if err != nil {
		return nil, err
	}

	s.metrics.Inc(metrics.CounterOffersClaimed)
	s.afterTransition(ctx, model.OfferClaimedEvent, offer, actor.ID)

	log.Info().
		Str("offer_id", offerID).
		Str("agent_id", actor.ID).
		Msg("Offer claimed")

	return offer, nil
}

// ReportPosition ingests a live agent position against a claimed offer,
// forces enRoute, and returns the derived distance to the pickup location.
// The distance is always recomputed and never persisted.
func (s *OfferService) ReportPosition(ctx context.Context, actor *auth.Identity, offerID string, pos model.Coordinate) (*OfferDetail, error) {
	txn := s.tracer.StartTransaction("report-position")
	defer s.tracer.EndTransaction(txn)

	if actor.Role != model.RoleAgent {
		return nil, ErrForbidden
	}

	offer, err := s.getFresh(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if err := s.guardClaimant(offer, actor, model.OfferStatus.Tracking); err != nil {
		return nil, err
	}

	if !geo.ValidCoordinate(pos) {
		return nil, NewValidationError("agent coordinates are required")
	}

	updated, err := s.repo.ReportPosition(ctx, offerID, actor.ID, pos.Lat, pos.Lng)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to report position")
	}
	if !updated {
		// Lost a race against markCollected from the same agent's other request
		return nil, ErrInvalidTransition
	}

	wasAccepted := offer.Status == model.StatusAccepted

	offer, err = s.getFresh(ctx, offerID)
	if err != nil {
		return nil, err
	}

	s.metrics.Inc(metrics.CounterPositionReports)
	if wasAccepted {
		s.afterTransition(ctx, model.OfferEnRouteEvent, offer, actor.ID)
	} else {
		s.invalidate(ctx, offer.UUID)
	}

	return s.detail(offer), nil
}

// MarkCollected records the pickup and ends the tracking session by clearing
// the agent position.
func (s *OfferService) MarkCollected(ctx context.Context, actor *auth.Identity, offerID string) (*model.Offer, error) {
	txn := s.tracer.StartTransaction("mark-collected")
	defer s.tracer.EndTransaction(txn)

	if actor.Role != model.RoleAgent {
		return nil, ErrForbidden
	}

	offer, err := s.getFresh(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if err := s.guardClaimant(offer, actor, model.OfferStatus.Tracking); err != nil {
		return nil, err
	}

	updated, err := s.repo.MarkCollected(ctx, offerID, actor.ID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to mark offer collected")
	}
	if !updated {
		return nil, ErrInvalidTransition
	}

	offer, err = s.getFresh(ctx, offerID)
	if err != nil {
		return nil, err
	}

	s.metrics.Inc(metrics.CounterOffersCollected)
	s.afterTransition(ctx, model.OfferCollectedEvent, offer, actor.ID)

	log.Info().Str("offer_id", offerID).Msg("Offer collected")
	return offer, nil
}

// MarkCompleted finishes a collected pickup
func (s *OfferService) MarkCompleted(ctx context.Context, actor *auth.Identity, offerID string) (*model.Offer, error) {
	txn := s.tracer.StartTransaction("mark-completed")
	defer s.tracer.EndTransaction(txn)

	if actor.Role != model.RoleAgent {
		return nil, ErrForbidden
	}

	offer, err := s.getFresh(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if err := s.guardClaimant(offer, actor, func(st model.OfferStatus) bool {
		return st == model.StatusCollected
	}); err != nil {
		return nil, err
	}

	updated, err := s.repo.MarkCompleted(ctx, offerID, actor.ID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to mark offer completed")
	}
	if !updated {
		return nil, ErrInvalidTransition
	}

	offer, err = s.getFresh(ctx, offerID)
	if err != nil {
		return nil, err
	}

	s.metrics.Inc(metrics.CounterOffersCompleted)
	s.afterTransition(ctx, model.OfferCompletedEvent, offer, actor.ID)

	log.Info().Str("offer_id", offerID).Msg("Offer completed")
	return offer, nil
}

// Get returns an offer for its owner or claimant, attaching the derived
// distance and ETA while a tracking session is active.
func (s *OfferService) Get(ctx context.Context, actor *auth.Identity, offerID string) (*OfferDetail, error) {
	offer, err := s.cached(ctx, offerID)
	if err != nil {
		return nil, err
	}

	isOwner := offer.OwnerID == actor.ID
	isClaimant := offer.ClaimedBy != nil && *offer.ClaimedBy == actor.ID
	if !isOwner && !isClaimant {
		return nil, ErrForbidden
	}

	return s.detail(offer), nil
}

// SearchOpenOffers runs a fuzzy item search over the indexed open pool.
// Like the pending listing it is open to any authenticated caller.
func (s *OfferService) SearchOpenOffers(ctx context.Context, actor *auth.Identity, text string, size int) ([]map[string]interface{}, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewValidationError("search text is required")
	}
	if s.searcher == nil {
		return nil, errors.New("search is not configured")
	}
	if size <= 0 || size > 100 {
		size = 20
	}

	hits, err := s.searcher.SearchOffers(ctx, text, size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search offers")
	}
	return hits, nil
}

// guardClaimant distinguishes the three ways an agent action can be refused:
// acting before any claim, acting on someone else's claim, and acting in a
// status the transition does not permit.
func (s *OfferService) guardClaimant(offer *model.Offer, actor *auth.Identity, allowed func(model.OfferStatus) bool) error {
	if offer.ClaimedBy == nil {
		return ErrInvalidTransition
	}
	if *offer.ClaimedBy != actor.ID {
		return ErrNotClaimant
	}
	if !allowed(offer.Status) {
		return ErrInvalidTransition
	}
	return nil
}

// detail derives the display distance and ETA from the last known agent position
func (s *OfferService) detail(offer *model.Offer) *OfferDetail {
	detail := &OfferDetail{Offer: offer}

	agentPos := offer.AgentLocation()
	if agentPos == nil {
		return detail
	}

	d, err := geo.DistanceKm(*agentPos, offer.PickupLocation())
	if err != nil {
		return detail
	}

	rounded := geo.RoundKm(d)
	eta := geo.ETAMinutes(d, s.assumedSpeedKmh)
	detail.DistanceKm = &rounded
	detail.ETAMinutes = &eta
	return detail
}

// getFresh loads current offer state from the store, bypassing the cache, so
// guards never act on stale data
func (s *OfferService) getFresh(ctx context.Context, offerID string) (*model.Offer, error) {
	offer, err := s.repo.GetByID(ctx, offerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to load offer")
	}
	return offer, nil
}

// cached loads an offer through the read cache
func (s *OfferService) cached(ctx context.Context, offerID string) (*model.Offer, error) {
	if offer, err := s.cache.GetOffer(ctx, offerID); err == nil {
		return offer, nil
	}

	offer, err := s.getFresh(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetOffer(ctx, offer); err != nil {
		log.Warn().Err(err).Msg("Failed to cache offer")
	}
	return offer, nil
}

// afterTransition refreshes caches and publishes the lifecycle event. Both
// are best-effort: a cache or bus failure never fails the transition.
func (s *OfferService) afterTransition(ctx context.Context, eventType model.EventType, offer *model.Offer, actorID string) {
	s.invalidate(ctx, offer.UUID)

	if s.bus == nil {
		return
	}
	event := model.OfferEvent{
		EventType: eventType,
		Offer:     *offer,
		ActorID:   actorID,
		Time:      time.Now().UTC(),
	}
	if err := s.bus.SendMessage(ctx, event); err != nil {
		log.Warn().Err(err).
			Str("offer_id", offer.UUID).
			Str("event_type", string(eventType)).
			Msg("Failed to publish offer event")
	}
}

func (s *OfferService) invalidate(ctx context.Context, offerID string) {
	if err := s.cache.DeleteOffer(ctx, offerID); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate offer cache")
	}
	if err := s.cache.InvalidatePendingOffers(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate pending listing cache")
	}
}
