package service

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/mealbridge/services/dispatch/internal/auth"
	"example.com/mealbridge/services/dispatch/internal/geo"
	"example.com/mealbridge/services/dispatch/internal/metrics"
	"example.com/mealbridge/services/dispatch/internal/model"
)

// RankedOffer is a pending offer annotated with its distance from the
// querying agent, when an origin was supplied
type RankedOffer struct {
	Offer      *model.Offer `json:"offer"`
	DistanceKm *float64     `json:"distance_km,omitempty"`
}

// ListOpenOffers returns the claimable pool. The pool is public, so a nil
// actor is fine. Without an origin the pool is returned newest-first. With an
// origin and radius the pool is reduced to offers within the radius and
// sorted by ascending distance, ties broken by offer id, so every agent sees
// an identical ranking.
func (s *OfferService) ListOpenOffers(ctx context.Context, actor *auth.Identity, origin *model.Coordinate, radiusKm *float64) ([]RankedOffer, error) {
	if radiusKm != nil && *radiusKm <= 0 {
		return nil, NewValidationError("radius must be positive")
	}
	if radiusKm != nil && origin == nil {
		return nil, NewValidationError("radius requires an origin")
	}

	offers, err := s.pendingOffers(ctx, origin == nil)
	if err != nil {
		return nil, err
	}

	ranked := make([]RankedOffer, 0, len(offers))
	for i := range offers {
		offer := offers[i]
		entry := RankedOffer{Offer: offer}

		if origin != nil {
			d, err := geo.DistanceKm(*origin, offer.PickupLocation())
			if err != nil {
				// Offers without a usable location never match a proximity query
				continue
			}
			if radiusKm != nil && d > *radiusKm {
				continue
			}
			rounded := geo.RoundKm(d)
			entry.DistanceKm = &rounded
		}

		ranked = append(ranked, entry)
	}

	if origin != nil {
		sort.SliceStable(ranked, func(i, j int) bool {
			di, dj := *ranked[i].DistanceKm, *ranked[j].DistanceKm
			if di != dj {
				return di < dj
			}
			return ranked[i].Offer.UUID < ranked[j].Offer.UUID
		})
	}

	return ranked, nil
}

// ListDonorOffers returns the donor's own offers, optionally status filtered
func (s *OfferService) ListDonorOffers(ctx context.Context, actor *auth.Identity, status *model.OfferStatus) ([]*model.Offer, error) {
	if actor.Role != model.RoleDonor {
		return nil, ErrForbidden
	}
	offers, err := s.repo.FindByOwner(ctx, actor.ID, status)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list donor offers")
	}
	return offers, nil
}

// ListAgentOffers returns the offers claimed by the agent, optionally
// status filtered
func (s *OfferService) ListAgentOffers(ctx context.Context, actor *auth.Identity, status *model.OfferStatus) ([]*model.Offer, error) {
	if actor.Role != model.RoleAgent {
		return nil, ErrForbidden
	}
	offers, err := s.repo.FindByClaimant(ctx, actor.ID, status)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list agent offers")
	}
	return offers, nil
}

// pendingOffers reads the open pool, going through the listing cache only on
// the unfiltered path where every caller sees the same payload
func (s *OfferService) pendingOffers(ctx context.Context, cacheable bool) ([]*model.Offer, error) {
	if cacheable {
		if offers, err := s.cache.GetPendingOffers(ctx); err == nil {
			return offers, nil
		}
	}

	offers, err := s.repo.FindPending(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending offers")
	}
	s.metrics.SetGauge(metrics.GaugeOpenOffers, int64(len(offers)))

	if cacheable {
		if err := s.cache.SetPendingOffers(ctx, offers); err != nil {
			log.Warn().Err(err).Msg("Failed to cache pending listing")
		}
	}
	return offers, nil
}
