package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/mealbridge/services/dispatch/internal/metrics"
	"example.com/mealbridge/services/dispatch/internal/model"
)

// pendingOffer seeds an offer at a point roughly km kilometers due north of
// the origin. One degree of latitude is about 111.2 km.
func pendingOffer(t *testing.T, repo *memOfferRepo, id string, origin model.Coordinate, km float64, age time.Duration) {
	t.Helper()
	_, err := repo.Create(context.Background(), &model.Offer{
		Base: model.Base{
			UUID:      id,
			CreatedAt: time.Now().UTC().Add(-age),
		},
		OwnerID:     "d1",
		Item:        "meal boxes",
		Quantity:    5,
		ExpiryHours: 12,
		PickupLat:   origin.Lat + km/111.2,
		PickupLng:   origin.Lng,
		Status:      model.StatusPending,
	})
	require.NoError(t, err)
}

func TestListOpenOffersNewestFirst(t *testing.T) {
	repo := newMemOfferRepo()
	svc, _ := newTestOfferService(repo)
	origin := model.Coordinate{Lat: 28.6, Lng: 77.2}

	pendingOffer(t, repo, "old", origin, 1, 3*time.Hour)
	pendingOffer(t, repo, "mid", origin, 2, 2*time.Hour)
	pendingOffer(t, repo, "new", origin, 3, 1*time.Hour)

	ranked, err := svc.ListOpenOffers(context.Background(), agent("a1"), nil, nil)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "new", ranked[0].Offer.UUID)
	assert.Equal(t, "mid", ranked[1].Offer.UUID)
	assert.Equal(t, "old", ranked[2].Offer.UUID)
	for _, r := range ranked {
		assert.Nil(t, r.DistanceKm)
	}
}

func TestListOpenOffersWithinRadius(t *testing.T) {
	repo := newMemOfferRepo()
	svc, _ := newTestOfferService(repo)
	origin := model.Coordinate{Lat: 28.6, Lng: 77.2}

	pendingOffer(t, repo, "o-near", origin, 1.0, time.Hour)
	pendingOffer(t, repo, "o-mid", origin, 5.0, 4*time.Hour)
	pendingOffer(t, repo, "o-edge", origin, 9.9, 2*time.Hour)
	pendingOffer(t, repo, "o-far", origin, 12.0, time.Minute)

	radius := 10.0
	ranked, err := svc.ListOpenOffers(context.Background(), agent("a1"), &origin, &radius)
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	assert.Equal(t, "o-near", ranked[0].Offer.UUID)
	assert.Equal(t, "o-mid", ranked[1].Offer.UUID)
	assert.Equal(t, "o-edge", ranked[2].Offer.UUID)

	for _, r := range ranked {
		require.NotNil(t, r.DistanceKm)
		assert.LessOrEqual(t, *r.DistanceKm, radius)
	}
	assert.Less(t, *ranked[0].DistanceKm, *ranked[1].DistanceKm)
	assert.Less(t, *ranked[1].DistanceKm, *ranked[2].DistanceKm)
}

func TestListOpenOffersDistanceTieBreak(t *testing.T) {
	repo := newMemOfferRepo()
	svc, _ := newTestOfferService(repo)
	origin := model.Coordinate{Lat: 28.6, Lng: 77.2}

	// Identical pickup points, so ordering falls back to the id
	pendingOffer(t, repo, "zz-offer", origin, 2.0, time.Hour)
	pendingOffer(t, repo, "aa-offer", origin, 2.0, 2*time.Hour)

	ranked, err := svc.ListOpenOffers(context.Background(), agent("a1"), &origin, nil)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "aa-offer", ranked[0].Offer.UUID)
	assert.Equal(t, "zz-offer", ranked[1].Offer.UUID)
}

func TestListOpenOffersValidation(t *testing.T) {
	svc, _ := newTestOfferService(newMemOfferRepo())
	ctx := context.Background()
	origin := model.Coordinate{Lat: 1, Lng: 1}

	// The open pool is browsable by donors too
	_, err := svc.ListOpenOffers(ctx, donor("d1"), nil, nil)
	assert.NoError(t, err)

	bad := -1.0
	_, err = svc.ListOpenOffers(ctx, agent("a1"), &origin, &bad)
	assert.True(t, IsValidationError(err))

	radius := 5.0
	_, err = svc.ListOpenOffers(ctx, agent("a1"), nil, &radius)
	assert.True(t, IsValidationError(err))
}

func TestListOpenOffersRefreshesGauge(t *testing.T) {
	repo := newMemOfferRepo()
	collector := metrics.NewMetrics()
	svc := NewOfferService(repo, memCache{}, &recordingBus{}, nil, collector, noopTracer{}, 20, 72)
	ctx := context.Background()
	origin := model.Coordinate{Lat: 28.6, Lng: 77.2}

	pendingOffer(t, repo, "o1", origin, 1.0, time.Hour)
	pendingOffer(t, repo, "o2", origin, 2.0, time.Hour)

	_, err := svc.ListOpenOffers(ctx, nil, nil, nil)
	require.NoError(t, err)

	snap := collector.Snapshot()
	assert.Equal(t, int64(2), snap.Gauges[metrics.GaugeOpenOffers])
}

func TestListOpenOffersAnonymous(t *testing.T) {
	repo := newMemOfferRepo()
	svc, _ := newTestOfferService(repo)
	ctx := context.Background()
	origin := model.Coordinate{Lat: 28.6, Lng: 77.2}

	pendingOffer(t, repo, "near", origin, 2.0, time.Hour)
	pendingOffer(t, repo, "far", origin, 40.0, time.Hour)

	// The open pool is browsable without an account
	ranked, err := svc.ListOpenOffers(ctx, nil, nil, nil)
	require.NoError(t, err)
	assert.Len(t, ranked, 2)

	radius := 10.0
	ranked, err = svc.ListOpenOffers(ctx, nil, &origin, &radius)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "near", ranked[0].Offer.UUID)
}

func TestListOpenOffersExcludesClaimed(t *testing.T) {
	repo := newMemOfferRepo()
	svc, _ := newTestOfferService(repo)
	ctx := context.Background()
	origin := model.Coordinate{Lat: 28.6, Lng: 77.2}

	pendingOffer(t, repo, "stay", origin, 1, time.Hour)
	pendingOffer(t, repo, "go", origin, 2, time.Hour)

	_, err := svc.Claim(ctx, agent("a1"), "go")
	require.NoError(t, err)

	ranked, err := svc.ListOpenOffers(ctx, agent("a2"), &origin, nil)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "stay", ranked[0].Offer.UUID)
}

func TestListDonorAndAgentOffers(t *testing.T) {
	repo := newMemOfferRepo()
	svc, _ := newTestOfferService(repo)
	ctx := context.Background()
	origin := model.Coordinate{Lat: 28.6, Lng: 77.2}

	pendingOffer(t, repo, "x1", origin, 1, time.Hour)
	pendingOffer(t, repo, "x2", origin, 2, time.Hour)

	_, err := svc.Claim(ctx, agent("a1"), "x1")
	require.NoError(t, err)

	mine, err := svc.ListDonorOffers(ctx, donor("d1"), nil)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	accepted := model.StatusAccepted
	claimed, err := svc.ListAgentOffers(ctx, agent("a1"), &accepted)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "x1", claimed[0].UUID)

	_, err = svc.ListDonorOffers(ctx, agent("a1"), nil)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.ListAgentOffers(ctx, donor("d1"), nil)
	assert.ErrorIs(t, err, ErrForbidden)
}
