package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/mealbridge/services/dispatch/internal/metrics"
	"example.com/mealbridge/services/dispatch/internal/model"
	"example.com/mealbridge/services/dispatch/internal/repository"
)

type memIndexer struct {
	mu      sync.Mutex
	indexed map[string]bool
}

func newMemIndexer() *memIndexer {
	return &memIndexer{indexed: make(map[string]bool)}
}

func (m *memIndexer) IndexOffer(_ context.Context, offer *model.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexed[offer.UUID] = true
	return nil
}

func (m *memIndexer) DeleteOffer(_ context.Context, offerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexed, offerID)
	return nil
}

func seedOffer(t *testing.T, repo *memOfferRepo, id string, status model.OfferStatus, expiryHours float64, age time.Duration) {
	t.Helper()
	offer := &model.Offer{
		Base: model.Base{
			UUID:      id,
			CreatedAt: time.Now().UTC().Add(-age),
		},
		OwnerID:     "d1",
		Item:        "leftovers",
		Quantity:    1,
		ExpiryHours: expiryHours,
		PickupLat:   1,
		PickupLng:   1,
		Status:      status,
	}
	if status != model.StatusPending {
		agentID := "a1"
		offer.ClaimedBy = &agentID
	}
	_, err := repo.Create(context.Background(), offer)
	require.NoError(t, err)
}

func TestReconcileExpired(t *testing.T) {
	repo := newMemOfferRepo()
	indexer := newMemIndexer()
	worker := NewWorkerService(repo, memCache{}, indexer, metrics.NewMetrics())
	ctx := context.Background()

	seedOffer(t, repo, "stale", model.StatusPending, 2, 3*time.Hour)
	seedOffer(t, repo, "fresh", model.StatusPending, 6, time.Hour)
	// A claimed offer past its advisory window is the agent's problem now
	seedOffer(t, repo, "claimed-stale", model.StatusAccepted, 2, 3*time.Hour)

	indexer.indexed["stale"] = true
	indexer.indexed["fresh"] = true

	require.NoError(t, worker.ReconcileExpired(ctx))

	_, err := repo.GetByID(ctx, "stale")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.GetByID(ctx, "fresh")
	assert.NoError(t, err)
	_, err = repo.GetByID(ctx, "claimed-stale")
	assert.NoError(t, err)

	// The search projection drops purged offers along with the store
	assert.False(t, indexer.indexed["stale"])
	assert.True(t, indexer.indexed["fresh"])
}

func TestProcessOfferEvent(t *testing.T) {
	repo := newMemOfferRepo()
	indexer := newMemIndexer()
	worker := NewWorkerService(repo, memCache{}, indexer, metrics.NewMetrics())
	ctx := context.Background()

	offer := model.Offer{
		Base:      model.Base{UUID: "o1"},
		OwnerID:   "d1",
		Item:      "bread",
		Status:    model.StatusPending,
		PickupLat: 1,
		PickupLng: 1,
	}

	message := func(eventType model.EventType) *azservicebus.ReceivedMessage {
		body, err := json.Marshal(model.OfferEvent{
			EventType: eventType,
			Offer:     offer,
			ActorID:   "d1",
			Time:      time.Now().UTC(),
		})
		require.NoError(t, err)
		return &azservicebus.ReceivedMessage{Body: body}
	}

	require.NoError(t, worker.ProcessOfferEvent(ctx, message(model.OfferCreatedEvent)))
	assert.True(t, indexer.indexed["o1"])

	require.NoError(t, worker.ProcessOfferEvent(ctx, message(model.OfferClaimedEvent)))
	assert.False(t, indexer.indexed["o1"])

	// Garbage payloads are dropped without an error so the bus will not redeliver
	require.NoError(t, worker.ProcessOfferEvent(ctx, &azservicebus.ReceivedMessage{Body: []byte("not json")}))
}
