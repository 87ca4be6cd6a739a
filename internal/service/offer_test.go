package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/mealbridge/services/dispatch/internal/auth"
	"example.com/mealbridge/services/dispatch/internal/messaging"
	"example.com/mealbridge/services/dispatch/internal/metrics"
	"example.com/mealbridge/services/dispatch/internal/model"
	"example.com/mealbridge/services/dispatch/internal/repository"
)

// memOfferRepo is an in-memory OfferRepository with the same conditional
// write semantics as the database implementation
type memOfferRepo struct {
	mu     sync.Mutex
	offers map[string]*model.Offer
}

func newMemOfferRepo() *memOfferRepo {
	return &memOfferRepo{offers: make(map[string]*model.Offer)}
}

func (r *memOfferRepo) Create(_ context.Context, offer *model.Offer) (*model.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = time.Now().UTC()
	}
	clone := *offer
	r.offers[offer.UUID] = &clone
	return offer, nil
}

func (r *memOfferRepo) GetByID(_ context.Context, id string) (*model.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	offer, ok := r.offers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *offer
	return &clone, nil
}

func (r *memOfferRepo) FindPending(_ context.Context) ([]*model.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Offer
	for _, offer := range r.offers {
		if offer.Status == model.StatusPending {
			clone := *offer
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memOfferRepo) FindByOwner(_ context.Context, ownerID string, status *model.OfferStatus) ([]*model.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Offer
	for _, offer := range r.offers {
		if offer.OwnerID != ownerID {
			continue
		}
		if status != nil && offer.Status != *status {
			continue
		}
		clone := *offer
		out = append(out, &clone)
	}
	return out, nil
}

func (r *memOfferRepo) FindByClaimant(_ context.Context, agentID string, status *model.OfferStatus) ([]*model.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Offer
	for _, offer := range r.offers {
		if offer.ClaimedBy == nil || *offer.ClaimedBy != agentID {
			continue
		}
		if status != nil && offer.Status != *status {
			continue
		}
		clone := *offer
		out = append(out, &clone)
	}
	return out, nil
}

func (r *memOfferRepo) Claim(_ context.Context, id, agentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	offer, ok := r.offers[id]
	if !ok || offer.Status != model.StatusPending {
		return false, nil
	}
	offer.Status = model.StatusAccepted
	offer.ClaimedBy = &agentID
	return true, nil
}

func (r *memOfferRepo) ReportPosition(_ context.Context, id, agentID string, lat, lng float64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	offer, ok := r.offers[id]
	if !ok || offer.ClaimedBy == nil || *offer.ClaimedBy != agentID || !offer.Status.Tracking() {
		return false, nil
	}
	offer.Status = model.StatusEnRoute
	offer.AgentLat = &lat
	offer.AgentLng = &lng
	return true, nil
}

func (r *memOfferRepo) MarkCollected(_ context.Context, id, agentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	offer, ok := r.offers[id]
	if !ok || offer.ClaimedBy == nil || *offer.ClaimedBy != agentID || !offer.Status.Tracking() {
		return false, nil
	}
	offer.Status = model.StatusCollected
	offer.AgentLat = nil
	offer.AgentLng = nil
	return true, nil
}

func (r *memOfferRepo) MarkCompleted(_ context.Context, id, agentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	offer, ok := r.offers[id]
	if !ok || offer.ClaimedBy == nil || *offer.ClaimedBy != agentID || offer.Status != model.StatusCollected {
		return false, nil
	}
	offer.Status = model.StatusCompleted
	return true, nil
}

func (r *memOfferRepo) DeletePending(_ context.Context, id, ownerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	offer, ok := r.offers[id]
	if !ok || offer.OwnerID != ownerID || offer.Status != model.StatusPending {
		return false, nil
	}
	delete(r.offers, id)
	return true, nil
}

func (r *memOfferRepo) DeleteExpiredPending(_ context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, offer := range r.offers {
		if offer.Status == model.StatusPending && offer.ExpiresAt().Before(now) {
			delete(r.offers, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// memCache is a cache that never hits
type memCache struct{}

func (memCache) GetOffer(context.Context, string) (*model.Offer, error) {
	return nil, assert.AnError
}
func (memCache) SetOffer(context.Context, *model.Offer) error        { return nil }
func (memCache) DeleteOffer(context.Context, string) error           { return nil }
func (memCache) GetPendingOffers(context.Context) ([]*model.Offer, error) {
	return nil, assert.AnError
}
func (memCache) SetPendingOffers(context.Context, []*model.Offer) error { return nil }
func (memCache) InvalidatePendingOffers(context.Context) error          { return nil }
func (memCache) Close() error                                           { return nil }

// recordingBus records published event bodies
type recordingBus struct {
	mu     sync.Mutex
	bodies []interface{}
}

func (b *recordingBus) SendMessage(_ context.Context, body interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bodies = append(b.bodies, body)
	return nil
}

func (b *recordingBus) ProcessMessages(context.Context, messaging.MessageHandler) error {
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bodies)
}

// noopTracer satisfies the tracing interface without an agent
type noopTracer struct{}

func (noopTracer) StartTransaction(string) *newrelic.Transaction { return nil }
func (noopTracer) StartSegment(string, *newrelic.Transaction) *newrelic.Segment {
	return nil
}
func (noopTracer) EndTransaction(*newrelic.Transaction)                        {}
func (noopTracer) RecordError(*newrelic.Transaction, error)                    {}
func (noopTracer) AddAttribute(*newrelic.Transaction, string, interface{})     {}

func newTestOfferService(repo repository.OfferRepository) (*OfferService, *recordingBus) {
	bus := &recordingBus{}
	svc := NewOfferService(repo, memCache{}, bus, nil, metrics.NewMetrics(), noopTracer{}, 20, 72)
	return svc, bus
}

func donor(id string) *auth.Identity {
	return &auth.Identity{ID: id, Role: model.RoleDonor}
}

func agent(id string) *auth.Identity {
	return &auth.Identity{ID: id, Role: model.RoleAgent}
}

func TestCreateOffer(t *testing.T) {
	svc, bus := newTestOfferService(newMemOfferRepo())
	ctx := context.Background()

	offer, err := svc.Create(ctx, donor("d1"), &CreateOfferRequest{
		Item:        "cooked rice",
		Quantity:    12,
		ExpiryHours: 6,
		Lat:         28.6139,
		Lng:         77.2090,
		Label:       "community kitchen",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, offer.Status)
	assert.Equal(t, "d1", offer.OwnerID)
	assert.NotEmpty(t, offer.UUID)
	assert.Nil(t, offer.ClaimedBy)
	assert.Equal(t, 1, bus.count())
}

func TestCreateOfferValidation(t *testing.T) {
	svc, _ := newTestOfferService(newMemOfferRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, agent("a1"), &CreateOfferRequest{Item: "bread", Quantity: 1, ExpiryHours: 2})
	assert.ErrorIs(t, err, ErrForbidden)

	cases := []struct {
		name string
		req  CreateOfferRequest
	}{
		{"empty item", CreateOfferRequest{Item: "  ", Quantity: 1, ExpiryHours: 2}},
		{"zero quantity", CreateOfferRequest{Item: "bread", Quantity: 0, ExpiryHours: 2}},
		{"expiry too short", CreateOfferRequest{Item: "bread", Quantity: 1, ExpiryHours: 0}},
		{"expiry too long", CreateOfferRequest{Item: "bread", Quantity: 1, ExpiryHours: 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, donor("d1"), &tc.req)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestClaimOffer(t *testing.T) {
	repo := newMemOfferRepo()
	svc, _ := newTestOfferService(repo)
	ctx := context.Background()

	offer, err := svc.Create(ctx, donor("d1"), &CreateOfferRequest{
		Item: "dal", Quantity: 5, ExpiryHours: 4, Lat: 12.97, Lng: 77.59,
	})
	require.NoError(t, err)

	claimed, err := svc.Claim(ctx, agent("a1"), offer.UUID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, claimed.Status)
	require.NotNil(t, claimed.ClaimedBy)
	assert.Equal(t, "a1", *claimed.ClaimedBy)

	_, err = svc.Claim(ctx, agent("a2"), offer.UUID)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	_, err = svc.Claim(ctx, donor("d1"), offer.UUID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Claim(ctx, agent("a1"), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimRace(t *testing.T) {
	repo := newMemOfferRepo()
	svc, _ := newTestOfferService(repo)
	ctx := context.Background()

	offer, err := svc.Create(ctx, donor("d1"), &CreateOfferRequest{
		Item: "fruit crates", Quantity: 3, ExpiryHours: 8, Lat: 19.07, Lng: 72.87,
	})
	require.NoError(t, err)

	const agents = 25
	var wg sync.WaitGroup
	results := make(chan error, agents)
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Claim(ctx, agent(string(rune('a'+n))), offer.UUID)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		default:
			assert.ErrorIs(t, err, ErrAlreadyClaimed)
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, agents-1, conflicts)
}

func TestWithdrawOffer(t *testing.T) {
	repo := newMemOfferRepo()
	svc, _ := newTestOfferService(repo)
	ctx := context.Background()

	offer, err := svc.Create(ctx, donor("d1"), &CreateOfferRequest{
		Item: "bread", Quantity: 2, ExpiryHours: 3, Lat: 1, Lng: 1,
	})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Withdraw(ctx, donor("d2"), offer.UUID), ErrNotOwner)
	assert.ErrorIs(t, svc.Withdraw(ctx, agent("a1"), offer.UUID), ErrForbidden)

	require.NoError(t, svc.Withdraw(ctx, donor("d1"), offer.UUID))

	_, err = repo.GetByID(ctx, offer.UUID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.ErrorIs(t, svc.Withdraw(ctx, donor("d1"), offer.UUID), ErrNotFound)
}

func TestWithdrawAfterClaimRejected(t *testing.T) {
	repo := newMemOfferRepo()
	svc, _ := newTestOfferService(repo)
	ctx := context.Background()

	offer, err := svc.Create(ctx, donor("d1"), &CreateOfferRequest{
		Item: "rice", Quantity: 4, ExpiryHours: 5, Lat: 1, Lng: 1,
	})
	require.NoError(t, err)

	_, err = svc.Claim(ctx, agent("a1"), offer.UUID)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Withdraw(ctx, donor("d1"), offer.UUID), ErrInvalidTransition)

	got, err := repo.GetByID(ctx, offer.UUID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, got.Status)
}

func TestReportPosition(t *testing.T) {
	repo := newMemOfferRepo()
	svc, _ := newTestOfferService(repo)
	ctx := context.Background()

	offer, err := svc.Create(ctx, donor("d1"), &CreateOfferRequest{
		Item: "vegetables", Quantity: 10, ExpiryHours: 6, Lat: 28.6139, Lng: 77.2090,
	})
	require.NoError(t, err)

	pos := model.Coordinate{Lat: 28.7041, Lng: 77.1025}

	// Position before any claim is meaningless
	_, err = svc.ReportPosition(ctx, agent("a1"), offer.UUID, pos)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Claim(ctx, agent("a1"), offer.UUID)
	require.NoError(t, err)

	_, err = svc.ReportPosition(ctx, agent("a2"), offer.UUID, pos)
	assert.ErrorIs(t, err, ErrNotClaimant)

	detail, err := svc.ReportPosition(ctx, agent("a1"), offer.UUID, pos)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnRoute, detail.Offer.Status)
	require.NotNil(t, detail.DistanceKm)
	require.NotNil(t, detail.ETAMinutes)
	assert.Greater(t, *detail.DistanceKm, 0.0)
	assert.Greater(t, *detail.ETAMinutes, 0)

	// Reporting again while enRoute keeps tracking alive
	closer := model.Coordinate{Lat: 28.6200, Lng: 77.2100}
	detail2, err := svc.ReportPosition(ctx, agent("a1"), offer.UUID, closer)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnRoute, detail2.Offer.Status)
	assert.Less(t, *detail2.DistanceKm, *detail.DistanceKm)
}

func TestCollectAndComplete(t *testing.T) {
	repo := newMemOfferRepo()
	svc, _ := newTestOfferService(repo)
	ctx := context.Background()

	offer, err := svc.Create(ctx, donor("d1"), &CreateOfferRequest{
		Item: "milk", Quantity: 20, ExpiryHours: 2, Lat: 13.08, Lng: 80.27,
	})
	require.NoError(t, err)

	// Completion requires collection first
	_, err = svc.MarkCompleted(ctx, agent("a1"), offer.UUID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Claim(ctx, agent("a1"), offer.UUID)
	require.NoError(t, err)

	_, err = svc.MarkCollected(ctx, agent("a2"), offer.UUID)
	assert.ErrorIs(t, err, ErrNotClaimant)

	collected, err := svc.MarkCollected(ctx, agent("a1"), offer.UUID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCollected, collected.Status)
	assert.Nil(t, collected.AgentLat)
	assert.Nil(t, collected.AgentLng)

	// Position reports stop once collected
	_, err = svc.ReportPosition(ctx, agent("a1"), offer.UUID, model.Coordinate{Lat: 13, Lng: 80})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	completed, err := svc.MarkCompleted(ctx, agent("a1"), offer.UUID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, completed.Status)

	// Terminal: no further transitions
	_, err = svc.MarkCollected(ctx, agent("a1"), offer.UUID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.MarkCompleted(ctx, agent("a1"), offer.UUID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGetOfferVisibility(t *testing.T) {
	repo := newMemOfferRepo()
	svc, _ := newTestOfferService(repo)
	ctx := context.Background()

	offer, err := svc.Create(ctx, donor("d1"), &CreateOfferRequest{
		Item: "soup", Quantity: 8, ExpiryHours: 4, Lat: 28.61, Lng: 77.21,
	})
	require.NoError(t, err)

	_, err = svc.Get(ctx, donor("d1"), offer.UUID)
	require.NoError(t, err)

	_, err = svc.Get(ctx, agent("a9"), offer.UUID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Claim(ctx, agent("a1"), offer.UUID)
	require.NoError(t, err)
	_, err = svc.ReportPosition(ctx, agent("a1"), offer.UUID, model.Coordinate{Lat: 28.70, Lng: 77.10})
	require.NoError(t, err)

	// Owner sees the live distance derived from the last reported position
	detail, err := svc.Get(ctx, donor("d1"), offer.UUID)
	require.NoError(t, err)
	require.NotNil(t, detail.DistanceKm)
	require.NotNil(t, detail.ETAMinutes)
}
