package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"example.com/mealbridge/services/dispatch/config"
	"example.com/mealbridge/services/dispatch/internal/model"
)

// CacheClient defines the interface for cache operations
type CacheClient interface {
	GetOffer(ctx context.Context, id string) (*model.Offer, error)
	SetOffer(ctx context.Context, offer *model.Offer) error
	DeleteOffer(ctx context.Context, id string) error

	// Pending listing cache, invalidated on every lifecycle transition
	GetPendingOffers(ctx context.Context) ([]*model.Offer, error)
	SetPendingOffers(ctx context.Context, offers []*model.Offer) error
	InvalidatePendingOffers(ctx context.Context) error

	Close() error
}

// RedisClient implements CacheClient using Redis
type RedisClient struct {
	client  *redis.Client
	enabled bool
	ttl     time.Duration
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg config.RedisConfig, ttl time.Duration) (CacheClient, error) {
	if !cfg.Enabled {
		return &RedisClient{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{
		client:  client,
		enabled: true,
		ttl:     ttl,
	}, nil
}

// Prefix keys to avoid collisions
func offerKey(id string) string {
	return fmt.Sprintf("offer:%s", id)
}

const pendingOffersKey = "offers:pending"

// GetOffer retrieves an offer from cache
func (c *RedisClient) GetOffer(ctx context.Context, id string) (*model.Offer, error) {
	if !c.enabled {
		return nil, redis.Nil
	}

	data, err := c.client.Get(ctx, offerKey(id)).Bytes()
	if err != nil {
		return nil, err
	}

	var offer model.Offer
	if err := json.Unmarshal(data, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

// SetOffer caches an offer
func (c *RedisClient) SetOffer(ctx context.Context, offer *model.Offer) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, offerKey(offer.UUID), data, c.ttl).Err()
}

// DeleteOffer removes an offer from cache
func (c *RedisClient) DeleteOffer(ctx context.Context, id string) error {
	if !c.enabled {
		return nil
	}
	return c.client.Del(ctx, offerKey(id)).Err()
}

// GetPendingOffers retrieves the cached pending listing
func (c *RedisClient) GetPendingOffers(ctx context.Context) ([]*model.Offer, error) {
	if !c.enabled {
		return nil, redis.Nil
	}

	data, err := c.client.Get(ctx, pendingOffersKey).Bytes()
	if err != nil {
		return nil, err
	}

	var offers []*model.Offer
	if err := json.Unmarshal(data, &offers); err != nil {
		return nil, err
	}
	return offers, nil
}

// SetPendingOffers caches the pending listing
func (c *RedisClient) SetPendingOffers(ctx context.Context, offers []*model.Offer) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(offers)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, pendingOffersKey, data, c.ttl).Err()
}

// InvalidatePendingOffers drops the pending listing after a transition
func (c *RedisClient) InvalidatePendingOffers(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	return c.client.Del(ctx, pendingOffersKey).Err()
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	if !c.enabled || c.client == nil {
		return nil
	}
	return c.client.Close()
}
