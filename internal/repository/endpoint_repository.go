// Package repository provides data access for the application and interacts with Redis.
package repository

import (
	"context"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"botforge/backend/internal/model"
	"botforge/backend/pkg/redis"
	"botforge/backend/pkg/secrets"
)

type EndpointRepository struct {
	redis *redis.Client
}

func NewEndpointRepository(redisClient *redis.Client) *EndpointRepository {
	return &EndpointRepository{
		redis: redisClient,
	}
}

// storedEndpoint is the persisted shape of an endpoint. The model
// excludes the secret from serialization so it never leaks into API
// responses; storage has to carry it explicitly or it would be lost
// on the round-trip.
type storedEndpoint struct {
	model.WebhookEndpoint
	Secret string `json:"secret"`
}

func toStored(endpoint *model.WebhookEndpoint) *storedEndpoint {
	return &storedEndpoint{WebhookEndpoint: *endpoint, Secret: endpoint.Secret}
}

func (s *storedEndpoint) toModel() *model.WebhookEndpoint {
	endpoint := s.WebhookEndpoint
	endpoint.Secret = s.Secret
	return &endpoint
}

// Create stores a new webhook endpoint and its secret index
func (r *EndpointRepository) Create(ctx context.Context, endpoint *model.WebhookEndpoint) error {
	endpoint.CreatedAt = time.Now()
	endpoint.UpdatedAt = endpoint.CreatedAt

	if err := r.redis.SetJSON(ctx, redis.EndpointKey(endpoint.ID), toStored(endpoint), 0); err != nil {
		return err
	}

	// Secret index for webhook intake lookups. The raw secret never
	// appears in a key name, only its digest.
	secretKey := redis.EndpointBySecretKey(secrets.HashSecret(endpoint.Secret))
	if err := r.redis.Set(ctx, secretKey, endpoint.ID, 0); err != nil {
		return err
	}

	return r.redis.SAdd(ctx, redis.OwnerEndpointsKey(endpoint.OwnerID), endpoint.ID)
}

// GetByID retrieves an endpoint by ID
func (r *EndpointRepository) GetByID(ctx context.Context, endpointID string) (*model.WebhookEndpoint, error) {
	var stored storedEndpoint
	err := r.redis.GetJSON(ctx, redis.EndpointKey(endpointID), &stored)
	if err != nil {
		if err == redislib.Nil {
			return nil, fmt.Errorf("endpoint not found")
		}
		return nil, err
	}
	return stored.toModel(), nil
}

// GetBySecretHash retrieves an endpoint through the secret index
func (r *EndpointRepository) GetBySecretHash(ctx context.Context, secretHash string) (*model.WebhookEndpoint, error) {
	endpointID, err := r.redis.Get(ctx, redis.EndpointBySecretKey(secretHash))
	if err != nil {
		if err == redislib.Nil {
			return nil, fmt.Errorf("endpoint not found")
		}
		return nil, err
	}
	return r.GetByID(ctx, endpointID)
}

// Update updates an endpoint
func (r *EndpointRepository) Update(ctx context.Context, endpoint *model.WebhookEndpoint) error {
	endpoint.UpdatedAt = time.Now()
	return r.redis.SetJSON(ctx, redis.EndpointKey(endpoint.ID), toStored(endpoint), 0)
}

// RotateSecret replaces the endpoint secret and its index entry
func (r *EndpointRepository) RotateSecret(ctx context.Context, endpoint *model.WebhookEndpoint, newSecret string) error {
	oldKey := redis.EndpointBySecretKey(secrets.HashSecret(endpoint.Secret))
	endpoint.Secret = newSecret

	if err := r.Update(ctx, endpoint); err != nil {
		return err
	}
	if err := r.redis.Set(ctx, redis.EndpointBySecretKey(secrets.HashSecret(newSecret)), endpoint.ID, 0); err != nil {
		return err
	}
	return r.redis.Del(ctx, oldKey)
}

// Delete removes an endpoint, its secret index and owner membership
func (r *EndpointRepository) Delete(ctx context.Context, endpointID string) error {
	endpoint, err := r.GetByID(ctx, endpointID)
	if err != nil {
		return err
	}

	if err := r.redis.Del(ctx, redis.EndpointKey(endpointID)); err != nil {
		return err
	}
	r.redis.Del(ctx, redis.EndpointBySecretKey(secrets.HashSecret(endpoint.Secret)))
	r.redis.SRem(ctx, redis.OwnerEndpointsKey(endpoint.OwnerID), endpointID)

	return nil
}

// ListByOwner retrieves all endpoints registered by a user
func (r *EndpointRepository) ListByOwner(ctx context.Context, ownerID string) ([]*model.WebhookEndpoint, error) {
	endpointIDs, err := r.redis.SMembers(ctx, redis.OwnerEndpointsKey(ownerID))
	if err != nil {
		return nil, err
	}

	endpoints := make([]*model.WebhookEndpoint, 0, len(endpointIDs))
	for _, id := range endpointIDs {
		endpoint, err := r.GetByID(ctx, id)
		if err == nil {
			endpoints = append(endpoints, endpoint)
		}
	}

	return endpoints, nil
}

// RecordTrigger updates trigger counters after an intake attempt
func (r *EndpointRepository) RecordTrigger(ctx context.Context, endpointID, ipAddress string, success bool) error {
	endpoint, err := r.GetByID(ctx, endpointID)
	if err != nil {
		return err
	}

	now := time.Now()
	endpoint.TotalTriggers++
	if success {
		endpoint.SuccessfulTriggers++
	}
	endpoint.LastTriggeredAt = &now
	endpoint.LastIPAddress = ipAddress

	return r.Update(ctx, endpoint)
}
