package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"botforge/backend/internal/model"
	"botforge/backend/internal/repository"
	"botforge/backend/internal/util"
	"botforge/backend/pkg/logger"
	"botforge/backend/pkg/secrets"
)

// EndpointWithSecret is the create/rotate response shape. It is the
// only place the raw secret ever leaves the server.
type EndpointWithSecret struct {
	*model.WebhookEndpoint
	Secret string `json:"secret"`
}

// EndpointService manages webhook endpoint registration
type EndpointService struct {
	endpoints   *repository.EndpointRepository
	plans       PlanStore
	baseURL     string
	secretBytes int
	log         *logger.Logger
}

func NewEndpointService(endpoints *repository.EndpointRepository, plans PlanStore, baseURL string, secretBytes int) *EndpointService {
	return &EndpointService{
		endpoints:   endpoints,
		plans:       plans,
		baseURL:     baseURL,
		secretBytes: secretBytes,
		log:         logger.GetLogger(),
	}
}

// CreateEndpoint registers a webhook endpoint with a fresh secret
func (s *EndpointService) CreateEndpoint(ctx context.Context, ownerID string, req *model.CreateEndpointRequest) (*EndpointWithSecret, error) {
	// 1. Verify the subscription entitles webhook intake
	sub, _, err := s.plans.ResolvePlan(ctx, req.SubscriptionID)
	if err != nil {
		return nil, util.ErrForbidden("No active subscription")
	}
	if !sub.IsActive() {
		return nil, util.ErrForbidden("Subscription is not active")
	}

	// 2. Generate the secret
	secret, err := secrets.GenerateSecret(s.secretBytes)
	if err != nil {
		s.log.Errorf("Failed to generate endpoint secret: %v", err)
		return nil, util.ErrInternalServer("Failed to generate secret")
	}

	endpoint := &model.WebhookEndpoint{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		SubscriptionID:   req.SubscriptionID,
		Name:             req.Name,
		Secret:           secret,
		Exchange:         req.Exchange,
		Symbol:           req.Symbol,
		IPAllowlist:      req.IPAllowlist,
		RequireSignature: req.RequireSignature,
		Active:           true,
	}

	// 3. Persist
	if err := s.endpoints.Create(ctx, endpoint); err != nil {
		s.log.Errorf("Failed to create endpoint: %v", err)
		return nil, util.ErrInternalServer("Failed to create endpoint")
	}

	return &EndpointWithSecret{WebhookEndpoint: endpoint, Secret: secret}, nil
}

// GetEndpoint retrieves an endpoint and verifies ownership
func (s *EndpointService) GetEndpoint(ctx context.Context, ownerID, endpointID string) (*model.WebhookEndpoint, error) {
	endpoint, err := s.endpoints.GetByID(ctx, endpointID)
	if err != nil {
		return nil, util.ErrNotFound("Endpoint not found")
	}
	if endpoint.OwnerID != ownerID {
		return nil, util.ErrForbidden("Access denied")
	}
	return endpoint, nil
}

// ListEndpoints lists all of a user's endpoints
func (s *EndpointService) ListEndpoints(ctx context.Context, ownerID string) ([]*model.WebhookEndpoint, error) {
	return s.endpoints.ListByOwner(ctx, ownerID)
}

// UpdateEndpoint applies a partial update
func (s *EndpointService) UpdateEndpoint(ctx context.Context, ownerID, endpointID string, req *model.UpdateEndpointRequest) (*model.WebhookEndpoint, error) {
	endpoint, err := s.GetEndpoint(ctx, ownerID, endpointID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		endpoint.Name = *req.Name
	}
	if req.IPAllowlist != nil {
		endpoint.IPAllowlist = *req.IPAllowlist
	}
	if req.RequireSignature != nil {
		endpoint.RequireSignature = *req.RequireSignature
	}
	if req.Active != nil {
		endpoint.Active = *req.Active
	}

	if err := s.endpoints.Update(ctx, endpoint); err != nil {
		return nil, util.ErrInternalServer("Failed to update endpoint")
	}
	return endpoint, nil
}

// DeleteEndpoint removes an endpoint
func (s *EndpointService) DeleteEndpoint(ctx context.Context, ownerID, endpointID string) error {
	if _, err := s.GetEndpoint(ctx, ownerID, endpointID); err != nil {
		return err
	}
	return s.endpoints.Delete(ctx, endpointID)
}

// RotateSecret replaces the endpoint secret. The previous secret stops
// authenticating immediately.
func (s *EndpointService) RotateSecret(ctx context.Context, ownerID, endpointID string) (*EndpointWithSecret, error) {
	endpoint, err := s.GetEndpoint(ctx, ownerID, endpointID)
	if err != nil {
		return nil, err
	}

	secret, err := secrets.GenerateSecret(s.secretBytes)
	if err != nil {
		s.log.Errorf("Failed to generate endpoint secret: %v", err)
		return nil, util.ErrInternalServer("Failed to generate secret")
	}

	if err := s.endpoints.RotateSecret(ctx, endpoint, secret); err != nil {
		s.log.Errorf("Failed to rotate secret for endpoint %s: %v", endpointID, err)
		return nil, util.ErrInternalServer("Failed to rotate secret")
	}

	return &EndpointWithSecret{WebhookEndpoint: endpoint, Secret: secret}, nil
}

// TradingViewConfig renders the alert setup for an endpoint, including
// the message template TradingView substitutes on each alert
func (s *EndpointService) TradingViewConfig(ctx context.Context, ownerID, endpointID string) (*model.TradingViewConfig, error) {
	endpoint, err := s.GetEndpoint(ctx, ownerID, endpointID)
	if err != nil {
		return nil, err
	}

	return &model.TradingViewConfig{
		WebhookURL: fmt.Sprintf("%s/webhook/receive/%s", s.baseURL, endpoint.Secret),
		TradingViewJSON: map[string]string{
			"action":   "{{strategy.order.action}}",
			"ticker":   "{{ticker}}",
			"price":    "{{close}}",
			"quantity": "{{strategy.order.contracts}}",
			"secret":   endpoint.Secret,
		},
	}, nil
}
