package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"botforge/backend/internal/model"
	"botforge/backend/internal/util"
	"botforge/backend/pkg/logger"
	"botforge/backend/pkg/secrets"
)

// EndpointStore resolves and updates webhook endpoints
type EndpointStore interface {
	GetBySecretHash(ctx context.Context, secretHash string) (*model.WebhookEndpoint, error)
	RecordTrigger(ctx context.Context, endpointID, ipAddress string, success bool) error
}

// WebhookAdmitter enforces the per-minute webhook quota
type WebhookAdmitter interface {
	CheckAndIncrementWebhook(ctx context.Context, subscriptionID string) error
}

// SecurityGate screens inbound webhook deliveries. Checks run in a
// fixed order: secret, endpoint active, IP allowlist, signature,
// rate limit, payload shape. The first failure wins, and a delivery
// that fails authenticity checks never spends rate-limit quota.
type SecurityGate struct {
	endpoints EndpointStore
	usage     WebhookAdmitter
	log       *logger.Logger
	now       func() time.Time
}

func NewSecurityGate(endpoints EndpointStore, usage WebhookAdmitter) *SecurityGate {
	return &SecurityGate{
		endpoints: endpoints,
		usage:     usage,
		log:       logger.GetLogger(),
		now:       time.Now,
	}
}

// Authenticate resolves the endpoint for a URL secret. Lookup goes
// through the secret's digest; the raw comparison is constant time.
func (g *SecurityGate) Authenticate(ctx context.Context, urlSecret string) (*model.WebhookEndpoint, error) {
	if urlSecret == "" {
		return nil, util.ErrUnauthorized("Invalid webhook secret")
	}

	endpoint, err := g.endpoints.GetBySecretHash(ctx, secrets.HashSecret(urlSecret))
	if err != nil {
		return nil, util.ErrUnauthorized("Invalid webhook secret")
	}

	if !secrets.ConstantTimeEquals(endpoint.Secret, urlSecret) {
		return nil, util.ErrUnauthorized("Invalid webhook secret")
	}

	return endpoint, nil
}

// Admit applies the post-authentication checks for one delivery
func (g *SecurityGate) Admit(ctx context.Context, endpoint *model.WebhookEndpoint, remoteIP string, rawBody []byte, signature string) error {
	if !endpoint.Active {
		return util.ErrForbidden("Webhook endpoint is disabled")
	}

	if len(endpoint.IPAllowlist) > 0 && !ipAllowed(endpoint.IPAllowlist, remoteIP) {
		g.log.Warnf("Webhook for endpoint %s rejected from %s: not in allowlist", endpoint.ID, remoteIP)
		return util.ErrForbidden("Source IP is not allowed")
	}

	if endpoint.RequireSignature {
		if signature == "" {
			return util.ErrUnauthorized("Missing payload signature")
		}
		if !secrets.VerifySignature(endpoint.Secret, rawBody, signature) {
			return util.ErrUnauthorized("Invalid payload signature")
		}
	}

	// Quota is spent last so forged or misrouted deliveries cannot
	// starve the endpoint's legitimate alerts
	return g.usage.CheckAndIncrementWebhook(ctx, endpoint.SubscriptionID)
}

// ParseIntent validates the alert payload and normalizes it into an
// idempotency-keyed order intent
func (g *SecurityGate) ParseIntent(endpoint *model.WebhookEndpoint, payload *model.WebhookPayload) (*model.OrderIntent, error) {
	// A secret embedded in the body must match the endpoint secret
	if payload.Secret != "" && !secrets.ConstantTimeEquals(endpoint.Secret, payload.Secret) {
		return nil, util.ErrUnauthorized("Payload secret mismatch")
	}

	action := strings.ToLower(strings.TrimSpace(payload.Action))
	if action != model.ActionBuy && action != model.ActionSell {
		return nil, util.ErrMalformedPayload("Action must be buy or sell")
	}

	ticker := strings.ToUpper(strings.TrimSpace(payload.Ticker))
	if ticker == "" {
		return nil, util.ErrMalformedPayload("Ticker is required")
	}
	if !strings.EqualFold(ticker, endpoint.Symbol) {
		return nil, util.ErrMalformedPayload("Ticker does not match endpoint symbol")
	}

	if payload.Quantity == "" {
		return nil, util.ErrMalformedPayload("Quantity is required")
	}
	quantity, err := decimal.NewFromString(payload.Quantity)
	if err != nil || !quantity.IsPositive() {
		return nil, util.ErrMalformedPayload("Quantity must be a positive number")
	}

	var limitPrice *decimal.Decimal
	if payload.Price != "" {
		price, err := decimal.NewFromString(payload.Price)
		if err != nil || !price.IsPositive() {
			return nil, util.ErrMalformedPayload("Price must be a positive number")
		}
		limitPrice = &price
	}

	now := g.now()
	intentID := payload.CorrelationID
	if intentID == "" {
		intentID = deriveIntentID(endpoint.ID, action, ticker, payload.Quantity, now)
	}

	return &model.OrderIntent{
		IntentID:    intentID,
		Action:      action,
		Ticker:      ticker,
		Quantity:    quantity,
		LimitPrice:  limitPrice,
		RequestedAt: now,
	}, nil
}

// RecordTrigger updates the endpoint's delivery counters
func (g *SecurityGate) RecordTrigger(ctx context.Context, endpointID, remoteIP string, success bool) {
	if err := g.endpoints.RecordTrigger(ctx, endpointID, remoteIP, success); err != nil {
		g.log.Errorf("Failed to record trigger for endpoint %s: %v", endpointID, err)
	}
}

// deriveIntentID builds a deterministic intent key for alerts that
// carry no correlation ID. The minute bucket collapses duplicate
// deliveries of the same alert without deduping distinct signals
// fired minutes apart.
func deriveIntentID(endpointID, action, ticker, quantity string, now time.Time) string {
	bucket := now.UTC().Format("2006-01-02T15:04")
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s", endpointID, action, ticker, quantity, bucket)))
	return hex.EncodeToString(sum[:])
}

// ipAllowed matches a remote IP against allowlist entries, which may
// be plain addresses or CIDR ranges
func ipAllowed(allowlist []string, remoteIP string) bool {
	ip := net.ParseIP(remoteIP)

	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if ip == nil {
				continue
			}
			if _, cidr, err := net.ParseCIDR(entry); err == nil && cidr.Contains(ip) {
				return true
			}
			continue
		}
		if entry == remoteIP {
			return true
		}
	}

	return false
}
