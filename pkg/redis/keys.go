package redis

import "fmt"

// Redis key patterns for the application
// Following the pattern: entity:id or entity:id:attribute

// Webhook endpoint keys
func EndpointKey(endpointID string) string {
	return fmt.Sprintf("endpoint:%s", endpointID)
}

func EndpointBySecretKey(secretHash string) string {
	return fmt.Sprintf("endpoint:secret:%s", secretHash)
}

func OwnerEndpointsKey(ownerID string) string {
	return fmt.Sprintf("owner_endpoints:%s", ownerID)
}

// Bot session keys
func BotSessionKey(sessionID string) string {
	return fmt.Sprintf("bot_session:%s", sessionID)
}

func OwnerSessionsKey(ownerID string) string {
	return fmt.Sprintf("owner_sessions:%s", ownerID)
}

func ActiveSessionsKey() string {
	return "bot_sessions:active"
}

// Order keys
func OrderKey(orderID string) string {
	return fmt.Sprintf("order:%s", orderID)
}

func SessionOrdersKey(sessionID string) string {
	return fmt.Sprintf("session_orders:%s", sessionID)
}

// Intent idempotency keys
func IntentKey(sessionID, intentID string) string {
	return fmt.Sprintf("intent:%s:%s", sessionID, intentID)
}

// Managed position keys
func PositionKey(positionID string) string {
	return fmt.Sprintf("position:%s", positionID)
}

func InvestorPositionsKey(investorID string) string {
	return fmt.Sprintf("investor_positions:%s", investorID)
}

func BotLedgerKey(botID string) string {
	return fmt.Sprintf("bot_ledger:%s", botID)
}

// Plan and subscription keys
func PlanKey(planID string) string {
	return fmt.Sprintf("plan:%s", planID)
}

func SubscriptionKey(subscriptionID string) string {
	return fmt.Sprintf("subscription:%s", subscriptionID)
}

// Rate limiting keys
func RateLimitKey(identifier, action string) string {
	return fmt.Sprintf("rate_limit:%s:%s", action, identifier)
}

// Usage metering keys, bucketed per day or per minute
func UsageAPICallsKey(subscriptionID, day string) string {
	return fmt.Sprintf("usage:api_calls:%s:%s", subscriptionID, day)
}

func UsageWebhookKey(subscriptionID, minute string) string {
	return fmt.Sprintf("usage:webhook:%s:%s", subscriptionID, minute)
}

// Pub/Sub channels
const (
	ChannelBroadcast = "channel:broadcast"

	ChannelUserPrefix = "channel:user:"
)

// UserChannel returns a user-specific channel
func UserChannel(userID string) string {
	return fmt.Sprintf("%s%s", ChannelUserPrefix, userID)
}
