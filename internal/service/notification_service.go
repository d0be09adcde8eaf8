package service

import (
	"context"
	"encoding/json"

	"botforge/backend/internal/model"
	"botforge/backend/pkg/logger"
	"botforge/backend/pkg/redis"
)

// NotificationService publishes events to Redis for WebSocket broadcasting
type NotificationService struct {
	redis *redis.Client
	log   *logger.Logger
}

func NewNotificationService(redisClient *redis.Client) *NotificationService {
	return &NotificationService{
		redis: redisClient,
		log:   logger.GetLogger(),
	}
}

// NotifyUser sends a message to a specific user via WebSocket
func (s *NotificationService) NotifyUser(ctx context.Context, userID, msgType string, payload interface{}) {
	msg := model.WSMessage{
		Type:    msgType,
		Payload: payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Errorf("Failed to marshal notification: %v", err)
		return
	}

	channel := redis.UserChannel(userID)
	if err := s.redis.Publish(ctx, channel, data); err != nil {
		s.log.Errorf("Failed to publish notification to channel %s: %v", channel, err)
	}
}

// NotifySessionUpdate sends a session status update notification
func (s *NotificationService) NotifySessionUpdate(ctx context.Context, userID string, payload model.WSSessionUpdatePayload) {
	s.NotifyUser(ctx, userID, model.WSTypeSessionUpdate, payload)
}

// NotifyOrderExecuted sends a terminal order outcome notification
func (s *NotificationService) NotifyOrderExecuted(ctx context.Context, userID string, payload model.WSOrderExecutedPayload) {
	s.NotifyUser(ctx, userID, model.WSTypeOrderExecuted, payload)
}
