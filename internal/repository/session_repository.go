package repository

import (
	"context"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"botforge/backend/internal/model"
	"botforge/backend/pkg/redis"
)

type SessionRepository struct {
	redis *redis.Client
}

func NewSessionRepository(redisClient *redis.Client) *SessionRepository {
	return &SessionRepository{
		redis: redisClient,
	}
}

// Create stores a new bot session and indexes it
func (r *SessionRepository) Create(ctx context.Context, session *model.BotSession) error {
	session.StartedAt = time.Now()

	if err := r.redis.SetJSON(ctx, redis.BotSessionKey(session.SessionID), session, 0); err != nil {
		return err
	}

	if err := r.redis.SAdd(ctx, redis.OwnerSessionsKey(session.OwnerID), session.SessionID); err != nil {
		return err
	}

	if session.IsActive() {
		return r.redis.SAdd(ctx, redis.ActiveSessionsKey(), session.SessionID)
	}
	return nil
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*model.BotSession, error) {
	var session model.BotSession
	err := r.redis.GetJSON(ctx, redis.BotSessionKey(sessionID), &session)
	if err != nil {
		if err == redislib.Nil {
			return nil, fmt.Errorf("session not found")
		}
		return nil, err
	}
	return &session, nil
}

// Update persists a session and keeps the active index consistent
func (r *SessionRepository) Update(ctx context.Context, session *model.BotSession) error {
	if err := r.redis.SetJSON(ctx, redis.BotSessionKey(session.SessionID), session, 0); err != nil {
		return err
	}

	if session.IsActive() {
		return r.redis.SAdd(ctx, redis.ActiveSessionsKey(), session.SessionID)
	}
	return r.redis.SRem(ctx, redis.ActiveSessionsKey(), session.SessionID)
}

// UpdateStatus transitions a session's status
func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID, status string, errorMsg *string) (*model.BotSession, error) {
	session, err := r.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session.Status = status
	session.ErrorMessage = errorMsg
	if session.IsTerminal() {
		now := time.Now()
		session.StoppedAt = &now
	}

	if err := r.Update(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// IncrementOrderCounters bumps the per-session success or failure count
func (r *SessionRepository) IncrementOrderCounters(ctx context.Context, sessionID string, success bool) error {
	session, err := r.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	if success {
		session.SuccessfulOrders++
	} else {
		session.FailedOrders++
	}

	return r.Update(ctx, session)
}

// ListByOwner retrieves all sessions started by a user
func (r *SessionRepository) ListByOwner(ctx context.Context, ownerID string) ([]*model.BotSession, error) {
	sessionIDs, err := r.redis.SMembers(ctx, redis.OwnerSessionsKey(ownerID))
	if err != nil {
		return nil, err
	}

	sessions := make([]*model.BotSession, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		session, err := r.GetByID(ctx, id)
		if err == nil {
			sessions = append(sessions, session)
		}
	}

	return sessions, nil
}

// ListActive retrieves every session currently occupying a slot
func (r *SessionRepository) ListActive(ctx context.Context) ([]*model.BotSession, error) {
	sessionIDs, err := r.redis.SMembers(ctx, redis.ActiveSessionsKey())
	if err != nil {
		return nil, err
	}

	sessions := make([]*model.BotSession, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		session, err := r.GetByID(ctx, id)
		if err == nil {
			sessions = append(sessions, session)
		}
	}

	return sessions, nil
}
