package handler

import (
	"github.com/gin-gonic/gin"

	"botforge/backend/internal/model"
	"botforge/backend/internal/service"
	"botforge/backend/internal/util"
)

type SessionHandler struct {
	orchestrator *service.Orchestrator
}

func NewSessionHandler(orchestrator *service.Orchestrator) *SessionHandler {
	return &SessionHandler{
		orchestrator: orchestrator,
	}
}

// Start handles POST /api/v1/sessions
func (h *SessionHandler) Start(c *gin.Context) {
	var req model.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.SendValidationError(c, err.Error())
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	session, err := h.orchestrator.StartSession(c.Request.Context(), userID.(string), &req)
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendCreated(c, session, "Session started successfully")
}

// Stop handles POST /api/v1/sessions/:id/stop
func (h *SessionHandler) Stop(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	sessionID := c.Param("id")
	if err := h.orchestrator.StopSession(c.Request.Context(), userID.(string), sessionID); err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccessWithMessage(c, gin.H{"session_id": sessionID}, "Session stopped")
}

// List handles GET /api/v1/sessions
func (h *SessionHandler) List(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	sessions, err := h.orchestrator.ListSessions(c.Request.Context(), userID.(string))
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccess(c, sessions)
}

// Get handles GET /api/v1/sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	session, err := h.orchestrator.GetSession(c.Request.Context(), userID.(string), c.Param("id"))
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccess(c, session)
}

// Orders handles GET /api/v1/sessions/:id/orders
func (h *SessionHandler) Orders(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	orders, err := h.orchestrator.SessionOrders(c.Request.Context(), userID.(string), c.Param("id"))
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccess(c, orders)
}

// Statistics handles GET /api/v1/sessions/statistics
func (h *SessionHandler) Statistics(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	stats, err := h.orchestrator.Statistics(c.Request.Context(), userID.(string))
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccess(c, stats)
}
