package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"botforge/backend/internal/model"
	"botforge/backend/internal/service"
	"botforge/backend/internal/util"
)

type SettlementHandler struct {
	engine *service.SettlementEngine
}

func NewSettlementHandler(engine *service.SettlementEngine) *SettlementHandler {
	return &SettlementHandler{
		engine: engine,
	}
}

// CreatePosition handles POST /api/v1/positions
func (h *SettlementHandler) CreatePosition(c *gin.Context) {
	var req model.CreatePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.SendValidationError(c, err.Error())
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	position, err := h.engine.CreatePosition(c.Request.Context(), userID.(string), &req)
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendCreated(c, position, "Position opened")
}

// ListPositions handles GET /api/v1/positions
func (h *SettlementHandler) ListPositions(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	positions, err := h.engine.ListPositions(c.Request.Context(), userID.(string))
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccess(c, positions)
}

// GetPosition handles GET /api/v1/positions/:id
func (h *SettlementHandler) GetPosition(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	position, err := h.engine.GetPosition(c.Request.Context(), userID.(string), c.Param("id"))
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccess(c, position)
}

// Settle handles POST /api/v1/positions/:id/settle
func (h *SettlementHandler) Settle(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	result, err := h.engine.Settle(c.Request.Context(), userID.(string), c.Param("id"))
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccess(c, result)
}

// Archive handles POST /api/v1/positions/:id/archive
func (h *SettlementHandler) Archive(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	if err := h.engine.ArchivePosition(c.Request.Context(), userID.(string), c.Param("id")); err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccessWithMessage(c, nil, "Position archived")
}

// Performance handles GET /api/v1/performance
func (h *SettlementHandler) Performance(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	periodDays := 30
	if v := c.Query("days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			util.SendError(c, util.ErrBadRequest("Invalid days parameter"))
			return
		}
		periodDays = days
	}

	summary, err := h.engine.AggregatePerformance(c.Request.Context(), userID.(string), periodDays)
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccess(c, summary)
}
