package handler

import (
	"github.com/gin-gonic/gin"

	"botforge/backend/internal/model"
	"botforge/backend/internal/service"
	"botforge/backend/internal/util"
)

type EndpointHandler struct {
	endpoints *service.EndpointService
}

func NewEndpointHandler(endpoints *service.EndpointService) *EndpointHandler {
	return &EndpointHandler{
		endpoints: endpoints,
	}
}

// Create handles POST /api/v1/endpoints
func (h *EndpointHandler) Create(c *gin.Context) {
	var req model.CreateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.SendValidationError(c, err.Error())
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	endpoint, err := h.endpoints.CreateEndpoint(c.Request.Context(), userID.(string), &req)
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendCreated(c, endpoint, "Endpoint created. Store the secret now, it is not shown again.")
}

// List handles GET /api/v1/endpoints
func (h *EndpointHandler) List(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	endpoints, err := h.endpoints.ListEndpoints(c.Request.Context(), userID.(string))
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccess(c, endpoints)
}

// Get handles GET /api/v1/endpoints/:id
func (h *EndpointHandler) Get(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	endpoint, err := h.endpoints.GetEndpoint(c.Request.Context(), userID.(string), c.Param("id"))
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccess(c, endpoint)
}

// Update handles PUT /api/v1/endpoints/:id
func (h *EndpointHandler) Update(c *gin.Context) {
	var req model.UpdateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.SendValidationError(c, err.Error())
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	endpoint, err := h.endpoints.UpdateEndpoint(c.Request.Context(), userID.(string), c.Param("id"), &req)
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccess(c, endpoint)
}

// Delete handles DELETE /api/v1/endpoints/:id
func (h *EndpointHandler) Delete(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	if err := h.endpoints.DeleteEndpoint(c.Request.Context(), userID.(string), c.Param("id")); err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccessWithMessage(c, nil, "Endpoint deleted")
}

// RotateSecret handles POST /api/v1/endpoints/:id/rotate
func (h *EndpointHandler) RotateSecret(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	endpoint, err := h.endpoints.RotateSecret(c.Request.Context(), userID.(string), c.Param("id"))
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccessWithMessage(c, endpoint, "Secret rotated. The previous secret no longer works.")
}

// TradingViewConfig handles GET /api/v1/endpoints/:id/tradingview
func (h *EndpointHandler) TradingViewConfig(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		util.SendError(c, util.ErrUnauthorized("User not authenticated"))
		return
	}

	cfg, err := h.endpoints.TradingViewConfig(c.Request.Context(), userID.(string), c.Param("id"))
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccess(c, cfg)
}
