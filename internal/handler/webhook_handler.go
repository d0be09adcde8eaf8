package handler

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"botforge/backend/internal/model"
	"botforge/backend/internal/service"
	"botforge/backend/internal/util"
)

// WebhookHandler is the public alert intake surface. Every delivery
// runs the full gate (secret, active, IP, signature, rate limit,
// payload) before an order intent reaches the orchestrator.
type WebhookHandler struct {
	gate            *service.SecurityGate
	orchestrator    *service.Orchestrator
	signatureHeader string
}

func NewWebhookHandler(gate *service.SecurityGate, orchestrator *service.Orchestrator, signatureHeader string) *WebhookHandler {
	return &WebhookHandler{
		gate:            gate,
		orchestrator:    orchestrator,
		signatureHeader: signatureHeader,
	}
}

// WebhookResponse is the intake response body
type WebhookResponse struct {
	IntentID         string                  `json:"intent_id"`
	Order            *model.ExecutionOutcome `json:"order"`
	ProcessingTimeMs int64                   `json:"processing_time_ms"`
}

// Receive handles POST /webhook/receive/:secret
func (h *WebhookHandler) Receive(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()
	remoteIP := c.ClientIP()

	endpoint, err := h.gate.Authenticate(ctx, c.Param("secret"))
	if err != nil {
		// Unknown secret, nothing to record a trigger against
		util.SendError(c, err)
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		h.gate.RecordTrigger(ctx, endpoint.ID, remoteIP, false)
		util.SendError(c, util.ErrBadRequest("Failed to read request body"))
		return
	}

	if err := h.gate.Admit(ctx, endpoint, remoteIP, rawBody, c.GetHeader(h.signatureHeader)); err != nil {
		h.gate.RecordTrigger(ctx, endpoint.ID, remoteIP, false)
		util.SendError(c, err)
		return
	}

	var payload model.WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		h.gate.RecordTrigger(ctx, endpoint.ID, remoteIP, false)
		util.SendError(c, util.ErrMalformedPayload("Request body is not valid JSON"))
		return
	}

	intent, err := h.gate.ParseIntent(endpoint, &payload)
	if err != nil {
		h.gate.RecordTrigger(ctx, endpoint.ID, remoteIP, false)
		util.SendError(c, err)
		return
	}

	sessionID, ok := h.orchestrator.ActiveSessionID(endpoint.OwnerID, endpoint.PairID())
	if !ok {
		h.gate.RecordTrigger(ctx, endpoint.ID, remoteIP, false)
		util.SendError(c, util.ErrSessionNotRunning("No running session for this pair"))
		return
	}

	outcome, err := h.orchestrator.SubmitOrder(ctx, sessionID, intent)
	if err != nil {
		h.gate.RecordTrigger(ctx, endpoint.ID, remoteIP, false)
		util.SendError(c, err)
		return
	}

	h.gate.RecordTrigger(ctx, endpoint.ID, remoteIP, outcome.Status == model.OrderStatusExecuted)

	// The ledger entry exists either way; the response status has to
	// reflect the recorded outcome, not just that the pipeline ran
	switch outcome.Status {
	case model.OrderStatusFailed:
		util.SendError(c, util.ErrAdapter("Order execution failed", errors.New(outcome.Error)))
		return
	case model.OrderStatusTimedOut:
		util.SendError(c, util.ErrTimedOut("Order execution did not complete in time"))
		return
	case model.OrderStatusCancelled:
		util.SendError(c, util.ErrSessionNotRunning("Session stopped before the order executed"))
		return
	}

	util.SendSuccess(c, WebhookResponse{
		IntentID:         intent.IntentID,
		Order:            outcome,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	})
}

// Test handles GET /webhook/test/:secret, used to verify an endpoint
// is reachable before wiring it into an alert
func (h *WebhookHandler) Test(c *gin.Context) {
	endpoint, err := h.gate.Authenticate(c.Request.Context(), c.Param("secret"))
	if err != nil {
		util.SendError(c, err)
		return
	}

	util.SendSuccessWithMessage(c, gin.H{
		"endpoint_id": endpoint.ID,
		"name":        endpoint.Name,
		"active":      endpoint.Active,
		"pair":        endpoint.PairID().String(),
	}, "Webhook endpoint is reachable")
}
